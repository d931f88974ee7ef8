package notify

import (
	"slices"
	"sort"
	"time"

	"github.com/anonto42/nano-midea/realtime/internal/models"
)

// GroupKey is the key an event aggregates under: "{type}_{targetId}" for
// likes and comments on a target, the event id otherwise.
func GroupKey(e models.NotificationEvent) string {
	if e.Type.Aggregates() && e.TargetID != "" {
		return string(e.Type) + "_" + e.TargetID
	}
	return e.ID
}

// Aggregate groups raw events into feed rows. It performs no I/O and its
// output depends only on the input order for events with equal
// timestamps. Chat events and events without a type are dropped.
func Aggregate(events []models.NotificationEvent) []models.AggregatedNotification {
	var (
		order   []string
		members = map[string][]models.NotificationEvent{}
	)
	for _, e := range events {
		if e.Type == "" || e.Type.IsMessage() {
			continue
		}
		key := GroupKey(e)
		if _, ok := members[key]; !ok {
			order = append(order, key)
		}
		members[key] = append(members[key], e)
	}

	views := make([]models.AggregatedNotification, 0, len(order))
	for _, key := range order {
		group := members[key]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})

		view := models.AggregatedNotification{
			GroupKey:       key,
			Type:           group[0].Type,
			TargetID:       group[0].TargetID,
			Count:          len(group),
			Actors:         make([]string, 0, len(group)),
			SourceEventIDs: make([]string, 0, len(group)),
			Timestamp:      group[0].CreatedAt,
			Read:           true,
			Latest:         group[0],
		}
		for _, e := range group {
			if !slices.Contains(view.Actors, e.ActorID) {
				view.Actors = append(view.Actors, e.ActorID)
			}
			view.SourceEventIDs = append(view.SourceEventIDs, e.ID)
			if !e.Read {
				view.Read = false
			}
		}
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Timestamp.After(views[j].Timestamp)
	})
	return views
}

// UnreadCount is the number of unread feed rows.
func UnreadCount(views []models.AggregatedNotification) int {
	n := 0
	for _, v := range views {
		if !v.Read {
			n++
		}
	}
	return n
}

// Sections buckets feed rows by the local calendar day of now.
type Sections struct {
	Today     []models.AggregatedNotification `json:"today"`
	Yesterday []models.AggregatedNotification `json:"yesterday"`
	ThisWeek  []models.AggregatedNotification `json:"this_week"`
	Older     []models.AggregatedNotification `json:"older"`
}

// Split buckets views, which keep their relative order. Pending rows are
// today's.
func Split(views []models.AggregatedNotification, now time.Time) Sections {
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	yesterdayStart := todayStart.AddDate(0, 0, -1)
	weekStart := todayStart.AddDate(0, 0, -7)

	s := Sections{
		Today:     []models.AggregatedNotification{},
		Yesterday: []models.AggregatedNotification{},
		ThisWeek:  []models.AggregatedNotification{},
		Older:     []models.AggregatedNotification{},
	}
	for _, v := range views {
		at := v.Timestamp.Resolve(now)
		switch {
		case !at.Before(todayStart):
			s.Today = append(s.Today, v)
		case !at.Before(yesterdayStart):
			s.Yesterday = append(s.Yesterday, v)
		case !at.Before(weekStart):
			s.ThisWeek = append(s.ThisWeek, v)
		default:
			s.Older = append(s.Older, v)
		}
	}
	return s
}
