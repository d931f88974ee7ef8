package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/realtime/internal/models"
)

var base = time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)

func event(id string, typ models.EventType, actor, target string, minutes int, read bool) models.NotificationEvent {
	return models.NotificationEvent{
		ID:         id,
		Type:       typ,
		ActorID:    actor,
		ReceiverID: "me",
		TargetID:   target,
		CreatedAt:  models.At(base.Add(time.Duration(minutes) * time.Minute)),
		Read:       read,
	}
}

func TestAggregateLikesOnSamePost(t *testing.T) {
	views := Aggregate([]models.NotificationEvent{
		event("e1", models.EventLike, "A", "post1", 0, false),
		event("e2", models.EventLike, "B", "post1", 1, false),
	})
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, "like_post1", v.GroupKey)
	assert.Equal(t, 2, v.Count)
	assert.ElementsMatch(t, []string{"A", "B"}, v.Actors)
	assert.Equal(t, []string{"e2", "e1"}, v.SourceEventIDs)
	assert.Equal(t, "e2", v.Latest.ID)
	assert.Equal(t, 0, v.Timestamp.Compare(models.At(base.Add(time.Minute))))
	assert.False(t, v.Read)
}

func TestAggregateDropsMessages(t *testing.T) {
	views := Aggregate([]models.NotificationEvent{
		event("m1", models.EventMessage, "A", "c1", 5, false),
		event("m2", models.EventChat, "A", "c1", 6, false),
		event("e1", models.EventComment, "B", "post1", 1, false),
		{ID: "junk", ActorID: "C"},
	})
	require.Len(t, views, 1)
	assert.Equal(t, models.EventComment, views[0].Type)
	for _, v := range views {
		assert.False(t, v.Type.IsMessage())
	}
}

func TestAggregateGroupingAndOrder(t *testing.T) {
	events := []models.NotificationEvent{
		event("l1", models.EventLike, "A", "post1", 0, true),
		event("f1", models.EventFollow, "C", "", 10, false),
		event("c1", models.EventComment, "B", "post1", 5, true),
		event("l2", models.EventLike, "A", "post1", 3, true),
		event("l3", models.EventLike, "D", "post2", 7, false),
		event("f2", models.EventFollow, "E", "", 2, true),
	}
	views := Aggregate(events)

	keys := make([]string, len(views))
	for i, v := range views {
		keys[i] = v.GroupKey
	}
	assert.Equal(t, []string{"f1", "like_post2", "comment_post1", "like_post1", "f2"}, keys)

	likes := views[3]
	assert.Equal(t, 2, likes.Count)
	assert.Equal(t, []string{"A"}, likes.Actors)
	assert.True(t, likes.Read)

	assert.Equal(t, 2, UnreadCount(views))
}

func TestAggregateIsDeterministicForEqualTimestamps(t *testing.T) {
	events := []models.NotificationEvent{
		event("f1", models.EventFollow, "A", "", 0, false),
		event("f2", models.EventFollow, "B", "", 0, false),
		event("l1", models.EventLike, "C", "p", 0, false),
		event("l2", models.EventLike, "D", "p", 0, false),
	}
	first := Aggregate(events)
	for range 10 {
		assert.Equal(t, first, Aggregate(events))
	}
	assert.Equal(t, "f1", first[0].GroupKey)
	assert.Equal(t, "f2", first[1].GroupKey)
	assert.Equal(t, []string{"l1", "l2"}, first[2].SourceEventIDs)
}

func TestAggregatePendingIsNewest(t *testing.T) {
	pending := event("p1", models.EventFollow, "A", "", 0, false)
	pending.CreatedAt = models.Pending()
	views := Aggregate([]models.NotificationEvent{
		event("f1", models.EventFollow, "B", "", 60, false),
		pending,
	})
	require.Len(t, views, 2)
	assert.Equal(t, "p1", views[0].GroupKey)
}

func TestAggregateLikeWithoutTargetStandsAlone(t *testing.T) {
	views := Aggregate([]models.NotificationEvent{
		event("l1", models.EventLike, "A", "", 0, false),
		event("l2", models.EventLike, "B", "", 1, false),
	})
	assert.Len(t, views, 2)
}

func TestSplit(t *testing.T) {
	now := time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)
	at := func(d time.Duration) models.AggregatedNotification {
		return models.AggregatedNotification{Timestamp: models.At(now.Add(d))}
	}
	views := []models.AggregatedNotification{
		{Timestamp: models.Pending()},
		at(-time.Hour),
		at(-20 * time.Hour),
		at(-3 * 24 * time.Hour),
		at(-10 * 24 * time.Hour),
	}
	s := Split(views, now)
	assert.Len(t, s.Today, 2)
	assert.Len(t, s.Yesterday, 1)
	assert.Len(t, s.ThisWeek, 1)
	assert.Len(t, s.Older, 1)
}

func TestCopy(t *testing.T) {
	title, body := Copy(models.NotificationEvent{Type: models.EventFollow}, "Alice")
	assert.Equal(t, "New follower", title)
	assert.Equal(t, "Alice started following you", body)

	_, body = Copy(models.NotificationEvent{Type: models.EventComment, Payload: models.CommentPayload{Text: "great shot"}}, "")
	assert.Equal(t, "Someone commented: great shot", body)

	_, body = Copy(models.NotificationEvent{Type: models.EventLike}, "Bob")
	assert.Equal(t, "Bob liked your post", body)
}
