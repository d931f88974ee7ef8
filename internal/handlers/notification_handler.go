package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	aggregator     *notify.Aggregator
	userRepository repositories.UserRepository
	now            func() time.Time
}

// NewNotificationHandler creates a new NotificationHandler. userRepo may be
// nil, in which case actors are returned as bare ids.
func NewNotificationHandler(aggregator *notify.Aggregator, userRepo repositories.UserRepository) *NotificationHandler {
	return &NotificationHandler{
		aggregator:     aggregator,
		userRepository: userRepo,
		now:            time.Now,
	}
}

// RegisterNotificationRoutes registers notification routes
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.GET("/notifications", h.GetNotifications)
	g.GET("/notifications/grouped", h.GetGroupedNotifications)
	g.GET("/notifications/unread-count", h.GetUnreadCount)
	g.PUT("/notifications/read-all", h.MarkAllAsRead)
	g.PUT("/notifications/groups/:key/read", h.MarkGroupAsRead)
	g.PUT("/notifications/:id/read", h.MarkAsRead)
}

// EnrichedNotification includes actor profiles
type EnrichedNotification struct {
	models.AggregatedNotification
	ActorProfiles []models.UserCompact `json:"actor_profiles"`
}

func (h *NotificationHandler) enrichNotifications(ctx context.Context, views []models.AggregatedNotification) []EnrichedNotification {
	profiles := map[string]models.UserCompact{}
	if h.userRepository != nil {
		var uids []string
		for _, v := range views {
			uids = append(uids, v.Actors...)
		}
		// Missing profiles fall back to bare ids below.
		if users, err := h.userRepository.GetUsersByUIDs(ctx, uids); err == nil {
			for _, u := range users {
				profiles[u.UID] = u.ToCompact()
			}
		}
	}

	enriched := make([]EnrichedNotification, len(views))
	for i, v := range views {
		enriched[i] = EnrichedNotification{AggregatedNotification: v, ActorProfiles: make([]models.UserCompact, len(v.Actors))}
		for j, actor := range v.Actors {
			p, ok := profiles[actor]
			if !ok {
				p = models.UserCompact{UID: actor}
			}
			enriched[i].ActorProfiles[j] = p
		}
	}
	return enriched
}

// GetNotifications returns the aggregated feed, newest first
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	views, err := h.aggregator.List(ctx, uid)
	if err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{
		"notifications": h.enrichNotifications(ctx, views),
		"unreadCount":   notify.UnreadCount(views),
	})
}

// GetGroupedNotifications returns the feed split by day
func (h *NotificationHandler) GetGroupedNotifications(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	views, err := h.aggregator.List(ctx, uid)
	if err != nil {
		return httpError(err)
	}

	s := notify.Split(views, h.now())
	return ok(c, echo.Map{
		"notifications": echo.Map{
			"today":     h.enrichNotifications(ctx, s.Today),
			"yesterday": h.enrichNotifications(ctx, s.Yesterday),
			"thisWeek":  h.enrichNotifications(ctx, s.ThisWeek),
			"older":     h.enrichNotifications(ctx, s.Older),
		},
		"unreadCount": notify.UnreadCount(views),
	})
}

// GetUnreadCount returns the number of unread feed rows
func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	views, err := h.aggregator.List(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"count": notify.UnreadCount(views)})
}

// MarkAsRead marks a single event as read
func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.aggregator.MarkRead(c.Request().Context(), uid, c.Param("id")); err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"read": true})
}

// MarkGroupAsRead marks every event behind one feed row as read
func (h *NotificationHandler) MarkGroupAsRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	views, err := h.aggregator.List(ctx, uid)
	if err != nil {
		return httpError(err)
	}
	key := c.Param("key")
	for _, v := range views {
		if v.GroupKey != key {
			continue
		}
		if err := h.aggregator.MarkGroupRead(ctx, uid, v); err != nil {
			return httpError(err)
		}
		return ok(c, echo.Map{"read": len(v.SourceEventIDs)})
	}
	return echo.NewHTTPError(http.StatusNotFound, "Notification group not found")
}

// MarkAllAsRead marks all notifications as read
func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.aggregator.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"read": n})
}
