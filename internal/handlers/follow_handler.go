package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// FollowHandler handles follow/unfollow HTTP requests
type FollowHandler struct {
	followRepository repositories.FollowRepository
	aggregator       *notify.Aggregator
}

// NewFollowHandler creates a new FollowHandler
func NewFollowHandler(followRepo repositories.FollowRepository, aggregator *notify.Aggregator) *FollowHandler {
	return &FollowHandler{
		followRepository: followRepo,
		aggregator:       aggregator,
	}
}

// RegisterFollowRoutes registers follow-related routes
func (h *FollowHandler) RegisterFollowRoutes(g *echo.Group) {
	g.POST("/users/:id/follow", h.FollowUser)
	g.DELETE("/users/:id/follow", h.UnfollowUser)
}

func targetUser(c echo.Context, currentUserID string) (string, error) {
	targetID := c.Param("id")
	if !identity.Valid(targetID) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}
	if targetID == currentUserID {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Cannot follow yourself")
	}
	return targetID, nil
}

// FollowUser follows a user and notifies them. Following again is a no-op
// that refreshes the notification.
func (h *FollowHandler) FollowUser(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	targetID, err := targetUser(c, currentUserID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.followRepository.CreateFollow(ctx, currentUserID, targetID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// A lost notification does not fail the follow.
	if _, err := h.aggregator.Emit(ctx, targetID, models.NotificationEvent{
		Type:    models.EventFollow,
		ActorID: currentUserID,
		Payload: models.FollowPayload{},
	}); err != nil {
		slog.WarnContext(ctx, "follow notification not recorded", "actor", currentUserID, "receiver", targetID, "error", err)
	}

	return ok(c, echo.Map{"following": true})
}

// UnfollowUser unfollows a user and withdraws the follow notification
func (h *FollowHandler) UnfollowUser(c echo.Context) error {
	currentUserID, err := currentUser(c)
	if err != nil {
		return err
	}
	targetID, err := targetUser(c, currentUserID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	existed, err := h.followRepository.DeleteFollow(ctx, currentUserID, targetID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "Follow relationship not found")
	}
	if err := h.aggregator.RemoveFollowEvent(ctx, targetID, currentUserID); err != nil {
		slog.WarnContext(ctx, "follow notification not removed", "actor", currentUserID, "receiver", targetID, "error", err)
	}

	return ok(c, echo.Map{"following": false})
}
