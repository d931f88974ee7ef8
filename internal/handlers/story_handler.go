package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// StoryHandler handles story reactions
type StoryHandler struct {
	storyRepository repositories.StoryReactionRepository
	aggregator      *notify.Aggregator
}

// NewStoryHandler creates a new StoryHandler
func NewStoryHandler(storyRepo repositories.StoryReactionRepository, aggregator *notify.Aggregator) *StoryHandler {
	return &StoryHandler{storyRepository: storyRepo, aggregator: aggregator}
}

// RegisterStoryRoutes registers story routes
func (h *StoryHandler) RegisterStoryRoutes(g *echo.Group) {
	g.POST("/stories/:id/reactions", h.ReactToStory)
	g.GET("/stories/:id/reactions", h.GetReactions)
}

// ReactToStory records a reaction and notifies the story owner
func (h *StoryHandler) ReactToStory(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.CreateStoryReactionRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	storyID := c.Param("id")
	reaction := &models.StoryReaction{StoryID: storyID, UserID: uid, Reaction: req.Reaction}
	if err := h.storyRepository.AddReaction(ctx, reaction); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if _, err := h.aggregator.Emit(ctx, req.OwnerID, models.NotificationEvent{
		Type:     models.EventStoryReaction,
		ActorID:  uid,
		TargetID: storyID,
		Payload:  models.StoryReactionPayload{StoryID: storyID, Reaction: req.Reaction},
	}); err != nil {
		slog.WarnContext(ctx, "story reaction notification not recorded", "actor", uid, "story", storyID, "error", err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": reaction})
}

// GetReactions lists the reactions on a story
func (h *StoryHandler) GetReactions(c echo.Context) error {
	if _, err := currentUser(c); err != nil {
		return err
	}
	reactions, err := h.storyRepository.GetReactions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, echo.Map{"reactions": reactions})
}
