package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

// LikeHandler handles like-related HTTP requests
type LikeHandler struct {
	likeRepository repositories.LikeRepository
	aggregator     *notify.Aggregator
}

// NewLikeHandler creates a new LikeHandler
func NewLikeHandler(likeRepo repositories.LikeRepository, aggregator *notify.Aggregator) *LikeHandler {
	return &LikeHandler{likeRepository: likeRepo, aggregator: aggregator}
}

// RegisterLikeRoutes registers like-related routes
func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.POST("/likes", h.LikePost)
	g.DELETE("/posts/:postId/like", h.UnlikePost)
	g.GET("/posts/:postId/likes/count", h.GetLikesCount)
}

// LikePost records a like and notifies the post owner on the first like
func (h *LikeHandler) LikePost(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.CreateLikeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	created, err := h.likeRepository.CreateLike(ctx, req.PostID, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if created {
		if _, err := h.aggregator.Emit(ctx, req.OwnerID, models.NotificationEvent{
			Type:     models.EventLike,
			ActorID:  uid,
			TargetID: req.PostID,
			Payload:  models.LikePayload{PostID: req.PostID, PreviewRef: req.PreviewRef},
		}); err != nil {
			slog.WarnContext(ctx, "like notification not recorded", "actor", uid, "post", req.PostID, "error", err)
		}
	}

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": echo.Map{"liked": true}})
}

// UnlikePost removes a like
func (h *LikeHandler) UnlikePost(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	existed, err := h.likeRepository.DeleteLike(c.Request().Context(), c.Param("postId"), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "Like not found")
	}
	return ok(c, echo.Map{"liked": false})
}

// GetLikesCount returns the like count of a post and whether the caller liked it
func (h *LikeHandler) GetLikesCount(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	postID := c.Param("postId")
	count, err := h.likeRepository.GetLikesCountByPostID(ctx, postID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	liked, err := h.likeRepository.HasUserLikedPost(ctx, postID, uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, echo.Map{"count": count, "liked": liked})
}
