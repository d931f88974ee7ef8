package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/repositories"
)

const commentPageSize = 50

// CommentHandler handles comment-related HTTP requests
type CommentHandler struct {
	commentRepository repositories.CommentRepository
	aggregator        *notify.Aggregator
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(commentRepo repositories.CommentRepository, aggregator *notify.Aggregator) *CommentHandler {
	return &CommentHandler{commentRepository: commentRepo, aggregator: aggregator}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.POST("/comments", h.CreateComment)
	g.GET("/posts/:postId/comments", h.GetCommentsByPostID)
	g.DELETE("/comments/:id", h.DeleteComment)
}

// CreateComment stores a comment and notifies the post owner and every
// mentioned user. The owner gets the comment notification only.
func (h *CommentHandler) CreateComment(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.CreateCommentRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	comment := &models.Comment{PostID: req.PostID, UserID: uid, Content: req.Content}
	if err := h.commentRepository.CreateComment(ctx, comment); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	commentID := strconv.FormatUint(uint64(comment.ID), 10)
	if _, err := h.aggregator.Emit(ctx, req.OwnerID, models.NotificationEvent{
		Type:     models.EventComment,
		ActorID:  uid,
		TargetID: req.PostID,
		Payload: models.CommentPayload{
			PostID:     req.PostID,
			CommentID:  commentID,
			Text:       req.Content,
			PreviewRef: req.PreviewRef,
		},
	}); err != nil {
		slog.WarnContext(ctx, "comment notification not recorded", "actor", uid, "post", req.PostID, "error", err)
	}
	for _, mentioned := range models.ParticipantSet(req.Mentions...) {
		if mentioned == req.OwnerID {
			continue
		}
		if _, err := h.aggregator.Emit(ctx, mentioned, models.NotificationEvent{
			Type:     models.EventMention,
			ActorID:  uid,
			TargetID: req.PostID,
			Payload:  models.MentionPayload{PostID: req.PostID, CommentID: commentID, Text: req.Content},
		}); err != nil {
			slog.WarnContext(ctx, "mention notification not recorded", "actor", uid, "receiver", mentioned, "error", err)
		}
	}

	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": comment})
}

// GetCommentsByPostID returns the newest comments of a post
func (h *CommentHandler) GetCommentsByPostID(c echo.Context) error {
	if _, err := currentUser(c); err != nil {
		return err
	}
	comments, err := h.commentRepository.GetCommentsByPostID(c.Request().Context(), c.Param("postId"), commentPageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return ok(c, echo.Map{"comments": comments})
}

// DeleteComment deletes one of the caller's comments
func (h *CommentHandler) DeleteComment(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid comment ID")
	}
	existed, err := h.commentRepository.DeleteComment(c.Request().Context(), uint(id), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !existed {
		return echo.NewHTTPError(http.StatusNotFound, "Comment not found")
	}
	return ok(c, echo.Map{"deleted": true})
}
