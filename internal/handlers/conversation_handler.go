package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/readstate"
)

// ConversationHandler serves conversations, messages and read state
type ConversationHandler struct {
	ledger  *ledger.Ledger
	tracker *readstate.Tracker
	media   MediaResolver
}

// NewConversationHandler creates a new ConversationHandler
func NewConversationHandler(l *ledger.Ledger, t *readstate.Tracker, media MediaResolver) *ConversationHandler {
	return &ConversationHandler{ledger: l, tracker: t, media: media}
}

// RegisterConversationRoutes registers conversation routes
func (h *ConversationHandler) RegisterConversationRoutes(g *echo.Group) {
	g.GET("/conversations", h.ListConversations)
	g.POST("/conversations", h.CreateConversation)
	g.GET("/conversations/unread-count", h.GetUnreadCount)
	g.PUT("/conversations/direct/:userId", h.EnsureDirect)
	g.GET("/conversations/:id", h.GetConversation)
	g.GET("/conversations/:id/messages", h.GetMessages)
	g.POST("/conversations/:id/messages", h.SendMessage)
	g.PUT("/conversations/:id/delivered", h.MarkDelivered)
	g.PUT("/conversations/:id/read", h.MarkRead)
}

// ConversationView is a conversation with the caller's unread flag
type ConversationView struct {
	models.Conversation
	Unread bool `json:"unread"`
}

func (h *ConversationHandler) resolveMedia(ctx context.Context, msgs []models.Message) {
	if h.media == nil {
		return
	}
	for i := range msgs {
		if msgs[i].MediaRef != "" {
			msgs[i].MediaURL = h.media.URL(ctx, msgs[i].MediaRef)
		}
	}
}

// participant loads the conversation and checks that uid belongs to it.
// Conversations the caller is not part of read as missing.
func (h *ConversationHandler) participant(ctx context.Context, uid, conversationID string) (models.Conversation, error) {
	conv, found, err := h.ledger.GetConversation(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, httpError(err)
	}
	if !found || !conv.HasParticipant(uid) {
		return models.Conversation{}, echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	return conv, nil
}

// ListConversations returns the caller's conversations, most recent first
func (h *ConversationHandler) ListConversations(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	convs, err := h.ledger.ListConversations(ctx, uid)
	if err != nil {
		return httpError(err)
	}
	cursors, err := h.tracker.Cursors(ctx, uid)
	if err != nil {
		return httpError(err)
	}
	views := make([]ConversationView, len(convs))
	for i, conv := range convs {
		views[i] = ConversationView{Conversation: conv, Unread: readstate.Unread(uid, conv, cursors[conv.ID])}
	}
	return ok(c, echo.Map{"conversations": views})
}

// CreateConversation starts a conversation with the caller as creator
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	var req models.CreateConversationRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	id, err := h.ledger.CreateConversation(c.Request().Context(), req.Participants, models.ConversationMeta{
		Name:      req.Name,
		IsGroup:   req.Name != "",
		CreatedBy: uid,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": echo.Map{"id": id}})
}

// EnsureDirect returns the 1:1 conversation with another user, creating it
// on first use
func (h *ConversationHandler) EnsureDirect(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	other := c.Param("userId")
	if !identity.Valid(other) || other == uid {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid user ID")
	}
	id, err := h.ledger.EnsureDirectConversation(c.Request().Context(), uid, other)
	if err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"id": id})
}

// GetConversation returns one conversation of the caller
func (h *ConversationHandler) GetConversation(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	conv, err := h.participant(ctx, uid, c.Param("id"))
	if err != nil {
		return err
	}
	unread, err := h.tracker.IsUnread(ctx, uid, conv)
	if err != nil {
		return httpError(err)
	}
	return ok(c, ConversationView{Conversation: conv, Unread: unread})
}

// GetMessages returns a page of messages, oldest first. The before query
// parameter takes the next token of the previous page.
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.participant(ctx, uid, c.Param("id")); err != nil {
		return err
	}

	req := ledger.PageRequest{}
	if s := c.QueryParam("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid limit")
		}
		req.Limit = limit
	}
	if s := c.QueryParam("before"); s != "" {
		cursor, err := ledger.ParsePageCursor(s)
		if err != nil {
			return httpError(err)
		}
		req.Before = &cursor
	}

	page, err := h.ledger.FetchMessages(ctx, c.Param("id"), req)
	if err != nil {
		return httpError(err)
	}
	h.resolveMedia(ctx, page.Messages)
	return ok(c, page)
}

// SendMessage appends a message from the caller. The conversation is
// created on the first message.
func (h *ConversationHandler) SendMessage(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	conversationID := c.Param("id")

	var req models.SendMessageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	conv, found, err := h.ledger.GetConversation(ctx, conversationID)
	if err != nil {
		return httpError(err)
	}
	if found && !conv.HasParticipant(uid) {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}

	id, err := h.ledger.SendMessage(ctx, conversationID, models.Message{
		From:     uid,
		To:       req.To,
		Type:     req.Type,
		Text:     req.Text,
		MediaRef: req.MediaRef,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true, "data": echo.Map{"id": id}})
}

// MarkDelivered flags the messages addressed to the caller as delivered
func (h *ConversationHandler) MarkDelivered(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.participant(ctx, uid, c.Param("id")); err != nil {
		return err
	}
	n, err := h.ledger.MarkDelivered(ctx, c.Param("id"), uid)
	if err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"updated": n})
}

// MarkRead advances the caller's read cursor
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.participant(ctx, uid, c.Param("id")); err != nil {
		return err
	}
	if err := h.tracker.MarkRead(ctx, uid, c.Param("id")); err != nil {
		return httpError(err)
	}
	return ok(c, echo.Map{"read": true})
}

// GetUnreadCount returns the number of unread conversations
func (h *ConversationHandler) GetUnreadCount(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	state, err := h.tracker.UnreadConversations(c.Request().Context(), uid)
	if err != nil {
		return httpError(err)
	}
	return ok(c, state)
}
