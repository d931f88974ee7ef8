package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/readstate"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// frame is one websocket message: the full current state of the stream.
type frame struct {
	Stream string `json:"stream"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StreamHandler exposes every subscription as a websocket stream. Closing
// the socket cancels the subscription.
type StreamHandler struct {
	ledger     *ledger.Ledger
	tracker    *readstate.Tracker
	aggregator *notify.Aggregator
	media      MediaResolver
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(l *ledger.Ledger, t *readstate.Tracker, a *notify.Aggregator, media MediaResolver) *StreamHandler {
	return &StreamHandler{ledger: l, tracker: t, aggregator: a, media: media}
}

// RegisterStreamRoutes registers websocket routes
func (h *StreamHandler) RegisterStreamRoutes(g *echo.Group) {
	g.GET("/ws/conversations", h.Conversations)
	g.GET("/ws/conversations/:id/messages", h.Messages)
	g.GET("/ws/unread", h.Unread)
	g.GET("/ws/notifications", h.Notifications)
}

type subscribeFunc func(ctx context.Context, emit func(any)) (*store.Subscription, error)

// serve upgrades the connection and pumps the latest state of the
// subscription to the client. Intermediate states are skipped when the
// client is slower than the updates.
func serve(c echo.Context, stream string, subscribe subscribeFunc) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("failed to upgrade the websocket", "stream", stream, "error", err)
		return nil
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	latest := make(chan any, 1)
	emit := func(v any) {
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- v:
		default:
		}
	}

	sub, err := subscribe(ctx, emit)
	if err != nil {
		_ = ws.WriteJSON(frame{Stream: stream, Error: err.Error()})
		return nil
	}
	defer sub.Unsubscribe()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case v := <-latest:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(frame{Stream: stream, Data: v}); err != nil {
				slog.Debug("websocket client gone", "stream", stream, "error", err)
				return nil
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

// Conversations streams the caller's conversation list
func (h *StreamHandler) Conversations(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	return serve(c, "conversations", func(ctx context.Context, emit func(any)) (*store.Subscription, error) {
		return h.ledger.SubscribeConversations(ctx, uid, func(convs []models.Conversation) {
			if convs == nil {
				convs = []models.Conversation{}
			}
			emit(convs)
		})
	})
}

// Messages streams the newest messages of one conversation
func (h *StreamHandler) Messages(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	conversationID := c.Param("id")
	conv, found, err := h.ledger.GetConversation(c.Request().Context(), conversationID)
	if err != nil {
		return httpError(err)
	}
	if !found || !conv.HasParticipant(uid) {
		return echo.NewHTTPError(http.StatusNotFound, "Conversation not found")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	return serve(c, "messages", func(ctx context.Context, emit func(any)) (*store.Subscription, error) {
		return h.ledger.SubscribeMessages(ctx, conversationID, limit, func(msgs []models.Message) {
			if msgs == nil {
				msgs = []models.Message{}
			}
			if h.media != nil {
				for i := range msgs {
					if msgs[i].MediaRef != "" {
						msgs[i].MediaURL = h.media.URL(ctx, msgs[i].MediaRef)
					}
				}
			}
			emit(msgs)
		})
	})
}

// Unread streams the caller's unread conversation state
func (h *StreamHandler) Unread(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	return serve(c, "unread", func(ctx context.Context, emit func(any)) (*store.Subscription, error) {
		return h.tracker.SubscribeUnread(ctx, uid, func(s readstate.UnreadState) { emit(s) })
	})
}

// Notifications streams the caller's aggregated notification feed
func (h *StreamHandler) Notifications(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	return serve(c, "notifications", func(ctx context.Context, emit func(any)) (*store.Subscription, error) {
		return h.aggregator.Subscribe(ctx, uid, func(views []models.AggregatedNotification) {
			if views == nil {
				views = []models.AggregatedNotification{}
			}
			emit(echo.Map{"notifications": views, "unreadCount": notify.UnreadCount(views)})
		})
	})
}
