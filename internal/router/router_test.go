package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/middleware"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/notify"
	"github.com/anonto42/nano-midea/realtime/internal/readstate"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/store/memory"
)

const secret = "router-test"

type server struct {
	t          *testing.T
	e          *echo.Echo
	aggregator *notify.Aggregator
}

func newServer(t *testing.T) *server {
	var mu sync.Mutex
	now := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	policy := resilience.RetryPolicy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 1}

	docs := memory.New(memory.WithClock(clock))
	l := ledger.New(docs, ledger.WithRetryPolicy(policy))
	a := notify.New(docs, notify.WithRetryPolicy(policy))
	e := echo.New()
	SetupRoutes(e, Deps{
		Ledger:     l,
		Tracker:    readstate.New(docs, l, readstate.WithRetryPolicy(policy), readstate.WithReceipts(l)),
		Aggregator: a,
		Auth:       middleware.JWTAuthMiddleware(secret),
	})
	return &server{t: t, e: e, aggregator: a}
}

func (s *server) do(method, path, user string, body any) (int, map[string]any) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		token, err := middleware.IssueToken(secret, &models.JwtCustomClaims{
			UserID:           user,
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		})
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	code, body := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestRequiresAuthentication(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(http.MethodGet, "/api/v1/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestConversationFlow(t *testing.T) {
	s := newServer(t)
	conv := "/api/v1/conversations/alice_bob"

	code, _ := s.do(http.MethodPost, conv+"/messages", "alice", models.SendMessageRequest{
		To: []string{"bob"}, Type: models.MessageText, Text: "hi bob",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := s.do(http.MethodGet, "/api/v1/conversations", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	convs := data(t, body)["conversations"].([]any)
	require.Len(t, convs, 1)
	first := convs[0].(map[string]any)
	assert.Equal(t, "alice_bob", first["id"])
	assert.Equal(t, "hi bob", first["last_message"])
	assert.Equal(t, true, first["unread"])

	_, body = s.do(http.MethodGet, "/api/v1/conversations/unread-count", "bob", nil)
	assert.EqualValues(t, 1, data(t, body)["count"])
	_, body = s.do(http.MethodGet, "/api/v1/conversations/unread-count", "alice", nil)
	assert.EqualValues(t, 0, data(t, body)["count"])

	code, body = s.do(http.MethodGet, conv+"/messages", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	msgs := data(t, body)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi bob", msgs[0].(map[string]any)["text"])

	code, _ = s.do(http.MethodGet, conv+"/messages", "carol", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodGet, conv, "carol", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodGet, conv+"/messages?before=garbage", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPut, conv+"/read", "carol", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPut, conv+"/delivered", "carol", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPut, "/api/v1/conversations/nowhere/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = s.do(http.MethodPut, conv+"/delivered", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(t, body)["updated"])
	code, _ = s.do(http.MethodPut, conv+"/read", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	_, body = s.do(http.MethodGet, "/api/v1/conversations/unread-count", "bob", nil)
	assert.EqualValues(t, 0, data(t, body)["count"])

	_, body = s.do(http.MethodGet, conv+"/messages", "bob", nil)
	msgs = data(t, body)["messages"].([]any)
	assert.Equal(t, true, msgs[0].(map[string]any)["read"])
}

func TestSendMessageValidation(t *testing.T) {
	s := newServer(t)
	tests := []struct {
		name string
		req  models.SendMessageRequest
	}{
		{"no recipients", models.SendMessageRequest{Type: models.MessageText, Text: "x"}},
		{"empty text", models.SendMessageRequest{To: []string{"bob"}, Type: models.MessageText}},
		{"image without ref", models.SendMessageRequest{To: []string{"bob"}, Type: models.MessageImage}},
		{"unknown type", models.SendMessageRequest{To: []string{"bob"}, Type: "audio", MediaRef: "gs://b/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := s.do(http.MethodPost, "/api/v1/conversations/c1/messages", "alice", tt.req)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
}

func TestDirectAndGroupConversations(t *testing.T) {
	s := newServer(t)

	code, body := s.do(http.MethodPut, "/api/v1/conversations/direct/bob", "alice", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice_bob", data(t, body)["id"])

	code, _ = s.do(http.MethodPut, "/api/v1/conversations/direct/alice", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(http.MethodPost, "/api/v1/conversations", "alice", models.CreateConversationRequest{
		Participants: []string{"bob", "carol"}, Name: "trip",
	})
	require.Equal(t, http.StatusCreated, code)
	id := data(t, body)["id"].(string)

	code, body = s.do(http.MethodGet, "/api/v1/conversations/"+id, "carol", nil)
	require.Equal(t, http.StatusOK, code)
	got := data(t, body)
	assert.Equal(t, "trip", got["name"])
	assert.Equal(t, true, got["is_group"])
	assert.ElementsMatch(t, []any{"alice", "bob", "carol"}, got["participants"])
}

func TestNotificationRoutes(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()
	for _, actor := range []string{"alice", "carol"} {
		_, err := s.aggregator.Emit(ctx, "bob", models.NotificationEvent{
			Type: models.EventLike, ActorID: actor, TargetID: "p1",
			Payload: models.LikePayload{PostID: "p1"},
		})
		require.NoError(t, err)
	}
	_, err := s.aggregator.Emit(ctx, "bob", models.NotificationEvent{
		Type: models.EventFollow, ActorID: "dave", Payload: models.FollowPayload{},
	})
	require.NoError(t, err)

	code, body := s.do(http.MethodGet, "/api/v1/notifications", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	d := data(t, body)
	rows := d["notifications"].([]any)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 2, d["unreadCount"])
	like := rows[1].(map[string]any)
	assert.Equal(t, "like_p1", like["group_key"])
	assert.Len(t, like["actor_profiles"], 2)

	code, _ = s.do(http.MethodPut, "/api/v1/notifications/groups/like_p1/read", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPut, "/api/v1/notifications/groups/missing/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.do(http.MethodPut, "/api/v1/notifications/nope/read", "bob", nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, body = s.do(http.MethodGet, "/api/v1/notifications/unread-count", "bob", nil)
	assert.EqualValues(t, 1, data(t, body)["count"])

	code, body = s.do(http.MethodPut, "/api/v1/notifications/read-all", "bob", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, data(t, body)["read"])

	_, body = s.do(http.MethodGet, "/api/v1/notifications/grouped", "bob", nil)
	d = data(t, body)
	assert.EqualValues(t, 0, d["unreadCount"])
	assert.Contains(t, d["notifications"], "today")
}
