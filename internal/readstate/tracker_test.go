package readstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/realtime/internal/ledger"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/store/memory"
)

func fastPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:        1,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}
}

func ticking() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	store   *memory.Store
	ledger  *ledger.Ledger
	tracker *Tracker
}

func newFixture(opts ...memory.Option) fixture {
	s := memory.New(append([]memory.Option{memory.WithClock(ticking())}, opts...)...)
	l := ledger.New(s, ledger.WithRetryPolicy(fastPolicy()))
	return fixture{
		store:   s,
		ledger:  l,
		tracker: New(s, l, WithRetryPolicy(fastPolicy()), WithReceipts(l)),
	}
}

func (f fixture) send(t *testing.T, conv, from, to string) {
	t.Helper()
	_, err := f.ledger.SendMessage(context.Background(), conv, models.Message{
		From: from, To: []string{to}, Type: models.MessageText, Text: "hi",
	})
	require.NoError(t, err)
}

func TestUnreadSelfSenderShortCircuit(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	convTimes := []models.Timestamp{models.Pending(), models.At(base), models.At(base.Add(time.Hour))}
	cursorTimes := []models.Timestamp{{}, models.Pending(), models.At(base.Add(-time.Hour)), models.At(base.Add(2 * time.Hour))}

	for _, ct := range convTimes {
		for _, rt := range cursorTimes {
			conv := models.Conversation{ID: "c", LastSenderID: "u", LastMessageAt: ct}
			assert.False(t, Unread("u", conv, models.ReadCursor{LastReadAt: rt}))
		}
	}
}

func TestUnreadComparison(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		msgAt  models.Timestamp
		readAt models.Timestamp
		want   bool
	}{
		{"no cursor", models.At(base), models.Timestamp{}, true},
		{"read before message", models.At(base), models.At(base.Add(-time.Second)), true},
		{"read at message", models.At(base), models.At(base), false},
		{"read after message", models.At(base), models.At(base.Add(time.Second)), false},
		{"pending message", models.Pending(), models.At(base), true},
		{"pending cursor", models.At(base), models.Pending(), false},
		{"no messages", models.Timestamp{}, models.Timestamp{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := models.Conversation{ID: "c", LastSenderID: "other", LastMessageAt: tt.msgAt}
			assert.Equal(t, tt.want, Unread("me", conv, models.ReadCursor{LastReadAt: tt.readAt}))
		})
	}
}

func TestScenarioSendMakesReceiverUnread(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	conv := ledger.DirectConversationID("alice", "bob")
	f.send(t, conv, "alice", "bob")

	c, found, err := f.ledger.GetConversation(ctx, conv)
	require.NoError(t, err)
	require.True(t, found)

	unread, err := f.tracker.IsUnread(ctx, "bob", c)
	require.NoError(t, err)
	assert.True(t, unread)

	unread, err = f.tracker.IsUnread(ctx, "alice", c)
	require.NoError(t, err)
	assert.False(t, unread)

	n, err := f.tracker.UnreadConversationCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.tracker.UnreadConversationCount(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkReadClearsUnreadAndPropagatesReceipts(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.send(t, "c1", "alice", "bob")
	f.send(t, "c2", "carol", "bob")

	state, err := f.tracker.UnreadConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2", "c1"}, state.Conversations)

	require.NoError(t, f.tracker.MarkRead(ctx, "bob", "c1"))

	state, err = f.tracker.UnreadConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, []string{"c2"}, state.Conversations)

	page, err := f.ledger.FetchMessages(ctx, "c1", ledger.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].Read)

	cursor, err := f.tracker.Cursor(ctx, "bob", "c1")
	require.NoError(t, err)
	assert.False(t, cursor.LastReadAt.IsZero())

	// A new message after the cursor makes it unread again.
	f.send(t, "c1", "alice", "bob")
	n, err := f.tracker.UnreadConversationCount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMarkReadValidation(t *testing.T) {
	f := newFixture()
	err := f.tracker.MarkRead(context.Background(), "", "c1")
	assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
	err = f.tracker.MarkRead(context.Background(), "bob", "")
	assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
}

func TestCursorMissingIsZero(t *testing.T) {
	f := newFixture()
	cursor, err := f.tracker.Cursor(context.Background(), "bob", "nope")
	require.NoError(t, err)
	assert.True(t, cursor.LastReadAt.IsZero())
}

func TestCountDegradesToZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.send(t, "c1", "alice", "bob")

	f.store.SetFault(func(op, collection string) error {
		if op == "query" {
			return resilience.E(resilience.KindUnavailable, "test", errors.New("offline"))
		}
		return nil
	})
	n, err := f.tracker.UnreadConversationCount(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubscribeUnread(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var mu sync.Mutex
	var states []UnreadState
	sub, err := f.tracker.SubscribeUnread(ctx, "bob", func(s UnreadState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	latest := func() (UnreadState, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return UnreadState{}, false
		}
		return states[len(states)-1], true
	}

	assert.Eventually(t, func() bool {
		s, ok := latest()
		return ok && s.Count == 0
	}, time.Second, 5*time.Millisecond)

	f.send(t, "c1", "alice", "bob")
	assert.Eventually(t, func() bool {
		s, _ := latest()
		return s.Count == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.tracker.MarkRead(ctx, "bob", "c1"))
	assert.Eventually(t, func() bool {
		s, _ := latest()
		return s.Count == 0
	}, time.Second, 5*time.Millisecond)

	// bob replying keeps the thread read for him.
	f.send(t, "c1", "bob", "alice")
	time.Sleep(20 * time.Millisecond)
	s, _ := latest()
	assert.Zero(t, s.Count)
}

func TestSubscribeUnreadInvalidUser(t *testing.T) {
	var got *UnreadState
	sub, err := newFixture().tracker.SubscribeUnread(context.Background(), "", func(s UnreadState) { got = &s })
	require.NoError(t, err)
	sub.Unsubscribe()
	require.NotNil(t, got)
	assert.Zero(t, got.Count)
}
