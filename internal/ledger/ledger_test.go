package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/schema"
	"github.com/anonto42/nano-midea/realtime/internal/store"
	"github.com/anonto42/nano-midea/realtime/internal/store/memory"
)

func fastPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          time.Millisecond,
		BackoffMultiplier: 1,
	}
}

// ticking returns a clock that advances by one second on every call.
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

func newLedger(opts ...memory.Option) (*Ledger, *memory.Store) {
	s := memory.New(append([]memory.Option{memory.WithClock(ticking())}, opts...)...)
	return New(s, WithRetryPolicy(fastPolicy())), s
}

func text(from, to, body string) models.Message {
	return models.Message{From: from, To: []string{to}, Type: models.MessageText, Text: body}
}

func TestSendThenFetch(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger()
	conv := DirectConversationID("alice", "bob")

	id, err := l.SendMessage(ctx, conv, text("alice", "bob", "hello"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	page, err := l.FetchMessages(ctx, conv, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	m := page.Messages[0]
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "alice", m.From)
	assert.Equal(t, "hello", m.Text)
	assert.False(t, m.Read)
	assert.False(t, m.Delivered)
	assert.Equal(t, models.StateCommitted, m.State())
	assert.False(t, page.HasMore)
	assert.Nil(t, page.Next)

	c, found, err := l.GetConversation(ctx, conv)
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"alice", "bob"}, c.Participants)
	assert.Equal(t, "hello", c.LastMessage)
	assert.Equal(t, "alice", c.LastSenderID)
	assert.False(t, c.LastMessageAt.IsZero())

	cursor, err := s.Get(ctx, schema.ReadCursors("alice"), conv)
	require.NoError(t, err)
	assert.False(t, schema.Timestamp(cursor.Fields[schema.FieldLastReadAt]).Before(c.LastMessageAt))
}

func TestSendRepairsParticipantsIdempotently(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger()
	conv := DirectConversationID("alice", "bob")

	// A conversation that drifted: bob is missing.
	require.NoError(t, s.Upsert(ctx, schema.Conversations, conv, store.Fields{
		schema.FieldParticipants: []string{"alice"},
	}))

	for i := range 5 {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = to, from
		}
		_, err := l.SendMessage(ctx, conv, text(from, to, "ping"))
		require.NoError(t, err)
	}

	docs, err := s.Query(ctx, store.Query{Collection: schema.Conversations})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	c := schema.DecodeConversation(docs[0])
	assert.ElementsMatch(t, []string{"alice", "bob"}, c.Participants)
	assert.Equal(t, "alice", c.LastSenderID)
}

func TestSendCreatesMissingConversation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_, err := l.SendMessage(ctx, "group-1", models.Message{
		From: "alice", To: []string{"carol", "bob"}, Type: models.MessageImage, MediaRef: "gs://b/p.jpg",
	})
	require.NoError(t, err)

	c, found, err := l.GetConversation(ctx, "group-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, c.Participants)
	assert.Equal(t, "Photo", c.LastMessage)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	tests := []struct {
		name string
		conv string
		msg  models.Message
	}{
		{"empty sender", "c", text("", "bob", "hi")},
		{"no recipients", "c", models.Message{From: "a", Type: models.MessageText, Text: "hi"}},
		{"empty text", "c", text("a", "b", "  ")},
		{"text with media", "c", models.Message{From: "a", To: []string{"b"}, Type: models.MessageText, Text: "x", MediaRef: "gs://b/k"}},
		{"image without media", "c", models.Message{From: "a", To: []string{"b"}, Type: models.MessageImage}},
		{"unknown type", "c", models.Message{From: "a", To: []string{"b"}, Type: "audio", MediaRef: "gs://b/k"}},
		{"bad conversation", "a/b", text("a", "b", "hi")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SendMessage(ctx, tt.conv, tt.msg)
			assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
		})
	}
}

func TestSendFailurePropagatesWithoutRetry(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger()
	var calls int32
	s.SetFault(func(op, collection string) error {
		if op == "apply" {
			atomic.AddInt32(&calls, 1)
			return resilience.E(resilience.KindUnavailable, "test", errors.New("offline"))
		}
		return nil
	})

	_, err := l.SendMessage(ctx, "c1", text("alice", "bob", "hi"))
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))

	s.SetFault(nil)
	page, err := l.FetchMessages(ctx, "c1", PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestFetchPagination(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	conv := "c1"

	var ids []string
	for range 5 {
		id, err := l.SendMessage(ctx, conv, text("alice", "bob", "m"))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	first, err := l.FetchMessages(ctx, conv, PageRequest{Limit: 2})
	require.NoError(t, err)
	assert.True(t, first.HasMore)
	require.NotNil(t, first.Next)
	assert.Equal(t, []string{ids[3], ids[4]}, messageIDs(first.Messages))

	token := first.Next.String()
	next, err := ParsePageCursor(token)
	require.NoError(t, err)

	second, err := l.FetchMessages(ctx, conv, PageRequest{Limit: 2, Before: &next})
	require.NoError(t, err)
	assert.True(t, second.HasMore)
	assert.Equal(t, []string{ids[1], ids[2]}, messageIDs(second.Messages))

	third, err := l.FetchMessages(ctx, conv, PageRequest{Limit: 2, Before: second.Next})
	require.NoError(t, err)
	assert.False(t, third.HasMore)
	assert.Nil(t, third.Next)
	assert.Equal(t, []string{ids[0]}, messageIDs(third.Messages))
}

func messageIDs(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestFetchDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger()
	_, err := l.SendMessage(ctx, "c1", text("alice", "bob", "hi"))
	require.NoError(t, err)

	var calls int32
	s.SetFault(func(op, collection string) error {
		if op == "query" {
			atomic.AddInt32(&calls, 1)
			return resilience.E(resilience.KindDeadlineExceeded, "test", context.DeadlineExceeded)
		}
		return nil
	})
	page, err := l.FetchMessages(ctx, "c1", PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	convs, err := l.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestReadsWithInvalidUserAreEmpty(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	convs, err := l.ListConversations(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, convs)

	var got []models.Conversation
	called := false
	sub, err := l.SubscribeConversations(ctx, "", func(c []models.Conversation) {
		called = true
		got = c
	})
	require.NoError(t, err)
	sub.Unsubscribe()
	assert.True(t, called)
	assert.Empty(t, got)
}

func TestSubscribeMessagesPendingFirst(t *testing.T) {
	ctx := context.Background()
	l, s := newLedger(memory.WithDeferredCommits())
	conv := "c1"

	oldID, err := l.SendMessage(ctx, conv, text("bob", "alice", "earlier"))
	require.NoError(t, err)
	s.CommitPending()

	var mu sync.Mutex
	var latest []models.Message
	sub, err := l.SubscribeMessages(ctx, conv, 10, func(msgs []models.Message) {
		mu.Lock()
		latest = msgs
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	newID, err := l.SendMessage(ctx, conv, text("alice", "bob", "echo"))
	require.NoError(t, err)

	snapshot := func() []models.Message {
		mu.Lock()
		defer mu.Unlock()
		return latest
	}
	assert.Eventually(t, func() bool {
		msgs := snapshot()
		return len(msgs) == 2 && msgs[0].ID == newID && msgs[0].State() == models.StatePending
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, oldID, snapshot()[1].ID)

	s.CommitPending()
	assert.Eventually(t, func() bool {
		msgs := snapshot()
		return len(msgs) == 2 && msgs[0].ID == newID && msgs[0].State() == models.StateCommitted
	}, time.Second, 5*time.Millisecond)
}

func TestSubscribeConversationsOrdering(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_, err := l.SendMessage(ctx, "c1", text("alice", "bob", "one"))
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, "c2", text("carol", "alice", "two"))
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, "c3", text("bob", "carol", "not alice"))
	require.NoError(t, err)

	var mu sync.Mutex
	var ids []string
	sub, err := l.SubscribeConversations(ctx, "alice", func(convs []models.Conversation) {
		mu.Lock()
		defer mu.Unlock()
		ids = ids[:0]
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual([]string{"c2", "c1"}, ids)
	}, time.Second, 5*time.Millisecond)

	_, err = l.SendMessage(ctx, "c1", text("bob", "alice", "bump"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual([]string{"c1", "c2"}, ids)
	}, time.Second, 5*time.Millisecond)
}

func TestCreateConversation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	id, err := l.CreateConversation(ctx, []string{"bob", "carol", "bob"}, models.ConversationMeta{Name: "trip", CreatedBy: "alice"})
	require.NoError(t, err)

	c, found, err := l.GetConversation(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"alice", "bob", "carol"}, c.Participants)
	assert.True(t, c.IsGroup)
	assert.Equal(t, "trip", c.Name)
	assert.Equal(t, "alice", c.CreatedBy)

	second, err := l.CreateConversation(ctx, []string{"bob", "carol"}, models.ConversationMeta{CreatedBy: "alice"})
	require.NoError(t, err)
	assert.NotEqual(t, id, second)

	_, err = l.CreateConversation(ctx, nil, models.ConversationMeta{})
	assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
}

func TestEnsureDirectConversation(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	id, err := l.EnsureDirectConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice_bob", id)

	again, err := l.EnsureDirectConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	c, found, err := l.GetConversation(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.ElementsMatch(t, []string{"alice", "bob"}, c.Participants)
	assert.False(t, c.IsGroup)

	_, err = l.EnsureDirectConversation(ctx, "alice", "alice")
	assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
}

func TestGetConversationMissing(t *testing.T) {
	l, _ := newLedger()
	_, found, err := l.GetConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMarkDeliveredAndRead(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	conv := "c1"

	_, err := l.SendMessage(ctx, conv, text("alice", "bob", "one"))
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, conv, text("alice", "bob", "two"))
	require.NoError(t, err)
	_, err = l.SendMessage(ctx, conv, text("bob", "alice", "reply"))
	require.NoError(t, err)

	n, err := l.MarkDelivered(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.MarkMessagesRead(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = l.MarkMessagesRead(ctx, conv, "bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	page, err := l.FetchMessages(ctx, conv, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	for _, m := range page.Messages {
		if m.From == "alice" {
			assert.Equal(t, models.StateRead, m.State())
			assert.Equal(t, []string{"bob"}, m.ReadBy)
			assert.Equal(t, []string{"bob"}, m.DeliveredTo)
			assert.NotNil(t, m.ReadAt)
			assert.True(t, m.Delivered)
		} else {
			assert.Equal(t, models.StateCommitted, m.State())
		}
	}

	_, err = l.MarkMessagesRead(ctx, conv, "")
	assert.Equal(t, resilience.KindInvalidArgument, resilience.KindOf(err))
}

func TestGroupReceiptsRecordEveryRecipient(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()
	conv := "g1"

	_, err := l.SendMessage(ctx, conv, models.Message{
		From: "alice", To: []string{"bob", "carol"}, Type: models.MessageText, Text: "hi all",
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		mark func(ctx context.Context, conv, user string) (int, error)
		user string
		want int
	}{
		{"bob delivered", l.MarkDelivered, "bob", 1},
		{"carol delivered", l.MarkDelivered, "carol", 1},
		{"bob delivered again", l.MarkDelivered, "bob", 0},
		{"bob reads", l.MarkMessagesRead, "bob", 1},
		{"carol reads", l.MarkMessagesRead, "carol", 1},
		{"carol reads again", l.MarkMessagesRead, "carol", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n, err := tc.mark(ctx, conv, tc.user)
			require.NoError(t, err)
			assert.Equal(t, tc.want, n)
		})
	}

	page, err := l.FetchMessages(ctx, conv, PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	m := page.Messages[0]
	assert.True(t, m.Read)
	assert.ElementsMatch(t, []string{"bob", "carol"}, m.ReadBy)
	assert.ElementsMatch(t, []string{"bob", "carol"}, m.DeliveredTo)
}

func TestParsePageCursor(t *testing.T) {
	at := time.Date(2026, 4, 1, 9, 0, 0, 123, time.UTC)
	c := PageCursor{CreatedAt: models.At(at), ID: "m-1"}
	parsed, err := ParsePageCursor(c.String())
	require.NoError(t, err)
	assert.Equal(t, "m-1", parsed.ID)
	assert.True(t, at.Equal(parsed.CreatedAt.Time()))

	pending := PageCursor{CreatedAt: models.Pending(), ID: "m-2"}
	parsed, err = ParsePageCursor(pending.String())
	require.NoError(t, err)
	assert.True(t, parsed.CreatedAt.IsPending())

	for _, bad := range []string{"", "nodot", "abc.m", "123."} {
		_, err := ParsePageCursor(bad)
		assert.Error(t, err, bad)
	}
}
