// Package readstate tracks per-user read cursors and derives unread state
// from them. There is no stored unread counter: counts are recomputed from
// the user's conversations and cursors whenever either changes.
package readstate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/schema"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

// Conversations is the part of the ledger the tracker reads.
type Conversations interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	SubscribeConversations(ctx context.Context, userID string, onChange func([]models.Conversation)) (*store.Subscription, error)
}

// ReceiptMarker flags messages as read when their recipient opens the
// conversation.
type ReceiptMarker interface {
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// UnreadState is what SubscribeUnread delivers. Conversations lists the
// unread conversation ids, most recently active first.
type UnreadState struct {
	Count         int      `json:"count"`
	Conversations []string `json:"conversations"`
}

type Tracker struct {
	store    store.Store
	convs    Conversations
	receipts ReceiptMarker
	policy   resilience.RetryPolicy
	logger   *slog.Logger
}

type Option func(*Tracker)

func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(t *Tracker) { t.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithReceipts makes MarkRead also mark the conversation's messages read.
func WithReceipts(r ReceiptMarker) Option {
	return func(t *Tracker) { t.receipts = r }
}

func New(s store.Store, convs Conversations, opts ...Option) *Tracker {
	t := &Tracker{
		store:  s,
		convs:  convs,
		policy: resilience.DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "readstate")
	return t
}

// Unread reports whether conv has activity userID has not seen. The last
// sender never has an unread conversation, whatever the timestamps say. A
// zero cursor means the user never read the conversation.
func Unread(userID string, conv models.Conversation, cursor models.ReadCursor) bool {
	if conv.LastSenderID == userID {
		return false
	}
	if conv.LastMessageAt.IsZero() {
		return false
	}
	return conv.LastMessageAt.After(cursor.LastReadAt)
}

// Compute derives the unread state of convs against cursors keyed by
// conversation id.
func Compute(userID string, convs []models.Conversation, cursors map[string]models.ReadCursor) UnreadState {
	state := UnreadState{Conversations: []string{}}
	for _, c := range convs {
		if Unread(userID, c, cursors[c.ID]) {
			state.Conversations = append(state.Conversations, c.ID)
		}
	}
	state.Count = len(state.Conversations)
	return state
}

// MarkRead advances userID's cursor on conversationID to the store clock.
func (t *Tracker) MarkRead(ctx context.Context, userID, conversationID string) error {
	const op = "readstate.MarkRead"
	if err := identity.Validate(op, userID); err != nil {
		return err
	}
	if strings.TrimSpace(conversationID) == "" || strings.Contains(conversationID, "/") {
		return resilience.InvalidArgument(op, "invalid conversation id %q", conversationID)
	}

	err := resilience.Do(ctx, op, t.policy, func(ctx context.Context) error {
		return t.store.Upsert(ctx, schema.ReadCursors(userID), conversationID, store.Fields{
			schema.FieldUserID:         userID,
			schema.FieldConversationID: conversationID,
			schema.FieldLastReadAt:     store.ServerTimestamp,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s read for %s: %w", conversationID, userID, err)
	}

	if t.receipts != nil {
		if _, err := t.receipts.MarkMessagesRead(ctx, conversationID, userID); err != nil {
			return fmt.Errorf("failed to propagate read receipts: %w", err)
		}
	}
	return nil
}

// Cursor returns userID's cursor on conversationID. A missing cursor, or
// one that could not be read, is the zero cursor.
func (t *Tracker) Cursor(ctx context.Context, userID, conversationID string) (models.ReadCursor, error) {
	const op = "readstate.Cursor"
	zero := models.ReadCursor{UserID: userID, ConversationID: conversationID}
	if !identity.Valid(userID) || conversationID == "" {
		return zero, nil
	}
	cursor, err := resilience.Read(ctx, op, t.policy, t.logger, func(ctx context.Context) (models.ReadCursor, error) {
		doc, err := t.store.Get(ctx, schema.ReadCursors(userID), conversationID)
		if resilience.IsNotFound(err) {
			return zero, nil
		}
		if err != nil {
			return zero, err
		}
		return schema.DecodeCursor(userID, doc), nil
	}, zero)
	if err != nil {
		return zero, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

// Cursors returns all of userID's cursors keyed by conversation id.
func (t *Tracker) Cursors(ctx context.Context, userID string) (map[string]models.ReadCursor, error) {
	const op = "readstate.Cursors"
	if !identity.Valid(userID) {
		return map[string]models.ReadCursor{}, nil
	}
	docs, err := resilience.Read(ctx, op, t.policy, t.logger, func(ctx context.Context) ([]store.Document, error) {
		return t.store.Query(ctx, store.Query{Collection: schema.ReadCursors(userID)})
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load cursors of %s: %w", userID, err)
	}
	return decodeCursors(userID, docs), nil
}

func decodeCursors(userID string, docs []store.Document) map[string]models.ReadCursor {
	out := make(map[string]models.ReadCursor, len(docs))
	for _, d := range docs {
		out[d.ID] = schema.DecodeCursor(userID, d)
	}
	return out
}

// IsUnread reports whether conv is unread for userID.
func (t *Tracker) IsUnread(ctx context.Context, userID string, conv models.Conversation) (bool, error) {
	if !identity.Valid(userID) {
		return false, nil
	}
	if conv.LastSenderID == userID {
		return false, nil
	}
	cursor, err := t.Cursor(ctx, userID, conv.ID)
	if err != nil {
		return false, err
	}
	return Unread(userID, conv, cursor), nil
}

// UnreadConversations loads conversations and cursors in parallel and
// returns the unread state.
func (t *Tracker) UnreadConversations(ctx context.Context, userID string) (UnreadState, error) {
	if !identity.Valid(userID) {
		return UnreadState{Conversations: []string{}}, nil
	}
	var (
		convs   []models.Conversation
		cursors map[string]models.ReadCursor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convs, err = t.convs.ListConversations(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		cursors, err = t.Cursors(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return UnreadState{}, err
	}
	return Compute(userID, convs, cursors), nil
}

// UnreadConversationCount is the number of unread conversations.
func (t *Tracker) UnreadConversationCount(ctx context.Context, userID string) (int, error) {
	state, err := t.UnreadConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	return state.Count, nil
}

// SubscribeUnread joins the conversation and cursor streams of userID and
// delivers the recomputed state on every change of either, once both have
// reported at least once.
func (t *Tracker) SubscribeUnread(ctx context.Context, userID string, onChange func(UnreadState)) (*store.Subscription, error) {
	const op = "readstate.SubscribeUnread"
	if !identity.Valid(userID) {
		onChange(UnreadState{Conversations: []string{}})
		return store.Noop(), nil
	}

	var (
		mu          sync.Mutex
		convs       []models.Conversation
		cursors     map[string]models.ReadCursor
		haveConvs   bool
		haveCursors bool
	)
	emit := func() {
		if haveConvs && haveCursors {
			onChange(Compute(userID, convs, cursors))
		}
	}

	convSub, err := t.convs.SubscribeConversations(ctx, userID, func(c []models.Conversation) {
		mu.Lock()
		defer mu.Unlock()
		convs, haveConvs = c, true
		emit()
	})
	if err != nil {
		return nil, err
	}

	onCursors := func(docs []store.Document) {
		mu.Lock()
		defer mu.Unlock()
		cursors, haveCursors = decodeCursors(userID, docs), true
		emit()
	}
	cursorSub, err := resilience.Read(ctx, op, t.policy, t.logger, func(ctx context.Context) (*store.Subscription, error) {
		return t.store.Subscribe(ctx, store.Query{Collection: schema.ReadCursors(userID)}, onCursors)
	}, nil)
	if err != nil {
		convSub.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe to cursors of %s: %w", userID, err)
	}
	if cursorSub == nil {
		onCursors(nil)
		cursorSub = store.Noop()
	}
	return store.Tracked("unread", store.Join(convSub, cursorSub)), nil
}
