// Package ledger owns conversations and their message sequences. Every send
// repairs the parent conversation (participants and preview), so the
// conversation documents converge even when they are missing or stale.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/schema"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

const (
	DefaultPageSize = 30
	maxPageSize     = 200

	// maxBatch is the most writes a single store batch may carry.
	maxBatch = 500
)

type Ledger struct {
	store    store.Store
	policy   resilience.RetryPolicy
	logger   *slog.Logger
	pageSize int
}

type Option func(*Ledger)

func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithPageSize sets the page size used when a request does not name one.
func WithPageSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.pageSize = min(n, maxPageSize)
		}
	}
}

func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:    s,
		policy:   resilience.DefaultRetryPolicy(),
		logger:   slog.Default(),
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

func validConversationID(op, id string) error {
	if strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		return resilience.InvalidArgument(op, "invalid conversation id %q", id)
	}
	return nil
}

// CreateConversation stores a new conversation under a store-generated id.
// It does not look for an existing conversation with the same members.
func (l *Ledger) CreateConversation(ctx context.Context, participants []string, meta models.ConversationMeta) (string, error) {
	const op = "ledger.CreateConversation"
	members := models.ParticipantSet(append(slices.Clone(participants), meta.CreatedBy)...)
	if len(members) == 0 {
		return "", resilience.InvalidArgument(op, "conversation needs at least one participant")
	}
	for _, id := range members {
		if err := identity.Validate(op, id); err != nil {
			return "", err
		}
	}

	fields := store.Fields{
		schema.FieldParticipants: members,
		schema.FieldIsGroup:      meta.IsGroup || len(members) > 2,
		schema.FieldLastMessage:  "",
		schema.FieldCreatedAt:    store.ServerTimestamp,
		schema.FieldUpdatedAt:    store.ServerTimestamp,
	}
	if meta.Name != "" {
		fields[schema.FieldName] = meta.Name
	}
	if meta.CreatedBy != "" {
		fields[schema.FieldCreatedBy] = meta.CreatedBy
	}

	id, err := l.store.Create(ctx, schema.Conversations, fields)
	if err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	return id, nil
}

// DirectConversationID is the deterministic id of the 1:1 conversation
// between a and b.
func DirectConversationID(a, b string) string { return models.DirectConversationID(a, b) }

// EnsureDirectConversation makes sure the 1:1 conversation between a and b
// exists and lists both of them, and returns its id.
func (l *Ledger) EnsureDirectConversation(ctx context.Context, a, b string) (string, error) {
	const op = "ledger.EnsureDirectConversation"
	if err := identity.Validate(op, a); err != nil {
		return "", err
	}
	if err := identity.Validate(op, b); err != nil {
		return "", err
	}
	if a == b {
		return "", resilience.InvalidArgument(op, "a direct conversation needs two distinct users")
	}
	id := DirectConversationID(a, b)

	fields := store.Fields{schema.FieldParticipants: store.Union(a, b)}
	_, err := resilience.RetryWithBackoff(ctx, op, l.policy, func(ctx context.Context) (store.Document, error) {
		return l.store.Get(ctx, schema.Conversations, id)
	})
	switch {
	case resilience.IsNotFound(err):
		fields[schema.FieldIsGroup] = false
		fields[schema.FieldLastMessage] = ""
		fields[schema.FieldCreatedAt] = store.ServerTimestamp
		fields[schema.FieldUpdatedAt] = store.ServerTimestamp
	case err != nil:
		return "", fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	if err := l.store.Upsert(ctx, schema.Conversations, id, fields); err != nil {
		return "", fmt.Errorf("failed to upsert conversation %s: %w", id, err)
	}
	return id, nil
}

func validateMessage(op string, m models.Message) error {
	if err := identity.Validate(op, m.From); err != nil {
		return err
	}
	if len(m.To) == 0 {
		return resilience.InvalidArgument(op, "message has no recipients")
	}
	for _, to := range m.To {
		if err := identity.Validate(op, to); err != nil {
			return err
		}
	}
	switch m.Type {
	case models.MessageText:
		if strings.TrimSpace(m.Text) == "" || m.MediaRef != "" {
			return resilience.InvalidArgument(op, "text message must carry text only")
		}
	case models.MessageImage, models.MessageVideo:
		if m.MediaRef == "" || m.Text != "" {
			return resilience.InvalidArgument(op, "%s message must carry a media reference only", m.Type)
		}
	default:
		return resilience.InvalidArgument(op, "unknown message type %q", m.Type)
	}
	return nil
}

// SendMessage appends msg to the conversation, repairs the conversation
// document and advances the sender's read cursor, in that order. Failures
// are returned as is; sends are never retried.
func (l *Ledger) SendMessage(ctx context.Context, conversationID string, msg models.Message) (string, error) {
	const op = "ledger.SendMessage"
	if err := validConversationID(op, conversationID); err != nil {
		return "", err
	}
	if err := validateMessage(op, msg); err != nil {
		return "", err
	}

	msg.ID = uuid.NewString()
	msg.ConversationID = conversationID
	msg.To = models.ParticipantSet(msg.To...)

	writes := []store.Write{
		store.UpsertWrite(schema.Messages(conversationID), msg.ID, schema.EncodeMessage(msg)),
		store.UpsertWrite(schema.Conversations, conversationID, store.Fields{
			schema.FieldParticipants:  store.Union(append([]string{msg.From}, msg.To...)...),
			schema.FieldLastMessage:   msg.Preview(),
			schema.FieldLastMessageAt: store.ServerTimestamp,
			schema.FieldLastSenderID:  msg.From,
			schema.FieldUpdatedAt:     store.ServerTimestamp,
		}),
		cursorWrite(msg.From, conversationID),
	}
	if err := store.ApplyInOrder(ctx, l.store, writes); err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", conversationID, err)
	}
	return msg.ID, nil
}

// cursorWrite advances userID's read cursor on conversationID to the store
// clock.
func cursorWrite(userID, conversationID string) store.Write {
	return store.UpsertWrite(schema.ReadCursors(userID), conversationID, store.Fields{
		schema.FieldUserID:         userID,
		schema.FieldConversationID: conversationID,
		schema.FieldLastReadAt:     store.ServerTimestamp,
	})
}

// FetchMessages returns one page of the conversation, oldest first. It
// degrades to an empty page when the store is unreachable.
func (l *Ledger) FetchMessages(ctx context.Context, conversationID string, req PageRequest) (Page, error) {
	const op = "ledger.FetchMessages"
	if validConversationID(op, conversationID) != nil {
		return Page{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = l.pageSize
	}
	limit = min(limit, maxPageSize)

	q := store.Query{
		Collection: schema.Messages(conversationID),
		OrderBy:    schema.FieldCreatedAt,
		Direction:  store.Desc,
		Limit:      limit + 1,
	}
	if req.Before != nil {
		q.StartAfter = req.Before.storeCursor()
	}

	docs, err := resilience.Read(ctx, op, l.policy, l.logger, func(ctx context.Context) ([]store.Document, error) {
		return l.store.Query(ctx, q)
	}, nil)
	if err != nil {
		return Page{}, fmt.Errorf("failed to fetch messages of %s: %w", conversationID, err)
	}

	page := Page{HasMore: len(docs) > limit}
	if page.HasMore {
		docs = docs[:limit]
	}
	page.Messages = make([]models.Message, 0, len(docs))
	for _, d := range docs {
		page.Messages = append(page.Messages, schema.DecodeMessage(d))
	}
	if page.HasMore {
		page.Next = cursorOf(page.Messages[len(page.Messages)-1])
	}
	slices.Reverse(page.Messages)
	return page, nil
}

// SubscribeMessages streams the newest limit messages of the conversation,
// newest first. Pending local echoes sort ahead of every committed
// message.
func (l *Ledger) SubscribeMessages(ctx context.Context, conversationID string, limit int, onChange func([]models.Message)) (*store.Subscription, error) {
	const op = "ledger.SubscribeMessages"
	if validConversationID(op, conversationID) != nil {
		onChange(nil)
		return store.Noop(), nil
	}
	if limit <= 0 {
		limit = l.pageSize
	}
	q := store.Query{
		Collection: schema.Messages(conversationID),
		OrderBy:    schema.FieldCreatedAt,
		Direction:  store.Desc,
		Limit:      min(limit, maxPageSize),
	}
	return l.subscribe(ctx, op, "messages", q, func(docs []store.Document) {
		msgs := make([]models.Message, 0, len(docs))
		for _, d := range docs {
			msgs = append(msgs, schema.DecodeMessage(d))
		}
		models.SortMessagesNewestFirst(msgs)
		onChange(msgs)
	}, func() { onChange(nil) })
}

func conversationsQuery(userID string) store.Query {
	return store.Query{
		Collection: schema.Conversations,
		OrderBy:    schema.FieldUpdatedAt,
		Direction:  store.Desc,
	}.Where(schema.FieldParticipants, store.OpArrayContains, userID)
}

func decodeConversations(docs []store.Document) []models.Conversation {
	convs := make([]models.Conversation, 0, len(docs))
	for _, d := range docs {
		convs = append(convs, schema.DecodeConversation(d))
	}
	models.SortConversationsByActivity(convs)
	return convs
}

// SubscribeConversations streams the conversations userID takes part in,
// most recently updated first.
func (l *Ledger) SubscribeConversations(ctx context.Context, userID string, onChange func([]models.Conversation)) (*store.Subscription, error) {
	const op = "ledger.SubscribeConversations"
	if !identity.Valid(userID) {
		onChange(nil)
		return store.Noop(), nil
	}
	return l.subscribe(ctx, op, "conversations", conversationsQuery(userID), func(docs []store.Document) {
		onChange(decodeConversations(docs))
	}, func() { onChange(nil) })
}

// ListConversations is the one-shot form of SubscribeConversations.
func (l *Ledger) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	const op = "ledger.ListConversations"
	if !identity.Valid(userID) {
		return nil, nil
	}
	docs, err := resilience.Read(ctx, op, l.policy, l.logger, func(ctx context.Context) ([]store.Document, error) {
		return l.store.Query(ctx, conversationsQuery(userID))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations of %s: %w", userID, err)
	}
	return decodeConversations(docs), nil
}

// GetConversation loads one conversation. A missing document, or one that
// could not be read, reports found=false.
func (l *Ledger) GetConversation(ctx context.Context, conversationID string) (models.Conversation, bool, error) {
	const op = "ledger.GetConversation"
	if validConversationID(op, conversationID) != nil {
		return models.Conversation{}, false, nil
	}
	doc, err := resilience.Read(ctx, op, l.policy, l.logger, func(ctx context.Context) (*store.Document, error) {
		d, err := l.store.Get(ctx, schema.Conversations, conversationID)
		if resilience.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &d, nil
	}, nil)
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("failed to get conversation %s: %w", conversationID, err)
	}
	if doc == nil {
		return models.Conversation{}, false, nil
	}
	return schema.DecodeConversation(*doc), true, nil
}

// MarkDelivered records recipientID on every message addressed to it that
// it has not yet received, and returns how many were updated.
func (l *Ledger) MarkDelivered(ctx context.Context, conversationID, recipientID string) (int, error) {
	const op = "ledger.MarkDelivered"
	return l.updateAddressed(ctx, op, conversationID, recipientID, schema.FieldDeliveredTo, store.Fields{
		schema.FieldDelivered:   true,
		schema.FieldDeliveredTo: store.Union(recipientID),
		schema.FieldDeliveredAt: store.ServerTimestamp,
	})
}

// MarkMessagesRead records readerID on every message addressed to it that
// it has not yet read. Read messages are implicitly delivered. Flags never
// revert, and each reader of a group message is kept in readBy.
func (l *Ledger) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int, error) {
	const op = "ledger.MarkMessagesRead"
	return l.updateAddressed(ctx, op, conversationID, readerID, schema.FieldReadBy, store.Fields{
		schema.FieldRead:        true,
		schema.FieldReadBy:      store.Union(readerID),
		schema.FieldReadAt:      store.ServerTimestamp,
		schema.FieldDelivered:   true,
		schema.FieldDeliveredTo: store.Union(readerID),
	})
}

// updateAddressed applies fields to the messages addressed to userID whose
// marker array does not list userID yet.
func (l *Ledger) updateAddressed(ctx context.Context, op, conversationID, userID, marker string, fields store.Fields) (int, error) {
	if err := validConversationID(op, conversationID); err != nil {
		return 0, err
	}
	if err := identity.Validate(op, userID); err != nil {
		return 0, err
	}
	q := store.Query{Collection: schema.Messages(conversationID)}.
		Where(schema.FieldTo, store.OpArrayContains, userID)

	docs, err := resilience.RetryWithBackoff(ctx, op, l.policy, func(ctx context.Context) ([]store.Document, error) {
		return l.store.Query(ctx, q)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load messages of %s: %w", conversationID, err)
	}

	writes := make([]store.Write, 0, len(docs))
	for _, d := range docs {
		if store.Contains(d.Fields[marker], userID) {
			continue
		}
		writes = append(writes, store.UpsertWrite(d.Collection, d.ID, fields))
	}
	for chunk := range slices.Chunk(writes, maxBatch) {
		err := resilience.Do(ctx, op, l.policy, func(ctx context.Context) error {
			return store.ApplyInOrder(ctx, l.store, chunk)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to update messages of %s: %w", conversationID, err)
		}
	}
	return len(writes), nil
}

// subscribe opens a tracked subscription. When the store cannot be
// reached the listener receives one empty result through onDegraded and a
// no-op handle is returned.
func (l *Ledger) subscribe(ctx context.Context, op, kind string, q store.Query, fn store.Listener, onDegraded func()) (*store.Subscription, error) {
	sub, err := resilience.Read(ctx, op, l.policy, l.logger, func(ctx context.Context) (*store.Subscription, error) {
		return l.store.Subscribe(ctx, q, fn)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", q.Collection, err)
	}
	if sub == nil {
		onDegraded()
		return store.Noop(), nil
	}
	return store.Tracked(kind, sub), nil
}
