// Package notify stores atomic interaction events per receiver and serves
// them as a grouped, deduplicated feed. Follow events are state based: one
// live event per actor and receiver, refreshed on follow and deleted on
// unfollow.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/realtime/internal/identity"
	"github.com/anonto42/nano-midea/realtime/internal/metrics"
	"github.com/anonto42/nano-midea/realtime/internal/models"
	"github.com/anonto42/nano-midea/realtime/internal/push"
	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/schema"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

const (
	DefaultFeedLimit = 100

	defaultPushTimeout = 10 * time.Second
	maxBatch           = 500
)

// Names resolves display names for push copy.
type Names interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Resolver turns preview references into URLs.
type Resolver interface {
	URL(ctx context.Context, ref string) string
}

type Aggregator struct {
	store       store.Store
	sink        push.Sink
	names       Names
	resolver    Resolver
	policy      resilience.RetryPolicy
	logger      *slog.Logger
	feedLimit   int
	pushTimeout time.Duration

	inflight sync.WaitGroup
}

type Option func(*Aggregator)

func WithSink(s push.Sink) Option {
	return func(a *Aggregator) { a.sink = s }
}

func WithNames(n Names) Option {
	return func(a *Aggregator) { a.names = n }
}

func WithResolver(r Resolver) Option {
	return func(a *Aggregator) { a.resolver = r }
}

func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(a *Aggregator) { a.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithFeedLimit caps the raw events a feed reads.
func WithFeedLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.feedLimit = n
		}
	}
}

func WithPushTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.pushTimeout = d
		}
	}
}

func New(s store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       s,
		policy:      resilience.DefaultRetryPolicy(),
		logger:      slog.Default(),
		feedLimit:   DefaultFeedLimit,
		pushTimeout: defaultPushTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "notify")
	return a
}

// Emit records e for receiverID and returns the event id. Likes, comments
// and other events are appended. A follow overwrites the actor's single
// follow event, resetting its time and read flag. Self-interactions are not
// recorded and return "".
func (a *Aggregator) Emit(ctx context.Context, receiverID string, e models.NotificationEvent) (string, error) {
	const op = "notify.Emit"
	if err := identity.Validate(op, receiverID); err != nil {
		return "", err
	}
	if err := identity.Validate(op, e.ActorID); err != nil {
		return "", err
	}
	if e.Type == "" {
		return "", resilience.InvalidArgument(op, "event type is empty")
	}
	if e.Payload != nil && e.Payload.EventType() != e.Type {
		return "", resilience.InvalidArgument(op, "%s payload on a %s event", e.Payload.EventType(), e.Type)
	}
	if e.ActorID == receiverID {
		return "", nil
	}
	e.ReceiverID = receiverID
	collection := schema.Notifications(receiverID)

	var err error
	switch e.Type {
	case models.EventFollow:
		e.ID = schema.FollowEventID(e.ActorID)
		err = resilience.Do(ctx, op, a.policy, func(ctx context.Context) error {
			return a.store.Upsert(ctx, collection, e.ID, schema.EncodeEvent(e))
		})
	default:
		e.ID, err = a.store.Create(ctx, collection, schema.EncodeEvent(e))
	}
	if err != nil {
		return "", fmt.Errorf("failed to emit %s notification: %w", e.Type, err)
	}
	metrics.NotificationsEmitted.WithLabelValues(string(e.Type)).Inc()

	if a.sink != nil && !e.Type.IsMessage() {
		a.inflight.Add(1)
		go a.push(context.WithoutCancel(ctx), e)
	}
	return e.ID, nil
}

// push delivers e to the sink. Failures are logged and counted only.
func (a *Aggregator) push(ctx context.Context, e models.NotificationEvent) {
	defer a.inflight.Done()
	ctx, cancel := context.WithTimeout(ctx, a.pushTimeout)
	defer cancel()

	name := ""
	if a.names != nil {
		n, err := a.names.DisplayName(ctx, e.ActorID)
		if err != nil {
			a.logger.DebugContext(ctx, "display name lookup failed", "actor", e.ActorID, "error", err)
		}
		name = n
	}
	title, body := Copy(e, name)
	payload := map[string]string{
		"type":    string(e.Type),
		"eventId": e.ID,
		"actorId": e.ActorID,
	}
	if e.TargetID != "" {
		payload["targetId"] = e.TargetID
	}
	if err := a.sink.Notify(ctx, e.ReceiverID, title, body, payload); err != nil {
		metrics.PushFailures.Inc()
		a.logger.WarnContext(ctx, "push notification failed", "receiver", e.ReceiverID, "type", e.Type, "error", err)
	}
}

// Wait blocks until in-flight push deliveries finish.
func (a *Aggregator) Wait() { a.inflight.Wait() }

// RemoveFollowEvent deletes actorID's follow event from receiverID's feed.
func (a *Aggregator) RemoveFollowEvent(ctx context.Context, receiverID, actorID string) error {
	const op = "notify.RemoveFollowEvent"
	if err := identity.Validate(op, receiverID); err != nil {
		return err
	}
	if err := identity.Validate(op, actorID); err != nil {
		return err
	}
	err := resilience.Do(ctx, op, a.policy, func(ctx context.Context) error {
		return a.store.Delete(ctx, schema.Notifications(receiverID), schema.FollowEventID(actorID))
	})
	if err != nil {
		return fmt.Errorf("failed to remove follow notification: %w", err)
	}
	return nil
}

// MarkRead marks one event read. It fails with NotFound for an unknown
// event.
func (a *Aggregator) MarkRead(ctx context.Context, receiverID, eventID string) error {
	const op = "notify.MarkRead"
	if err := identity.Validate(op, receiverID); err != nil {
		return err
	}
	if eventID == "" {
		return resilience.InvalidArgument(op, "event id is empty")
	}
	collection := schema.Notifications(receiverID)
	_, err := resilience.RetryWithBackoff(ctx, op, a.policy, func(ctx context.Context) (store.Document, error) {
		return a.store.Get(ctx, collection, eventID)
	})
	if err != nil {
		return fmt.Errorf("failed to load notification %s: %w", eventID, err)
	}
	return a.markRead(ctx, op, receiverID, []string{eventID})
}

// MarkAllRead marks every unread event of receiverID read and returns how
// many changed.
func (a *Aggregator) MarkAllRead(ctx context.Context, receiverID string) (int, error) {
	const op = "notify.MarkAllRead"
	if err := identity.Validate(op, receiverID); err != nil {
		return 0, err
	}
	q := store.Query{Collection: schema.Notifications(receiverID)}.Where(schema.FieldRead, store.OpEqual, false)
	docs, err := resilience.RetryWithBackoff(ctx, op, a.policy, func(ctx context.Context) ([]store.Document, error) {
		return a.store.Query(ctx, q)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load unread notifications: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	if err := a.markRead(ctx, op, receiverID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// MarkGroupRead marks every event behind a feed row read. Events deleted
// since the row was built are skipped.
func (a *Aggregator) MarkGroupRead(ctx context.Context, receiverID string, view models.AggregatedNotification) error {
	const op = "notify.MarkGroupRead"
	if err := identity.Validate(op, receiverID); err != nil {
		return err
	}
	collection := schema.Notifications(receiverID)
	ids := make([]string, 0, len(view.SourceEventIDs))
	for _, id := range view.SourceEventIDs {
		if id == "" {
			continue
		}
		_, err := resilience.RetryWithBackoff(ctx, op, a.policy, func(ctx context.Context) (store.Document, error) {
			return a.store.Get(ctx, collection, id)
		})
		if resilience.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load notification %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	return a.markRead(ctx, op, receiverID, ids)
}

func (a *Aggregator) markRead(ctx context.Context, op, receiverID string, ids []string) error {
	collection := schema.Notifications(receiverID)
	writes := make([]store.Write, 0, len(ids))
	for _, id := range ids {
		writes = append(writes, store.UpsertWrite(collection, id, store.Fields{schema.FieldRead: true}))
	}
	for chunk := range slices.Chunk(writes, maxBatch) {
		err := resilience.Do(ctx, op, a.policy, func(ctx context.Context) error {
			return store.ApplyInOrder(ctx, a.store, chunk)
		})
		if err != nil {
			return fmt.Errorf("failed to mark notifications read: %w", err)
		}
	}
	return nil
}

func (a *Aggregator) feedQuery(receiverID string) store.Query {
	return store.Query{
		Collection: schema.Notifications(receiverID),
		OrderBy:    schema.FieldCreatedAt,
		Direction:  store.Desc,
		Limit:      a.feedLimit,
	}
}

func decodeEvents(docs []store.Document) []models.NotificationEvent {
	events := make([]models.NotificationEvent, 0, len(docs))
	for _, d := range docs {
		events = append(events, schema.DecodeEvent(d))
	}
	return events
}

// Events returns the raw recent events of receiverID, newest first.
func (a *Aggregator) Events(ctx context.Context, receiverID string) ([]models.NotificationEvent, error) {
	const op = "notify.Events"
	if !identity.Valid(receiverID) {
		return nil, nil
	}
	docs, err := resilience.Read(ctx, op, a.policy, a.logger, func(ctx context.Context) ([]store.Document, error) {
		return a.store.Query(ctx, a.feedQuery(receiverID))
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications of %s: %w", receiverID, err)
	}
	return decodeEvents(docs), nil
}

// List returns receiverID's aggregated feed.
func (a *Aggregator) List(ctx context.Context, receiverID string) ([]models.AggregatedNotification, error) {
	events, err := a.Events(ctx, receiverID)
	if err != nil {
		return nil, err
	}
	return a.withPreviews(ctx, Aggregate(events)), nil
}

// Subscribe streams receiverID's aggregated feed, re-aggregating the
// capped raw event set on every change.
func (a *Aggregator) Subscribe(ctx context.Context, receiverID string, onChange func([]models.AggregatedNotification)) (*store.Subscription, error) {
	const op = "notify.Subscribe"
	if !identity.Valid(receiverID) {
		onChange([]models.AggregatedNotification{})
		return store.Noop(), nil
	}
	listener := func(docs []store.Document) {
		onChange(a.withPreviews(ctx, Aggregate(decodeEvents(docs))))
	}
	sub, err := resilience.Read(ctx, op, a.policy, a.logger, func(ctx context.Context) (*store.Subscription, error) {
		return a.store.Subscribe(ctx, a.feedQuery(receiverID), listener)
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to notifications of %s: %w", receiverID, err)
	}
	if sub == nil {
		onChange([]models.AggregatedNotification{})
		return store.Noop(), nil
	}
	return store.Tracked("notifications", sub), nil
}

func (a *Aggregator) withPreviews(ctx context.Context, views []models.AggregatedNotification) []models.AggregatedNotification {
	if a.resolver == nil {
		return views
	}
	for i := range views {
		if ref := views[i].Latest.PreviewRef(); ref != "" {
			views[i].PreviewURL = a.resolver.URL(ctx, ref)
		}
	}
	return views
}
