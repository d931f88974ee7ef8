// Package firestore implements the document store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/anonto42/nano-midea/realtime/internal/store"
)

// Store implements store.Store and store.Batcher.
type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Batcher = (*Store)(nil)
)

func New(client *firestore.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger.With("component", "firestore")}
}

// encode maps write sentinels onto their Firestore transforms.
func encode(fields store.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	switch x := v.(type) {
	case store.ArrayUnion:
		return firestore.ArrayUnion([]any(x)...)
	case store.Fields:
		return encode(x)
	case map[string]any:
		return encode(x)
	}
	if v == store.ServerTimestamp {
		return firestore.ServerTimestamp
	}
	return v
}

func decode(collection string, snap *firestore.DocumentSnapshot) store.Document {
	return store.Document{
		Collection: collection,
		ID:         snap.Ref.ID,
		Fields:     store.Fields(store.Normalize(snap.Data()).(map[string]any)),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return decode(collection, snap), nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields store.Fields) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, encode(fields), firestore.MergeAll); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, fields store.Fields) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, encode(fields))
	if err != nil {
		return "", fmt.Errorf("failed to add to %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Apply commits the writes in one transaction.
func (s *Store) Apply(ctx context.Context, writes []store.Write) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, w := range writes {
			ref := s.client.Collection(w.Collection).Doc(w.ID)
			var err error
			switch w.Kind {
			case store.WriteDelete:
				err = tx.Delete(ref)
			default:
				err = tx.Set(ref, encode(w.Fields), firestore.MergeAll)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func direction(d store.Direction) firestore.Direction {
	if d == store.Desc {
		return firestore.Desc
	}
	return firestore.Asc
}

func (s *Store) query(q store.Query) firestore.Query {
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), encodeValue(f.Value))
	}
	if q.OrderBy != "" {
		fq = fq.OrderBy(q.OrderBy, direction(q.Direction)).OrderBy(firestore.DocumentID, direction(q.Direction))
		// Server snapshots never carry pending values, so a pending
		// cursor can only come from a client and is ignored.
		if c := q.StartAfter; c != nil && c.Value != store.PendingTimestamp {
			fq = fq.StartAfter(c.Value, c.ID)
		}
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	snaps, err := s.query(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	docs := make([]store.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, decode(q.Collection, snap))
	}
	return docs, nil
}

// Subscribe listens with a realtime snapshot iterator. The listener gets
// the full result on every snapshot.
func (s *Store) Subscribe(ctx context.Context, q store.Query, fn store.Listener) (*store.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	it := s.query(q).Snapshots(ctx)
	sub := store.NewSubscription(cancel)

	go func() {
		defer sub.Unsubscribe()
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, iterator.Done) && status.Code(err) != codes.Canceled {
					s.logger.WarnContext(ctx, "snapshot listener stopped", "collection", q.Collection, "error", err)
				}
				return
			}
			all, err := snap.Documents.GetAll()
			if err != nil {
				s.logger.WarnContext(ctx, "failed to read snapshot", "collection", q.Collection, "error", err)
				continue
			}
			docs := make([]store.Document, 0, len(all))
			for _, d := range all {
				docs = append(docs, decode(q.Collection, d))
			}
			fn(docs)
		}
	}()
	return sub, nil
}
