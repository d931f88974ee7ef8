// Package store defines the document store collaborator the realtime core
// depends on: get, merge-upsert, delete, ordered cursor queries and push
// subscriptions whose snapshots include the writer's uncommitted writes.
package store

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/realtime/internal/resilience"
)

// ErrNotFound is returned by Get for an absent document.
var ErrNotFound = resilience.E(resilience.KindNotFound, "store", errors.New("document not found"))

// Fields is a document body. Values are strings, bools, ints, floats,
// time.Time, []any, map[string]any, or one of the write sentinels below.
type Fields map[string]any

// Document is a stored document addressed by its collection path and id.
type Document struct {
	Collection string
	ID         string
	Fields     Fields

	// HasPendingWrites is set when the snapshot carries local writes the
	// store has not acknowledged yet.
	HasPendingWrites bool
}

type serverTimestamp struct{}

// ServerTimestamp asks the store to stamp the field with its own clock.
var ServerTimestamp = serverTimestamp{}

type pendingTimestamp struct{}

// PendingTimestamp is what a snapshot holds for a ServerTimestamp field
// that has not been committed yet.
var PendingTimestamp = pendingTimestamp{}

// ArrayUnion merges the listed elements into an array field, skipping
// elements already present.
type ArrayUnion []any

// Union builds an ArrayUnion from strings.
func Union(vals ...string) ArrayUnion {
	out := make(ArrayUnion, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

// Direction is a query sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

// Cursor positions a query after the document with the given order value
// and id.
type Cursor struct {
	Value any
	ID    string
}

// Query selects documents from a single collection. Results are ordered by
// OrderBy then by document id, both in Direction.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Direction  Direction
	Limit      int
	StartAfter *Cursor
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: value})
	return q
}

// WriteKind is the kind of a batched write.
type WriteKind int

const (
	WriteUpsert WriteKind = iota
	WriteDelete
)

// Write is one mutation of a batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Fields     Fields
}

func UpsertWrite(collection, id string, fields Fields) Write {
	return Write{Kind: WriteUpsert, Collection: collection, ID: id, Fields: fields}
}

func DeleteWrite(collection, id string) Write {
	return Write{Kind: WriteDelete, Collection: collection, ID: id}
}

// Listener receives the full result set of a subscribed query on every
// change. It may be invoked many times in quick succession.
type Listener func(docs []Document)

// Store is the document store collaborator.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)

	// Upsert creates the document or merges fields into it. It never fails
	// because the document is missing.
	Upsert(ctx context.Context, collection, id string, fields Fields) error

	// Create stores a new document under a store-generated id.
	Create(ctx context.Context, collection string, fields Fields) (string, error)

	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)

	// Subscribe delivers the current result of q and then every change
	// until the subscription is cancelled or ctx ends.
	Subscribe(ctx context.Context, q Query, fn Listener) (*Subscription, error)
}

// Batcher is implemented by stores that can apply writes across
// collections atomically.
type Batcher interface {
	Apply(ctx context.Context, writes []Write) error
}

// ApplyInOrder applies writes atomically when s is a Batcher and otherwise
// one by one in the given order, stopping at the first failure.
func ApplyInOrder(ctx context.Context, s Store, writes []Write) error {
	if b, ok := s.(Batcher); ok {
		return b.Apply(ctx, writes)
	}
	for _, w := range writes {
		var err error
		switch w.Kind {
		case WriteDelete:
			err = s.Delete(ctx, w.Collection, w.ID)
		default:
			err = s.Upsert(ctx, w.Collection, w.ID, w.Fields)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
