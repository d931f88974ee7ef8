// Package memory is an in-process document store. It backs local runs and
// tests, and can hold server timestamps pending until CommitPending is
// called, reproducing the local-echo snapshots a device sees before the
// backend acknowledges a write.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/anonto42/nano-midea/realtime/internal/store"
)

// FaultFunc lets tests fail an operation. op is one of get, upsert,
// create, delete, query, subscribe, apply.
type FaultFunc func(op, collection string) error

type Option func(*Store)

// WithClock sets the clock used for server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithDeferredCommits keeps server timestamps pending until CommitPending.
func WithDeferredCommits() Option {
	return func(s *Store) { s.deferCommits = true }
}

type pendingField struct {
	collection, id, field string
}

// Store implements store.Store and store.Batcher.
type Store struct {
	mu           sync.Mutex
	docs         map[string]map[string]store.Fields
	pending      []pendingField
	deferCommits bool
	clock        func() time.Time
	fault        FaultFunc

	lmu       sync.Mutex
	listeners map[*listener]struct{}
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Batcher = (*Store)(nil)
)

func New(opts ...Option) *Store {
	s := &Store{
		docs:      make(map[string]map[string]store.Fields),
		clock:     time.Now,
		listeners: make(map[*listener]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFault installs (or clears, with nil) a fault hook.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

func (s *Store) check(op, collection string) error {
	s.mu.Lock()
	fn := s.fault
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op, collection)
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	if err := s.check("get", collection); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.docs[collection][id]
	if !ok {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	return s.document(collection, id, f), nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := s.check("upsert", collection); err != nil {
		return err
	}
	s.mu.Lock()
	s.merge(collection, id, fields, s.clock())
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Create(ctx context.Context, collection string, fields store.Fields) (string, error) {
	if err := s.check("create", collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.merge(collection, id, fields, s.clock())
	s.mu.Unlock()
	s.notify(collection)
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.check("delete", collection); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs[collection], id)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

// Apply commits all writes under one lock and one commit time; listeners
// see them together.
func (s *Store) Apply(ctx context.Context, writes []store.Write) error {
	for _, w := range writes {
		if err := s.check("apply", w.Collection); err != nil {
			return err
		}
	}
	touched := make([]string, 0, len(writes))
	s.mu.Lock()
	now := s.clock()
	for _, w := range writes {
		switch w.Kind {
		case store.WriteDelete:
			delete(s.docs[w.Collection], w.ID)
		default:
			s.merge(w.Collection, w.ID, w.Fields, now)
		}
		if !slices.Contains(touched, w.Collection) {
			touched = append(touched, w.Collection)
		}
	}
	s.mu.Unlock()
	s.notify(touched...)
	return nil
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	if err := s.check("query", q.Collection); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(q), nil
}

// CommitPending stamps every pending server timestamp with the clock and
// notifies listeners, as the backend acknowledging queued writes would.
func (s *Store) CommitPending() {
	s.mu.Lock()
	now := s.clock()
	var touched []string
	for _, p := range s.pending {
		if f, ok := s.docs[p.collection][p.id]; ok && f[p.field] == store.PendingTimestamp {
			f[p.field] = now
		}
		if !slices.Contains(touched, p.collection) {
			touched = append(touched, p.collection)
		}
	}
	s.pending = nil
	s.mu.Unlock()
	s.notify(touched...)
}

// merge must be called with s.mu held. Server timestamps resolve to now.
func (s *Store) merge(collection, id string, fields store.Fields, now time.Time) {
	coll, ok := s.docs[collection]
	if !ok {
		coll = make(map[string]store.Fields)
		s.docs[collection] = coll
	}
	doc, ok := coll[id]
	if !ok {
		doc = store.Fields{}
		coll[id] = doc
	}
	for k, v := range fields {
		switch val := v.(type) {
		case store.ArrayUnion:
			existing, _ := store.Normalize(doc[k]).([]any)
			for _, e := range val {
				if !store.Contains(existing, e) {
					existing = append(existing, e)
				}
			}
			doc[k] = existing
		default:
			if v == store.ServerTimestamp {
				if s.deferCommits {
					doc[k] = store.PendingTimestamp
					s.pending = append(s.pending, pendingField{collection, id, k})
				} else {
					doc[k] = now
				}
				continue
			}
			doc[k] = store.Normalize(v)
		}
	}
}

func (s *Store) document(collection, id string, f store.Fields) store.Document {
	pending := false
	for _, v := range f {
		if v == store.PendingTimestamp {
			pending = true
			break
		}
	}
	return store.Document{Collection: collection, ID: id, Fields: f.Clone(), HasPendingWrites: pending}
}

// run must be called with s.mu held.
func (s *Store) run(q store.Query) []store.Document {
	var out []store.Document
	for id, f := range s.docs[q.Collection] {
		if !matches(f, q.Filters) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := f[q.OrderBy]; !ok {
				continue
			}
		}
		out = append(out, s.document(q.Collection, id, f))
	}

	less := func(a, b store.Document) int {
		c := 0
		if q.OrderBy != "" {
			c = store.Compare(a.Fields[q.OrderBy], b.Fields[q.OrderBy])
		}
		if c == 0 {
			c = store.Compare(a.ID, b.ID)
		}
		if q.Direction == store.Desc {
			c = -c
		}
		return c
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) < 0 })

	if q.StartAfter != nil {
		probe := store.Document{ID: q.StartAfter.ID, Fields: store.Fields{q.OrderBy: q.StartAfter.Value}}
		i := sort.Search(len(out), func(i int) bool { return less(out[i], probe) > 0 })
		out = out[i:]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(f store.Fields, filters []store.Filter) bool {
	for _, flt := range filters {
		v, ok := f[flt.Field]
		if !ok {
			return false
		}
		switch flt.Op {
		case store.OpArrayContains:
			if !store.Contains(v, flt.Value) {
				return false
			}
		default:
			if store.Compare(v, store.Normalize(flt.Value)) != 0 {
				return false
			}
		}
	}
	return true
}

type listener struct {
	query  store.Query
	fn     store.Listener
	wake   chan struct{}
	stop   chan struct{}
	closed atomic.Bool
}

// Subscribe runs fn on a dedicated goroutine. Bursts of changes coalesce
// into a single delivery of the latest result.
func (s *Store) Subscribe(ctx context.Context, q store.Query, fn store.Listener) (*store.Subscription, error) {
	if err := s.check("subscribe", q.Collection); err != nil {
		return nil, err
	}
	l := &listener{
		query: q,
		fn:    fn,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	l.wake <- struct{}{}

	s.lmu.Lock()
	s.listeners[l] = struct{}{}
	s.lmu.Unlock()

	sub := store.NewSubscription(func() {
		l.closed.Store(true)
		close(l.stop)
		s.lmu.Lock()
		delete(s.listeners, l)
		s.lmu.Unlock()
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case <-l.stop:
				return
			case <-l.wake:
			}
			s.mu.Lock()
			docs := s.run(l.query)
			s.mu.Unlock()
			if l.closed.Load() {
				return
			}
			l.fn(docs)
		}
	}()
	return sub, nil
}

func (s *Store) notify(collections ...string) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	for l := range s.listeners {
		if !slices.Contains(collections, l.query.Collection) {
			continue
		}
		select {
		case l.wake <- struct{}{}:
		default:
		}
	}
}
