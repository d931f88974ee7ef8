// Package mongo implements the document store on MongoDB. Every
// collection path maps to the MongoDB collection named by its last
// segment; documents carry their parent path and id, and _id is the full
// document path.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/anonto42/nano-midea/realtime/internal/resilience"
	"github.com/anonto42/nano-midea/realtime/internal/store"
)

const (
	fieldParent = "_parent"
	fieldDocID  = "_docId"
)

// Store implements store.Store and store.Batcher.
type Store struct {
	db           *mongo.Database
	transactions bool
	logger       *slog.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Batcher = (*Store)(nil)
)

type Option func(*Store)

// WithTransactions applies batches in a multi-document transaction. It
// needs a replica set.
func WithTransactions() Option {
	return func(s *Store) { s.transactions = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(db *mongo.Database, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mongo")
	return s
}

// split returns the collection name and parent path of a collection path.
func split(collection string) (name, parent string) {
	i := strings.LastIndex(collection, "/")
	if i < 0 {
		return collection, ""
	}
	return collection[i+1:], collection[:i]
}

func (s *Store) coll(collection string) (*mongo.Collection, string) {
	name, parent := split(collection)
	return s.db.Collection(name), parent
}

func docPath(collection, id string) string { return collection + "/" + id }

// translate classifies driver errors.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsTimeout(err):
		return resilience.E(resilience.KindDeadlineExceeded, op, err)
	case mongo.IsNetworkError(err):
		return resilience.E(resilience.KindTransport, op, err)
	case errors.Is(err, mongo.ErrClientDisconnected):
		return resilience.E(resilience.KindUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// EnsureIndexes creates the indexes the realtime queries use.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		"messages": {
			{Keys: bson.D{{Key: fieldParent, Value: 1}, {Key: "createdAt", Value: -1}, {Key: fieldDocID, Value: -1}}},
			{Keys: bson.D{{Key: fieldParent, Value: 1}, {Key: "to", Value: 1}}},
		},
		"conversations": {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}}},
		},
		"notifications": {
			{Keys: bson.D{{Key: fieldParent, Value: 1}, {Key: "createdAt", Value: -1}, {Key: fieldDocID, Value: -1}}},
		},
		"readCursors": {
			{Keys: bson.D{{Key: fieldParent, Value: 1}}},
		},
	}
	for name, models := range specs {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return translate("mongo.EnsureIndexes", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	c, _ := s.coll(collection)
	var raw bson.M
	err := c.FindOne(ctx, bson.M{"_id": docPath(collection, id)}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, fmt.Errorf("%s/%s: %w", collection, id, store.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, translate("mongo.Get", err)
	}
	return decode(collection, raw), nil
}

// update builds an upsert: plain fields under $set, array unions under
// $addToSet and server timestamps under $currentDate.
func update(collection, id string, fields store.Fields) bson.M {
	_, parent := split(collection)
	set := bson.M{fieldParent: parent, fieldDocID: id}
	addToSet := bson.M{}
	currentDate := bson.M{}
	for k, v := range fields {
		switch x := v.(type) {
		case store.ArrayUnion:
			addToSet[k] = bson.M{"$each": []any(x)}
			continue
		}
		if v == store.ServerTimestamp {
			currentDate[k] = true
			continue
		}
		set[k] = store.Normalize(v)
	}
	u := bson.M{"$set": set}
	if len(addToSet) > 0 {
		u["$addToSet"] = addToSet
	}
	if len(currentDate) > 0 {
		u["$currentDate"] = currentDate
	}
	return u
}

func (s *Store) upsert(ctx context.Context, collection, id string, fields store.Fields) error {
	c, _ := s.coll(collection)
	_, err := c.UpdateOne(ctx, bson.M{"_id": docPath(collection, id)}, update(collection, id, fields), options.Update().SetUpsert(true))
	return err
}

func (s *Store) Upsert(ctx context.Context, collection, id string, fields store.Fields) error {
	return translate("mongo.Upsert", s.upsert(ctx, collection, id, fields))
}

func (s *Store) Create(ctx context.Context, collection string, fields store.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.upsert(ctx, collection, id, fields); err != nil {
		return "", translate("mongo.Create", err)
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	c, _ := s.coll(collection)
	_, err := c.DeleteOne(ctx, bson.M{"_id": docPath(collection, id)})
	return translate("mongo.Delete", err)
}

func (s *Store) apply(ctx context.Context, writes []store.Write) error {
	for _, w := range writes {
		var err error
		switch w.Kind {
		case store.WriteDelete:
			c, _ := s.coll(w.Collection)
			_, err = c.DeleteOne(ctx, bson.M{"_id": docPath(w.Collection, w.ID)})
		default:
			err = s.upsert(ctx, w.Collection, w.ID, w.Fields)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Apply runs the writes in order, inside a transaction when enabled.
func (s *Store) Apply(ctx context.Context, writes []store.Write) error {
	if !s.transactions {
		return translate("mongo.Apply", s.apply(ctx, writes))
	}
	session, err := s.db.Client().StartSession()
	if err != nil {
		return translate("mongo.Apply", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, s.apply(sc, writes)
	})
	return translate("mongo.Apply", err)
}

func (s *Store) filter(q store.Query) bson.M {
	_, parent := split(q.Collection)
	and := bson.A{bson.M{fieldParent: parent}}
	for _, f := range q.Filters {
		// An equality match on an array field matches any element, which
		// is array-contains.
		and = append(and, bson.M{f.Field: store.Normalize(f.Value)})
	}
	if q.OrderBy != "" {
		and = append(and, bson.M{q.OrderBy: bson.M{"$exists": true}})
		if c := q.StartAfter; c != nil && c.Value != store.PendingTimestamp {
			cmp := "$gt"
			if q.Direction == store.Desc {
				cmp = "$lt"
			}
			and = append(and, bson.M{"$or": bson.A{
				bson.M{q.OrderBy: bson.M{cmp: c.Value}},
				bson.M{q.OrderBy: c.Value, fieldDocID: bson.M{cmp: c.ID}},
			}})
		}
	}
	return bson.M{"$and": and}
}

func (s *Store) findOptions(q store.Query) *options.FindOptions {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Direction == store.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: fieldDocID, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func (s *Store) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	c, _ := s.coll(q.Collection)
	cur, err := c.Find(ctx, s.filter(q), s.findOptions(q))
	if err != nil {
		return nil, translate("mongo.Query", err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, translate("mongo.Query", err)
	}
	docs := make([]store.Document, 0, len(raw))
	for _, r := range raw {
		docs = append(docs, decode(q.Collection, r))
	}
	return docs, nil
}

// Subscribe watches the collection with a change stream and re-runs the
// query on every change of a document under the query's parent path.
// Deletes carry no document, so every delete triggers a re-run.
func (s *Store) Subscribe(ctx context.Context, q store.Query, fn store.Listener) (*store.Subscription, error) {
	c, parent := s.coll(q.Collection)
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.M{"$or": bson.A{
		bson.M{"fullDocument." + fieldParent: parent},
		bson.M{"operationType": "delete"},
	}}}}}
	stream, err := c.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, translate("mongo.Subscribe", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := store.NewSubscription(cancel)
	deliver := func() bool {
		docs, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WarnContext(ctx, "change stream re-query failed", "collection", q.Collection, "error", err)
			}
			return ctx.Err() == nil
		}
		fn(docs)
		return true
	}

	go func() {
		defer sub.Unsubscribe()
		defer stream.Close(context.WithoutCancel(ctx))
		if !deliver() {
			return
		}
		for stream.Next(ctx) {
			// Drain whatever is already buffered into a single re-run.
			for stream.RemainingBatchLength() > 0 && stream.Next(ctx) {
			}
			if !deliver() {
				return
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "change stream stopped", "collection", q.Collection, "error", err)
		}
	}()
	return sub, nil
}

func decode(collection string, raw bson.M) store.Document {
	id, _ := raw[fieldDocID].(string)
	fields := store.Fields{}
	for k, v := range raw {
		switch k {
		case "_id", fieldParent, fieldDocID:
			continue
		}
		fields[k] = decodeValue(v)
	}
	return store.Document{Collection: collection, ID: id, Fields: fields}
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = decodeValue(e.Value)
		}
		return out
	case int32:
		return int64(x)
	case time.Time:
		return x.UTC()
	}
	return v
}
