// Package mongo implements kv.Store on MongoDB. Values live in the keyValue collection,
// set members in setMembers. A TTL index reclaims expired values; reads also filter on
// expiresAt so an expired value is never returned before the monitor runs.
// Transactions need a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/MrSnakeDoc/snip/internal/kv"
)

const Name = "mongo"

const (
	valuesCollection  = "keyValue"
	membersCollection = "setMembers"

	transientTxLabel     = "TransientTransactionError"
	unknownCommitResult  = "UnknownTransactionCommitResult"
	defaultDatabase      = "snip"
	defaultServerTimeout = 10 * time.Second
)

type Options struct {
	URI         string           // mongodb://host:27017/?replicaSet=rs0
	Database    string           // default "snip"
	Now         func() time.Time // nil = time.Now
	SkipIndexes bool             // leave EnsureIndexes to the caller
}

type valueDoc struct {
	Key       string     `bson:"_id"`
	Value     string     `bson:"value"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

type memberDoc struct {
	Key   string `bson:"key"`
	Value string `bson:"value"`
}

type Store struct {
	client  *mongo.Client
	values  *mongo.Collection
	members *mongo.Collection
	now     func() time.Time
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if opts.Database == "" {
		opts.Database = defaultDatabase
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(defaultServerTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	db := client.Database(opts.Database)
	s := &Store{
		client:  client,
		values:  db.Collection(valuesCollection),
		members: db.Collection(membersCollection),
		now:     opts.Now,
	}

	if !opts.SkipIndexes {
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
	}
	return s, nil
}

// EnsureIndexes creates the TTL index and the member uniqueness index. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.values.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return classify("create ttl index", err)
	}
	_, err = s.members.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "key", Value: 1}, {Key: "value", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return classify("create member index", err)
	}
	return nil
}

func (s *Store) Name() string { return Name }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// live matches values that have no deadline or whose deadline is still ahead.
func (s *Store) live(filter bson.D) bson.D {
	return append(filter, bson.E{Key: "$or", Value: bson.A{
		bson.D{{Key: "expiresAt", Value: nil}},
		bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: s.now()}}}},
	}})
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var doc valueDoc
	err := s.values.FindOne(ctx, s.live(bson.D{{Key: "_id", Value: key}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", kv.ErrNil
	}
	if err != nil {
		return "", classify("get", err)
	}
	return doc.Value, nil
}

func (s *Store) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cur, err := s.values.Find(ctx, s.live(bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: keys}}}}))
	if err != nil {
		return nil, classify("getmany", err)
	}
	var docs []valueDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify("getmany", err)
	}
	for _, d := range docs {
		out[d.Key] = d.Value
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	doc := valueDoc{Key: key, Value: value}
	if at := kv.ExpiresAt(s.now(), ttl); !at.IsZero() {
		doc.ExpiresAt = &at
	}
	_, err := s.values.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return classify("set", err)
	}
	return nil
}

// Del removes the value and the set in one transaction.
func (s *Store) Del(ctx context.Context, key string) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.Del(ctx, key); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) del(ctx context.Context, key string) error {
	if _, err := s.values.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}}); err != nil {
		return classify("del", err)
	}
	if _, err := s.members.DeleteMany(ctx, bson.D{{Key: "key", Value: key}}); err != nil {
		return classify("del", err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, key, member string) error {
	filter := bson.D{{Key: "key", Value: key}, {Key: "value", Value: member}}
	update := bson.D{{Key: "$setOnInsert", Value: memberDoc{Key: key, Value: member}}}
	_, err := s.members.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return classify("sadd", err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, key, member string) error {
	_, err := s.members.DeleteOne(ctx, bson.D{{Key: "key", Value: key}, {Key: "value", Value: member}})
	if err != nil {
		return classify("srem", err)
	}
	return nil
}

func (s *Store) SIsMember(ctx context.Context, key, member string) (bool, error) {
	n, err := s.members.CountDocuments(ctx,
		bson.D{{Key: "key", Value: key}, {Key: "value", Value: member}},
		options.Count().SetLimit(1))
	if err != nil {
		return false, classify("sismember", err)
	}
	return n > 0, nil
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	cur, err := s.members.Find(ctx, bson.D{{Key: "key", Value: key}},
		options.Find().SetSort(bson.D{{Key: "value", Value: 1}}))
	if err != nil {
		return nil, classify("smembers", err)
	}
	var docs []memberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify("smembers", err)
	}
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Value
	}
	return out, nil
}

// SweepExpired removes values the TTL monitor has not reached yet.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.values.DeleteMany(ctx, bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$lte", Value: s.now()}}}})
	if err != nil {
		return 0, classify("sweep", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) Begin(ctx context.Context) (kv.Tx, error) {
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, classify("begin", err)
	}
	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txOpts); err != nil {
		sess.EndSession(ctx)
		return nil, classify("begin", err)
	}
	return &tx{s: s, sess: sess}, nil
}

func classify(op string, err error) error {
	var labeled mongo.LabeledError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.As(err, &labeled) && (labeled.HasErrorLabel(transientTxLabel) || labeled.HasErrorLabel(unknownCommitResult)):
		return fmt.Errorf("failed to %s: %w: %w", op, kv.ErrConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("failed to %s: %w: %w", op, kv.ErrUnavailable, err)
	default:
		return fmt.Errorf("failed to %s: %w", op, err)
	}
}
