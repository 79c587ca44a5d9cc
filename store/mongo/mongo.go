package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/smallnest/checkpointer/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoCheckpointStore implements store.Log using MongoDB.
// Documents get a generated ObjectID on first insert; Scan orders by it.
type MongoCheckpointStore struct {
	client      *mongo.Client
	checkpoints *mongo.Collection
	writes      *mongo.Collection
}

var _ store.Log = (*MongoCheckpointStore)(nil)

// MongoOptions configuration for MongoDB connection
type MongoOptions struct {
	URI                   string
	Database              string // Default "checkpointing_db"
	CheckpointsCollection string // Default "checkpoints"
	WritesCollection      string // Default "checkpoint_writes"
}

// NewMongoCheckpointStore connects to MongoDB and ensures the indexes exist
func NewMongoCheckpointStore(ctx context.Context, opts MongoOptions) (*MongoCheckpointStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := opts.Database
	if dbName == "" {
		dbName = "checkpointing_db"
	}
	cpName := opts.CheckpointsCollection
	if cpName == "" {
		cpName = store.DefaultCheckpointsCollection
	}
	writesName := opts.WritesCollection
	if writesName == "" {
		writesName = store.DefaultWritesCollection
	}

	db := client.Database(dbName)
	s := &MongoCheckpointStore{
		client:      client,
		checkpoints: db.Collection(cpName),
		writes:      db.Collection(writesName),
	}
	if err := s.InitSchema(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// InitSchema creates the lookup indexes
func (s *MongoCheckpointStore) InitSchema(ctx context.Context) error {
	_, err := s.checkpoints.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "user_email", Value: 1}, {Key: "checkpoint_id", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint indexes: %w", err)
	}

	_, err = s.writes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "thread_id", Value: 1}, {Key: "user_email", Value: 1}, {Key: "checkpoint_id", Value: 1},
				{Key: "task_id", Value: 1}, {Key: "idx", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create checkpoint write indexes: %w", err)
	}
	return nil
}

// Close disconnects the client
func (s *MongoCheckpointStore) Close() error {
	return s.client.Disconnect(context.Background())
}

type checkpointDoc struct {
	ThreadID     string    `bson:"thread_id"`
	UserEmail    string    `bson:"user_email"`
	CheckpointID string    `bson:"checkpoint_id"`
	ParentID     string    `bson:"parent_checkpoint_id,omitempty"`
	Timestamp    time.Time `bson:"ts"`
	Checkpoint   []byte    `bson:"checkpoint,omitempty"`
	Metadata     []byte    `bson:"metadata,omitempty"`
}

type writeDoc struct {
	ThreadID     string `bson:"thread_id"`
	UserEmail    string `bson:"user_email"`
	CheckpointID string `bson:"checkpoint_id"`
	TaskID       string `bson:"task_id"`
	Index        int    `bson:"idx"`
	Channel      string `bson:"channel"`
	Value        []byte `bson:"value,omitempty"`
}

func (d *checkpointDoc) checkpoint() (*store.Checkpoint, error) {
	cp := &store.Checkpoint{
		ThreadID:  d.ThreadID,
		UserEmail: d.UserEmail,
		ID:        d.CheckpointID,
		ParentID:  d.ParentID,
		Timestamp: d.Timestamp,
	}
	if len(d.Checkpoint) > 0 {
		cp.Payload = json.RawMessage(d.Checkpoint)
	}
	if len(d.Metadata) > 0 {
		if err := json.Unmarshal(d.Metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return cp, nil
}

func threadFilter(threadID, userEmail string) bson.M {
	filter := bson.M{"thread_id": threadID}
	if userEmail != "" {
		filter["user_email"] = userEmail
	}
	return filter
}

// PutCheckpoint upserts a checkpoint
func (s *MongoCheckpointStore) PutCheckpoint(ctx context.Context, cp *store.Checkpoint) error {
	var metadata []byte
	if cp.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(cp.Metadata); err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	doc := checkpointDoc{
		ThreadID:     cp.ThreadID,
		UserEmail:    cp.UserEmail,
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		Timestamp:    cp.Timestamp,
		Checkpoint:   cp.Payload,
		Metadata:     metadata,
	}
	filter := bson.M{"thread_id": cp.ThreadID, "user_email": cp.UserEmail, "checkpoint_id": cp.ID}
	_, err := s.checkpoints.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return store.Fault("save checkpoint", err)
}

// PutWrites upserts pending writes
func (s *MongoCheckpointStore) PutWrites(ctx context.Context, writes []store.PendingWrite) error {
	for _, w := range writes {
		doc := writeDoc{
			ThreadID:     w.ThreadID,
			UserEmail:    w.UserEmail,
			CheckpointID: w.CheckpointID,
			TaskID:       w.TaskID,
			Index:        w.Index,
			Channel:      w.Channel,
			Value:        w.Value,
		}
		filter := bson.M{
			"thread_id":     w.ThreadID,
			"user_email":    w.UserEmail,
			"checkpoint_id": w.CheckpointID,
			"task_id":       w.TaskID,
			"idx":           w.Index,
		}
		if _, err := s.writes.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true)); err != nil {
			return store.Fault("save checkpoint writes", err)
		}
	}
	return nil
}

// Latest returns the newest checkpoint of a thread, optionally at or before a given id
func (s *MongoCheckpointStore) Latest(ctx context.Context, threadID, userEmail, atOrBefore string) (*store.Checkpoint, error) {
	filter := bson.M{"thread_id": threadID, "user_email": userEmail}
	if atOrBefore != "" {
		filter["checkpoint_id"] = bson.M{"$lte": atOrBefore}
	}

	var doc checkpointDoc
	err := s.checkpoints.FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "checkpoint_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, store.Fault("load checkpoint", err)
	}

	cp, err := doc.checkpoint()
	if err != nil {
		return nil, store.Fault("load checkpoint", err)
	}
	return cp, nil
}

func (s *MongoCheckpointStore) find(ctx context.Context, op string, filter bson.M, sort bson.D) iter.Seq2[*store.Checkpoint, error] {
	return func(yield func(*store.Checkpoint, error) bool) {
		cur, err := s.checkpoints.Find(ctx, filter, options.Find().SetSort(sort))
		if err != nil {
			yield(nil, store.Fault(op, err))
			return
		}
		defer cur.Close(context.Background())

		for cur.Next(ctx) {
			if err := store.ContextErr(ctx); err != nil {
				yield(nil, err)
				return
			}
			var doc checkpointDoc
			if err := cur.Decode(&doc); err != nil {
				yield(nil, store.Fault(op, err))
				return
			}
			cp, err := doc.checkpoint()
			if err != nil {
				yield(nil, store.Fault(op, err))
				return
			}
			if !yield(cp, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			if ctxErr := store.ContextErr(ctx); ctxErr != nil {
				err = ctxErr
			} else {
				err = store.Fault(op, err)
			}
			yield(nil, err)
		}
	}
}

// History yields the checkpoints of a thread, newest first
func (s *MongoCheckpointStore) History(ctx context.Context, threadID, userEmail string) iter.Seq2[*store.Checkpoint, error] {
	return s.find(ctx, "list checkpoints",
		bson.M{"thread_id": threadID, "user_email": userEmail},
		bson.D{{Key: "checkpoint_id", Value: -1}},
	)
}

// Scan yields every checkpoint in insertion order
func (s *MongoCheckpointStore) Scan(ctx context.Context) iter.Seq2[*store.Checkpoint, error] {
	return s.find(ctx, "scan checkpoints", bson.M{}, bson.D{{Key: "_id", Value: 1}})
}

// Writes returns the pending writes of one checkpoint
func (s *MongoCheckpointStore) Writes(ctx context.Context, threadID, userEmail, checkpointID string) ([]store.PendingWrite, error) {
	filter := bson.M{"thread_id": threadID, "user_email": userEmail, "checkpoint_id": checkpointID}
	opts := options.Find().SetSort(bson.D{{Key: "task_id", Value: 1}, {Key: "idx", Value: 1}})
	cur, err := s.writes.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Fault("list checkpoint writes", err)
	}

	var docs []writeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, store.Fault("list checkpoint writes", err)
	}

	writes := make([]store.PendingWrite, 0, len(docs))
	for _, d := range docs {
		w := store.PendingWrite{
			ThreadID:     d.ThreadID,
			UserEmail:    d.UserEmail,
			CheckpointID: d.CheckpointID,
			TaskID:       d.TaskID,
			Index:        d.Index,
			Channel:      d.Channel,
		}
		if len(d.Value) > 0 {
			w.Value = json.RawMessage(d.Value)
		}
		writes = append(writes, w)
	}
	return writes, nil
}

// DeleteCheckpoints removes the checkpoints of a thread
func (s *MongoCheckpointStore) DeleteCheckpoints(ctx context.Context, threadID, userEmail string) (int64, error) {
	res, err := s.checkpoints.DeleteMany(ctx, threadFilter(threadID, userEmail))
	if err != nil {
		return 0, store.Fault("delete checkpoints", err)
	}
	return res.DeletedCount, nil
}

// DeleteWrites removes the pending writes of a thread
func (s *MongoCheckpointStore) DeleteWrites(ctx context.Context, threadID, userEmail string) (int64, error) {
	res, err := s.writes.DeleteMany(ctx, threadFilter(threadID, userEmail))
	if err != nil {
		return 0, store.Fault("delete checkpoint writes", err)
	}
	return res.DeletedCount, nil
}
