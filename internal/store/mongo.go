// Package store persists ingested records in MongoDB. The Data collection
// carries a unique index on email, which is the only cross-request shared
// invariant; concurrent uploads racing on the same address both pass batch
// validation and one loses here with a duplicate-key error.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/JonMunkholm/sheetdrop/internal/ingest"
)

const (
	dataCollection    = "Data"
	uploadsCollection = "Uploads"
)

// Mongo wraps the driver client with the two collections the service uses.
type Mongo struct {
	client  *mongo.Client
	data    *mongo.Collection
	uploads *mongo.Collection
}

// Connect establishes a client for uri and binds the collections in
// database. The connection is verified with a ping bounded by ctx.
func Connect(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	m := &Mongo{
		client:  client,
		data:    client.Database(database).Collection(dataCollection),
		uploads: client.Database(database).Collection(uploadsCollection),
	}

	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}

	return m, nil
}

// Ping verifies the server is reachable.
func (m *Mongo) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique email index on the Data collection and
// a descending time index on the run history. Idempotent.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.data.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}

	_, err = m.uploads.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create history index: %w", err)
	}

	return nil
}

// dataDocument is the persisted shape of one record.
type dataDocument struct {
	ID    bson.ObjectID `bson:"_id"`
	Name  string        `bson:"name"`
	Age   int64         `bson:"age"`
	Email string        `bson:"email"`
}

// BulkInsert writes the record set as a single ordered InsertMany.
//
// Mongo's ordered bulk stops at the first failing document but leaves the
// preceding ones inserted, which would break the batch's all-or-nothing
// contract. Ids are therefore assigned up front so a failed call can be
// rolled back by deleting exactly the ids of this batch.
func (m *Mongo) BulkInsert(ctx context.Context, records []ingest.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	docs := make([]any, len(records))
	ids := make([]bson.ObjectID, len(records))
	for i, rec := range records {
		id := bson.NewObjectID()
		ids[i] = id
		docs[i] = dataDocument{
			ID:    id,
			Name:  rec.Name,
			Age:   rec.Age,
			Email: rec.Email,
		}
	}

	_, err := m.data.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		m.rollback(ctx, ids)
		return 0, classifyBulkError(err)
	}

	return len(records), nil
}

// rollback removes whatever part of the batch made it into the collection.
// A rollback failure is logged; the insert error remains the primary
// outcome.
func (m *Mongo) rollback(ctx context.Context, ids []bson.ObjectID) {
	ctx = context.WithoutCancel(ctx)
	res, err := m.data.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to roll back partial bulk insert", "batch_size", len(ids), "error", err)
		return
	}
	if res.DeletedCount > 0 {
		slog.WarnContext(ctx, "rolled back partially applied bulk insert", "deleted", res.DeletedCount)
	}
}

// classifyBulkError maps a driver error onto the persistence taxonomy.
func classifyBulkError(err error) *ingest.PersistenceError {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return &ingest.PersistenceError{
			Kind:   ingest.KindDuplicateKey,
			Detail: duplicateDetail(err),
			Err:    err,
		}
	case mongo.IsNetworkError(err), mongo.IsTimeout(err):
		return &ingest.PersistenceError{
			Kind:   ingest.KindConnectionUnavailable,
			Detail: "document store unavailable",
			Err:    err,
		}
	default:
		return &ingest.PersistenceError{
			Kind:   ingest.KindUnknown,
			Detail: err.Error(),
			Err:    err,
		}
	}
}

// duplicateDetail extracts the offending write error message when the
// driver reports a duplicate key, so the response names the conflict.
func duplicateDetail(err error) string {
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && len(bwe.WriteErrors) > 0 {
		return bwe.WriteErrors[0].Message
	}
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		return we.WriteErrors[0].Message
	}
	return "duplicate email already exists"
}

// RecordRun appends one completed ingestion run to the history log.
func (m *Mongo) RecordRun(ctx context.Context, rec ingest.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := m.uploads.InsertOne(ctx, rec)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit history entries, newest first.
func (m *Mongo) RecentRuns(ctx context.Context, limit int) ([]ingest.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	cursor, err := m.uploads.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []ingest.RunRecord
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	return runs, nil
}
