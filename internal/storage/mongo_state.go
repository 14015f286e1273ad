// Path: internal/storage/mongo_state.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"loki-downloader/internal/domain"
)

// runStateDocument is the MongoDB layout of a run's snapshot.
// Pointer fields let Load tell a missing field from a zero value.
type runStateDocument struct {
	ID                     string    `bson:"_id"` // the fingerprint
	StartFromTimestamp     *string   `bson:"startFromTimestamp"`
	TotalRecords           *int      `bson:"totalRecords"`
	QueryRecordsExhausted  *bool     `bson:"queryRecordsExhausted"`
	FileNumber             *int      `bson:"fileNumber"`
	Iteration              *int      `bson:"iteration"`
	PrevSavedRecordsInFile *int      `bson:"prevSavedRecordsInFile"`
	UpdatedAt              time.Time `bson:"updatedAt"`
}

// MongoStateStore is the MongoDB implementation of the StateStore interface.
type MongoStateStore struct {
	collection *mongo.Collection
}

// NewMongoStateStore creates a new storage adapter for run snapshots.
// Writes are acknowledged by a majority so a returned Save survives a failover.
func NewMongoStateStore(db *mongo.Database, collectionName string) *MongoStateStore {
	opts := options.Collection().SetWriteConcern(writeconcern.Majority())
	return &MongoStateStore{
		collection: db.Collection(collectionName, opts),
	}
}

// Open implements the StateStore interface.
func (s *MongoStateStore) Open(inputs ...string) StateHandle {
	return &mongoStateHandle{collection: s.collection, key: domain.Fingerprint(inputs...)}
}

type mongoStateHandle struct {
	collection *mongo.Collection
	key        string
}

func (h *mongoStateHandle) Key() string { return h.key }

func (h *mongoStateHandle) Load(ctx context.Context) (*domain.State, error) {
	var doc runStateDocument
	filter := bson.M{"_id": h.key}
	err := h.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		// No document means this run has never committed a batch.
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state %s: %w", h.key, err)
	}

	st, err := doc.toState()
	if err != nil {
		return nil, &domain.DeserializationError{Key: h.key, Err: err}
	}
	return st, nil
}

func (h *mongoStateHandle) Save(ctx context.Context, state domain.State) error {
	cursor := state.StartFromTimestamp.String()
	doc := runStateDocument{
		ID:                     h.key,
		StartFromTimestamp:     &cursor,
		TotalRecords:           &state.TotalRecords,
		QueryRecordsExhausted:  &state.QueryRecordsExhausted,
		FileNumber:             &state.FileNumber,
		Iteration:              &state.Iteration,
		PrevSavedRecordsInFile: &state.PrevSavedRecordsInFile,
		UpdatedAt:              time.Now().UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"_id": h.key}
	if _, err := h.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save state %s: %w", h.key, err)
	}
	return nil
}

func (d runStateDocument) toState() (*domain.State, error) {
	if d.StartFromTimestamp == nil || d.TotalRecords == nil || d.QueryRecordsExhausted == nil ||
		d.FileNumber == nil || d.Iteration == nil || d.PrevSavedRecordsInFile == nil {
		return nil, errors.New("document is missing state fields")
	}
	cursor, err := domain.ParseCursor(*d.StartFromTimestamp)
	if err != nil {
		return nil, err
	}
	st := domain.State{
		StartFromTimestamp:     cursor,
		TotalRecords:           *d.TotalRecords,
		QueryRecordsExhausted:  *d.QueryRecordsExhausted,
		FileNumber:             *d.FileNumber,
		Iteration:              *d.Iteration,
		PrevSavedRecordsInFile: *d.PrevSavedRecordsInFile,
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &st, nil
}
