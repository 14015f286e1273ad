package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TestMongoStateStore needs a reachable server, e.g.
// LOKI_DL_TEST_MONGO_URI=mongodb://localhost:27017 go test ./internal/storage/
func TestMongoStateStore(t *testing.T) {
	uri := os.Getenv("LOKI_DL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LOKI_DL_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Disconnect(context.Background())

	db := client.Database(fmt.Sprintf("loki_downloader_test_%d", time.Now().UnixNano()))
	defer db.Drop(context.Background())

	exerciseStore(t, NewMongoStateStore(db, "run_states"))
}
