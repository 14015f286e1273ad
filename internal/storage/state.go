// Path: internal/storage/state.go
package storage

import (
	"context"
	"encoding/json"

	"loki-downloader/internal/domain"
)

// StateStore maps fingerprint inputs to a persisted progress snapshot.
type StateStore interface {
	// Open returns the handle for the run identified by inputs. It does no I/O.
	Open(inputs ...string) StateHandle
}

// StateHandle reads and writes the snapshot of a single run.
type StateHandle interface {
	// Key is the fingerprint the snapshot is stored under.
	Key() string

	// Load returns nil, nil when no snapshot exists and a *domain.DeserializationError
	// when one exists but cannot be decoded.
	Load(ctx context.Context) (*domain.State, error)

	// Save fully replaces the snapshot and returns once it is durable.
	Save(ctx context.Context, state domain.State) error
}

func decodeState(key string, data []byte) (*domain.State, error) {
	var st domain.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &domain.DeserializationError{Key: key, Err: err}
	}
	return &st, nil
}
