package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"loki-downloader/internal/domain"
)

// exerciseStore runs the behaviour every StateStore backend must share.
func exerciseStore(t *testing.T, store StateStore) {
	t.Helper()
	ctx := context.Background()

	a := store.Open("2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", `{app="a"}`, "http://loki", "100", "out", "a", "backward")
	b := store.Open("2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z", `{app="b"}`, "http://loki", "100", "out", "a", "backward")
	if a.Key() == b.Key() {
		t.Fatal("different inputs must produce different keys")
	}

	st, err := a.Load(ctx)
	if err != nil || st != nil {
		t.Fatalf("expected absent state, got %+v err=%v", st, err)
	}

	want := domain.State{StartFromTimestamp: 1700000000123456789, TotalRecords: 140, QueryRecordsExhausted: true, FileNumber: 1, Iteration: 2, PrevSavedRecordsInFile: 40}
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := a.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("load: %+v err=%v", got, err)
	}
	if *got != want {
		t.Errorf("got %+v, want %+v", *got, want)
	}

	if other, err := b.Load(ctx); err != nil || other != nil {
		t.Errorf("unrelated run must not see the snapshot, got %+v err=%v", other, err)
	}

	want.Iteration = 3
	if err := a.Save(ctx, want); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = a.Load(ctx)
	if err != nil || got.Iteration != 3 {
		t.Errorf("overwrite not visible: %+v err=%v", got, err)
	}
}

func TestFileStateStore(t *testing.T) {
	exerciseStore(t, NewFileStateStore(NewLocalFS(), t.TempDir()))
}

func TestFileStateStoreRejectsCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStateStore(NewLocalFS(), dir)
	h := store.Open("x")

	if err := os.WriteFile(filepath.Join(dir, h.Key()+".json"), []byte(`{"totalRecords":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := h.Load(context.Background())
	var de *domain.DeserializationError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeserializationError, got %v", err)
	}
	if de.Key != h.Key() {
		t.Errorf("error key = %q, want %q", de.Key, h.Key())
	}
}

func TestSQLiteStateStore(t *testing.T) {
	store, err := NewSQLiteStateStore(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	exerciseStore(t, store)
}

func TestSQLiteStateStoreRejectsCorruptRow(t *testing.T) {
	store, err := NewSQLiteStateStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	h := store.Open("x")
	if _, err := store.conn.Exec(upsertRunState, h.Key(), "not json", "now"); err != nil {
		t.Fatal(err)
	}
	_, err = h.Load(context.Background())
	var de *domain.DeserializationError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeserializationError, got %v", err)
	}
}
