// Path: internal/storage/filesystem.go
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"loki-downloader/internal/domain"
)

// LocalFS is the on-disk implementation of the service FileSystem.
type LocalFS struct{}

// NewLocalFS creates a LocalFS.
func NewLocalFS() *LocalFS {
	return &LocalFS{}
}

// DescribeOutputDir reports whether path exists and whether it has any entries.
func (l *LocalFS) DescribeOutputDir(path string) (domain.DirInfo, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.DirInfo{}, nil
	}
	if err != nil {
		return domain.DirInfo{}, fmt.Errorf("failed to open output directory: %w", err)
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return domain.DirInfo{Exists: true, IsEmpty: true}, nil
	}
	if err != nil {
		return domain.DirInfo{}, fmt.Errorf("failed to read output directory: %w", err)
	}
	return domain.DirInfo{Exists: true}, nil
}

// ClearOutputDir removes everything inside path but keeps the directory itself.
func (l *LocalFS) ClearOutputDir(path string) error {
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read output directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(path, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// AppendRecords appends one JSON line per record to path and syncs before returning.
// The file is never truncated.
func (l *LocalFS) AppendRecords(path string, records []domain.Record) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", r.RawTimestamp, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	return nil
}

// ReadConfigFile returns the raw contents of a config file.
func (l *LocalFS) ReadConfigFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// LoadStateSnapshot returns the raw snapshot at path. found is false when there is none.
func (l *LocalFS) LoadStateSnapshot(path string) (data []byte, found bool, err error) {
	data, err = os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read state snapshot: %w", err)
	}
	return data, true, nil
}

// SaveStateSnapshot replaces the snapshot at path. The new content is written to a
// temporary file and renamed into place, so readers see either the old or the new one.
func (l *LocalFS) SaveStateSnapshot(path string, state domain.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	// Move from temp to final destination
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move state file into place: %w", err)
	}
	committed = true

	return syncDir(dir)
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync state directory: %w", err)
	}
	return nil
}
