// Path: internal/storage/file_state.go
package storage

import (
	"context"
	"path/filepath"

	"loki-downloader/internal/domain"
)

// FileStateStore keeps one JSON snapshot per fingerprint under a directory.
type FileStateStore struct {
	fs  *LocalFS
	dir string
}

// NewFileStateStore creates a store rooted at dir.
func NewFileStateStore(fs *LocalFS, dir string) *FileStateStore {
	return &FileStateStore{fs: fs, dir: dir}
}

// Open implements the StateStore interface.
func (s *FileStateStore) Open(inputs ...string) StateHandle {
	key := domain.Fingerprint(inputs...)
	return &fileStateHandle{
		fs:   s.fs,
		key:  key,
		path: filepath.Join(s.dir, key+".json"),
	}
}

type fileStateHandle struct {
	fs   *LocalFS
	key  string
	path string
}

func (h *fileStateHandle) Key() string { return h.key }

// Path is where the snapshot lives on disk.
func (h *fileStateHandle) Path() string { return h.path }

func (h *fileStateHandle) Load(ctx context.Context) (*domain.State, error) {
	data, found, err := h.fs.LoadStateSnapshot(h.path)
	if err != nil || !found {
		return nil, err
	}
	return decodeState(h.key, data)
}

func (h *fileStateHandle) Save(ctx context.Context, state domain.State) error {
	return h.fs.SaveStateSnapshot(h.path, state)
}
