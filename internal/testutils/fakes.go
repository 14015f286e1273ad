// Package testutils provides deterministic in-memory collaborators for tests.
package testutils

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"loki-downloader/internal/domain"
	"loki-downloader/internal/storage"
)

// --- Fetcher ---

// FakeFetcher serves a fixed set of records the way Loki would: filtered to the window,
// ordered by direction and capped at the limit.
type FakeFetcher struct {
	mu       sync.Mutex
	records  []domain.Record
	requests []domain.FetchRequest

	// BeforeReturn runs after the page is computed and before it is returned. call is
	// 1-based. Returning an error fails the fetch.
	BeforeReturn func(ctx context.Context, call int) error
}

// NewFakeFetcher serves records, which may be in any order.
func NewFakeFetcher(records []domain.Record) *FakeFetcher {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b domain.Record) int {
		return cmp.Compare(a.RawTimestamp, b.RawTimestamp)
	})
	return &FakeFetcher{records: sorted}
}

// GenerateRecords returns n records one millisecond apart starting at start.
func GenerateRecords(start time.Time, n int) []domain.Record {
	recs := make([]domain.Record, n)
	for i := range recs {
		ts := start.Add(time.Duration(i) * time.Millisecond)
		recs[i] = domain.Record{
			Timestamp:    ts.UTC(),
			RawTimestamp: domain.CursorFromTime(ts),
			Content:      fmt.Sprintf("record %d", i),
		}
	}
	return recs
}

// Fetch implements pagination.Fetcher.
func (f *FakeFetcher) Fetch(ctx context.Context, req domain.FetchRequest) ([]domain.Record, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	var page []domain.Record
	for _, r := range f.records {
		if r.RawTimestamp >= req.Start && r.RawTimestamp < req.End {
			page = append(page, r)
		}
	}
	f.mu.Unlock()

	if req.Direction == domain.DirectionBackward {
		slices.Reverse(page)
	}
	if req.Limit > 0 && len(page) > req.Limit {
		page = page[:req.Limit]
	}

	if f.BeforeReturn != nil {
		if err := f.BeforeReturn(ctx, call); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Calls returns how many fetches were issued.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every request received.
func (f *FakeFetcher) Requests() []domain.FetchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

// --- FileSystem ---

// MemoryFS keeps output files in memory.
type MemoryFS struct {
	mu    sync.Mutex
	files map[string][]domain.Record

	// FailAppend, when set, is returned by AppendRecords.
	FailAppend error
}

// NewMemoryFS creates an empty MemoryFS.
func NewMemoryFS() *MemoryFS {
	return &MemoryFS{files: make(map[string][]domain.Record)}
}

// DescribeOutputDir implements service.FileSystem. A directory exists once it holds a file.
func (m *MemoryFS) DescribeOutputDir(path string) (domain.DirInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.files {
		if filepath.Dir(name) == filepath.Clean(path) {
			return domain.DirInfo{Exists: true}, nil
		}
	}
	return domain.DirInfo{}, nil
}

// ClearOutputDir implements service.FileSystem.
func (m *MemoryFS) ClearOutputDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.files {
		if filepath.Dir(name) == filepath.Clean(path) {
			delete(m.files, name)
		}
	}
	return nil
}

// AppendRecords implements service.FileSystem.
func (m *MemoryFS) AppendRecords(path string, records []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return m.FailAppend
	}
	m.files[path] = append(m.files[path], records...)
	return nil
}

// Put places a file with the given records, e.g. to simulate leftovers.
func (m *MemoryFS) Put(path string, records []domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = slices.Clone(records)
}

// File returns the records written to path.
func (m *MemoryFS) File(path string) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.files[path])
}

// Files returns every file path, sorted.
func (m *MemoryFS) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --- StateStore ---

// MemoryStateStore keeps snapshots in memory, keyed by fingerprint.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]domain.State
	saves  int

	// FailSave, when set, is returned by Save.
	FailSave error
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]domain.State)}
}

// Open implements storage.StateStore.
func (s *MemoryStateStore) Open(inputs ...string) storage.StateHandle {
	return &memoryHandle{store: s, key: domain.Fingerprint(inputs...)}
}

// Get returns the snapshot stored under key.
func (s *MemoryStateStore) Get(key string) (domain.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	return st, ok
}

// Keys returns every stored fingerprint.
func (s *MemoryStateStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.states))
	for k := range s.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Saves returns how many times Save succeeded.
func (s *MemoryStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type memoryHandle struct {
	store *MemoryStateStore
	key   string
}

func (h *memoryHandle) Key() string { return h.key }

func (h *memoryHandle) Load(ctx context.Context) (*domain.State, error) {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	st, ok := h.store.states[h.key]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (h *memoryHandle) Save(ctx context.Context, state domain.State) error {
	if err := ctx.Err(); err != nil {
		return errors.New("save called with a cancelled context")
	}
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	if h.store.FailSave != nil {
		return h.store.FailSave
	}
	h.store.states[h.key] = state
	h.store.saves++
	return nil
}

// --- Confirmer ---

// StaticConfirmer answers every question with Answer and records the titles asked.
type StaticConfirmer struct {
	Answer bool
	Err    error

	mu     sync.Mutex
	titles []string
}

// Confirm implements service.Confirmer.
func (c *StaticConfirmer) Confirm(ctx context.Context, title, description string) (bool, error) {
	c.mu.Lock()
	c.titles = append(c.titles, title)
	c.mu.Unlock()
	return c.Answer, c.Err
}

// Asked returns the titles of every question asked so far.
func (c *StaticConfirmer) Asked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.titles)
}
