// Path: internal/service/storage.go
package service

import (
	"context"

	"loki-downloader/internal/domain"
	"loki-downloader/internal/pagination"
	"loki-downloader/internal/storage"
)

// Fetcher issues one query against the remote API. See pagination.Fetcher.
type Fetcher = pagination.Fetcher

// StateStore persists run progress keyed by fingerprint. See storage.StateStore.
type StateStore = storage.StateStore

// FileSystem defines the disk operations a run needs.
type FileSystem interface {
	// DescribeOutputDir reports whether the directory exists and is empty.
	DescribeOutputDir(path string) (domain.DirInfo, error)

	// ClearOutputDir removes the directory's contents.
	ClearOutputDir(path string) error

	// AppendRecords appends records to a file and makes them durable before returning.
	AppendRecords(path string, records []domain.Record) error
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, title, description string) (bool, error)
}
