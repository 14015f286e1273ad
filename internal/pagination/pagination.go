// Package pagination walks a query window one batch at a time.
//
// Every fetch asks for one record more than the caller wants. The extra record is never
// handed out: it becomes the pointer, and its timestamp is where the next fetch starts.
// Receiving the extra record is also the only evidence that the window still has data.
package pagination

import (
	"context"
	"fmt"

	"loki-downloader/internal/domain"
)

// Fetcher issues a single query against the remote API.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.FetchRequest) ([]domain.Record, error)
}

// Protocol computes windows for a fixed query and time range.
type Protocol struct {
	fetcher   Fetcher
	query     string
	from      domain.Cursor
	to        domain.Cursor
	direction domain.Direction
}

// New creates a Protocol over [from, to).
func New(fetcher Fetcher, query string, from, to domain.Cursor, direction domain.Direction) *Protocol {
	return &Protocol{
		fetcher:   fetcher,
		query:     query,
		from:      from,
		to:        to,
		direction: direction,
	}
}

// Direction returns the traversal direction.
func (p *Protocol) Direction() domain.Direction {
	return p.direction
}

// InitialCursor is the cursor of a run that has not fetched anything yet.
func (p *Protocol) InitialCursor() domain.Cursor {
	if p.direction == domain.DirectionForward {
		return p.from
	}
	return p.to - 1
}

// Window returns the [start, end) range still to be read from cursor.
// The record at cursor itself is included.
func (p *Protocol) Window(cursor domain.Cursor) (start, end domain.Cursor) {
	if p.direction == domain.DirectionForward {
		return cursor, p.to
	}
	return p.from, cursor + 1
}

// Next fetches up to n records starting at cursor and returns them together with the
// cursor for the following call. When ctx is already done no request is issued and an
// empty, non-exhausted result is returned.
func (p *Protocol) Next(ctx context.Context, cursor domain.Cursor, n int) (domain.BatchResult, domain.Cursor, error) {
	if n <= 0 {
		return domain.BatchResult{}, cursor, fmt.Errorf("batch size must be positive, got %d", n)
	}
	if ctx.Err() != nil {
		return domain.BatchResult{}, cursor, nil
	}

	start, end := p.Window(cursor)
	if start >= end {
		return domain.BatchResult{Exhausted: true}, cursor, nil
	}

	fetched, err := p.fetcher.Fetch(ctx, domain.FetchRequest{
		Query:     p.query,
		Start:     start,
		End:       end,
		Limit:     n + 1,
		Direction: p.direction,
	})
	if err != nil {
		return domain.BatchResult{}, cursor, err
	}

	return Split(fetched, cursor, n)
}

// Split applies the N+1 rule to an already fetched page.
func Split(fetched []domain.Record, cursor domain.Cursor, n int) (domain.BatchResult, domain.Cursor, error) {
	if len(fetched) == 0 {
		return domain.BatchResult{Exhausted: true}, cursor, nil
	}

	if len(fetched) <= n {
		last := fetched[len(fetched)-1]
		return domain.BatchResult{Records: fetched, Pointer: &last, Exhausted: true}, last.RawTimestamp, nil
	}

	pointer := fetched[n]
	if pointer.RawTimestamp == cursor {
		return domain.BatchResult{}, cursor, fmt.Errorf("%w: more than %d records at %s", domain.ErrCursorStalled, n, cursor)
	}
	return domain.BatchResult{Records: fetched[:n], Pointer: &pointer}, pointer.RawTimestamp, nil
}
