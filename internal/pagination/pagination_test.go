package pagination

import (
	"context"
	"errors"
	"testing"
	"time"

	"loki-downloader/internal/domain"
	"loki-downloader/internal/testutils"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newProtocol(f Fetcher, n int, dir domain.Direction) *Protocol {
	from := domain.CursorFromTime(start)
	to := domain.CursorFromTime(start.Add(time.Duration(n+1) * time.Millisecond))
	return New(f, `{app="test"}`, from, to, dir)
}

func TestWindowAndInitialCursor(t *testing.T) {
	p := New(nil, "q", 100, 200, domain.DirectionForward)
	if got := p.InitialCursor(); got != 100 {
		t.Errorf("forward initial cursor = %d", got)
	}
	if s, e := p.Window(150); s != 150 || e != 200 {
		t.Errorf("forward window = [%d, %d)", s, e)
	}

	p = New(nil, "q", 100, 200, domain.DirectionBackward)
	if got := p.InitialCursor(); got != 199 {
		t.Errorf("backward initial cursor = %d", got)
	}
	if s, e := p.Window(150); s != 100 || e != 151 {
		t.Errorf("backward window = [%d, %d)", s, e)
	}
}

func TestNextRequestsOneExtraRecord(t *testing.T) {
	f := testutils.NewFakeFetcher(testutils.GenerateRecords(start, 10))
	p := newProtocol(f, 10, domain.DirectionForward)

	res, next, err := p.Next(context.Background(), p.InitialCursor(), 4)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	reqs := f.Requests()
	if len(reqs) != 1 || reqs[0].Limit != 5 {
		t.Fatalf("expected one request with limit 5, got %+v", reqs)
	}
	if len(res.Records) != 4 || res.Exhausted {
		t.Fatalf("got %d records, exhausted=%v", len(res.Records), res.Exhausted)
	}
	if res.Pointer == nil || next != res.Pointer.RawTimestamp {
		t.Fatalf("next cursor must be the pointer's timestamp")
	}
	for _, r := range res.Records {
		if r.RawTimestamp == next {
			t.Errorf("pointer record %s was handed out", r.Content)
		}
	}
}

func TestNextWalksWholeWindow(t *testing.T) {
	for _, dir := range []domain.Direction{domain.DirectionForward, domain.DirectionBackward} {
		for _, tc := range []struct{ total, n, wantCalls int }{
			{10, 3, 4},
			{9, 3, 3},
			{3, 5, 1},
			{0, 5, 1},
		} {
			f := testutils.NewFakeFetcher(testutils.GenerateRecords(start, tc.total))
			p := newProtocol(f, tc.total, dir)

			cursor := p.InitialCursor()
			seen := map[domain.Cursor]bool{}
			var prev *domain.Record
			for {
				res, next, err := p.Next(context.Background(), cursor, tc.n)
				if err != nil {
					t.Fatalf("%s R=%d N=%d: %v", dir, tc.total, tc.n, err)
				}
				for i := range res.Records {
					r := res.Records[i]
					if seen[r.RawTimestamp] {
						t.Errorf("%s: duplicate %s", dir, r.Content)
					}
					seen[r.RawTimestamp] = true
					if prev != nil {
						if dir == domain.DirectionForward && r.RawTimestamp < prev.RawTimestamp {
							t.Errorf("forward order broken at %s", r.Content)
						}
						if dir == domain.DirectionBackward && r.RawTimestamp > prev.RawTimestamp {
							t.Errorf("backward order broken at %s", r.Content)
						}
					}
					prev = &r
				}
				cursor = next
				if res.Exhausted {
					break
				}
			}

			if len(seen) != tc.total {
				t.Errorf("%s R=%d N=%d: saw %d records", dir, tc.total, tc.n, len(seen))
			}
			if got := len(f.Requests()); got != tc.wantCalls {
				t.Errorf("%s R=%d N=%d: %d fetches, want %d", dir, tc.total, tc.n, got, tc.wantCalls)
			}
		}
	}
}

func TestNextCancelledDoesNotFetch(t *testing.T) {
	f := testutils.NewFakeFetcher(testutils.GenerateRecords(start, 5))
	p := newProtocol(f, 5, domain.DirectionForward)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, next, err := p.Next(ctx, p.InitialCursor(), 2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(res.Records) != 0 || res.Exhausted || res.Pointer != nil {
		t.Errorf("expected empty, non-exhausted result, got %+v", res)
	}
	if next != p.InitialCursor() {
		t.Errorf("cursor moved to %d", next)
	}
	if f.Calls() != 0 {
		t.Errorf("fetcher called %d times", f.Calls())
	}
}

func TestNextEmptyWindow(t *testing.T) {
	f := testutils.NewFakeFetcher(nil)
	p := New(f, "q", 100, 100, domain.DirectionForward)

	res, _, err := p.Next(context.Background(), p.InitialCursor(), 10)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !res.Exhausted || f.Calls() != 0 {
		t.Errorf("empty window must be exhausted without a fetch, got %+v after %d calls", res, f.Calls())
	}
}

func TestNextRejectsNonPositiveBatch(t *testing.T) {
	p := New(testutils.NewFakeFetcher(nil), "q", 0, 10, domain.DirectionForward)
	if _, _, err := p.Next(context.Background(), 0, 0); err == nil {
		t.Error("expected error for n = 0")
	}
}

func TestNextPropagatesFetchError(t *testing.T) {
	f := testutils.NewFakeFetcher(testutils.GenerateRecords(start, 5))
	boom := errors.New("boom")
	f.BeforeReturn = func(context.Context, int) error { return boom }
	p := newProtocol(f, 5, domain.DirectionForward)

	_, next, err := p.Next(context.Background(), p.InitialCursor(), 2)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if next != p.InitialCursor() {
		t.Errorf("cursor must not move on error")
	}
}

func TestSplitStalledCursor(t *testing.T) {
	recs := make([]domain.Record, 4)
	for i := range recs {
		recs[i] = domain.Record{RawTimestamp: 500, Content: "same"}
	}
	_, next, err := Split(recs, 500, 3)
	if !errors.Is(err, domain.ErrCursorStalled) || !domain.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable stall, got %v", err)
	}
	if next != 500 {
		t.Errorf("cursor = %d", next)
	}
}

func TestSplitSharedTimestampAtBoundary(t *testing.T) {
	// The pointer shares its timestamp with the last returned record but not the cursor.
	recs := []domain.Record{
		{RawTimestamp: 1, Content: "a"},
		{RawTimestamp: 2, Content: "b"},
		{RawTimestamp: 2, Content: "c"},
	}
	res, next, err := Split(recs, 1, 2)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if next != 2 || len(res.Records) != 2 || res.Exhausted {
		t.Errorf("got next=%d records=%d exhausted=%v", next, len(res.Records), res.Exhausted)
	}
}

func TestSplitExactlyN(t *testing.T) {
	recs := testutils.GenerateRecords(start, 3)
	res, next, err := Split(recs, recs[0].RawTimestamp, 3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !res.Exhausted || len(res.Records) != 3 {
		t.Errorf("exactly N records means exhausted, got %+v", res)
	}
	if next != recs[2].RawTimestamp {
		t.Errorf("next = %d", next)
	}
}
