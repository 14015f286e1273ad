// Path: internal/domain/models.go
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --- Cursor ---

// Cursor is a position in the log stream at nanosecond resolution.
// It always refers to the first record that has not been consumed yet.
type Cursor int64

// CursorFromTime converts a wall-clock time into a Cursor.
func CursorFromTime(t time.Time) Cursor {
	return Cursor(t.UnixNano())
}

// Time returns the cursor as a UTC time.
func (c Cursor) Time() time.Time {
	return time.Unix(0, int64(c)).UTC()
}

// String renders the cursor as a decimal string, the format used on disk.
func (c Cursor) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// ParseCursor parses a decimal nanosecond string.
func ParseCursor(s string) (Cursor, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q: %w", s, err)
	}
	return Cursor(n), nil
}

// --- Enum and Custom Type for the traversal direction ---

// Direction tells the remote API which way to walk the time window.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// ParseDirection accepts any casing, so Loki's own "FORWARD"/"BACKWARD" work as well.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionForward:
		return DirectionForward, nil
	case DirectionBackward, "":
		return DirectionBackward, nil
	default:
		return "", fmt.Errorf("unknown direction %q: expected forward or backward", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so Direction can be decoded
// from config files and JSON alike.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Upper returns the wire form expected by Loki.
func (d Direction) Upper() string {
	return strings.ToUpper(string(d))
}

// --- Records ---

// Record is a single log line returned by the remote API.
type Record struct {
	Timestamp    time.Time
	RawTimestamp Cursor
	Content      string
	Labels       map[string]string
}

// recordLine is the on-disk NDJSON shape of a Record.
type recordLine struct {
	Timestamp    string            `json:"timestamp"`
	RawTimestamp string            `json:"rawTimestamp"`
	Content      string            `json:"content"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// MarshalJSON writes the raw timestamp as a decimal string to avoid precision loss.
// Log content is kept readable, so <, > and & are not escaped.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(recordLine{
		Timestamp:    r.Timestamp.UTC().Format(time.RFC3339Nano),
		RawTimestamp: r.RawTimestamp.String(),
		Content:      r.Content,
		Labels:       r.Labels,
	})
	if err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface for Record.
func (r *Record) UnmarshalJSON(data []byte) error {
	var line recordLine
	if err := json.Unmarshal(data, &line); err != nil {
		return err
	}
	raw, err := ParseCursor(line.RawTimestamp)
	if err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339Nano, line.Timestamp)
	if err != nil {
		return fmt.Errorf("invalid record timestamp: %w", err)
	}
	*r = Record{Timestamp: ts, RawTimestamp: raw, Content: line.Content, Labels: line.Labels}
	return nil
}

// BatchResult is one page of records plus the pointer that positions the next page.
type BatchResult struct {
	Records []Record
	// Pointer is the boundary record. nil when the fetch returned nothing.
	Pointer *Record
	// Exhausted is set when the window has no records left after this batch.
	Exhausted bool
}

// --- Persisted state ---

// State is the progress snapshot persisted after every committed batch.
// This allows a download to resume where it left off across restarts.
type State struct {
	StartFromTimestamp     Cursor
	TotalRecords           int
	QueryRecordsExhausted  bool
	FileNumber             int
	Iteration              int
	PrevSavedRecordsInFile int
}

// stateDocument is the JSON layout of a State.
type stateDocument struct {
	StartFromTimestamp     *string `json:"startFromTimestamp"`
	TotalRecords           *int    `json:"totalRecords"`
	QueryRecordsExhausted  *bool   `json:"queryRecordsExhausted"`
	FileNumber             *int    `json:"fileNumber"`
	Iteration              *int    `json:"iteration"`
	PrevSavedRecordsInFile *int    `json:"prevSavedRecordsInFile"`
}

// MarshalJSON implements the json.Marshaler interface for State.
func (s State) MarshalJSON() ([]byte, error) {
	cursor := s.StartFromTimestamp.String()
	return json.Marshal(stateDocument{
		StartFromTimestamp:     &cursor,
		TotalRecords:           &s.TotalRecords,
		QueryRecordsExhausted:  &s.QueryRecordsExhausted,
		FileNumber:             &s.FileNumber,
		Iteration:              &s.Iteration,
		PrevSavedRecordsInFile: &s.PrevSavedRecordsInFile,
	})
}

// UnmarshalJSON requires every field to be present and non-negative.
func (s *State) UnmarshalJSON(data []byte) error {
	var doc stateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	missing := []string{}
	if doc.StartFromTimestamp == nil {
		missing = append(missing, "startFromTimestamp")
	}
	if doc.TotalRecords == nil {
		missing = append(missing, "totalRecords")
	}
	if doc.QueryRecordsExhausted == nil {
		missing = append(missing, "queryRecordsExhausted")
	}
	if doc.FileNumber == nil {
		missing = append(missing, "fileNumber")
	}
	if doc.Iteration == nil {
		missing = append(missing, "iteration")
	}
	if doc.PrevSavedRecordsInFile == nil {
		missing = append(missing, "prevSavedRecordsInFile")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}

	cursor, err := ParseCursor(*doc.StartFromTimestamp)
	if err != nil {
		return err
	}

	parsed := State{
		StartFromTimestamp:     cursor,
		TotalRecords:           *doc.TotalRecords,
		QueryRecordsExhausted:  *doc.QueryRecordsExhausted,
		FileNumber:             *doc.FileNumber,
		Iteration:              *doc.Iteration,
		PrevSavedRecordsInFile: *doc.PrevSavedRecordsInFile,
	}
	if err := parsed.Validate(); err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Validate checks the counters are in range.
func (s State) Validate() error {
	switch {
	case s.TotalRecords < 0:
		return fmt.Errorf("totalRecords must be >= 0, got %d", s.TotalRecords)
	case s.FileNumber < 0:
		return fmt.Errorf("fileNumber must be >= 0, got %d", s.FileNumber)
	case s.Iteration < 0:
		return fmt.Errorf("iteration must be >= 0, got %d", s.Iteration)
	case s.PrevSavedRecordsInFile < 0:
		return fmt.Errorf("prevSavedRecordsInFile must be >= 0, got %d", s.PrevSavedRecordsInFile)
	}
	return nil
}

// --- Run lifecycle ---

// Phase represents the operational state of a download run.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhasePreparing   Phase = "preparing"
	PhaseRunning     Phase = "running"
	PhaseCoolingDown Phase = "cooling_down"
	PhaseDone        Phase = "done"
	PhaseCancelled   Phase = "cancelled"
	PhaseFailed      Phase = "failed"
)

// Progress is a point-in-time view of a run, published after each phase change and commit.
type Progress struct {
	RunID       string    `json:"runId"`
	Fingerprint string    `json:"fingerprint"`
	Phase       Phase     `json:"phase"`
	State       State     `json:"state"`
	Batches     int       `json:"batches"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary describes how a run ended.
type Summary struct {
	RunID       string
	Fingerprint string
	State       State
	// Batches counts the batches committed by this run only.
	Batches   int
	Resumed   bool
	Cancelled bool
}

// FetchRequest is one call to the remote query API.
type FetchRequest struct {
	Query string
	// Start is inclusive, End is exclusive.
	Start     Cursor
	End       Cursor
	Limit     int
	Direction Direction
}

// DirInfo describes an output directory before a run starts.
type DirInfo struct {
	Exists  bool
	IsEmpty bool
}
