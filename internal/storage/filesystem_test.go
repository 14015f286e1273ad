package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"loki-downloader/internal/domain"
)

func sampleRecords(n int) []domain.Record {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := make([]domain.Record, n)
	for i := range recs {
		ts := base.Add(time.Duration(i) * time.Millisecond)
		recs[i] = domain.Record{Timestamp: ts, RawTimestamp: domain.CursorFromTime(ts), Content: "line <" + ts.Format(time.StampMilli) + ">"}
	}
	return recs
}

func TestDescribeOutputDir(t *testing.T) {
	l := NewLocalFS()
	root := t.TempDir()

	info, err := l.DescribeOutputDir(filepath.Join(root, "missing"))
	if err != nil || info.Exists {
		t.Fatalf("missing dir: info=%+v err=%v", info, err)
	}

	info, err = l.DescribeOutputDir(root)
	if err != nil || !info.Exists || !info.IsEmpty {
		t.Fatalf("empty dir: info=%+v err=%v", info, err)
	}

	if err := os.WriteFile(filepath.Join(root, "0.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err = l.DescribeOutputDir(root)
	if err != nil || !info.Exists || info.IsEmpty {
		t.Fatalf("non-empty dir: info=%+v err=%v", info, err)
	}
}

func TestClearOutputDirKeepsDirectory(t *testing.T) {
	l := NewLocalFS()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "0.txt"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := l.ClearOutputDir(root); err != nil {
		t.Fatalf("ClearOutputDir: %v", err)
	}
	info, err := l.DescribeOutputDir(root)
	if err != nil || !info.Exists || !info.IsEmpty {
		t.Fatalf("expected existing empty dir, got %+v err=%v", info, err)
	}
	if err := l.ClearOutputDir(filepath.Join(root, "missing")); err != nil {
		t.Errorf("clearing a missing dir should be a no-op: %v", err)
	}
}

func TestAppendRecordsAppendsLines(t *testing.T) {
	l := NewLocalFS()
	path := filepath.Join(t.TempDir(), "out", "download", "0.txt")
	recs := sampleRecords(5)

	if err := l.AppendRecords(path, recs[:3]); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := l.AppendRecords(path, recs[3:]); err != nil {
		t.Fatalf("second append: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var got []domain.Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, `\u003c`) {
			t.Errorf("content should not be HTML-escaped: %s", line)
		}
		var r domain.Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		got = append(got, r)
	}
	if len(got) != len(recs) {
		t.Fatalf("got %d lines, want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i].RawTimestamp != recs[i].RawTimestamp || got[i].Content != recs[i].Content {
			t.Errorf("line %d = %+v, want %+v", i, got[i], recs[i])
		}
	}
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	l := NewLocalFS()
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "abc.json")

	if _, found, err := l.LoadStateSnapshot(path); err != nil || found {
		t.Fatalf("expected no snapshot, found=%v err=%v", found, err)
	}

	want := domain.State{StartFromTimestamp: 42, TotalRecords: 10, FileNumber: 1, Iteration: 2, PrevSavedRecordsInFile: 3}
	if err := l.SaveStateSnapshot(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	want.TotalRecords = 20
	if err := l.SaveStateSnapshot(path, want); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, found, err := l.LoadStateSnapshot(path)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	var got domain.State
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
