package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("batch committed", "records", 100)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "batch committed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if fmt.Sprint(entry["records"]) != "100" {
		t.Errorf("records = %v", entry["records"])
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, "loud", true); err == nil {
		t.Error("expected error for unknown level")
	}
}
