package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"loki-downloader/internal/config"
	"loki-downloader/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"usage", &usageError{err: errors.New("unknown flag")}, exitInvalidConfig},
		{"validation", &config.ValidationError{Problems: []string{"loki.query: required"}}, exitInvalidConfig},
		{"unrecoverable", fmt.Errorf("fetch: %w", domain.ErrMaxResultWindowExceeded), exitUnrecoverable},
		{"stalled cursor", domain.ErrCursorStalled, exitUnrecoverable},
		{"output dir", fmt.Errorf("prepare: %w", domain.ErrOutputDirNotEmpty), exitOperatorAction},
		{"aborted", domain.ErrAborted, exitOperatorAction},
		{"remote", &domain.RemoteQueryError{StatusCode: 502}, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, streams{out: &out, err: &errOut})
	return code, out.String(), errOut.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	if code != exitOK || strings.TrimSpace(out) != version {
		t.Errorf("code = %d, out = %q", code, out)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	code, _, errOut := runCLI(t, "--no-such-flag")
	if code != exitInvalidConfig {
		t.Errorf("code = %d, stderr = %q", code, errOut)
	}
}

func TestMissingQueryIsConfigError(t *testing.T) {
	code, _, errOut := runCLI(t, "--state-dir", t.TempDir())
	if code != exitInvalidConfig {
		t.Errorf("code = %d, stderr = %q", code, errOut)
	}
	if !strings.Contains(errOut, "loki.query") {
		t.Errorf("stderr should name the missing key: %q", errOut)
	}
}

func TestStateCommandReportsFingerprint(t *testing.T) {
	args := []string{
		"state",
		"--query", `{app="api"}`,
		"--from", "2024-01-01T00:00:00Z",
		"--to", "2024-01-02T00:00:00Z",
		"--state-dir", t.TempDir(),
	}
	code, out, errOut := runCLI(t, args...)
	if code != exitOK {
		t.Fatalf("code = %d, stderr = %q", code, errOut)
	}

	var report stateReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(report.Fingerprint) != 16 {
		t.Errorf("fingerprint = %q", report.Fingerprint)
	}
	if report.State != nil {
		t.Errorf("fresh run must have no state, got %+v", report.State)
	}
	if report.Backend != config.BackendFile {
		t.Errorf("backend = %q", report.Backend)
	}

	// Same flags, same fingerprint.
	_, again, _ := runCLI(t, args...)
	var second stateReport
	if err := json.Unmarshal([]byte(again), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Fingerprint != report.Fingerprint {
		t.Errorf("fingerprint changed between runs: %s != %s", second.Fingerprint, report.Fingerprint)
	}
}
