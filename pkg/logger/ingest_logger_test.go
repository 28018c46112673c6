package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("unmarshal log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestWithRun_RunIDSurvivesRepeatedEmits(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelInfo, Output: &buf, Service: "test"}).WithRun("run-123")

	log.Info("first")
	log.Info("second")
	log.Info("third")

	entries := decodeLines(t, &buf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.RunID != "run-123" {
			t.Errorf("entry %d: run_id = %q, want run-123", i, e.RunID)
		}
	}
}

func TestLog_PromotedFieldsStayOnDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf, Service: "test"}).
		WithRun("run-9").
		WithMessage("msg-7").
		WithField("folder", "Newsletters")

	base.Info("one")
	derived := base.WithError(errString("boom"))
	derived.Warn("two")
	base.Info("three")

	entries := decodeLines(t, &buf)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.RunID != "run-9" {
			t.Errorf("entry %d: run_id = %q, want run-9", i, e.RunID)
		}
		if e.MessageID != "msg-7" {
			t.Errorf("entry %d: message_id = %q, want msg-7", i, e.MessageID)
		}
		if e.Fields["folder"] != "Newsletters" {
			t.Errorf("entry %d: fields[folder] = %v, want Newsletters", i, e.Fields["folder"])
		}
	}
	if entries[1].Error != "boom" {
		t.Errorf("derived entry error = %q, want boom", entries[1].Error)
	}
	if entries[2].Error != "" {
		t.Errorf("error leaked back onto parent logger: %q", entries[2].Error)
	}
}

func TestLog_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: LevelWarn, Output: &buf, Service: "test"})

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("visible")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Level != "WARN" || entries[0].Message != "visible" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

type errString string

func (e errString) Error() string { return string(e) }
