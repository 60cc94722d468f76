package output

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileSink_InferFormat(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"status.json", "status.ndjson", "status.jsonl"} {
		s, err := NewFileSink(filepath.Join(dir, name), "")
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", name, err)
		}
		_ = s.Close()
	}
}

func TestNewFileSink_UnknownExtension_Errors_WhenFormatOmitted(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "status.txt"), "")
	if err == nil || !strings.Contains(err.Error(), "cannot infer output format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFileSink_UnsupportedFormat_Errors(t *testing.T) {
	_, err := NewFileSink(filepath.Join(t.TempDir(), "status.json"), "xml")
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewFileSink_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "status.ndjson")
	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	_ = s.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestFileSink_JSON_AggregatesRecords_AndIgnoresOtherEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")

	s, err := NewFileSink(path, "json")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	if err := s.Write(StatusEvent("starting", "starting", json.RawMessage(`{"action_name":"finish","status":"starting"}`))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(Event{Type: EventRunFinished, Outcome: "failed"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(StatusEvent("finish", "failure", json.RawMessage(`{"action_name":"finish","status":"failure"}`))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	var got []map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v\nbody=%s", err, string(b))
	}
	if len(got) != 2 || got[0]["status"] != "starting" || got[1]["status"] != "failure" {
		t.Fatalf("unexpected records: %#v", got)
	}
}

func TestFileSink_NDJSON_StreamsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.ndjson")

	s, err := NewFileSink(path, "")
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	if err := s.Write(StatusEvent("starting", "starting", json.RawMessage(`{"status":"starting"}`))); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Write(Event{Type: EventRunFinished, Outcome: "succeeded"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d\nbody=%s", len(lines), string(b))
	}
	var e2 Event
	if err := json.Unmarshal([]byte(lines[1]), &e2); err != nil {
		t.Fatalf("Unmarshal line 2 failed: %v", err)
	}
	if e2.Type != EventRunFinished || e2.Outcome != "succeeded" {
		t.Fatalf("unexpected event: %#v", e2)
	}
}
