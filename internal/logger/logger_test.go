package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text")

	Info("chunk stored", "hash", "abc123", "bytes", 42)

	out := buf.String()
	if !strings.Contains(out, "[INFO] chunk stored") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "hash=abc123") || !strings.Contains(out, "bytes=42") {
		t.Errorf("missing attributes: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json")

	Info("migration complete", "job_id", 7)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "migration complete" {
		t.Errorf("unexpected msg: %v", record["msg"])
	}
	if record["job_id"] != float64(7) {
		t.Errorf("unexpected job_id: %v", record["job_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text")

	Debug("not visible")
	Info("not visible either")
	Warn("visible")

	out := buf.String()
	if strings.Contains(out, "not visible") {
		t.Errorf("low-level records leaked: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestQuotedAttrValues(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text")

	Info("job failed", "last_error", "manifest fetch failed 503")

	if !strings.Contains(buf.String(), `last_error="manifest fetch failed 503"`) {
		t.Errorf("value with spaces not quoted: %q", buf.String())
	}
}
