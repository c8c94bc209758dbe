package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug")
	logger.Debug("submit", "pin", "482913", "session_id", "s1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["pin"] != "[redacted]" {
		t.Fatalf("expected pin to be redacted, got %v", line["pin"])
	}
	if line["session_id"] != "s1" {
		t.Fatalf("expected session_id s1, got %v", line["session_id"])
	}
}

func TestNewWithWriterInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line should be dropped at info level: %s", buf.String())
	}
	logger.Info("shown")
	if buf.Len() == 0 {
		t.Fatal("expected info line")
	}
}
