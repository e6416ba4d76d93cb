package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewFormats(t *testing.T) {
	var buf bytes.Buffer
	newWithWriter(&buf, "debug", "json").Debug("hello", "wallet_id", "w-1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if record["wallet_id"] != "w-1" {
		t.Fatalf("unexpected record: %v", record)
	}

	buf.Reset()
	newWithWriter(&buf, "info", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "loud", "json")
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be dropped, got %q", buf.String())
	}
	logger.Info("shown")
	if buf.Len() == 0 {
		t.Fatal("expected info to be written")
	}
}
