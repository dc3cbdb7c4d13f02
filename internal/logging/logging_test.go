package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSetupProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("file_id", "abc").Msg("visible")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["file_id"] != "abc" || entry["message"] != "visible" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetupLevelOverride(t *testing.T) {
	t.Setenv("INKPRESS_LOG_LEVEL", "warn")
	var buf bytes.Buffer
	logger := SetupWithWriter("development", &buf)

	logger.Info().Msg("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}
