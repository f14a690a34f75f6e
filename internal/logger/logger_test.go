package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestNew_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})
	cl := Component(l, "pruning")
	cl.Info().Str("path", "sub-01").Msg("sidecar pruned")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if line["component"] != "pruning" || line["message"] != "sidecar pruned" || line["path"] != "sub-01" {
		t.Errorf("unexpected fields: %v", line)
	}
	id, _ := line["run_id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("run_id %q is not a uuid: %v", id, err)
	}
	if _, ok := line["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("level not applied: %s", buf.String())
	}

	if got := New(Config{Level: "nonsense", Output: &buf}).GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("invalid level should fall back to info, got %v", got)
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	pl := New(Config{Pretty: true, Output: &buf})
	pl.Info().Msg("converted")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("pretty output should not be JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "converted") {
		t.Errorf("message missing: %s", buf.String())
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil).GetLevel() != zerolog.Disabled {
		t.Error("OrNop(nil) should be disabled")
	}
	l := zerolog.New(nil)
	if OrNop(&l) != &l {
		t.Error("OrNop should return the given logger")
	}
}
