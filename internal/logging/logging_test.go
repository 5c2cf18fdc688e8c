package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvLogLevel:     "warning",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
		EnvLogFormat:    "JSON",
	}
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg, func(k string) string { return env[k] })
	if cfg.Level != zerolog.WarnLevel || cfg.Timestamp || !cfg.NoColor || !cfg.JSON {
		t.Fatalf("unexpected config %+v", cfg)
	}
	cfg = DefaultConfig(ProfileTest)
	ApplyEnvOverrides(&cfg, func(string) string { return "garbage" })
	if cfg.Level != zerolog.DebugLevel || cfg.Timestamp {
		t.Fatalf("invalid values must keep defaults, got %+v", cfg)
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New("blendctl", &buf, Config{Level: zerolog.InfoLevel, JSON: true})
	logger.Debug().Msg("hidden")
	logger.Info().Str("deblender", "mask").Msg("deblend finished")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line above debug level, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry["app"] != "blendctl" || entry["deblender"] != "mask" || entry["message"] != "deblend finished" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("timestamp disabled but present")
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New("blendctl", &buf, DefaultConfig(ProfileTest))
	logger.Debug().Msg("visible in tests")
	if !strings.Contains(buf.String(), "visible in tests") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, ok := ParseLevel("off"); !ok || lvl != zerolog.Disabled {
		t.Fatalf("expected disabled level")
	}
	if _, ok := ParseLevel(""); ok {
		t.Fatalf("empty level must not override")
	}
}
