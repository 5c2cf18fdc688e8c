// Package logging builds the zerolog loggers used by the pipeline service and
// the command line harness.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "BLENDCORE_LOG_LEVEL"
	EnvLogTimestamp = "BLENDCORE_LOG_TIMESTAMP"
	EnvLogNoColor   = "BLENDCORE_LOG_NOCOLOR"
	EnvLogFormat    = "BLENDCORE_LOG_FORMAT"
)

// Profile selects defaults before environment overrides apply.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config controls logger construction.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
}

// DefaultConfig returns the defaults of a profile.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

// FromEnv returns the profile defaults with BLENDCORE_LOG_* overrides applied.
func FromEnv(profile Profile) Config {
	cfg := DefaultConfig(profile)
	ApplyEnvOverrides(&cfg, os.Getenv)
	return cfg
}

// ApplyEnvOverrides updates cfg from the supplied lookup.
func ApplyEnvOverrides(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	switch strings.ToLower(strings.TrimSpace(getenv(EnvLogFormat))) {
	case "json":
		cfg.JSON = true
	case "console", "text":
		cfg.JSON = false
	}
}

// New builds a logger writing to w and tagged with the app name.
func New(app string, w io.Writer, cfg Config) zerolog.Logger {
	out := w
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: cfg.NoColor}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With().Str("app", app)
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

// Init builds the runtime logger on stderr from the environment.
func Init(app string) zerolog.Logger {
	return New(app, os.Stderr, FromEnv(ProfileRuntime))
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
