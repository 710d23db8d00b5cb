// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging configures zerolog for the worker executable and tests, and
// relays a worker's log lines into the client's logger.
package logging

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "COMPILERD_LOG_LEVEL"
	EnvLogTimestamp = "COMPILERD_LOG_TIMESTAMP"
	EnvLogNoColor   = "COMPILERD_LOG_NOCOLOR"
)

type Profile int

const (
	// ProfileWorker writes one JSON object per line to stderr, stdout being
	// taken by packets. The client re-logs each line at its own level with
	// Relay.
	ProfileWorker Profile = iota
	ProfileTest
)

// Config is the resolved logging configuration.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
}

var configureOnce sync.Once

// ConfigureTests installs the test profile as the global logger once.
func ConfigureTests() {
	configureOnce.Do(func() {
		log.Logger = New(os.Stderr, ProfileTest, false)
	})
}

// New returns a logger writing to w for profile. debug lowers the level to
// debug; the environment overrides both.
func New(w io.Writer, profile Profile, debug bool) zerolog.Logger {
	cfg := defaultConfig(profile, debug)
	applyEnvOverrides(&cfg)

	if profile == ProfileWorker {
		ctx := zerolog.New(w).Level(cfg.Level).With()
		if cfg.Timestamp {
			ctx = ctx.Timestamp()
		}
		return ctx.Logger()
	}

	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		out.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	return zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// Relay logs line, written by a child process, to l with prefix prepended to
// its message. A JSON line from a ProfileWorker logger keeps its level and
// fields; any other line is logged at info as it is.
func Relay(l zerolog.Logger, prefix string, line []byte) {
	var rec map[string]any
	if len(line) == 0 || line[0] != '{' || json.Unmarshal(line, &rec) != nil {
		l.Info().Msg(prefix + string(line))
		return
	}

	level := zerolog.InfoLevel
	if name, ok := rec[zerolog.LevelFieldName].(string); ok {
		if lvl, err := zerolog.ParseLevel(name); err == nil && lvl != zerolog.NoLevel {
			level = lvl
		}
	}
	msg, _ := rec[zerolog.MessageFieldName].(string)
	delete(rec, zerolog.LevelFieldName)
	delete(rec, zerolog.MessageFieldName)
	delete(rec, zerolog.TimestampFieldName)

	// WithLevel never exits or panics, even for fatal and panic lines.
	l.WithLevel(level).Fields(rec).Msg(prefix + msg)
}

func defaultConfig(profile Profile, debug bool) Config {
	var cfg Config
	switch profile {
	case ProfileTest:
		cfg = Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		cfg = Config{Level: zerolog.InfoLevel, Timestamp: false, NoColor: true}
	}
	if debug {
		cfg.Level = zerolog.DebugLevel
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
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
	case "disabled", "disable", "off", "none":
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
