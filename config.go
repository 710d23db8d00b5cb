// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compilerd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/breezewish/go-compilerd/internal/quoted"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second

	// WorkerName is the executable looked up next to the running program and
	// then in PATH when no worker command is configured.
	WorkerName = "compilerd-worker"

	EnvWorker = "COMPILERD_WORKER"
	EnvDebug  = "COMPILERD_DEBUG"
)

// Config is the configuration of a session.
type Config struct {
	// WorkerCommand is the worker executable with optional space-separated
	// flags, quoted as in a shell.
	WorkerCommand string `toml:"worker_command"`

	Classpath         []string `toml:"classpath"`
	PlatformClasspath []string `toml:"platform_classpath"`
	// SourcePath directories are read from disk on every request instead of
	// being indexed at startup.
	SourcePath []string `toml:"sourcepath"`

	// Workers is the worker's compile pool size; zero lets the worker pick.
	Workers  int  `toml:"workers"`
	Debug    bool `toml:"debug"`
	Compress bool `toml:"compress"`

	HandshakeTimeout time.Duration `toml:"handshake_timeout"`

	// Logger receives the session's own logs and the worker's stderr.
	// Defaults to the global zerolog logger.
	Logger *zerolog.Logger `toml:"-"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// LoadConfig reads a TOML configuration file. Relative paths in the file are
// relative to the file's directory. COMPILERD_WORKER and COMPILERD_DEBUG
// override the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, &ConfigError{Op: "load config", Err: err}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, &ConfigError{Op: "load config", Err: fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))}
	}

	dir := filepath.Dir(path)
	for _, list := range [][]string{cfg.Classpath, cfg.PlatformClasspath, cfg.SourcePath} {
		for i, p := range list {
			if !filepath.IsAbs(p) {
				list[i] = filepath.Join(dir, p)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvWorker); v != "" {
		c.WorkerCommand = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDebug)); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Op: "load config", Err: fmt.Errorf("invalid %s: %w", EnvDebug, err)}
		}
		c.Debug = debug
	}
	return nil
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return &ConfigError{Op: "validate config", Err: fmt.Errorf("workers must not be negative, got %d", c.Workers)}
	}
	if c.HandshakeTimeout < 0 {
		return &ConfigError{Op: "validate config", Err: fmt.Errorf("handshake timeout must not be negative, got %v", c.HandshakeTimeout)}
	}
	return nil
}

// command returns the worker executable and its full argument list.
func (c *Config) command() (string, []string, error) {
	prog, flags, err := c.resolveWorker()
	if err != nil {
		return "", nil, err
	}
	args, err := c.workerArgs()
	if err != nil {
		return "", nil, err
	}
	return prog, append(flags, args...), nil
}

// resolveWorker finds the worker executable: the configured command, then
// COMPILERD_WORKER, then WorkerName next to the running program, then
// WorkerName in PATH.
func (c *Config) resolveWorker() (string, []string, error) {
	command := c.WorkerCommand
	if command == "" {
		command = os.Getenv(EnvWorker)
	}
	if command != "" {
		args, err := quoted.Split(command)
		if err != nil {
			return "", nil, &ConfigError{Op: "resolve worker", Err: fmt.Errorf("invalid worker command: %w", err)}
		}
		if len(args) == 0 {
			return "", nil, &ConfigError{Op: "resolve worker", Err: errors.New("empty worker command")}
		}
		return args[0], args[1:], nil
	}

	name := WorkerName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(exe), name)
		if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
			return p, nil, nil
		}
	}
	if p, err := exec.LookPath(WorkerName); err == nil {
		return p, nil, nil
	}
	return "", nil, &ConfigError{Op: "resolve worker", Err: fmt.Errorf("%w: set %s or install %s next to this program or in PATH", ErrWorkerNotFound, EnvWorker, WorkerName)}
}

// workerArgs derives the worker's command line from the configuration.
func (c *Config) workerArgs() ([]string, error) {
	var args []string
	if c.Debug {
		args = append(args, "-debug")
	}
	if c.Compress {
		args = append(args, "-compress")
	}
	if c.Workers > 0 {
		args = append(args, "-workers="+strconv.Itoa(c.Workers))
	}
	for _, flagRoots := range []struct {
		name  string
		roots []string
	}{
		{"-platform", c.PlatformClasspath},
		{"-sourcepath", c.SourcePath},
	} {
		for _, root := range flagRoots.roots {
			abs, err := filepath.Abs(root)
			if err != nil {
				return nil, &ConfigError{Op: "resolve classpath", Err: err}
			}
			args = append(args, flagRoots.name+"="+abs)
		}
	}
	if len(c.Classpath) > 0 {
		args = append(args, "--")
		for _, root := range c.Classpath {
			abs, err := filepath.Abs(root)
			if err != nil {
				return nil, &ConfigError{Op: "resolve classpath", Err: err}
			}
			args = append(args, abs)
		}
	}
	return args, nil
}
