// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compilerd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/packet"
	"github.com/breezewish/go-compilerd/worker"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "compilerd.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvWorker, "")
	t.Setenv(EnvDebug, "")

	p := writeConfig(t, `
worker_command = "bin/worker -v"
classpath = ["lib", "/abs/rt.jar"]
platform_classpath = ["platform.jar"]
workers = 3
compress = true
handshake_timeout = "30s"
`)
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	dir := filepath.Dir(p)
	assert.Equal(t, "bin/worker -v", cfg.WorkerCommand)
	assert.Equal(t, []string{filepath.Join(dir, "lib"), "/abs/rt.jar"}, cfg.Classpath)
	assert.Equal(t, []string{filepath.Join(dir, "platform.jar")}, cfg.PlatformClasspath)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.Compress)
	assert.False(t, cfg.Debug)
	assert.Equal(t, 30*time.Second, cfg.HandshakeTimeout)

	cfg, err = LoadConfig(writeConfig(t, `debug = true`))
	require.NoError(t, err)
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigEnv(t *testing.T) {
	p := writeConfig(t, `worker_command = "from-file"`)

	t.Setenv(EnvWorker, "from-env --flag")
	t.Setenv(EnvDebug, "1")
	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "from-env --flag", cfg.WorkerCommand)
	assert.True(t, cfg.Debug)

	t.Setenv(EnvDebug, "maybe")
	_, err = LoadConfig(p)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), EnvDebug)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv(EnvWorker, "")
	t.Setenv(EnvDebug, "")

	for _, tc := range []struct {
		content string
		want    string
	}{
		{`classpth = ["lib"]`, "classpth"},
		{`workers = -1`, "workers must not be negative"},
		{`handshake_timeout = "soon"`, "handshake_timeout"},
		{`classpath = "not a list"`, "classpath"},
	} {
		content, want := tc.content, tc.want
		_, err := LoadConfig(writeConfig(t, content))
		if assert.Error(t, err, content) {
			assert.Contains(t, err.Error(), want, content)
			assert.Equal(t, KindConfiguration, Kind(err), content)
		}
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWorkerArgs(t *testing.T) {
	cfg := Config{
		Debug:             true,
		Compress:          true,
		Workers:           2,
		PlatformClasspath: []string{"/jdk/rt.jar"},
		SourcePath:        []string{"/src"},
		Classpath:         []string{"/lib/a.jar", "/classes"},
	}
	args, err := cfg.workerArgs()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-debug", "-compress", "-workers=2",
		"-platform=/jdk/rt.jar", "-sourcepath=/src",
		"--", "/lib/a.jar", "/classes",
	}, args)

	args, err = (&Config{}).workerArgs()
	require.NoError(t, err)
	assert.Empty(t, args)

	args, err = (&Config{Classpath: []string{"rel"}}).workerArgs()
	require.NoError(t, err)
	wd, _ := os.Getwd()
	assert.Equal(t, []string{"--", filepath.Join(wd, "rel")}, args)
}

func TestResolveWorker(t *testing.T) {
	t.Setenv(EnvWorker, "")

	cfg := Config{WorkerCommand: `"/opt/my worker" -x 'a b'`, Classpath: []string{"/lib"}}
	prog, args, err := cfg.command()
	require.NoError(t, err)
	assert.Equal(t, "/opt/my worker", prog)
	assert.Equal(t, []string{"-x", "a b", "--", "/lib"}, args)

	t.Setenv(EnvWorker, "env-worker")
	prog, _, err = (&Config{}).command()
	require.NoError(t, err)
	assert.Equal(t, "env-worker", prog)

	_, _, err = (&Config{WorkerCommand: `"unterminated`}).command()
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestKind(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindUnknown},
		{errors.New("other"), KindUnknown},
		{&ConfigError{Op: "x", Err: errors.New("y")}, KindConfiguration},
		{&classpath.RootError{Path: "a.txt", Err: classpath.ErrUnsupportedRoot}, KindConfiguration},
		{fmt.Errorf("wrapped: %w", classpath.ErrFrozen), KindConfiguration},
		{&packet.DisallowedTypeError{Type: "evil.Type"}, KindProtocol},
		{fmt.Errorf("%w: bad", worker.ErrProtocol), KindProtocol},
		{fmt.Errorf("%w: unknown request", ErrProtocol), KindProtocol},
		{packet.ErrorCrash(errors.New("boom")), KindTaskFailure},
		{ErrWorkerTerminated, KindConnectionLost},
		{fmt.Errorf("%w: broken pipe", ErrWorkerDead), KindConnectionLost},
		{ErrClosed, KindConnectionLost},
	} {
		err, want := tc.err, tc.want
		assert.Equal(t, want, Kind(err), "%v", err)
	}
	assert.Equal(t, "task failure", KindTaskFailure.String())
}
