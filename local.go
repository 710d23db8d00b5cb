// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compilerd

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/worker"
)

// Compiler compiles units. It is implemented by a worker session, [Proc], and
// by the in-process [Local].
type Compiler interface {
	// Compile returns the result of compiling units with extraArgs. Compile
	// errors and backend crashes are reported in the Result.
	Compile(ctx context.Context, units []Unit, extraArgs []string) (Result, error)
	// CompileSource compiles a single unit.
	CompileSource(ctx context.Context, sourceURI, content string, extraArgs ...string) (Result, error)
	// Close releases the compiler. Compile fails with ErrClosed afterwards.
	Close() error
}

var (
	_ Compiler = (*Proc)(nil)
	_ Compiler = (*Local)(nil)
)

// Local runs a compile backend in the calling process against its own
// classpath index. It keeps the index for its whole lifetime, like a worker
// does, but a crash that kills the process is not contained.
type Local struct {
	backend worker.Backend
	index   *classpath.Index
	log     zerolog.Logger

	// mu is held for reading by every compilation and for writing by Close,
	// so the index is never closed under a running backend.
	mu     sync.RWMutex
	closed bool
}

// NewLocal indexes cfg.Classpath and cfg.PlatformClasspath and returns a
// Local that compiles with backend. The worker settings of cfg are ignored;
// source directories are the backend's concern, as they are for a worker.
func NewLocal(cfg Config, backend worker.Backend) (*Local, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Local{
		backend: backend,
		log:     log.Logger,
	}
	if cfg.Logger != nil {
		l.log = *cfg.Logger
	}

	idx := classpath.New(classpath.WithLogger(l.log))
	for _, loc := range []struct {
		loc   classpath.Location
		roots []string
	}{
		{classpath.ClassPath, cfg.Classpath},
		{classpath.PlatformClassPath, cfg.PlatformClasspath},
	} {
		for _, root := range loc.roots {
			if err := idx.AddRoot(loc.loc, root); err != nil {
				_ = idx.Close()
				return nil, &ConfigError{Op: "build classpath index", Err: err}
			}
		}
	}
	idx.Freeze()
	l.index = idx
	return l, nil
}

// Compile runs the backend once. A panic or error in the backend is reported
// as a failed Result with Crash set, as a worker would report it.
func (l *Local) Compile(ctx context.Context, units []Unit, extraArgs []string) (Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return Result{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := worker.Invoke(ctx, l.backend, l.index, units, extraArgs)
	if c := res.Crash; c != nil {
		l.log.Error().Str("type", c.Type).Str("crash", c.Message).Msg("compile backend crashed")
	}
	return res, nil
}

// CompileSource compiles a single unit.
func (l *Local) CompileSource(ctx context.Context, sourceURI, content string, extraArgs ...string) (Result, error) {
	return l.Compile(ctx, []Unit{{SourceURI: sourceURI, Content: content}}, extraArgs)
}

// Close waits for running compilations and closes the index. Calling it again
// has no effect.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.index.Close()
}
