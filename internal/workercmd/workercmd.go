// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workercmd is the command line of the worker executable.
//
//	compilerd-worker [-debug] [-compress] [-workers n] [-platform root]... [-sourcepath dir]... [--] root...
//
// Positional roots are indexed as the classpath; -platform roots as the
// platform classpath. -sourcepath directories are not indexed and are read
// from disk on every request.
package workercmd

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/internal/logging"
	"github.com/breezewish/go-compilerd/worker"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitUsage    = 2
	ExitProtocol = 3
)

// Settings is what a backend factory gets to know about the command line.
type Settings struct {
	SourcePath []string
	Logger     zerolog.Logger
}

// Lister returns the uncached lister over the -sourcepath directories.
func (s Settings) Lister() classpath.Lister {
	if len(s.SourcePath) == 0 {
		return nil
	}
	return &classpath.DirLister{Roots: map[classpath.Location][]string{classpath.SourcePath: s.SourcePath}}
}

// BackendFactory builds the compile backend once flags are parsed.
type BackendFactory func(Settings) worker.Backend

type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, string(os.PathListSeparator)) }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// Main runs the worker on stdio and returns the process exit code.
func Main(args []string, newBackend BackendFactory) int {
	return Run(context.Background(), args, os.Stdin, os.Stdout, os.Stderr, newBackend)
}

// Run is Main with explicit streams.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, newBackend BackendFactory) int {
	fs := flag.NewFlagSet("compilerd-worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		debug      = fs.Bool("debug", false, "log every request")
		compress   = fs.Bool("compress", false, "brotli compress the result stream")
		workers    = fs.Int("workers", 0, "compile pool size (default: number of CPUs)")
		platform   listFlag
		sourcePath listFlag
	)
	fs.Var(&platform, "platform", "platform classpath root, repeatable")
	fs.Var(&sourcePath, "sourcepath", "uncached source directory, repeatable")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	logger := logging.New(stderr, logging.ProfileWorker, *debug)
	logger.Info().Msg("starting compilerd worker")
	logger.Info().
		Str("go", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("pid", os.Getpid()).
		Int("cpus", runtime.NumCPU()).
		Msg("runtime")

	idx := classpath.New(classpath.WithLogger(logger))
	defer idx.Close()
	for _, root := range fs.Args() {
		if err := idx.AddRoot(classpath.ClassPath, root); err != nil {
			logger.Error().Err(err).Msg("cannot build classpath index")
			return ExitUsage
		}
	}
	for _, root := range platform {
		if err := idx.AddRoot(classpath.PlatformClassPath, root); err != nil {
			logger.Error().Err(err).Msg("cannot build classpath index")
			return ExitUsage
		}
	}
	idx.Freeze()

	backend := newBackend(Settings{SourcePath: sourcePath, Logger: logger})
	srv := worker.New(backend, idx, worker.Options{
		Workers:  *workers,
		Compress: *compress,
		Logger:   &logger,
	})
	if err := srv.Serve(ctx, stdin, stdout); err != nil {
		logger.Error().Err(err).Msg("fatal error")
		if errors.Is(err, worker.ErrProtocol) {
			return ExitProtocol
		}
		return ExitFatal
	}
	logger.Info().Msg("worker stopped")
	return ExitOK
}
