// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command compilerd-worker is the long-lived worker process started by a
// compilerd client. It indexes the classpath roots given as arguments once,
// then compiles requests read from stdin with esbuild and writes the results
// to stdout. Diagnostics go to stderr.
package main

import (
	"os"

	"github.com/breezewish/go-compilerd/internal/workercmd"
	"github.com/breezewish/go-compilerd/jsbackend"
	"github.com/breezewish/go-compilerd/worker"
)

func main() {
	os.Exit(workercmd.Main(os.Args[1:], func(s workercmd.Settings) worker.Backend {
		return jsbackend.New(jsbackend.Options{Fallback: s.Lister()})
	}))
}
