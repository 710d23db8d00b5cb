// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// fakeworker is a worker whose compile backend follows instructions in the
// unit content instead of compiling:
//
//	sleep:<ms>   wait, then echo
//	list:<dir>   output the classpath entries under dir, recursively
//	fail         report a compile error
//	panic        panic inside the backend
//	exit         terminate the worker process
//	garbage      write bytes that are not a packet to stdout
//	forge        write a result for a request that was never sent
//
// Anything else is echoed back: the output is keyed by the unit's source URI
// and holds its content.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/internal/workercmd"
	"github.com/breezewish/go-compilerd/packet"
	"github.com/breezewish/go-compilerd/worker"
)

func main() {
	os.Exit(workercmd.Main(os.Args[1:], func(s workercmd.Settings) worker.Backend {
		return worker.BackendFunc(compile)
	}))
}

func compile(ctx context.Context, units []packet.Unit, extraArgs []string, idx *classpath.Index) (packet.Result, error) {
	out := map[string][]byte{}
	for _, u := range units {
		cmd, arg, _ := strings.Cut(u.Content, ":")
		switch cmd {
		case "sleep":
			ms, err := strconv.Atoi(arg)
			if err != nil {
				return packet.Result{}, err
			}
			time.Sleep(time.Duration(ms) * time.Millisecond)
		case "list":
			for _, e := range idx.Lookup(classpath.ClassPath, arg, 0, true) {
				out[e.Path()] = []byte(e.URI())
			}
			continue
		case "fail":
			return packet.Result{Log: u.SourceURI + ": compile error"}, nil
		case "panic":
			panic("backend exploded on " + u.SourceURI)
		case "exit":
			os.Exit(3)
		case "garbage":
			fmt.Fprintln(os.Stdout, "this is not a packet")
			time.Sleep(time.Second)
		case "forge":
			fmt.Fprintf(os.Stdout, `{"type":"compilerd.Result","payload":{"id":%q,"outcome":{"kind":"compilerd.Success","outputs":{},"log":""}}}`+"\n", uuid.New())
			time.Sleep(time.Second)
		}
		out[u.SourceURI] = []byte(u.Content)
	}
	return packet.Result{Outputs: out, Success: true, Log: strings.Join(extraArgs, " ")}, nil
}
