// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compilerd runs compilations in a long-lived worker process.
//
// A [Proc] starts the worker executable (compilerd-worker by default) with
// the classpath roots as arguments. The worker indexes those roots once, so
// later compile requests do not pay for scanning archives again.
//
// Client and worker talk over the worker's stdin and stdout. Each side first
// writes an 8 byte stream header, then a sequence of packets. The client sends
// a request per [Proc.Compile] call and the worker answers each one with a
// result carrying the same id. Results come back in completion order, which
// may differ from submission order. The worker's stderr is relayed line by
// line into the client's log.
//
// A failure of the compile backend inside the worker affects only the request
// that caused it: its [Result] has Success unset and Crash populated. The loss
// of the worker process or a protocol violation fails every pending call and
// ends the session; a new [Proc] must be started to continue.
//
// [Local] offers the same [Compiler] interface without a worker process, for
// callers that run the compile backend in their own process.
package compilerd

import "github.com/breezewish/go-compilerd/packet"

// Unit is a single compilation unit.
type Unit = packet.Unit

// Result is the outcome of one compilation.
type Result = packet.Result
