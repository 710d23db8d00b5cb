// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package packet defines the messages exchanged between a compilerd client and
// its worker process, and the codec that moves them over a duplex byte stream.
//
// Two packets flow over the stream: a [Request] from the client to the worker
// and a [ResultPacket] from the worker back to the client. Every packet names
// its type with a descriptor, and a [Decoder] refuses any descriptor that is
// not on the [AllowList] it was built with.
package packet

import (
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
)

// Type descriptors carried on the wire.
const (
	TypeRequest = "compilerd.Request"
	TypeResult  = "compilerd.Result"
	KindSuccess = "compilerd.Success"
	KindFailure = "compilerd.Failure"
)

// Packet is a message that can be written by an [Encoder].
type Packet interface {
	Descriptor() string
}

// Unit is a single compilation unit: a source identifier and its content.
type Unit struct {
	SourceURI string `json:"sourceUri"`
	Content   string `json:"content"`
}

// Request asks the worker to compile Units with ExtraArgs.
type Request struct {
	ID        uuid.UUID `json:"id"`
	Units     []Unit    `json:"units"`
	ExtraArgs []string  `json:"extraArgs"`
}

func (*Request) Descriptor() string { return TypeRequest }

// Result is the outcome of one compile request.
//
// Outputs are keyed by slash separated logical paths, for example
// "my/pkg/Main.js". Output bytes are only meaningful when Success is true.
type Result struct {
	Outputs map[string][]byte
	Success bool
	Log     string
	// Crash is set when the compile backend itself failed, as opposed to the
	// sources failing to compile.
	Crash *Crash
}

// Crash describes a failure of the compile backend.
type Crash struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (c *Crash) Error() string {
	return fmt.Sprintf("compile backend crashed: %s: %s", c.Type, c.Message)
}

// NewCrash captures v, a recovered panic value, together with the stack of
// the panicking goroutine. It must be called from the deferred function that
// recovered v.
func NewCrash(v any) *Crash {
	c := &Crash{
		Type:  fmt.Sprintf("%T", v),
		Stack: string(debug.Stack()),
	}
	if err, ok := v.(error); ok {
		c.Message = err.Error()
	} else {
		c.Message = fmt.Sprint(v)
	}
	return c
}

// ErrorCrash describes an error returned by the compile backend. It carries no
// stack: the place the error was noticed says nothing about where it came from.
func ErrorCrash(err error) *Crash {
	return &Crash{Type: fmt.Sprintf("%T", err), Message: err.Error()}
}

// Failure returns a failed Result carrying crash.
func Failure(log string, crash *Crash) Result {
	return Result{Success: false, Log: log, Crash: crash}
}

// ResultPacket carries the Result of the request with the same ID.
type ResultPacket struct {
	ID     uuid.UUID
	Result Result
}

func (*ResultPacket) Descriptor() string { return TypeResult }

// resultWire is the wire shape of a ResultPacket. The outcome is a tagged
// variant: a Success carries outputs, a Failure may carry a crash.
type resultWire struct {
	ID      uuid.UUID   `json:"id"`
	Outcome outcomeWire `json:"outcome"`
}

type outcomeWire struct {
	Kind    string            `json:"kind"`
	Outputs map[string][]byte `json:"outputs,omitempty"`
	Log     string            `json:"log"`
	Crash   *Crash            `json:"crash,omitempty"`
}

func (p *ResultPacket) toWire() resultWire {
	o := outcomeWire{Log: p.Result.Log}
	if p.Result.Success {
		o.Kind = KindSuccess
		o.Outputs = p.Result.Outputs
	} else {
		o.Kind = KindFailure
		o.Crash = p.Result.Crash
	}
	return resultWire{ID: p.ID, Outcome: o}
}

func (w *resultWire) toPacket() *ResultPacket {
	r := Result{Log: w.Outcome.Log}
	switch w.Outcome.Kind {
	case KindSuccess:
		r.Success = true
		r.Outputs = w.Outcome.Outputs
		if r.Outputs == nil {
			r.Outputs = map[string][]byte{}
		}
	case KindFailure:
		r.Crash = w.Outcome.Crash
	}
	return &ResultPacket{ID: w.ID, Result: r}
}
