// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package worker implements the worker side of the compilerd protocol.
//
// A [Server] reads requests from its input stream one at a time and hands
// each one to a fixed pool of goroutines, which run the [Backend] and write
// the result back. Results are written in completion order; clients match
// them to requests by id.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/packet"
)

var ErrProtocol = errors.New("worker: protocol violation")

// Backend turns compilation units into artifacts. It is called concurrently
// from every pool goroutine.
//
// An error or a panic is reported to the client as a failed result with a
// crash attached; it never stops the server. Ordinary compile errors should
// instead be reported as a Result with Success unset.
type Backend interface {
	Compile(ctx context.Context, units []packet.Unit, extraArgs []string, index *classpath.Index) (packet.Result, error)
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context, units []packet.Unit, extraArgs []string, index *classpath.Index) (packet.Result, error)

func (f BackendFunc) Compile(ctx context.Context, units []packet.Unit, extraArgs []string, index *classpath.Index) (packet.Result, error) {
	return f(ctx, units, extraArgs, index)
}

// State is the lifecycle state of a Server.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateReading
	StateDispatching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Options configure a Server.
type Options struct {
	// Workers is the pool size. Defaults to runtime.NumCPU().
	Workers int
	// Compress enables brotli compression of the output stream.
	Compress bool
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Server serves compile requests for a single session.
type Server struct {
	backend Backend
	index   *classpath.Index
	opts    Options
	log     zerolog.Logger

	state atomic.Int32

	// writeMu serializes writing results; packets never interleave.
	writeMu sync.Mutex
	enc     *packet.Encoder

	queue *backlog
}

// New returns a Server that compiles with backend against index.
func New(backend Backend, index *classpath.Index, opts Options) *Server {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	s := &Server{
		backend: backend,
		index:   index,
		opts:    opts,
		log:     log.Logger,
		queue:   newBacklog(),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Pending returns the number of accepted requests not yet picked up by a pool
// goroutine.
func (s *Server) Pending() int {
	return s.queue.len()
}

// Serve reads requests from r and writes results to w until r ends or the
// peer violates the protocol. Requests already accepted are completed before
// Serve returns. A clean end of input returns nil.
//
// A Server serves a single session; Serve must not be called twice.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateReady)) {
		return fmt.Errorf("worker: server already %v", s.State())
	}

	s.enc = packet.NewEncoder(w, packet.EncoderOptions{Compress: s.opts.Compress})
	s.writeMu.Lock()
	err := s.enc.WriteHeader()
	s.writeMu.Unlock()
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("worker: writing stream header: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.work(ctx, n)
		}(i)
	}

	s.log.Info().Int("workers", s.opts.Workers).Msg("ready for requests")
	err = s.readLoop(r)

	s.queue.close()
	wg.Wait()

	s.writeMu.Lock()
	if cerr := s.enc.Close(); cerr != nil && err == nil && !errors.Is(cerr, io.ErrClosedPipe) {
		s.log.Debug().Err(cerr).Msg("error closing output stream")
	}
	s.writeMu.Unlock()

	s.state.Store(int32(StateStopped))
	return err
}

func (s *Server) readLoop(r io.Reader) error {
	dec := packet.NewDecoder(r, packet.ServerAllowList())
	if _, err := dec.ReadHeader(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		s.log.Error().Err(err).Msg("error reading stream header")
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	for {
		s.state.Store(int32(StateReading))
		p, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info().Msg("input closed, stopping")
				return nil
			}
			var dte *packet.DisallowedTypeError
			if errors.As(err, &dte) || errors.Is(err, packet.ErrUnknownPacket) {
				s.log.Error().Err(err).Msg("unknown packet, stopping")
				return fmt.Errorf("%w: %v", ErrProtocol, err)
			}
			s.log.Error().Err(err).Msg("error reading packet, stopping")
			return fmt.Errorf("worker: reading packet: %w", err)
		}

		req, ok := p.(*packet.Request)
		if !ok {
			s.log.Error().Str("type", p.Descriptor()).Msg("unknown packet, stopping")
			return fmt.Errorf("%w: unexpected %s", ErrProtocol, p.Descriptor())
		}
		s.state.Store(int32(StateDispatching))
		s.log.Debug().Stringer("id", req.ID).Int("units", len(req.Units)).Msg("received request")
		s.queue.push(req)
	}
}

func (s *Server) work(ctx context.Context, n int) {
	for {
		req, ok := s.queue.pop()
		if !ok {
			return
		}
		s.log.Debug().Stringer("id", req.ID).Int("worker", n).Msg("executing request")
		res := s.invoke(ctx, req)
		s.writePacket(&packet.ResultPacket{ID: req.ID, Result: res})
	}
}

// invoke runs the backend for req. A failure of the backend is contained to
// this request's result.
func (s *Server) invoke(ctx context.Context, req *packet.Request) packet.Result {
	res := Invoke(ctx, s.backend, s.index, req.Units, req.ExtraArgs)
	if c := res.Crash; c != nil {
		ev := s.log.Error().Stringer("id", req.ID).Str("type", c.Type).Str("crash", c.Message)
		if c.Stack != "" {
			ev = ev.Str("stack", c.Stack)
		}
		ev.Msg("compile backend crashed")
	}
	return res
}

// Invoke runs backend once over units. A panic in the backend, or an error it
// returns, becomes a failed Result carrying a Crash; Invoke itself never
// panics. Successful results always have a non-nil Outputs map.
func Invoke(ctx context.Context, backend Backend, index *classpath.Index, units []packet.Unit, extraArgs []string) (res packet.Result) {
	defer func() {
		if v := recover(); v != nil {
			res = packet.Failure("", packet.NewCrash(v))
		}
	}()

	res, err := backend.Compile(ctx, units, extraArgs, index)
	if err != nil {
		return packet.Failure(res.Log, packet.ErrorCrash(err))
	}
	if res.Success && res.Outputs == nil {
		res.Outputs = map[string][]byte{}
	}
	return res
}

func (s *Server) writePacket(p packet.Packet) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.enc.Encode(p); err != nil {
		s.log.Error().Err(err).Msg("error writing packet")
	}
}
