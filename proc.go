// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compilerd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/breezewish/go-compilerd/internal/logging"
	"github.com/breezewish/go-compilerd/packet"
)

// State is the lifecycle state of a Proc.
type State int32

const (
	StateStarting State = iota
	StateNegotiating
	StateReady
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateNegotiating:
		return "negotiating"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type callResult struct {
	res Result
	err error
}

// Proc is a session with a worker process.
//
// Compile may be called from any number of goroutines.
type Proc struct {
	config Config
	log    zerolog.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser  // from the child process
	stdin  io.WriteCloser // to the child process
	stderr io.ReadCloser  // from the child process
	enc    *packet.Encoder
	dec    *packet.Decoder

	state         atomic.Int32
	exitRequested atomic.Bool
	ctx           context.Context    // valid until the session stops
	ctxCancel     context.CancelFunc // kills the child process
	loops         sync.WaitGroup     // readLoop and logLoop
	done          chan struct{}      // closed once the session is stopped
	closeOnce     sync.Once

	mu        sync.Mutex // guards following fields
	inFlight  map[uuid.UUID]chan<- callResult
	abandoned map[uuid.UUID]struct{}
	err       error // first fatal session error

	// writeMu serializes writing to the child process.
	// It must never be held at the same time as mu.
	writeMu sync.Mutex
}

// Start starts the worker described by cfg and returns a handle that talks to
// it.
//
// It blocks until the worker has answered the stream handshake, at most
// cfg.HandshakeTimeout.
func Start(cfg Config) (*Proc, error) {
	return StartContext(context.Background(), cfg)
}

// StartContext is like Start but gives up the handshake when ctx is done.
// ctx does not bound the lifetime of the session.
func StartContext(ctx context.Context, cfg Config) (*Proc, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pc := &Proc{
		config: cfg,
		log:    log.Logger,
		done:   make(chan struct{}),
	}
	if cfg.Logger != nil {
		pc.log = *cfg.Logger
	}
	pc.state.Store(int32(StateStarting))

	prog, args, err := cfg.command()
	if err != nil {
		return nil, err
	}

	pc.ctx, pc.ctxCancel = context.WithCancel(context.Background())

	cmd := exec.CommandContext(pc.ctx, prog, args...)
	if pc.stdout, err = cmd.StdoutPipe(); err != nil {
		pc.ctxCancel()
		return nil, fmt.Errorf("compilerd: stdout pipe to worker: %w", err)
	}
	if pc.stdin, err = cmd.StdinPipe(); err != nil {
		pc.ctxCancel()
		return nil, fmt.Errorf("compilerd: stdin pipe to worker: %w", err)
	}
	if pc.stderr, err = cmd.StderrPipe(); err != nil {
		pc.ctxCancel()
		return nil, fmt.Errorf("compilerd: stderr pipe to worker: %w", err)
	}
	cmd.Cancel = func() error {
		pc.stdin.Close()
		pc.stdout.Close()
		pc.stderr.Close()
		return cmd.Process.Kill()
	}
	pc.cmd = cmd

	pc.log.Debug().Str("worker", prog).Strs("args", args).Msg("starting worker")
	if err := cmd.Start(); err != nil {
		pc.ctxCancel()
		return nil, &ConfigError{Op: "start worker", Err: err}
	}

	pc.state.Store(int32(StateNegotiating))
	pc.enc = packet.NewEncoder(pc.stdin, packet.EncoderOptions{Compress: cfg.Compress})
	pc.dec = packet.NewDecoder(pc.stdout, packet.ClientAllowList())

	pc.loops.Add(1)
	go pc.logLoop()

	if err := pc.handshake(ctx); err != nil {
		pc.ctxCancel()
		pc.loops.Wait()
		_ = cmd.Wait()
		pc.state.Store(int32(StateStopped))
		close(pc.done)
		return nil, fmt.Errorf("compilerd: worker handshake: %w", err)
	}

	pc.inFlight = make(map[uuid.UUID]chan<- callResult)
	pc.abandoned = make(map[uuid.UUID]struct{})
	pc.state.Store(int32(StateReady))

	pc.loops.Add(1)
	go pc.readLoop()
	go pc.supervise()

	return pc, nil
}

// handshake writes our stream header and waits for the worker's.
func (c *Proc) handshake(ctx context.Context) error {
	// A worker that already exited may still have left its header in the
	// pipe, so a failed write is only reported after reading.
	writeErr := c.enc.WriteHeader()

	timeout := c.config.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	readDone := make(chan error, 1)
	go func() {
		_, err := c.dec.ReadHeader()
		readDone <- err
	}()

	var err error
	select {
	case err = <-readDone:
		switch {
		case errors.Is(err, io.EOF):
			return ErrWorkerTerminated
		case err != nil:
			return err
		case writeErr != nil:
			return fmt.Errorf("%w: %v", ErrWorkerTerminated, writeErr)
		}
		return nil
	case <-timer.C:
		err = fmt.Errorf("%w after %v", ErrHandshakeTimeout, timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	// Unblock the reader before returning.
	c.ctxCancel()
	<-readDone
	return err
}

// logLoop relays the worker's stderr into our log, each line at the level the
// worker logged it.
func (c *Proc) logLoop() {
	defer c.loops.Done()

	sc := bufio.NewScanner(c.stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logging.Relay(c.log, "worker: ", sc.Bytes())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		c.log.Warn().Err(err).Msg("cannot read worker stderr")
		// Keep draining so the worker never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, c.stderr)
	}
}

func (c *Proc) readLoop() {
	defer c.loops.Done()

	for {
		pkt, err := c.dec.Decode()
		if err != nil {
			if c.exitRequested.Load() {
				return // quit quietly without any errors
			}
			switch {
			case errors.Is(err, io.EOF):
				c.fail(ErrWorkerTerminated)
			case isStreamError(err):
				c.fail(fmt.Errorf("%w: %v", ErrProtocol, err))
			default:
				c.fail(fmt.Errorf("%w: %v", ErrWorkerTerminated, err))
			}
			return
		}

		res, ok := pkt.(*packet.ResultPacket)
		if !ok {
			c.fail(fmt.Errorf("%w: unexpected %s packet from worker", ErrProtocol, pkt.Descriptor()))
			return
		}

		c.mu.Lock()
		ch, ok := c.inFlight[res.ID]
		delete(c.inFlight, res.ID)
		_, abandoned := c.abandoned[res.ID]
		delete(c.abandoned, res.ID)
		c.mu.Unlock()

		switch {
		case ok:
			ch <- callResult{res: res.Result}
		case abandoned:
			c.log.Debug().Stringer("id", res.ID).Msg("dropping result of abandoned request")
		default:
			c.fail(fmt.Errorf("%w: result for unknown request %v", ErrProtocol, res.ID))
			return
		}
	}
}

// fail records err as the session error, fails every pending call with it
// and kills the worker.
func (c *Proc) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		c.log.Error().Err(err).Msg("worker session failed")
	}
	pending := c.inFlight
	c.inFlight = nil
	c.mu.Unlock()

	c.state.CompareAndSwap(int32(StateReady), int32(StateStopping))
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
	c.ctxCancel()
}

// supervise reaps the worker once both loops are done.
func (c *Proc) supervise() {
	c.loops.Wait()
	// Both loops are gone, so nothing reads the pipes any more.
	c.ctxCancel()
	if err := c.cmd.Wait(); err != nil && !c.exitRequested.Load() {
		c.log.Warn().Err(err).Msg("worker exited")
	}

	c.mu.Lock()
	pending := c.inFlight
	c.inFlight = nil
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: ErrClosed}
	}

	c.state.Store(int32(StateStopped))
	close(c.done)
}

// Compile sends units to the worker and waits for their result.
//
// A compile error or a crash of the compile backend is reported in the
// returned Result. An error is returned only when no result can be had: the
// session failed or was closed, or ctx was done first. Cancelling ctx
// abandons the request without affecting the session.
func (c *Proc) Compile(ctx context.Context, units []Unit, extraArgs []string) (Result, error) {
	if c.exitRequested.Load() {
		return Result{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	req := &packet.Request{ID: uuid.New(), Units: units, ExtraArgs: extraArgs}
	resc := make(chan callResult, 1)
	if err := c.writeToChild(req, resc); err != nil {
		return Result{}, err
	}

	select {
	case r := <-resc:
		return r.res, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if _, ok := c.inFlight[req.ID]; ok {
			delete(c.inFlight, req.ID)
			c.abandoned[req.ID] = struct{}{}
		}
		c.mu.Unlock()
		return Result{}, ctx.Err()
	}
}

// CompileSource compiles a single unit.
func (c *Proc) CompileSource(ctx context.Context, sourceURI, content string, extraArgs ...string) (Result, error) {
	return c.Compile(ctx, []Unit{{SourceURI: sourceURI, Content: content}}, extraArgs)
}

func (c *Proc) writeToChild(req *packet.Request, resc chan<- callResult) (err error) {
	c.mu.Lock()
	if c.inFlight == nil {
		sessionErr := c.err
		c.mu.Unlock()
		if c.exitRequested.Load() || sessionErr == nil {
			return ErrClosed
		}
		return fmt.Errorf("%w: %v", ErrWorkerDead, sessionErr)
	}
	c.inFlight[req.ID] = resc
	c.mu.Unlock()

	defer func() {
		if err != nil {
			c.mu.Lock()
			if c.inFlight != nil {
				delete(c.inFlight, req.ID)
			}
			c.mu.Unlock()
		}
	}()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.enc.Encode(req); err != nil {
		if c.exitRequested.Load() {
			return ErrClosed
		}
		return fmt.Errorf("%w: %v", ErrWorkerDead, err)
	}
	if c.config.Debug {
		c.log.Debug().Stringer("id", req.ID).Int("units", len(req.Units)).Msg("sent request")
	}
	return nil
}

// Close stops the worker and waits for it to exit. Pending calls fail with
// ErrClosed.
//
// Close returns the error that ended the session before Close was called, if
// any. Calling it again has no effect and returns the same error.
func (c *Proc) Close() error {
	c.closeOnce.Do(func() {
		c.exitRequested.Store(true)
		c.state.CompareAndSwap(int32(StateReady), int32(StateStopping))
		// Cancelling the context closes the worker's stdin and kills it.
		c.ctxCancel()
	})
	<-c.done
	return c.Err()
}

// Err returns the error that ended the session, or nil.
func (c *Proc) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel that is closed once the session has stopped, either
// by Close or because the worker went away.
func (c *Proc) Done() <-chan struct{} {
	return c.done
}

// State returns the current lifecycle state.
func (c *Proc) State() State {
	return State(c.state.Load())
}
