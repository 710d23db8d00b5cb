// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compilerd

import (
	"errors"
	"fmt"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/packet"
	"github.com/breezewish/go-compilerd/worker"
)

var ErrWorkerTerminated = errors.New("compilerd: worker terminated unexpectedly")

var ErrWorkerDead = errors.New("compilerd: worker is not running")

var ErrClosed = errors.New("compilerd: session closed")

var ErrProtocol = errors.New("compilerd: protocol violation")

var ErrHandshakeTimeout = errors.New("compilerd: timed out waiting for worker handshake")

var ErrWorkerNotFound = errors.New("compilerd: worker executable not found")

// A ConfigError reports a session that could not be set up from its
// configuration.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("compilerd: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies errors returned by this module.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration errors surface from Start and LoadConfig.
	KindConfiguration
	// KindProtocol errors end the session that detected them.
	KindProtocol
	// KindTaskFailure errors are scoped to a single compilation.
	KindTaskFailure
	// KindConnectionLost errors mean the worker is gone.
	KindConnectionLost
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindProtocol:
		return "protocol"
	case KindTaskFailure:
		return "task failure"
	case KindConnectionLost:
		return "connection lost"
	default:
		return "unknown"
	}
}

// Kind returns the kind of err. A crash taken from a Result's Crash field is
// a task failure.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var (
		configErr *ConfigError
		rootErr   *classpath.RootError
		crash     *packet.Crash
	)
	switch {
	case errors.As(err, &configErr),
		errors.As(err, &rootErr),
		errors.Is(err, ErrWorkerNotFound),
		errors.Is(err, classpath.ErrUnsupportedRoot),
		errors.Is(err, classpath.ErrFrozen):
		return KindConfiguration
	case errors.Is(err, ErrProtocol),
		errors.Is(err, worker.ErrProtocol),
		isStreamError(err):
		return KindProtocol
	case errors.As(err, &crash):
		return KindTaskFailure
	case errors.Is(err, ErrWorkerTerminated),
		errors.Is(err, ErrWorkerDead),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrHandshakeTimeout):
		return KindConnectionLost
	}
	return KindUnknown
}

// isStreamError reports whether err was raised by the packet codec.
func isStreamError(err error) bool {
	return errors.Is(err, packet.ErrDisallowedType) ||
		errors.Is(err, packet.ErrUnknownPacket) ||
		errors.Is(err, packet.ErrMalformed) ||
		errors.Is(err, packet.ErrBadHeader) ||
		errors.Is(err, packet.ErrUnsupportedVersion)
}
