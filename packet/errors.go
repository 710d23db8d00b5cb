// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packet

import (
	"errors"
	"fmt"
)

var (
	ErrBadHeader          = errors.New("packet: bad stream header")
	ErrUnsupportedVersion = errors.New("packet: unsupported stream version")
	ErrDisallowedType     = errors.New("packet: type not allowed")
	ErrUnknownPacket      = errors.New("packet: unknown packet type")
	ErrMalformed          = errors.New("packet: malformed packet")
)

// A DisallowedTypeError reports a descriptor rejected by the decoder's
// allow-list.
type DisallowedTypeError struct {
	Type string
}

func (e *DisallowedTypeError) Error() string {
	return fmt.Sprintf("packet: type %q is not allowed to be decoded", e.Type)
}

func (e *DisallowedTypeError) Unwrap() error {
	return ErrDisallowedType
}
