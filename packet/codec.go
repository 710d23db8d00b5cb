// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packet

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

const (
	// Magic opens every stream.
	Magic = "CDRV"
	// Version is the current stream version.
	Version uint16 = 1
	// HeaderLen is the size of the stream header in bytes.
	HeaderLen = 8

	// FlagBrotli marks a stream whose packets are brotli compressed.
	FlagBrotli uint16 = 0x01
)

// Header opens a stream. It is written once by each side before any packet so
// that the peer can start reading.
type Header struct {
	Version uint16
	Flags   uint16
}

func (h Header) Compressed() bool {
	return h.Flags&FlagBrotli != 0
}

func (h Header) encode() []byte {
	var b [HeaderLen]byte
	copy(b[:4], Magic)
	binary.BigEndian.PutUint16(b[4:6], h.Version)
	binary.BigEndian.PutUint16(b[6:8], h.Flags)
	return b[:]
}

func decodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen || string(b[:4]) != Magic {
		return Header{}, ErrBadHeader
	}
	h := Header{
		Version: binary.BigEndian.Uint16(b[4:6]),
		Flags:   binary.BigEndian.Uint16(b[6:8]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EncoderOptions configure an Encoder.
type EncoderOptions struct {
	// Compress enables brotli compression of everything after the header.
	Compress bool
	// Level is the brotli level, brotli.DefaultCompression when zero.
	Level int
}

// Encoder writes packets to a stream. It is not safe for concurrent use;
// callers serialise writes.
type Encoder struct {
	bw       *bufio.Writer
	br       *brotli.Writer // nil unless compressing
	jenc     *json.Encoder
	header   Header
	wroteHdr bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer, opts EncoderOptions) *Encoder {
	e := &Encoder{
		bw:     bufio.NewWriter(w),
		header: Header{Version: Version},
	}
	if opts.Compress {
		level := opts.Level
		if level == 0 {
			level = brotli.DefaultCompression
		}
		e.header.Flags |= FlagBrotli
		e.br = brotli.NewWriterLevel(e.bw, level)
		e.jenc = json.NewEncoder(e.br)
	} else {
		e.jenc = json.NewEncoder(e.bw)
	}
	return e
}

// WriteHeader writes and flushes the stream header. It is a no-op after the
// first call.
func (e *Encoder) WriteHeader() error {
	if e.wroteHdr {
		return nil
	}
	if _, err := e.bw.Write(e.header.encode()); err != nil {
		return err
	}
	if err := e.bw.Flush(); err != nil {
		return err
	}
	e.wroteHdr = true
	return nil
}

// Encode writes p and flushes it to the underlying writer.
func (e *Encoder) Encode(p Packet) error {
	if err := e.WriteHeader(); err != nil {
		return err
	}

	var payload any = p
	if rp, ok := p.(*ResultPacket); ok {
		w := rp.toWire()
		payload = &w
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("packet: encoding %s: %w", p.Descriptor(), err)
	}
	if err := e.jenc.Encode(envelope{Type: p.Descriptor(), Payload: raw}); err != nil {
		return err
	}
	return e.flush()
}

func (e *Encoder) flush() error {
	if e.br != nil {
		if err := e.br.Flush(); err != nil {
			return err
		}
	}
	return e.bw.Flush()
}

// Close terminates the compressed stream, if any, and flushes. It does not
// close the underlying writer.
func (e *Encoder) Close() error {
	if e.br != nil {
		if err := e.br.Close(); err != nil {
			return err
		}
	}
	return e.bw.Flush()
}

// Decoder reads packets from a stream, rejecting every type descriptor its
// AllowList does not permit.
type Decoder struct {
	r       io.Reader
	allow   *AllowList
	jdec    *json.Decoder
	header  Header
	readHdr bool
}

// NewDecoder returns a Decoder reading from r. The allow-list is fixed for
// the lifetime of the Decoder.
func NewDecoder(r io.Reader, allow *AllowList) *Decoder {
	return &Decoder{r: r, allow: allow}
}

// ReadHeader reads the peer's stream header. It is called implicitly by the
// first Decode.
func (d *Decoder) ReadHeader() (Header, error) {
	if d.readHdr {
		return d.header, nil
	}
	var b [HeaderLen]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrBadHeader
		}
		return Header{}, err
	}
	h, err := decodeHeader(b[:])
	if err != nil {
		return Header{}, err
	}
	var src io.Reader = d.r
	if h.Compressed() {
		src = brotli.NewReader(d.r)
	}
	d.jdec = json.NewDecoder(src)
	d.header = h
	d.readHdr = true
	return h, nil
}

// Decode reads the next packet. It returns io.EOF when the stream ends
// cleanly between packets.
func (d *Decoder) Decode() (Packet, error) {
	if _, err := d.ReadHeader(); err != nil {
		return nil, err
	}

	var env envelope
	if err := d.jdec.Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !d.allow.Permits(env.Type) {
		return nil, &DisallowedTypeError{Type: env.Type}
	}

	switch env.Type {
	case TypeRequest:
		req := new(Request)
		if err := strictUnmarshal(env.Payload, req); err != nil {
			return nil, err
		}
		return req, nil
	case TypeResult:
		var probe struct {
			Outcome struct {
				Kind string `json:"kind"`
			} `json:"outcome"`
		}
		if err := json.Unmarshal(env.Payload, &probe); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		kind := probe.Outcome.Kind
		if kind != KindSuccess && kind != KindFailure {
			if !d.allow.Permits(kind) {
				return nil, &DisallowedTypeError{Type: kind}
			}
			return nil, fmt.Errorf("%w: outcome %q", ErrUnknownPacket, kind)
		}
		if !d.allow.Permits(kind) {
			return nil, &DisallowedTypeError{Type: kind}
		}
		var w resultWire
		if err := strictUnmarshal(env.Payload, &w); err != nil {
			return nil, err
		}
		return w.toPacket(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, env.Type)
	}
}

func strictUnmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
