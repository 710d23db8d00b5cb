// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package packet

import (
	"strings"
)

var primitives = map[string]bool{
	"bool":    true,
	"string":  true,
	"byte":    true,
	"rune":    true,
	"int":     true,
	"int8":    true,
	"int16":   true,
	"int32":   true,
	"int64":   true,
	"uint":    true,
	"uint8":   true,
	"uint16":  true,
	"uint32":  true,
	"uint64":  true,
	"float32": true,
	"float64": true,
}

// AllowList is an immutable set of type descriptors a [Decoder] accepts.
//
// An entry ending in "." or ".*" permits every descriptor in that namespace;
// any other entry permits exactly that descriptor. Primitive descriptors are
// always permitted, and "[]T", "[N]T" and "*T" are permitted when T is.
// A nil AllowList permits nothing.
type AllowList struct {
	names    map[string]struct{}
	prefixes []string
}

// NewAllowList builds an AllowList from entries.
func NewAllowList(entries ...string) *AllowList {
	a := &AllowList{names: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		switch {
		case e == "":
		case strings.HasSuffix(e, ".*"):
			a.prefixes = append(a.prefixes, strings.TrimSuffix(e, "*"))
		case strings.HasSuffix(e, "."):
			a.prefixes = append(a.prefixes, e)
		default:
			a.names[e] = struct{}{}
		}
	}
	return a
}

// ServerAllowList is the allow-list used by the worker: it only ever expects
// requests.
func ServerAllowList() *AllowList {
	return NewAllowList(TypeRequest)
}

// ClientAllowList is the allow-list used by the client: results and the two
// outcome kinds they carry.
func ClientAllowList() *AllowList {
	return NewAllowList(TypeResult, KindSuccess, KindFailure)
}

// Permits reports whether desc may be decoded.
func (a *AllowList) Permits(desc string) bool {
	if a == nil || desc == "" {
		return false
	}
	if primitives[desc] {
		return true
	}
	if _, ok := a.names[desc]; ok {
		return true
	}
	switch desc[0] {
	case '*':
		return a.Permits(desc[1:])
	case '[':
		end := strings.IndexByte(desc, ']')
		if end < 0 {
			return false
		}
		for _, c := range desc[1:end] {
			if c < '0' || c > '9' {
				return false
			}
		}
		return a.Permits(desc[end+1:])
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(desc, p) && len(desc) > len(p) {
			return true
		}
	}
	return false
}
