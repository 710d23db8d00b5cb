// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package classpath

import (
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Kind classifies an entry by its extension.
type Kind uint8

const (
	KindOther Kind = iota
	KindSource
	KindClass
	KindHTML
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindClass:
		return "class"
	case KindHTML:
		return "html"
	default:
		return "other"
	}
}

var sourceExts = map[string]bool{
	".java": true,
	".js":   true,
	".mjs":  true,
	".cjs":  true,
	".jsx":  true,
	".ts":   true,
	".tsx":  true,
}

// KindOf returns the Kind of the file named name.
func KindOf(name string) Kind {
	ext := path.Ext(name)
	switch {
	case ext == ".class":
		return KindClass
	case ext == ".html":
		return KindHTML
	case sourceExts[ext]:
		return KindSource
	default:
		return KindOther
	}
}

// KindSet is a set of Kinds. The empty set matches every kind.
type KindSet uint8

// Kinds returns the set holding ks.
func Kinds(ks ...Kind) KindSet {
	var s KindSet
	for _, k := range ks {
		s |= 1 << k
	}
	return s
}

// Matches reports whether k is in s, or s is empty.
func (s KindSet) Matches(k Kind) bool {
	return s == 0 || s&(1<<k) != 0
}

// Origin is the kind of storage an entry was indexed from.
type Origin uint8

const (
	OriginFilesystem Origin = iota
	OriginArchive
)

func (o Origin) String() string {
	if o == OriginArchive {
		return "archive"
	}
	return "filesystem"
}

// Entry is one file visible on the classpath. It is immutable once indexed;
// its content is only read when Open or ReadAll is called.
type Entry struct {
	path   string
	kind   Kind
	origin Origin
	root   string // absolute path of the archive or directory root
	owner  *Index
	open   func() (io.ReadCloser, error)
}

func newEntry(owner *Index, origin Origin, root, p string, open func() (io.ReadCloser, error)) *Entry {
	return &Entry{
		path:   p,
		kind:   KindOf(p),
		origin: origin,
		root:   root,
		owner:  owner,
		open:   open,
	}
}

// Path is the slash separated path of the entry relative to its root.
func (e *Entry) Path() string { return e.path }

// Name is the last element of Path.
func (e *Entry) Name() string { return path.Base(e.path) }

func (e *Entry) Kind() Kind { return e.kind }

func (e *Entry) Origin() Origin { return e.origin }

// Open opens the entry's content for reading.
func (e *Entry) Open() (io.ReadCloser, error) {
	return e.open()
}

// ReadAll reads the whole content of the entry.
func (e *Entry) ReadAll() ([]byte, error) {
	rc, err := e.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// URI identifies the entry the way compilers report it: a file URL for
// directory entries and a jar URL for archive members.
func (e *Entry) URI() string {
	if e.origin == OriginArchive {
		return "jar:" + fileURL(e.root) + "!/" + e.path
	}
	return fileURL(filepath.Join(e.root, filepath.FromSlash(e.path)))
}

// IsNameCompatible reports whether the entry is of kind k and its file name,
// without extension, is simpleName.
func (e *Entry) IsNameCompatible(simpleName string, k Kind) bool {
	if e.kind != k {
		return false
	}
	name := e.Name()
	return strings.TrimSuffix(name, path.Ext(name)) == simpleName
}

// LogicalIdentifier converts an entry path to the dotted identifier a
// compiler uses for it: "java/lang/Object.class" becomes "java.lang.Object".
func LogicalIdentifier(e *Entry) string {
	p := e.path
	p = strings.TrimSuffix(p, path.Ext(p))
	return strings.ReplaceAll(p, "/", ".")
}

func fileURL(p string) string {
	p = filepath.ToSlash(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}
