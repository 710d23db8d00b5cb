// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package classpath implements a shared classpath cache.
//
// A compile server answers many short-lived compile requests against the same
// classpath. Re-opening and re-scanning every archive and directory for each
// request dominates the cost of small compilations, so an [Index] scans each
// root once and then serves folder-scoped listings from memory for the rest
// of the process lifetime.
//
// An Index is built by a single goroutine with [Index.AddRoot], published with
// [Index.Freeze], and may then be read by any number of goroutines without
// locking.
package classpath

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Location labels a group of classpath roots.
type Location string

const (
	ClassPath         Location = "classpath"
	PlatformClassPath Location = "platform"
	SourcePath        Location = "sourcepath"
)

var (
	ErrUnsupportedRoot = errors.New("classpath: unsupported root")
	ErrFrozen          = errors.New("classpath: index is frozen")
	ErrClosed          = errors.New("classpath: index is closed")
)

// A RootError reports a classpath root that could not be indexed.
type RootError struct {
	Path string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("classpath: cannot index %s: %v", e.Path, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used while indexing.
func WithLogger(l zerolog.Logger) Option {
	return func(idx *Index) {
		idx.log = l
	}
}

// Index maps each location to its folders, and each folder to the entries
// directly inside it.
type Index struct {
	log zerolog.Logger

	archives []*zip.ReadCloser
	// folder keys are slash terminated: "java/lang/". Entries at the top of
	// a root live under "/".
	index map[Location]map[string][]*Entry

	frozen    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New returns an empty Index.
func New(opts ...Option) *Index {
	idx := &Index{
		log:   log.Logger,
		index: make(map[Location]map[string][]*Entry),
	}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// AddRoot indexes path under loc. Archives (.jar, .zip) are opened and kept
// open until Close; directories are walked recursively. Module images (.jmod)
// are skipped. Any other path is rejected with ErrUnsupportedRoot.
func (idx *Index) AddRoot(loc Location, path string) error {
	if idx.frozen.Load() {
		return ErrFrozen
	}
	if idx.closed.Load() {
		return ErrClosed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return &RootError{Path: path, Err: err}
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return &RootError{Path: path, Err: err}
	}

	ext := strings.ToLower(filepath.Ext(abs))
	switch {
	case fi.IsDir():
		err = idx.indexDirectory(loc, abs)
	case ext == ".jar" || ext == ".zip":
		err = idx.indexArchive(loc, abs)
	case ext == ".jmod":
		idx.log.Debug().Str("root", abs).Msg("skipping module image")
		return nil
	default:
		err = ErrUnsupportedRoot
	}
	if err != nil {
		return &RootError{Path: path, Err: err}
	}
	return nil
}

func (idx *Index) indexArchive(loc Location, file string) error {
	// Member names are normalised below, so insecure names are not fatal.
	zr, err := zip.OpenReader(file)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return err
	}
	idx.archives = append(idx.archives, zr)

	n := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.ReplaceAll(f.Name, `\`, "/")
		name = strings.TrimLeft(name, "/")
		if name == "" {
			continue
		}
		idx.addEntry(loc, newEntry(idx, OriginArchive, file, name, f.Open))
		n++
	}
	idx.log.Debug().Str("location", string(loc)).Str("archive", file).Int("entries", n).Msg("indexed archive")
	return nil
}

func (idx *Index) indexDirectory(loc Location, dir string) error {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		idx.addEntry(loc, newEntry(idx, OriginFilesystem, dir, filepath.ToSlash(rel), func() (io.ReadCloser, error) {
			return os.Open(p)
		}))
		n++
		return nil
	})
	if err != nil {
		return err
	}
	idx.log.Debug().Str("location", string(loc)).Str("dir", dir).Int("entries", n).Msg("indexed directory")
	return nil
}

func (idx *Index) addEntry(loc Location, e *Entry) {
	folder := "/"
	if i := strings.LastIndexByte(e.path, '/'); i >= 0 {
		folder = e.path[:i+1]
	}
	m := idx.index[loc]
	if m == nil {
		m = make(map[string][]*Entry)
		idx.index[loc] = m
	}
	m[folder] = append(m[folder], e)
}

// Freeze publishes the index. AddRoot fails afterwards.
func (idx *Index) Freeze() {
	idx.frozen.Store(true)
}

// Has reports whether any root was indexed under loc.
func (idx *Index) Has(loc Location) bool {
	_, ok := idx.index[loc]
	return ok
}

// Lookup lists the entries of folder under loc. Without recursive it returns
// exactly the entries directly inside folder; with recursive it also returns
// the entries of every folder below it. A non-empty kinds keeps only the
// entries of those kinds. The root folder is "" or "/"; a recursive lookup of
// it returns every entry under loc, not only the top-level ones.
//
// Lookup never touches the backing storage.
func (idx *Index) Lookup(loc Location, folder string, kinds KindSet, recursive bool) []*Entry {
	m := idx.index[loc]
	if m == nil {
		return nil
	}
	folder = normalizeFolder(folder)

	var out []*Entry
	if !recursive {
		out = filterKinds(m[folder], kinds)
	} else {
		keys := make([]string, 0, len(m))
		for k := range m {
			if folder == "/" || strings.HasPrefix(k, folder) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, filterKinds(m[k], kinds)...)
		}
	}
	return out
}

// LookupPackage is Lookup with a dotted package name, "java.lang", instead of
// a folder.
func (idx *Index) LookupPackage(loc Location, pkg string, kinds KindSet, recursive bool) []*Entry {
	return idx.Lookup(loc, strings.ReplaceAll(pkg, ".", "/"), kinds, recursive)
}

// Find returns the entry at the slash separated path p under loc.
func (idx *Index) Find(loc Location, p string) (*Entry, bool) {
	p = strings.TrimLeft(p, "/")
	folder := "/"
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		folder = p[:i+1]
	}
	for _, e := range idx.index[loc][folder] {
		if e.path == p {
			return e, true
		}
	}
	return nil, false
}

// Close releases every archive opened while indexing. It is safe to call more
// than once.
func (idx *Index) Close() error {
	idx.closeOnce.Do(func() {
		idx.closed.Store(true)
		var errs []error
		for _, zr := range idx.archives {
			if err := zr.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		idx.archives = nil
		idx.closeErr = errors.Join(errs...)
	})
	return idx.closeErr
}

func normalizeFolder(folder string) string {
	folder = strings.TrimLeft(folder, "/")
	if folder == "" {
		return "/"
	}
	if !strings.HasSuffix(folder, "/") {
		folder += "/"
	}
	return folder
}

func filterKinds(entries []*Entry, kinds KindSet) []*Entry {
	if kinds == 0 {
		return slices.Clone(entries)
	}
	var out []*Entry
	for _, e := range entries {
		if kinds.Matches(e.kind) {
			out = append(out, e)
		}
	}
	return out
}
