// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package classpath

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Lister lists the files a compiler can see.
type Lister interface {
	// List returns the entries in folder under loc, filtered by kinds.
	List(loc Location, folder string, kinds KindSet, recursive bool) ([]*Entry, error)
	// BinaryName returns the logical identifier of e, and false if the
	// Lister does not know e.
	BinaryName(loc Location, e *Entry) (string, bool)
}

// Lister returns a Lister that serves the locations indexed in idx from
// memory and forwards everything else to delegate unchanged.
func (idx *Index) Lister(delegate Lister) Lister {
	if delegate == nil {
		delegate = NopLister{}
	}
	return &forwardingLister{idx: idx, delegate: delegate}
}

type forwardingLister struct {
	idx      *Index
	delegate Lister
}

func (f *forwardingLister) List(loc Location, folder string, kinds KindSet, recursive bool) ([]*Entry, error) {
	if !f.idx.Has(loc) {
		return f.delegate.List(loc, folder, kinds, recursive)
	}
	return f.idx.Lookup(loc, folder, kinds, recursive), nil
}

func (f *forwardingLister) BinaryName(loc Location, e *Entry) (string, bool) {
	if e != nil && e.owner == f.idx {
		return LogicalIdentifier(e), true
	}
	return f.delegate.BinaryName(loc, e)
}

// NopLister lists nothing.
type NopLister struct{}

func (NopLister) List(Location, string, KindSet, bool) ([]*Entry, error) { return nil, nil }

func (NopLister) BinaryName(Location, *Entry) (string, bool) { return "", false }

// DirLister lists directories straight from disk on every call. It is the
// uncached path, suited to sources that change while the server runs.
type DirLister struct {
	Roots map[Location][]string
}

func (d *DirLister) List(loc Location, folder string, kinds KindSet, recursive bool) ([]*Entry, error) {
	folder = normalizeFolder(folder)
	rel := ""
	if folder != "/" {
		rel = strings.TrimSuffix(folder, "/")
	}

	var out []*Entry
	for _, root := range d.Roots[loc] {
		root, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		base := filepath.Join(root, filepath.FromSlash(rel))
		add := func(p string) error {
			r, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			e := newEntry(nil, OriginFilesystem, root, filepath.ToSlash(r), func() (io.ReadCloser, error) {
				return os.Open(p)
			})
			if kinds.Matches(e.kind) {
				out = append(out, e)
			}
			return nil
		}

		if !recursive {
			des, err := os.ReadDir(base)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, de := range des {
				if de.IsDir() {
					continue
				}
				if err := add(filepath.Join(base, de.Name())); err != nil {
					return nil, err
				}
			}
			continue
		}

		err = filepath.WalkDir(base, func(p string, de fs.DirEntry, err error) error {
			if err != nil {
				if p == base && errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			if de.IsDir() {
				return nil
			}
			return add(p)
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *DirLister) BinaryName(_ Location, e *Entry) (string, bool) {
	if e == nil || e.origin != OriginFilesystem || e.owner != nil {
		return "", false
	}
	return LogicalIdentifier(e), true
}

// Resolve finds the first entry under loc whose path, without extension, is
// p, trying exts in order. It is how module style imports such as "lib/util"
// are matched against ".ts" or ".js" files.
func Resolve(l Lister, loc Location, p string, exts []string) (*Entry, error) {
	p = strings.TrimLeft(p, "/")
	dir, file := path.Split(p)
	entries, err := l.List(loc, dir, Kinds(KindSource, KindOther), false)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		byName[e.Name()] = e
	}
	if e, ok := byName[file]; ok && path.Ext(file) != "" {
		return e, nil
	}
	for _, ext := range exts {
		if e, ok := byName[file+ext]; ok {
			return e, nil
		}
	}
	return nil, nil
}
