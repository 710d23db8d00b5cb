// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsbackend

import (
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/breezewish/go-compilerd/classpath"
)

// resolver resolves the imports of one build. Units live in the "unit"
// namespace under their own path; classpath entries live in the "classpath"
// namespace under "<location>:<path>".
type resolver struct {
	units     map[string]string
	lister    classpath.Lister
	locations []classpath.Location
	exts      []string
}

func (r *resolver) plugin() api.Plugin {
	return api.Plugin{
		Name: "compilerd-classpath",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, r.onResolve)
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: nsUnit}, r.loadUnit)
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: nsClasspath}, r.loadEntry)
		},
	}
}

func (r *resolver) onResolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Kind == api.ResolveEntryPoint {
		if _, ok := r.units[args.Path]; ok {
			return api.OnResolveResult{Path: args.Path, Namespace: nsUnit}, nil
		}
		return api.OnResolveResult{}, fmt.Errorf("no compilation unit %q", args.Path)
	}

	target := args.Path
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		target = path.Join(path.Dir(importerPath(args)), target)
	}
	target = strings.TrimLeft(path.Clean("/"+target), "/")

	if p, ok := r.findUnit(target); ok {
		return api.OnResolveResult{Path: p, Namespace: nsUnit}, nil
	}
	for _, loc := range r.locations {
		e, err := r.findEntry(loc, target)
		if err != nil {
			return api.OnResolveResult{}, err
		}
		if e != nil {
			return api.OnResolveResult{
				Path:       string(loc) + ":" + e.Path(),
				Namespace:  nsClasspath,
				PluginData: e,
			}, nil
		}
	}
	return api.OnResolveResult{}, fmt.Errorf("cannot resolve %q: not a unit and not on the classpath", args.Path)
}

// importerPath strips the location prefix of classpath importers.
func importerPath(args api.OnResolveArgs) string {
	if args.Namespace == nsClasspath {
		if _, p, ok := strings.Cut(args.Importer, ":"); ok {
			return p
		}
	}
	return args.Importer
}

func (r *resolver) findUnit(p string) (string, bool) {
	if _, ok := r.units[p]; ok {
		return p, true
	}
	for _, base := range []string{p, p + "/index"} {
		for _, ext := range r.exts {
			if _, ok := r.units[base+ext]; ok {
				return base + ext, true
			}
		}
	}
	return "", false
}

func (r *resolver) findEntry(loc classpath.Location, p string) (*classpath.Entry, error) {
	e, err := classpath.Resolve(r.lister, loc, p, r.exts)
	if err != nil || e != nil {
		return e, err
	}
	return classpath.Resolve(r.lister, loc, p+"/index", r.exts)
}

func (r *resolver) loadUnit(args api.OnLoadArgs) (api.OnLoadResult, error) {
	src, ok := r.units[args.Path]
	if !ok {
		return api.OnLoadResult{}, fmt.Errorf("no compilation unit %q", args.Path)
	}
	return api.OnLoadResult{Contents: &src, Loader: loaderFor(args.Path)}, nil
}

func (r *resolver) loadEntry(args api.OnLoadArgs) (api.OnLoadResult, error) {
	e, ok := args.PluginData.(*classpath.Entry)
	if !ok {
		return api.OnLoadResult{}, fmt.Errorf("classpath entry %q went missing", args.Path)
	}
	b, err := e.ReadAll()
	if err != nil {
		return api.OnLoadResult{}, fmt.Errorf("reading %s: %w", e.URI(), err)
	}
	src := string(b)
	return api.OnLoadResult{Contents: &src, Loader: loaderFor(e.Path())}, nil
}

func loaderFor(p string) api.Loader {
	switch path.Ext(p) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	case ".json":
		return api.LoaderJSON
	case ".css":
		return api.LoaderCSS
	case ".txt", ".html":
		return api.LoaderText
	default:
		return api.LoaderJS
	}
}
