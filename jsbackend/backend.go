// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsbackend is a compile backend that builds JavaScript and
// TypeScript units with esbuild.
//
// Imports are resolved without touching the disk: first against the other
// units of the same request, then against the classpath index. A bare import
// such as "lib/util" matches "lib/util.ts", "lib/util.js" or
// "lib/util/index.js" in the first location that has it.
package jsbackend

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/breezewish/go-compilerd/classpath"
	"github.com/breezewish/go-compilerd/packet"
)

const (
	nsUnit      = "unit"
	nsClasspath = "classpath"
)

// DefaultExtensions are tried, in order, for imports without an extension.
var DefaultExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".json"}

// Options configure a Backend.
type Options struct {
	// Locations are searched in order for imports. Defaults to
	// SourcePath, ClassPath, PlatformClassPath.
	Locations []classpath.Location
	// Fallback serves the locations the index does not hold, for example
	// a classpath.DirLister over sources that change between requests.
	Fallback classpath.Lister
	// Extensions defaults to DefaultExtensions.
	Extensions []string
}

// Backend compiles units with esbuild. It is safe for concurrent use.
type Backend struct {
	opts   Options
	outdir string
}

// New returns a Backend.
func New(opts Options) *Backend {
	if len(opts.Locations) == 0 {
		opts.Locations = []classpath.Location{classpath.SourcePath, classpath.ClassPath, classpath.PlatformClassPath}
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	// Nothing is written; esbuild only needs an absolute directory to name
	// its outputs after.
	return &Backend{
		opts:   opts,
		outdir: filepath.Join(os.TempDir(), "compilerd-out"),
	}
}

// Compile builds every unit as an entry point. Each unit produces
// "<unit path without extension>.js" in the result outputs.
func (b *Backend) Compile(ctx context.Context, units []packet.Unit, extraArgs []string, index *classpath.Index) (packet.Result, error) {
	if err := ctx.Err(); err != nil {
		return packet.Result{}, err
	}
	args, err := parseArgs(extraArgs)
	if err != nil {
		return packet.Result{Log: err.Error()}, nil
	}

	sources := make(map[string]string, len(units))
	entries := make([]api.EntryPoint, 0, len(units))
	for _, u := range units {
		p, err := unitPath(u.SourceURI)
		if err != nil {
			return packet.Result{Log: err.Error()}, nil
		}
		if _, dup := sources[p]; dup {
			return packet.Result{Log: fmt.Sprintf("duplicate compilation unit %s", p)}, nil
		}
		sources[p] = u.Content
		entries = append(entries, api.EntryPoint{
			InputPath:  p,
			OutputPath: strings.TrimSuffix(p, path.Ext(p)),
		})
	}

	var lister classpath.Lister = classpath.NopLister{}
	if index != nil {
		lister = index.Lister(b.opts.Fallback)
	} else if b.opts.Fallback != nil {
		lister = b.opts.Fallback
	}
	r := &resolver{
		units:     sources,
		lister:    lister,
		locations: b.opts.Locations,
		exts:      b.opts.Extensions,
	}

	opts := api.BuildOptions{
		EntryPointsAdvanced: entries,
		Bundle:              args.bundle,
		Write:               false,
		AbsWorkingDir:       filepath.Dir(b.outdir),
		Outdir:              b.outdir,
		Format:              args.format,
		Platform:            args.platform,
		Target:              args.target,
		Sourcemap:           args.sourcemap,
		MinifyWhitespace:    args.minify,
		MinifyIdentifiers:   args.minify,
		MinifySyntax:        args.minify,
		LogLevel:            api.LogLevelSilent,
		Plugins:             []api.Plugin{r.plugin()},
	}
	res := api.Build(opts)

	var log strings.Builder
	for _, m := range api.FormatMessages(res.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}) {
		log.WriteString(m)
	}
	for _, m := range api.FormatMessages(res.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		log.WriteString(m)
	}
	if len(res.Errors) > 0 {
		return packet.Result{Log: log.String()}, nil
	}

	outputs := make(map[string][]byte, len(res.OutputFiles))
	for _, f := range res.OutputFiles {
		rel, err := filepath.Rel(b.outdir, f.Path)
		if err != nil {
			return packet.Result{Log: log.String()}, fmt.Errorf("jsbackend: output %s outside %s", f.Path, b.outdir)
		}
		outputs[filepath.ToSlash(rel)] = f.Contents
	}
	return packet.Result{Outputs: outputs, Success: true, Log: log.String()}, nil
}

// unitPath turns a source identifier into the slash separated path the unit
// is known by: "file:///src/a/main.ts" and "a/main.ts" are both accepted.
func unitPath(sourceURI string) (string, error) {
	u, err := url.Parse(sourceURI)
	if err != nil {
		return "", fmt.Errorf("invalid source identifier %q: %v", sourceURI, err)
	}
	p := u.Path
	if u.Opaque != "" {
		p = u.Opaque
	}
	p = strings.TrimLeft(path.Clean("/"+p), "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("invalid source identifier %q: no path", sourceURI)
	}
	return p, nil
}
