// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsbackend

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

type buildArgs struct {
	bundle    bool
	minify    bool
	format    api.Format
	target    api.Target
	platform  api.Platform
	sourcemap api.SourceMap
}

func defaultArgs() buildArgs {
	return buildArgs{
		bundle:    true,
		format:    api.FormatESModule,
		target:    api.ESNext,
		platform:  api.PlatformNeutral,
		sourcemap: api.SourceMapNone,
	}
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// parseArgs reads the extra arguments of a request. Only the "--flag" and
// "--flag=value" forms are accepted.
func parseArgs(args []string) (buildArgs, error) {
	b := defaultArgs()
	for _, arg := range args {
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--bundle":
			v, err := boolValue(value, hasValue)
			if err != nil {
				return b, fmt.Errorf("invalid %s: %w", arg, err)
			}
			b.bundle = v
		case "--minify":
			v, err := boolValue(value, hasValue)
			if err != nil {
				return b, fmt.Errorf("invalid %s: %w", arg, err)
			}
			b.minify = v
		case "--format":
			switch value {
			case "esm":
				b.format = api.FormatESModule
			case "cjs":
				b.format = api.FormatCommonJS
			case "iife":
				b.format = api.FormatIIFE
			default:
				return b, fmt.Errorf("invalid %s: want esm, cjs or iife", arg)
			}
		case "--target":
			t, ok := targets[strings.ToLower(value)]
			if !ok {
				return b, fmt.Errorf("invalid %s: unknown target", arg)
			}
			b.target = t
		case "--platform":
			switch value {
			case "browser":
				b.platform = api.PlatformBrowser
			case "node":
				b.platform = api.PlatformNode
			case "neutral":
				b.platform = api.PlatformNeutral
			default:
				return b, fmt.Errorf("invalid %s: want browser, node or neutral", arg)
			}
		case "--sourcemap":
			switch value {
			case "", "linked":
				b.sourcemap = api.SourceMapLinked
			case "inline":
				b.sourcemap = api.SourceMapInline
			case "external":
				b.sourcemap = api.SourceMapExternal
			default:
				return b, fmt.Errorf("invalid %s: want inline, linked or external", arg)
			}
		default:
			return b, fmt.Errorf("unknown argument %q", arg)
		}
	}
	return b, nil
}

func boolValue(value string, hasValue bool) (bool, error) {
	if !hasValue {
		return true, nil
	}
	return strconv.ParseBool(value)
}
