// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package classpath

import (
	"archive/zip"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func writeZip(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for n, content := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	_, err = zw.Create("a/empty/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func paths(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path())
	}
	return out
}

var sample = map[string]string{
	"a/B.class":   "B",
	"a/b/C.class": "C",
}

func TestDirectoryLookup(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, sample)))
	idx.Freeze()

	assert.Equal(t, []string{"a/B.class"}, paths(idx.Lookup(ClassPath, "a/", 0, false)))
	assert.Equal(t, []string{"a/B.class", "a/b/C.class"}, paths(idx.Lookup(ClassPath, "a/", 0, true)))
	assert.Equal(t, []string{"a/b/C.class"}, paths(idx.Lookup(ClassPath, "a/b", 0, false)))
	assert.Empty(t, idx.Lookup(ClassPath, "missing/", 0, false))
	assert.Empty(t, idx.Lookup(ClassPath, "missing/", 0, true))
	assert.Empty(t, idx.Lookup(PlatformClassPath, "a/", 0, false))
}

func TestRootLookup(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, map[string]string{
		"Top.class":   "T",
		"a/B.class":   "B",
		"a/b/C.class": "C",
	})))
	idx.Freeze()

	for _, root := range []string{"", "/"} {
		assert.Equal(t, []string{"Top.class"}, paths(idx.Lookup(ClassPath, root, 0, false)), root)
		assert.Equal(t, []string{"Top.class", "a/B.class", "a/b/C.class"}, paths(idx.Lookup(ClassPath, root, 0, true)), root)
	}
}

func TestArchiveMatchesDirectory(t *testing.T) {
	dirIdx := New()
	defer dirIdx.Close()
	require.NoError(t, dirIdx.AddRoot(ClassPath, writeTree(t, sample)))

	zipIdx := New()
	defer zipIdx.Close()
	require.NoError(t, zipIdx.AddRoot(ClassPath, writeZip(t, "lib.jar", sample)))

	for _, recursive := range []bool{false, true} {
		fromDir := dirIdx.Lookup(ClassPath, "a/", 0, recursive)
		fromZip := zipIdx.Lookup(ClassPath, "a/", 0, recursive)
		require.Equal(t, paths(fromDir), paths(fromZip))
		for i := range fromDir {
			assert.Equal(t, fromDir[i].Kind(), fromZip[i].Kind())
			assert.Equal(t, OriginFilesystem, fromDir[i].Origin())
			assert.Equal(t, OriginArchive, fromZip[i].Origin())
		}
	}

	e, ok := zipIdx.Find(ClassPath, "a/b/C.class")
	require.True(t, ok)
	b, err := e.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "C", string(b))
}

func TestArchiveNameNormalization(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeZip(t, "odd.zip", map[string]string{
		"/lead/Slash.class": "",
		`back\Slash.java`:   "",
		"Top.class":         "",
	})))

	assert.Equal(t, []string{"lead/Slash.class"}, paths(idx.Lookup(ClassPath, "lead", 0, false)))
	assert.Equal(t, []string{"back/Slash.java"}, paths(idx.Lookup(ClassPath, "back/", 0, false)))
	assert.Equal(t, []string{"Top.class"}, paths(idx.Lookup(ClassPath, "", 0, false)))
	assert.Len(t, idx.Lookup(ClassPath, "/", 0, true), 3)
}

func TestKindFilter(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, map[string]string{
		"p/A.class":      "",
		"p/A.java":       "",
		"p/index.html":   "",
		"p/data.json":    "",
		"p/q/util.ts":    "",
		"p/q/Other.java": "",
	})))

	assert.Equal(t, []string{"p/A.class"}, paths(idx.Lookup(ClassPath, "p/", Kinds(KindClass), false)))
	assert.ElementsMatch(t, []string{"p/A.java", "p/q/util.ts", "p/q/Other.java"},
		paths(idx.Lookup(ClassPath, "p/", Kinds(KindSource), true)))
	assert.ElementsMatch(t, []string{"p/index.html", "p/data.json"},
		paths(idx.Lookup(ClassPath, "p/", Kinds(KindHTML, KindOther), false)))
	assert.Len(t, idx.LookupPackage(ClassPath, "p.q", 0, false), 2)
}

func TestAddRootErrors(t *testing.T) {
	idx := New()
	defer idx.Close()

	dir := writeTree(t, map[string]string{"notes.txt": "", "java.base.jmod": ""})

	err := idx.AddRoot(ClassPath, filepath.Join(dir, "notes.txt"))
	assert.ErrorIs(t, err, ErrUnsupportedRoot)
	var re *RootError
	assert.ErrorAs(t, err, &re)

	err = idx.AddRoot(ClassPath, filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.NoError(t, idx.AddRoot(PlatformClassPath, filepath.Join(dir, "java.base.jmod")))
	assert.False(t, idx.Has(PlatformClassPath))

	idx.Freeze()
	assert.ErrorIs(t, idx.AddRoot(ClassPath, dir), ErrFrozen)
}

func TestContentIsLazy(t *testing.T) {
	dir := writeTree(t, map[string]string{"a/B.class": "old"})
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a", "B.class"), []byte("new"), 0o644))

	e, ok := idx.Find(ClassPath, "a/B.class")
	require.True(t, ok)
	b, err := e.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "new", string(b))
}

func TestCloseIsIdempotent(t *testing.T) {
	idx := New()
	require.NoError(t, idx.AddRoot(ClassPath, writeZip(t, "a.jar", sample)))
	require.NoError(t, idx.AddRoot(ClassPath, writeZip(t, "b.jar", sample)))

	assert.NoError(t, idx.Close())
	assert.NoError(t, idx.Close())
	assert.ErrorIs(t, idx.AddRoot(ClassPath, t.TempDir()), ErrClosed)
}

func TestLogicalIdentifier(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, map[string]string{
		"java/lang/Object.class": "",
		"my.pkg/util.ts":         "",
		"README":                 "",
	})))

	e, _ := idx.Find(ClassPath, "java/lang/Object.class")
	assert.Equal(t, "java.lang.Object", LogicalIdentifier(e))
	e, _ = idx.Find(ClassPath, "my.pkg/util.ts")
	assert.Equal(t, "my.pkg.util", LogicalIdentifier(e))
	e, _ = idx.Find(ClassPath, "README")
	assert.Equal(t, "README", LogicalIdentifier(e))

	e, _ = idx.Find(ClassPath, "java/lang/Object.class")
	assert.True(t, e.IsNameCompatible("Object", KindClass))
	assert.False(t, e.IsNameCompatible("Object", KindSource))
	assert.False(t, e.IsNameCompatible("Obj", KindClass))
}

func TestURI(t *testing.T) {
	jar := writeZip(t, "lib.jar", sample)
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, jar))

	e, ok := idx.Find(ClassPath, "a/B.class")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(e.URI(), "jar:file:///"))
	assert.True(t, strings.HasSuffix(e.URI(), "lib.jar!/a/B.class"))
}

func TestForwardingLister(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, sample)))
	idx.Freeze()

	live := writeTree(t, map[string]string{"src/main.ts": "", "src/lib/util.ts": ""})
	l := idx.Lister(&DirLister{Roots: map[Location][]string{SourcePath: {live}}})

	got, err := l.List(ClassPath, "a", 0, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/B.class", "a/b/C.class"}, paths(got))

	got, err = l.List(SourcePath, "src/", 0, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.ts"}, paths(got))

	got, err = l.List(SourcePath, "src/", 0, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"src/main.ts", "src/lib/util.ts"}, paths(got))

	got, err = l.List(SourcePath, "nope/", 0, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = l.List(PlatformClassPath, "a", 0, true)
	require.NoError(t, err)
	assert.Empty(t, got)

	indexed, _ := idx.Find(ClassPath, "a/B.class")
	name, ok := l.BinaryName(ClassPath, indexed)
	assert.True(t, ok)
	assert.Equal(t, "a.B", name)

	live1, err := l.List(SourcePath, "src/lib", 0, false)
	require.NoError(t, err)
	require.Len(t, live1, 1)
	name, ok = l.BinaryName(SourcePath, live1[0])
	assert.True(t, ok)
	assert.Equal(t, "src.lib.util", name)

	_, ok = idx.Lister(nil).BinaryName(SourcePath, live1[0])
	assert.False(t, ok)
}

func TestResolve(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeTree(t, map[string]string{
		"lib/util.ts":        "",
		"lib/util.js":        "",
		"lib/fmt/index.js":   "",
		"lib/data.json":      "",
		"lib/Helper.class":   "",
		"lib/only.min.js":    "",
		"lib/fmt/sub/x.d.ts": "",
	})))
	l := idx.Lister(nil)
	exts := []string{".ts", ".js"}

	e, err := Resolve(l, ClassPath, "lib/util", exts)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "lib/util.ts", e.Path())

	e, _ = Resolve(l, ClassPath, "/lib/data.json", exts)
	require.NotNil(t, e)
	assert.Equal(t, "lib/data.json", e.Path())

	e, _ = Resolve(l, ClassPath, "lib/only.min", exts)
	require.NotNil(t, e)
	assert.Equal(t, "lib/only.min.js", e.Path())

	e, _ = Resolve(l, ClassPath, "lib/fmt/index", exts)
	require.NotNil(t, e)

	e, _ = Resolve(l, ClassPath, "lib/Helper", exts)
	assert.Nil(t, e)
	e, _ = Resolve(l, ClassPath, "lib/missing", exts)
	assert.Nil(t, e)
}

func TestConcurrentLookup(t *testing.T) {
	idx := New()
	defer idx.Close()
	require.NoError(t, idx.AddRoot(ClassPath, writeZip(t, "lib.jar", sample)))
	require.NoError(t, idx.AddRoot(PlatformClassPath, writeTree(t, sample)))
	idx.Freeze()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				for _, loc := range []Location{ClassPath, PlatformClassPath} {
					entries := idx.Lookup(loc, "a/", Kinds(KindClass), true)
					if !assert.Len(t, entries, 2) {
						return
					}
					for _, e := range entries {
						b, err := e.ReadAll()
						assert.NoError(t, err)
						assert.Len(t, b, 1)
					}
				}
			}
		}()
	}
	wg.Wait()
}
