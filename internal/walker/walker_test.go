package walker

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuba/cuba/internal/filesystem/local"
	"github.com/cuba/cuba/pkg/message"
)

func collect(t *testing.T, fs *local.Driver, root string, includes, excludes []string) []string {
	t.Helper()
	entries, errs := Walk(context.Background(), fs, root, includes, excludes, message.NullSink{})

	var paths []string
	for e := range entries {
		paths = append(paths, e.RelPath)
	}
	require.NoError(t, <-errs)
	sort.Strings(paths)
	return paths
}

func TestWalkFlatTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))

	paths := collect(t, local.New(dir), "", nil, nil)
	assert.Equal(t, []string{"a.txt", "b.txt"}, paths)
}

func TestWalkNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub", "deeper"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "deeper", "x.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "top.txt"), []byte("t"), 0644))

	paths := collect(t, local.New(dir), "", nil, nil)
	assert.Equal(t, []string{"sub/deeper/x.txt", "top.txt"}, paths)
}

func TestWalkExcludeWinsOverInclude(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("k"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.txt"), []byte("d"), 0644))

	paths := collect(t, local.New(dir), "", []string{"*.txt"}, []string{"drop.txt"})
	assert.Equal(t, []string{"keep.txt"}, paths)
}

func TestWalkIncludeFiltersOthers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.log"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))

	paths := collect(t, local.New(dir), "", []string{"*.txt"}, nil)
	assert.Equal(t, []string{"b.txt"}, paths)
}

func TestWalkScopedToRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "profile-root", "inner"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile-root", "inner", "f.txt"), []byte("f"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "outside.txt"), []byte("o"), 0644))

	paths := collect(t, local.New(dir), "profile-root", nil, nil)
	assert.Equal(t, []string{"inner/f.txt"}, paths)
}

func TestWalkFollowsSymlinkWithinRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "real"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real", "f.txt"), []byte("f"), 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "link")))

	paths := collect(t, local.New(dir), "", nil, nil)
	assert.Contains(t, paths, "link/f.txt")
	assert.Contains(t, paths, "real/f.txt")
}

func TestWalkSkipsSymlinkEscapingRoot(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(outside, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0644))

	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	paths := collect(t, local.New(root), "", nil, nil)
	assert.Empty(t, paths)
}

func TestWalkSkipsSymlinkCycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a"), 0755))
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "a", "loop")))

	paths := collect(t, local.New(dir), "", nil, nil)
	assert.Empty(t, paths)
}
