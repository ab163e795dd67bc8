package filesystem_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/internal/filesystem/local"
)

func TestRootedScopesReadsAndWrites(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "profile-a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "profile-a", "f.txt"), []byte("hi"), 0644))

	fs := filesystem.Rooted(local.New(base), "profile-a")

	r, err := fs.OpenRead(context.Background(), "f.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hi", string(data))

	handle, err := fs.OpenWriteTemp(context.Background(), "g.txt")
	require.NoError(t, err)
	_, err = handle.Write([]byte("written"))
	require.NoError(t, err)
	require.NoError(t, handle.Close())
	require.NoError(t, fs.Finalize(context.Background(), handle))

	data, err = os.ReadFile(filepath.Join(base, "profile-a", "g.txt"))
	require.NoError(t, err)
	assert.Equal(t, "written", string(data))
}

func TestRootedEmptyRootIsNoop(t *testing.T) {
	base := t.TempDir()
	inner := local.New(base)
	assert.Same(t, inner, filesystem.Rooted(inner, ""))
	assert.Same(t, inner, filesystem.Rooted(inner, "."))
}

func TestRootedRejectsPathEscapingRoot(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "profile-a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "secret.txt"), []byte("top secret"), 0644))

	fs := filesystem.Rooted(local.New(base), "profile-a")

	_, err := fs.OpenRead(context.Background(), "../secret.txt")
	assert.Error(t, err)

	_, err = fs.Stat(context.Background(), "../../etc/passwd")
	assert.Error(t, err)
}

func TestRootedListUnaffectedByPrefix(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "root"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "root", "a.txt"), []byte("a"), 0644))

	fs := filesystem.Rooted(local.New(base), "root")
	infos, err := fs.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "a.txt", infos[0].Name)
}
