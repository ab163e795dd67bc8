package ops

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuba/cuba/internal/config"
	"github.com/cuba/cuba/internal/filesystem"
	"github.com/cuba/cuba/internal/filesystem/local"
	"github.com/cuba/cuba/internal/hash"
	"github.com/cuba/cuba/internal/metadata"
	"github.com/cuba/cuba/internal/run"
	"github.com/cuba/cuba/pkg/message"
	"github.com/cuba/cuba/pkg/password"
)

func newDeps(t *testing.T, srcDir, dstDir string, profile config.ProfileSpec, op string) Deps {
	t.Helper()
	return Deps{
		Source:      local.New(srcDir),
		Dest:        local.New(dstDir),
		Profile:     profile,
		ProfileName: "profile",
		Detector:    hash.NewDetector(0),
		Passwords:   password.NewStatic(map[string]string{"t": "passphrase"}),
		Handle:      run.New("run-1", "profile", op),
		Sink:        message.NullSink{},
		Concurrency: 2,
	}
}

func TestBackupUploadsNewFilesAndPersistsMetadata(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("world"), 0644))

	deps := newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup")
	result, err := Backup(context.Background(), deps)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, int64(2), result.Summary.FilesCompleted)

	assert.FileExists(t, filepath.Join(dstDir, "a.txt"))
	assert.FileExists(t, filepath.Join(dstDir, "b.txt"))
	assert.FileExists(t, filepath.Join(dstDir, "profile.cuba.json"))
}

func TestBackupIsIdempotentOnSecondRun(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))

	deps1 := newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup")
	_, err := Backup(context.Background(), deps1)
	require.NoError(t, err)

	firstMeta, err := os.ReadFile(filepath.Join(dstDir, "profile.cuba.json"))
	require.NoError(t, err)

	deps2 := newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup")
	result2, err := Backup(context.Background(), deps2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result2.Summary.FilesCompleted, "unchanged file should not be re-uploaded")

	secondMeta, err := os.ReadFile(filepath.Join(dstDir, "profile.cuba.json"))
	require.NoError(t, err)
	assert.Equal(t, string(firstMeta), string(secondMeta))
}

func TestBackupMarksDeletedSourceFileMissing(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("world"), 0644))

	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(srcDir, "b.txt")))
	_, err = Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	store, err := metadata.Load(context.Background(), local.New(dstDir), "profile")
	require.NoError(t, err)
	entry, ok := store.Get("b.txt")
	require.True(t, ok)
	assert.Equal(t, metadata.StateMissing, entry.State)
}

func TestBackupWithCompressAndEncryptThenRestoreRoundTrips(t *testing.T) {
	srcDir, dstDir, restoreDir := t.TempDir(), t.TempDir(), t.TempDir()
	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "big.bin"), content, 0644))

	profile := config.ProfileSpec{Compress: true, Encrypt: true, PasswordID: "t"}
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, profile, "backup"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dstDir, "big.bin.gz.age"))

	restoreDeps := newDeps(t, restoreDir, dstDir, profile, "restore")
	result, err := Restore(context.Background(), restoreDeps)
	require.NoError(t, err)
	assert.True(t, result.Success())

	restored, err := os.ReadFile(filepath.Join(restoreDir, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, restored)
}

func TestRestoreSkipsExistingFileWithoutOverwrite(t *testing.T) {
	srcDir, dstDir, restoreDir := t.TempDir(), t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(restoreDir, "a.txt"), []byte("preexisting"), 0644))

	_, err = Restore(context.Background(), newDeps(t, restoreDir, dstDir, config.ProfileSpec{}, "restore"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(restoreDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "preexisting", string(data))
}

func TestRestoreOverwritesWhenConfigured(t *testing.T) {
	srcDir, dstDir, restoreDir := t.TempDir(), t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	profile := config.ProfileSpec{OverwriteOnRestore: true}
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, profile, "backup"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(restoreDir, "a.txt"), []byte("preexisting"), 0644))

	_, err = Restore(context.Background(), newDeps(t, restoreDir, dstDir, profile, "restore"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(restoreDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestVerifyDetectsCorruptedObject(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("corrupted"), 0644))

	result, err := Verify(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "verify"), true)
	require.NoError(t, err)
	require.Len(t, result.FileErrors, 1)
	assert.Equal(t, "a.txt", result.FileErrors[0].Path)
}

func TestVerifyWithoutAllFilesOnlyChecksExistenceAndSize(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	// Same size as the original, content corrupted: the non-all_files path
	// checks existence and size only, not content, so this passes.
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("HELLO"), 0644))

	result, err := Verify(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "verify"), false)
	require.NoError(t, err)
	assert.Empty(t, result.FileErrors)
}

func TestVerifyWithoutAllFilesDetectsSizeMismatch(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	// Truncated object: wrong size should be caught without a full rehash.
	require.NoError(t, os.WriteFile(filepath.Join(dstDir, "a.txt"), []byte("he"), 0644))

	result, err := Verify(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "verify"), false)
	require.NoError(t, err)
	require.Len(t, result.FileErrors, 1)
	assert.Equal(t, "a.txt", result.FileErrors[0].Path)
}

func TestCleanRemovesOrphanObjectAndMissingEntries(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "b.txt"), []byte("world"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(srcDir, "b.txt")))
	_, err = Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	result, err := Clean(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "clean"))
	require.NoError(t, err)
	assert.True(t, result.Success())

	_, statErr := os.Stat(filepath.Join(dstDir, "b.txt"))
	assert.True(t, os.IsNotExist(statErr))

	store, err := metadata.Load(context.Background(), local.New(dstDir), "profile")
	require.NoError(t, err)
	_, ok := store.Get("b.txt")
	assert.False(t, ok)
	_, ok = store.Get("a.txt")
	assert.True(t, ok)
}

// cancelAfterOpenDest wraps a Filesystem so the reader returned by OpenRead
// cancels the caller's context after serving a fixed number of bytes,
// modeling cancellation arriving mid-restore rather than between files.
type cancelAfterOpenDest struct {
	filesystem.Filesystem
	cancel  context.CancelFunc
	trigger int
}

func (c *cancelAfterOpenDest) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := c.Filesystem.OpenRead(ctx, path)
	if err != nil {
		return nil, err
	}
	return &cancelAfterNReadCloser{ReadCloser: rc, trigger: c.trigger, cancel: c.cancel}, nil
}

type cancelAfterNReadCloser struct {
	io.ReadCloser
	trigger   int
	seen      int
	cancel    context.CancelFunc
	cancelled bool
}

func (r *cancelAfterNReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.seen += n
	if !r.cancelled && r.seen >= r.trigger {
		r.cancelled = true
		r.cancel()
	}
	return n, err
}

func TestRestoreCancelMidStreamLeavesNoPartialNoTarget(t *testing.T) {
	srcDir, dstDir, restoreDir := t.TempDir(), t.TempDir(), t.TempDir()
	large := make([]byte, 8*1024*1024)
	for i := range large {
		large[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "big.bin"), large, 0644))

	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	deps := newDeps(t, restoreDir, dstDir, config.ProfileSpec{}, "restore")
	deps.Dest = &cancelAfterOpenDest{Filesystem: deps.Dest, cancel: cancel, trigger: 2 * 1024 * 1024}

	result, err := Restore(ctx, deps)
	require.NoError(t, err)
	require.Len(t, result.FileErrors, 1)
	assert.Equal(t, "big.bin", result.FileErrors[0].Path)

	_, statErr := os.Stat(filepath.Join(restoreDir, "big.bin"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(restoreDir, "big.bin.partial"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanLeavesNoOrphanAfterSuccessfulBackup(t *testing.T) {
	srcDir, dstDir := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))
	_, err := Backup(context.Background(), newDeps(t, srcDir, dstDir, config.ProfileSpec{}, "backup"))
	require.NoError(t, err)

	var fs filesystem.Filesystem = local.New(dstDir)
	objects, err := listObjects(context.Background(), fs)
	require.NoError(t, err)
	objects = withoutMetadataObject(objects, "profile")
	assert.Equal(t, []string{"a.txt"}, objects)
}
