package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatorRotatesOnSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cuba.log")

	r, err := NewRotator(RotationConfig{Filename: path, MaxSizeMB: 0})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// Force rotation on the next write: set a 1 MiB limit after open and
	// mark the current file as already that size.
	r.config.MaxSizeMB = 1
	r.size = 1 * 1024 * 1024

	_, err = r.Write([]byte("next entry\n"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var sawBackup bool
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "cuba-") {
			sawBackup = true
		}
	}
	require.True(t, sawBackup, "expected a rotated backup file in %v", entries)
}

func TestRotatorRequiresFilename(t *testing.T) {
	_, err := NewRotator(RotationConfig{})
	require.Error(t, err)
}
