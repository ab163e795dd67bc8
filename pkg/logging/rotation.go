package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig configures size- and age-based rotation for a file-backed
// Logger, adapted from the teacher's RotationConfig.
type RotationConfig struct {
	Filename   string
	MaxSizeMB  int64
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// Rotator is an io.Writer that rotates the underlying file according to
// RotationConfig. Pass it as Config.Output when building a Logger that
// should write to a rotating file.
type Rotator struct {
	mu sync.Mutex

	config   RotationConfig
	file     *os.File
	size     int64
	openedAt time.Time
}

// NewRotator opens (creating if necessary) the configured log file.
func NewRotator(config RotationConfig) (*Rotator, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("rotation: filename is required")
	}
	r := &Rotator{config: config}
	if err := r.openFile(); err != nil {
		return nil, err
	}
	return r, nil
}

// Write implements io.Writer, rotating first if the write would exceed the
// configured size or age limits.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shouldRotate(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotation: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Close closes the underlying file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

func (r *Rotator) shouldRotate(writeSize int64) bool {
	if r.config.MaxSizeMB > 0 {
		if r.size+writeSize >= r.config.MaxSizeMB*1024*1024 {
			return true
		}
	}
	if r.config.MaxAgeDays > 0 {
		if time.Since(r.openedAt) >= time.Duration(r.config.MaxAgeDays)*24*time.Hour {
			return true
		}
	}
	return false
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("closing current log file: %w", err)
		}
		r.file = nil
	}

	backupName := r.backupFilename(time.Now().UTC())
	if err := os.Rename(r.config.Filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if r.config.Compress {
		if err := r.compress(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to compress %s: %v\n", backupName, err)
		}
	}

	if err := r.cleanupBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "logging: failed to clean up backups: %v\n", err)
	}

	return r.openFile()
}

func (r *Rotator) openFile() error {
	if dir := filepath.Dir(r.config.Filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log directory: %w", err)
		}
	}

	file, err := os.OpenFile(r.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("statting log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	r.openedAt = time.Now()
	return nil
}

func (r *Rotator) backupFilename(ts time.Time) string {
	dir := filepath.Dir(r.config.Filename)
	name := filepath.Base(r.config.Filename)
	ext := filepath.Ext(name)
	prefix := name[:len(name)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05"), ext))
}

func (r *Rotator) compress(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		_ = gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	return os.Remove(filename)
}

func (r *Rotator) cleanupBackups() error {
	backups, err := r.backupFiles()
	if err != nil {
		return err
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	var toDelete []string
	if r.config.MaxBackups > 0 && len(backups) > r.config.MaxBackups {
		excess := len(backups) - r.config.MaxBackups
		for _, b := range backups[:excess] {
			toDelete = append(toDelete, b.Name())
		}
		backups = backups[excess:]
	}
	if r.config.MaxAgeDays > 0 {
		cutoff := time.Now().Add(-time.Duration(r.config.MaxAgeDays) * 24 * time.Hour)
		for _, b := range backups {
			if b.ModTime().Before(cutoff) {
				toDelete = append(toDelete, b.Name())
			}
		}
	}

	dir := filepath.Dir(r.config.Filename)
	for _, name := range toDelete {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			fmt.Fprintf(os.Stderr, "logging: failed to remove old backup %s: %v\n", name, err)
		}
	}
	return nil
}

func (r *Rotator) backupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(r.config.Filename)
	name := filepath.Base(r.config.Filename)
	ext := filepath.Ext(name)
	prefix := name[:len(name)-len(ext)]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, e := range entries {
		n := e.Name()
		if n == name {
			continue
		}
		if strings.HasPrefix(n, prefix+"-") && (strings.HasSuffix(n, ext) || strings.HasSuffix(n, ext+".gz")) {
			info, err := e.Info()
			if err != nil {
				continue
			}
			backups = append(backups, info)
		}
	}
	return backups, nil
}
