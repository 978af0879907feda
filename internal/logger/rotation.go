package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const archiveStampLayout = "20060102-150405"

// RotationConfig bounds the size and age of the log file and its archives.
// Zero values fall back to a 100 MB limit with no age-based pruning.
type RotationConfig struct {
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

// RotatingWriter appends to a single log file and, when the size limit is
// hit, renames it to a timestamped archive and starts fresh. Archives older
// than MaxAgeDays are pruned at open and after each rotation. Safe for
// concurrent use.
type RotatingWriter struct {
	path     string
	limit    int64
	keepDays int
	compress bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingWriter opens (creating if needed) the log file at path.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		limit:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		keepDays: cfg.MaxAgeDays,
		compress: cfg.Compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file. Further writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate archives the current file and reopens a fresh one. Caller holds
// the mutex.
func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}
	w.file = nil

	archive := w.archiveName(time.Now())
	if err := os.Rename(w.path, archive); err != nil {
		return err
	}
	if w.compress {
		if err := compressArchive(archive); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
	}

	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

// archiveName picks a timestamped name next to the log file, suffixed with
// a counter when two rotations land in the same second.
func (w *RotatingWriter) archiveName(at time.Time) string {
	base := w.path + "." + at.Format(archiveStampLayout)
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if _, gzErr := os.Stat(name + ".gz"); os.IsNotExist(gzErr) {
				return name
			}
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// prune removes archives older than the retention window. Errors are
// swallowed; pruning never blocks logging.
func (w *RotatingWriter) prune() {
	if w.keepDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.keepDays)
	prefix := filepath.Base(w.path) + "."

	entries, err := os.ReadDir(filepath.Dir(w.path))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(filepath.Dir(w.path), entry.Name()))
		}
	}
}

// compressArchive gzips the archive in place and removes the original.
func compressArchive(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
