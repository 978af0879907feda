package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, path string, cfg RotationConfig) *RotatingWriter {
	t.Helper()
	w, err := NewRotatingWriter(path, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func archives(t *testing.T, path string) []string {
	t.Helper()
	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	return matches
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates the log file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "host.log")
		newTestWriter(t, path, RotationConfig{})
		assert.FileExists(t, path)
	})

	t.Run("creates missing parent directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "nested", "host.log")
		newTestWriter(t, path, RotationConfig{})
		assert.FileExists(t, path)
	})

	t.Run("resumes an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "host.log")
		require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0o644))

		w := newTestWriter(t, path, RotationConfig{})
		_, err := w.Write([]byte("later\n"))
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "earlier\nlater\n", string(content))
	})
}

func TestRotatingWriterRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	w := newTestWriter(t, path, RotationConfig{MaxSizeMB: 1})
	w.limit = 32 // shrink for the test

	line := []byte(strings.Repeat("x", 20) + "\n")
	_, err := w.Write(line)
	require.NoError(t, err)
	_, err = w.Write(line)
	require.NoError(t, err)

	got := archives(t, path)
	require.Len(t, got, 1)

	// The archive holds the first line; the live file holds the second.
	archived, err := os.ReadFile(got[0])
	require.NoError(t, err)
	assert.Equal(t, line, archived)

	live, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, line, live)
}

func TestRotatingWriterCompressesArchives(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	w := newTestWriter(t, path, RotationConfig{MaxSizeMB: 1, Compress: true})
	w.limit = 32

	line := []byte(strings.Repeat("x", 20) + "\n")
	_, err := w.Write(line)
	require.NoError(t, err)
	_, err = w.Write(line)
	require.NoError(t, err)

	got := archives(t, path)
	require.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0], ".gz"))
}

func TestRotatingWriterDistinctArchiveNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	w := newTestWriter(t, path, RotationConfig{MaxSizeMB: 1})
	w.limit = 32

	// Three rotations inside one second must not overwrite each other.
	line := []byte(strings.Repeat("x", 20) + "\n")
	for i := 0; i < 4; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	assert.Len(t, archives(t, path), 3)
}

func TestRotatingWriterPrunesOldArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host.log")

	stale := path + ".20200101-120000"
	require.NoError(t, os.WriteFile(stale, []byte("ancient\n"), 0o644))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := path + ".20990101-120000"
	require.NoError(t, os.WriteFile(fresh, []byte("recent\n"), 0o644))

	newTestWriter(t, path, RotationConfig{MaxAgeDays: 7})

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}

func TestRotatingWriterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")
	w, err := NewRotatingWriter(path, RotationConfig{})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())

	_, err = w.Write([]byte("after close\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
