package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori/plughost/pkg/host"
)

func writePackage(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(`{"id":"x"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scripts", "main.sh"), []byte("#!/bin/sh\n"), 0o755))
}

func TestLocalSurfaceInstall(t *testing.T) {
	pluginDir := t.TempDir()
	s := newLocalSurface(zerolog.Nop(), []string{pluginDir})

	t.Run("copies an outside package into the plugin dir", func(t *testing.T) {
		staging := filepath.Join(t.TempDir(), "uploaded")
		writePackage(t, staging)

		res, err := s.Call(context.Background(), "plugins.install", host.Args{"path": staging})
		require.NoError(t, err)

		placed, _ := res["path"].(string)
		assert.Equal(t, filepath.Join(pluginDir, "uploaded"), placed)
		assert.FileExists(t, filepath.Join(placed, "plugin.json"))
		assert.FileExists(t, filepath.Join(placed, "scripts", "main.sh"))
	})

	t.Run("leaves an in-place package where it is", func(t *testing.T) {
		pkg := filepath.Join(pluginDir, "resident")
		writePackage(t, pkg)

		res, err := s.Call(context.Background(), "plugins.install", host.Args{"path": pkg})
		require.NoError(t, err)
		assert.Equal(t, pkg, res["path"])
	})

	t.Run("rejects a missing path", func(t *testing.T) {
		_, err := s.Call(context.Background(), "plugins.install", host.Args{})
		assert.Error(t, err)
	})
}

func TestLocalSurfaceRemove(t *testing.T) {
	pluginDir := t.TempDir()
	s := newLocalSurface(zerolog.Nop(), []string{pluginDir})

	t.Run("removes a package inside the plugin dir", func(t *testing.T) {
		pkg := filepath.Join(pluginDir, "gone")
		writePackage(t, pkg)

		_, err := s.Call(context.Background(), "plugins.remove", host.Args{"path": pkg})
		require.NoError(t, err)
		assert.NoDirExists(t, pkg)
	})

	t.Run("refuses paths outside the plugin dirs", func(t *testing.T) {
		outside := t.TempDir()
		_, err := s.Call(context.Background(), "plugins.remove", host.Args{"path": outside})
		assert.Error(t, err)
		assert.DirExists(t, outside)
	})

	t.Run("refuses the plugin dir itself", func(t *testing.T) {
		_, err := s.Call(context.Background(), "plugins.remove", host.Args{"path": pluginDir})
		assert.Error(t, err)
		assert.DirExists(t, pluginDir)
	})
}

func TestLocalSurfaceUnknownCommand(t *testing.T) {
	s := newLocalSurface(zerolog.Nop(), []string{t.TempDir()})
	_, err := s.Call(context.Background(), "fs.read", host.Args{"path": "x"})
	assert.ErrorContains(t, err, "no host surface attached")
}
