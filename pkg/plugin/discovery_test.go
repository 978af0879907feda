package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori/plughost/pkg/manifest"
)

func writePluginDir(t *testing.T, root, id, manifestJSON string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(manifestJSON), 0644))
	return dir
}

func frontendManifest(id string) string {
	return fmt.Sprintf(`{"id": %q, "version": "1.0.0", "type": "frontend", "main": "index.js"}`, id)
}

func TestDiscoveryScan(t *testing.T) {
	d := NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))
	root := t.TempDir()

	writePluginDir(t, root, "good-one", frontendManifest("good-one"))
	writePluginDir(t, root, "good-two", frontendManifest("good-two"))
	writePluginDir(t, root, "broken", `{"id": "broken"`)

	// Directory without a manifest and a stray file are both skipped.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0644))

	found := d.Scan([]string{root})
	require.Len(t, found, 2)

	ids := []string{found[0].Manifest.ID, found[1].Manifest.ID}
	assert.ElementsMatch(t, []string{"good-one", "good-two"}, ids)
	for _, f := range found {
		assert.DirExists(t, f.Path)
		assert.FileExists(t, f.ManifestPath)
	}
}

func TestDiscoveryScanMissingDir(t *testing.T) {
	d := NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))

	found := d.Scan([]string{"/nonexistent/plugins", ""})
	assert.Empty(t, found)
}

func TestDiscoveryScanMultipleDirs(t *testing.T) {
	d := NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))

	rootA := t.TempDir()
	rootB := t.TempDir()
	writePluginDir(t, rootA, "a", frontendManifest("a"))
	writePluginDir(t, rootB, "b", frontendManifest("b"))

	found := d.Scan([]string{rootA, rootB, "/missing"})
	assert.Len(t, found, 2)
}

func TestDiscoveryWatch(t *testing.T) {
	d := NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))
	root := t.TempDir()

	changed := make(chan struct{}, 8)
	stop, err := d.Watch([]string{root}, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer stop()

	writePluginDir(t, root, "fresh", frontendManifest("fresh"))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}

func TestDiscoveryWatchNoDirs(t *testing.T) {
	d := NewDiscovery(zerolog.Nop(), manifest.NewLoader(zerolog.Nop()))

	_, err := d.Watch([]string{"/nonexistent/plugins"}, func() {})
	assert.Error(t, err)
}
