package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/manifest"
)

// Discovered is one plugin directory found during a scan.
type Discovered struct {
	Path         string
	ManifestPath string
	Manifest     *manifest.Manifest
}

// Discovery scans directories for plugin packages. A package is any
// subdirectory containing plugin.json; directories without one are skipped
// silently, directories with an invalid manifest are skipped with a warning.
type Discovery struct {
	logger zerolog.Logger
	loader *manifest.Loader
}

// NewDiscovery creates a plugin discovery instance.
func NewDiscovery(logger zerolog.Logger, loader *manifest.Loader) *Discovery {
	return &Discovery{
		logger: logger.With().Str("component", "plugin-discovery").Logger(),
		loader: loader,
	}
}

// Scan walks the configured plugin directories and returns every valid
// package found. A failing directory never aborts the scan.
func (d *Discovery) Scan(dirs []string) []Discovered {
	var discovered []Discovered

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		plugins, err := d.scanDirectory(dir)
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to scan plugin directory")
			continue
		}
		discovered = append(discovered, plugins...)
	}

	d.logger.Info().Int("count", len(discovered)).Msg("Plugin discovery completed")
	return discovered
}

// scanDirectory scans a single directory for plugin packages.
func (d *Discovery) scanDirectory(dir string) ([]Discovered, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.Debug().Str("dir", dir).Msg("Directory does not exist, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var discovered []Discovered
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		manifestPath := filepath.Join(pluginDir, manifest.FileName)

		if _, err := os.Stat(manifestPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			d.logger.Warn().Err(err).Str("dir", pluginDir).Msg("Failed to check for manifest")
			continue
		}

		m, err := d.loader.Load(manifestPath)
		if err != nil {
			d.logger.Warn().
				Err(err).
				Str("dir", pluginDir).
				Msg("Invalid plugin manifest, skipping")
			continue
		}

		discovered = append(discovered, Discovered{
			Path:         pluginDir,
			ManifestPath: manifestPath,
			Manifest:     m,
		})
		d.logger.Debug().
			Str("id", m.ID).
			Str("path", pluginDir).
			Msg("Discovered plugin")
	}

	return discovered, nil
}

// Watch watches the plugin directories and invokes onChange whenever a
// package appears, changes, or disappears. It blocks until the watcher is
// closed via the returned stop function or an unrecoverable error occurs.
func (d *Discovery) Watch(dirs []string, onChange func()) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	watching := 0
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			d.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch plugin directory")
			continue
		}
		watching++
	}
	if watching == 0 {
		watcher.Close()
		return nil, fmt.Errorf("no plugin directories could be watched")
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				d.logger.Debug().
					Str("path", event.Name).
					Str("op", event.Op.String()).
					Msg("Plugin directory changed")
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn().Err(err).Msg("Filesystem watcher error")
			}
		}
	}()

	d.logger.Info().Int("dirs", watching).Msg("Watching plugin directories")
	return watcher.Close, nil
}
