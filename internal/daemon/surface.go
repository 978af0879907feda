package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/host"
)

// localSurface is the host surface used when no embedding application
// attaches its own. It implements package file placement and removal on the
// local filesystem, confined to the configured plugin directories; every
// other privileged command fails.
type localSurface struct {
	logger     zerolog.Logger
	pluginDirs []string
}

func newLocalSurface(logger zerolog.Logger, pluginDirs []string) *localSurface {
	return &localSurface{
		logger:     logger.With().Str("component", "local-surface").Logger(),
		pluginDirs: pluginDirs,
	}
}

func (s *localSurface) Call(ctx context.Context, command string, args host.Args) (host.Result, error) {
	switch command {
	case "plugins.install":
		return s.install(args)
	case "plugins.remove":
		return s.remove(args)
	default:
		return nil, fmt.Errorf("no host surface attached for command %q", command)
	}
}

// install places a package under the first plugin directory. Packages
// already inside a plugin directory stay where they are.
func (s *localSurface) install(args host.Args) (host.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("install requires a package path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve package path: %w", err)
	}
	if s.confined(abs) {
		return host.Result{"path": abs}, nil
	}
	if len(s.pluginDirs) == 0 {
		return nil, fmt.Errorf("no plugin directory configured")
	}

	dest := filepath.Join(s.pluginDirs[0], filepath.Base(abs))
	if err := copyTree(abs, dest); err != nil {
		return nil, fmt.Errorf("failed to place package: %w", err)
	}

	s.logger.Info().Str("from", abs).Str("to", dest).Msg("Package placed")
	return host.Result{"path": dest}, nil
}

// remove deletes a package directory. Paths outside the plugin directories
// are refused.
func (s *localSurface) remove(args host.Args) (host.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("remove requires a package path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve package path: %w", err)
	}
	if !s.confined(abs) {
		return nil, fmt.Errorf("refusing to remove %s: outside the plugin directories", abs)
	}
	if err := os.RemoveAll(abs); err != nil {
		return nil, fmt.Errorf("failed to remove package: %w", err)
	}

	s.logger.Info().Str("path", abs).Msg("Package removed")
	return host.Result{}, nil
}

// confined reports whether path sits strictly inside a plugin directory.
func (s *localSurface) confined(path string) bool {
	for _, dir := range s.pluginDirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, path)
		if err != nil {
			continue
		}
		if rel != "." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".." {
			return true
		}
	}
	return false
}

// copyTree copies a package directory (or single file) to dest.
func copyTree(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dest, info.Mode())
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dest, entry.Name())
		if entry.IsDir() {
			if err := copyTree(from, to); err != nil {
				return err
			}
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return err
		}
		if err := copyFile(from, to, fi.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
