package capability

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// ScopedDirs are the only directories a plugin's filesystem capability can
// touch: its private data, cache, and temp trees.
type ScopedDirs struct {
	Data  string
	Cache string
	Temp  string
}

// Filesystem is the file façade, scoped to the plugin's private
// directories. Paths are plugin-relative with a scope prefix: "data/…",
// "cache/…", or "temp/…".
type Filesystem struct {
	gate *gate
	dirs ScopedDirs
}

// Dirs returns the plugin's scoped directories.
func (f *Filesystem) Dirs() ScopedDirs {
	return f.dirs
}

// resolve maps a plugin-relative path onto a real path inside one of the
// scoped directories, rejecting anything that escapes them.
func (f *Filesystem) resolve(path string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean("/" + path))[1:] // strip any leading ../
	var root, rest string
	switch {
	case clean == "data" || len(clean) > 5 && clean[:5] == "data/":
		root, rest = f.dirs.Data, clean[min(len(clean), 5):]
	case clean == "cache" || len(clean) > 6 && clean[:6] == "cache/":
		root, rest = f.dirs.Cache, clean[min(len(clean), 6):]
	case clean == "temp" || len(clean) > 5 && clean[:5] == "temp/":
		root, rest = f.dirs.Temp, clean[min(len(clean), 5):]
	default:
		return "", fmt.Errorf("path %q is outside the plugin's data, cache, and temp scopes", path)
	}

	full := filepath.Join(root, filepath.FromSlash(rest))
	rel, err := filepath.Rel(root, full)
	if err != nil || !filepath.IsLocal(rel) && rel != "." {
		return "", fmt.Errorf("path %q escapes the plugin scope", path)
	}
	return full, nil
}

// ReadFile reads a file from the plugin scope.
func (f *Filesystem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	res, err := f.gate.call(ctx, "filesystem", manifest.PermissionFilesystem, "fs.read", host.Args{
		"path": full,
	})
	if err != nil {
		return nil, err
	}
	return []byte(resultString(res, "content")), nil
}

// WriteFile writes a file inside the plugin scope.
func (f *Filesystem) WriteFile(ctx context.Context, path string, content []byte) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	_, err = f.gate.call(ctx, "filesystem", manifest.PermissionFilesystem, "fs.write", host.Args{
		"path":    full,
		"content": string(content),
	})
	return err
}

// List lists a directory inside the plugin scope.
func (f *Filesystem) List(ctx context.Context, path string) ([]string, error) {
	full, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	res, err := f.gate.call(ctx, "filesystem", manifest.PermissionFilesystem, "fs.list", host.Args{
		"path": full,
	})
	if err != nil {
		return nil, err
	}

	var names []string
	if entries, ok := res["entries"].([]any); ok {
		for _, e := range entries {
			if name, ok := e.(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// Remove deletes a file or directory inside the plugin scope.
func (f *Filesystem) Remove(ctx context.Context, path string) error {
	full, err := f.resolve(path)
	if err != nil {
		return err
	}
	_, err = f.gate.call(ctx, "filesystem", manifest.PermissionFilesystem, "fs.remove", host.Args{
		"path": full,
	})
	return err
}
