package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/security"
)

// The extended surface is merged in for plugins that declare the
// "extended" permission. Each handle is a thin permission-and-rate-gated
// pass-through to a host-privileged operation.

// Session exposes the host's active chat session.
type Session struct {
	gate *gate
}

// ActiveID returns the active session ID.
func (s *Session) ActiveID(ctx context.Context) (string, error) {
	res, err := s.gate.call(ctx, "extended", manifest.PermissionExtended, "session.active", nil)
	if err != nil {
		return "", err
	}
	return resultString(res, "sessionId"), nil
}

// SendMessage appends a message to a session.
func (s *Session) SendMessage(ctx context.Context, sessionID, role, content string) error {
	_, err := s.gate.call(ctx, "extended", manifest.PermissionExtended, "session.send", host.Args{
		"sessionId": sessionID,
		"role":      role,
		"content":   content,
	})
	return err
}

// Project exposes the host's open project.
type Project struct {
	gate *gate
}

// Root returns the project root path.
func (p *Project) Root(ctx context.Context) (string, error) {
	res, err := p.gate.call(ctx, "extended", manifest.PermissionExtended, "project.root", nil)
	if err != nil {
		return "", err
	}
	return resultString(res, "path"), nil
}

// OpenFile opens a file in the host editor.
func (p *Project) OpenFile(ctx context.Context, path string) error {
	_, err := p.gate.call(ctx, "extended", manifest.PermissionExtended, "project.open", host.Args{
		"path": path,
	})
	return err
}

// Vectors exposes the host's vector store for semantic search.
type Vectors struct {
	gate *gate
}

// Upsert stores a document with its embedding text.
func (v *Vectors) Upsert(ctx context.Context, id, text string, metadata map[string]any) error {
	_, err := v.gate.call(ctx, "extended", manifest.PermissionExtended, "vectors.upsert", host.Args{
		"id":       id,
		"text":     text,
		"metadata": metadata,
	})
	return err
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	ID    string
	Score float64
}

// Search returns the top-k nearest documents.
func (v *Vectors) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	res, err := v.gate.call(ctx, "extended", manifest.PermissionExtended, "vectors.search", host.Args{
		"query": query,
		"k":     k,
	})
	if err != nil {
		return nil, err
	}

	var out []SearchResult
	if hits, ok := res["hits"].([]any); ok {
		for _, h := range hits {
			m, ok := h.(map[string]any)
			if !ok {
				continue
			}
			hit := SearchResult{ID: resultString(m, "id")}
			if score, ok := m["score"].(float64); ok {
				hit.Score = score
			}
			out = append(out, hit)
		}
	}
	return out, nil
}

// Theme reads and switches the host theme.
type Theme struct {
	gate *gate
}

// Current returns the active theme name.
func (t *Theme) Current(ctx context.Context) (string, error) {
	res, err := t.gate.call(ctx, "extended", manifest.PermissionExtended, "theme.current", nil)
	if err != nil {
		return "", err
	}
	return resultString(res, "name"), nil
}

// Apply switches the host theme.
func (t *Theme) Apply(ctx context.Context, name string) error {
	_, err := t.gate.call(ctx, "extended", manifest.PermissionExtended, "theme.apply", host.Args{
		"name": name,
	})
	return err
}

// Export renders host content into files.
type Export struct {
	gate *gate
}

// ExportContent asks the host to export content and returns the output path.
func (e *Export) ExportContent(ctx context.Context, format string, content any) (string, error) {
	res, err := e.gate.call(ctx, "extended", manifest.PermissionExtended, "export.render", host.Args{
		"format":  format,
		"content": content,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "path"), nil
}

// I18n resolves translations in the host's active locale.
type I18n struct {
	gate *gate
}

// Locale returns the host's active locale tag.
func (i *I18n) Locale(ctx context.Context) (string, error) {
	res, err := i.gate.call(ctx, "extended", manifest.PermissionExtended, "i18n.locale", nil)
	if err != nil {
		return "", err
	}
	return resultString(res, "locale"), nil
}

// Translate resolves a message key with optional template args.
func (i *I18n) Translate(ctx context.Context, key string, args map[string]any) (string, error) {
	res, err := i.gate.call(ctx, "extended", manifest.PermissionExtended, "i18n.translate", host.Args{
		"key":  key,
		"args": args,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "text"), nil
}

// Canvas draws onto host canvas surfaces.
type Canvas struct {
	gate *gate
}

// Create opens a canvas surface and returns its ID.
func (c *Canvas) Create(ctx context.Context, title string) (string, error) {
	res, err := c.gate.call(ctx, "extended", manifest.PermissionExtended, "canvas.create", host.Args{
		"title": title,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "canvasId"), nil
}

// Update replaces the content of a canvas surface.
func (c *Canvas) Update(ctx context.Context, canvasID string, content any) error {
	_, err := c.gate.call(ctx, "extended", manifest.PermissionExtended, "canvas.update", host.Args{
		"canvasId": canvasID,
		"content":  content,
	})
	return err
}

// Notifications shows host notifications.
type Notifications struct {
	gate *gate
}

// Notify shows a notification with the given severity.
func (n *Notifications) Notify(ctx context.Context, level, title, message string) error {
	_, err := n.gate.call(ctx, "extended", manifest.PermissionExtended, "notifications.show", host.Args{
		"level":   level,
		"title":   title,
		"message": message,
	})
	return err
}

// Permissions lets a plugin introspect its own granted permissions.
type Permissions struct {
	pluginID string
	guard    *security.PermissionGuard
}

// List returns the plugin's granted permissions.
func (p *Permissions) List() []manifest.Permission {
	return p.guard.Permissions(p.pluginID)
}

// Has reports whether the plugin holds a permission.
func (p *Permissions) Has(perm manifest.Permission) bool {
	return p.guard.Check(p.pluginID, perm)
}
