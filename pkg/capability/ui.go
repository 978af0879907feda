package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Shortcuts registers keyboard shortcuts with the host. Every registration
// returns a disposer that removes exactly that shortcut.
type Shortcuts struct {
	gate *gate
	disposerSet
}

// Register binds a key combination to a plugin command.
func (s *Shortcuts) Register(ctx context.Context, keys, command string) (Disposer, error) {
	res, err := s.gate.call(ctx, "shortcuts", manifest.PermissionShortcuts, "shortcuts.register", host.Args{
		"keys":    keys,
		"command": command,
	})
	if err != nil {
		return nil, err
	}

	shortcutID := resultString(res, "shortcutId")
	return s.track(func(ctx context.Context) error {
		_, err := s.gate.caller.Call(ctx, "shortcuts.unregister", host.Args{
			"shortcutId": shortcutID,
			"pluginId":   s.gate.pluginID,
		})
		return err
	}), nil
}

// ContextMenu contributes entries to the host's context menus.
type ContextMenu struct {
	gate *gate
	disposerSet
}

// MenuItem describes a contributed context-menu entry.
type MenuItem struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	Where   string `json:"where,omitempty"` // menu location selector
}

// AddItem contributes a menu entry and returns its disposer.
func (m *ContextMenu) AddItem(ctx context.Context, item MenuItem) (Disposer, error) {
	res, err := m.gate.call(ctx, "contextmenu", manifest.PermissionContextMenu, "contextmenu.add", host.Args{
		"label":   item.Label,
		"command": item.Command,
		"where":   item.Where,
	})
	if err != nil {
		return nil, err
	}

	itemID := resultString(res, "itemId")
	return m.track(func(ctx context.Context) error {
		_, err := m.gate.caller.Call(ctx, "contextmenu.remove", host.Args{
			"itemId":   itemID,
			"pluginId": m.gate.pluginID,
		})
		return err
	}), nil
}

// Windows creates and decorates host windows and surfaces.
type Windows struct {
	gate *gate
	disposerSet
}

// WindowOptions configures a plugin window.
type WindowOptions struct {
	Title  string `json:"title"`
	URL    string `json:"url,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Create opens a window and returns its handle ID.
func (w *Windows) Create(ctx context.Context, opts WindowOptions) (string, error) {
	res, err := w.gate.call(ctx, "windows", manifest.PermissionWindows, "windows.create", host.Args{
		"title":  opts.Title,
		"url":    opts.URL,
		"width":  opts.Width,
		"height": opts.Height,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "windowId"), nil
}

// Close closes a window the plugin created.
func (w *Windows) Close(ctx context.Context, windowID string) error {
	_, err := w.gate.call(ctx, "windows", manifest.PermissionWindows, "windows.close", host.Args{
		"windowId": windowID,
	})
	return err
}

// AddStatusBarItem contributes a status-bar item; the disposer removes it.
func (w *Windows) AddStatusBarItem(ctx context.Context, text, tooltip string) (Disposer, error) {
	res, err := w.gate.call(ctx, "windows", manifest.PermissionWindows, "windows.statusbar.add", host.Args{
		"text":    text,
		"tooltip": tooltip,
	})
	if err != nil {
		return nil, err
	}

	itemID := resultString(res, "itemId")
	return w.track(func(ctx context.Context) error {
		_, err := w.gate.caller.Call(ctx, "windows.statusbar.remove", host.Args{
			"itemId":   itemID,
			"pluginId": w.gate.pluginID,
		})
		return err
	}), nil
}

// AddSidebarPanel contributes a sidebar panel; the disposer removes it.
func (w *Windows) AddSidebarPanel(ctx context.Context, title, url string) (Disposer, error) {
	res, err := w.gate.call(ctx, "windows", manifest.PermissionWindows, "windows.sidebar.add", host.Args{
		"title": title,
		"url":   url,
	})
	if err != nil {
		return nil, err
	}

	panelID := resultString(res, "panelId")
	return w.track(func(ctx context.Context) error {
		_, err := w.gate.caller.Call(ctx, "windows.sidebar.remove", host.Args{
			"panelId":  panelID,
			"pluginId": w.gate.pluginID,
		})
		return err
	}), nil
}
