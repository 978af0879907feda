// Package manifest defines the declarative plugin descriptor and its
// validation rules. A manifest is validated before any plugin code runs and
// is immutable afterwards.
package manifest

import (
	"time"
)

// PluginType distinguishes where a plugin's code executes.
type PluginType string

const (
	TypeFrontend      PluginType = "frontend"
	TypeBackendScript PluginType = "backend-script"
	TypeHybrid        PluginType = "hybrid"
)

// ValidTypes is the set of recognized plugin types.
var ValidTypes = map[PluginType]bool{
	TypeFrontend:      true,
	TypeBackendScript: true,
	TypeHybrid:        true,
}

// Capability names a contribution kind a plugin may register.
type Capability string

const (
	CapabilityTools      Capability = "tools"
	CapabilityModes      Capability = "modes"
	CapabilityCommands   Capability = "commands"
	CapabilityComponents Capability = "components"
	CapabilityThemes     Capability = "themes"
	CapabilityChannels   Capability = "channels"
)

// ValidCapabilities is the set of recognized capabilities. Unknown values
// are hard validation errors.
var ValidCapabilities = map[Capability]bool{
	CapabilityTools:      true,
	CapabilityModes:      true,
	CapabilityCommands:   true,
	CapabilityComponents: true,
	CapabilityThemes:     true,
	CapabilityChannels:   true,
}

// Permission names a privileged operation class a plugin may request.
type Permission string

const (
	PermissionNetwork     Permission = "network"
	PermissionFilesystem  Permission = "filesystem"
	PermissionClipboard   Permission = "clipboard"
	PermissionShell       Permission = "shell"
	PermissionDatabase    Permission = "database"
	PermissionShortcuts   Permission = "shortcuts"
	PermissionWindows     Permission = "windows"
	PermissionSecrets     Permission = "secrets"
	PermissionScheduler   Permission = "scheduler"
	PermissionMessaging   Permission = "messaging"
	PermissionAI          Permission = "ai"
	PermissionExtended    Permission = "extended"
	PermissionContextMenu Permission = "contextmenu"
)

// ValidPermissions is the set of recognized permissions. Unknown values are
// hard validation errors.
var ValidPermissions = map[Permission]bool{
	PermissionNetwork:     true,
	PermissionFilesystem:  true,
	PermissionClipboard:   true,
	PermissionShell:       true,
	PermissionDatabase:    true,
	PermissionShortcuts:   true,
	PermissionWindows:     true,
	PermissionSecrets:     true,
	PermissionScheduler:   true,
	PermissionMessaging:   true,
	PermissionAI:          true,
	PermissionExtended:    true,
	PermissionContextMenu: true,
}

// knownActivationEvents are the activation events the host understands.
// Unknown activation events produce warnings, not errors.
var knownActivationEvents = map[string]bool{
	"onStartup":  true,
	"onCommand":  true,
	"onLanguage": true,
	"onEvent":    true,
}

// Manifest is the plugin.json file structure.
type Manifest struct {
	ID               string                `json:"id"`
	Name             string                `json:"name,omitempty"`
	Version          string                `json:"version"`
	Description      string                `json:"description,omitempty"`
	Author           string                `json:"author,omitempty"`
	Type             PluginType            `json:"type"`
	Main             string                `json:"main,omitempty"`
	ScriptMain       string                `json:"scriptMain,omitempty"`
	Capabilities     []Capability          `json:"capabilities,omitempty"`
	Permissions      []Permission          `json:"permissions,omitempty"`
	Tools            []ToolContribution    `json:"tools,omitempty"`
	Modes            []ModeContribution    `json:"modes,omitempty"`
	Commands         []CommandContribution `json:"commands,omitempty"`
	ActivationEvents []string              `json:"activationEvents,omitempty"`
	Dependencies     []Dependency          `json:"dependencies,omitempty"`
	ConfigSchema     map[string]any        `json:"configSchema,omitempty"`
}

// Dependency declares a dependency on another plugin.
type Dependency struct {
	PluginID string `json:"pluginId"`
	Version  string `json:"version,omitempty"` // semver constraint
}

// ToolContribution is a declaratively contributed tool.
type ToolContribution struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
}

// ModeContribution is a declaratively contributed mode.
type ModeContribution struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// CommandContribution is a declaratively contributed command.
type CommandContribution struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// HasCapability reports whether the manifest declares a capability.
func (m *Manifest) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// HasPermission reports whether the manifest requests a permission.
func (m *Manifest) HasPermission(p Permission) bool {
	for _, have := range m.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// EntryPoint returns the effective entry module for the plugin type.
func (m *Manifest) EntryPoint() string {
	if m.Type == TypeBackendScript && m.ScriptMain != "" {
		return m.ScriptMain
	}
	if m.Main != "" {
		return m.Main
	}
	return m.ScriptMain
}

// Signature holds the detached signature material shipped alongside a
// plugin package (plugin.sig.json).
type Signature struct {
	Algorithm string         `json:"algorithm"` // sha256
	Signature string         `json:"signature"` // hex HMAC over manifest bytes
	Files     []FileChecksum `json:"files,omitempty"`
	SignedAt  time.Time      `json:"signedAt,omitempty"`
	KeyID     string         `json:"keyId,omitempty"`
}

// FileChecksum is a single file's expected checksum within a package.
type FileChecksum struct {
	Path   string `json:"path"`   // forward-slash relative path
	SHA256 string `json:"sha256"` // lowercase hex
}
