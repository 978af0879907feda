package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifestJSON() []byte {
	return []byte(`{
		"id": "hello-world",
		"name": "Hello World",
		"version": "1.2.3",
		"type": "frontend",
		"main": "dist/index.js",
		"capabilities": ["tools", "commands"],
		"permissions": ["network", "messaging"]
	}`)
}

func TestParseValidManifest(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	m, err := l.Parse(validManifestJSON())
	require.NoError(t, err)

	assert.Equal(t, "hello-world", m.ID)
	assert.Equal(t, "1.2.3", m.Version)
	assert.Equal(t, TypeFrontend, m.Type)
	assert.Equal(t, "dist/index.js", m.EntryPoint())
	assert.True(t, m.HasCapability(CapabilityTools))
	assert.True(t, m.HasPermission(PermissionNetwork))
	assert.False(t, m.HasPermission(PermissionShell))
}

func TestParseInvalidManifests(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	tests := []struct {
		name string
		json string
	}{
		{
			name: "malformed JSON",
			json: `{"id": `,
		},
		{
			name: "missing required fields",
			json: `{"name": "No ID"}`,
		},
		{
			name: "bad plugin id",
			json: `{"id": "Hello World!", "version": "1.0.0", "type": "frontend", "main": "a.js"}`,
		},
		{
			name: "bad semver",
			json: `{"id": "a", "version": "not-a-version", "type": "frontend", "main": "a.js"}`,
		},
		{
			name: "unknown type",
			json: `{"id": "a", "version": "1.0.0", "type": "native", "main": "a.js"}`,
		},
		{
			name: "missing entry point",
			json: `{"id": "a", "version": "1.0.0", "type": "frontend"}`,
		},
		{
			name: "backend-script without scriptMain",
			json: `{"id": "a", "version": "1.0.0", "type": "backend-script", "main": "a.js"}`,
		},
		{
			name: "unknown capability",
			json: `{"id": "a", "version": "1.0.0", "type": "frontend", "main": "a.js", "capabilities": ["telepathy"]}`,
		},
		{
			name: "unknown permission",
			json: `{"id": "a", "version": "1.0.0", "type": "frontend", "main": "a.js", "permissions": ["root"]}`,
		},
		{
			name: "bad dependency constraint",
			json: `{"id": "a", "version": "1.0.0", "type": "frontend", "main": "a.js", "dependencies": [{"pluginId": "b", "version": "not a constraint ~~~"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.json))
			assert.Error(t, err)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	m := &Manifest{
		ID:      "BAD ID",
		Version: "nope",
		Type:    "weird",
	}

	errs := l.Validate(m)
	require.GreaterOrEqual(t, len(errs), 4)

	fields := make(map[string]bool)
	for _, e := range errs {
		fields[e.Field] = true
	}
	assert.True(t, fields["id"])
	assert.True(t, fields["version"])
	assert.True(t, fields["type"])
	assert.True(t, fields["main"])
}

func TestUnknownActivationEventIsWarningOnly(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	m, err := l.Parse([]byte(`{
		"id": "a",
		"version": "1.0.0",
		"type": "frontend",
		"main": "a.js",
		"activationEvents": ["onTeleport", "onCommand:hello"]
	}`))
	require.NoError(t, err)
	assert.Len(t, m.ActivationEvents, 2)
}

func TestLoadDir(t *testing.T) {
	l := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	t.Run("missing manifest", func(t *testing.T) {
		_, err := l.LoadDir(dir)
		assert.Error(t, err)
	})

	t.Run("valid manifest", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), validManifestJSON(), 0644))

		m, err := l.LoadDir(dir)
		require.NoError(t, err)
		assert.Equal(t, "hello-world", m.ID)
	})
}

func TestValidateConfig(t *testing.T) {
	l := NewLoader(zerolog.Nop())

	m := &Manifest{
		ID:      "a",
		Version: "1.0.0",
		Type:    TypeFrontend,
		Main:    "a.js",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"interval": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []any{"interval"},
		},
	}

	t.Run("valid config", func(t *testing.T) {
		err := l.ValidateConfig(m, map[string]any{"interval": 5})
		assert.NoError(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		err := l.ValidateConfig(m, map[string]any{"interval": "soon"})
		assert.Error(t, err)
	})

	t.Run("missing required key", func(t *testing.T) {
		err := l.ValidateConfig(m, map[string]any{})
		assert.Error(t, err)
	})

	t.Run("no schema accepts anything", func(t *testing.T) {
		bare := &Manifest{ID: "b", Version: "1.0.0", Type: TypeFrontend, Main: "b.js"}
		err := l.ValidateConfig(bare, map[string]any{"whatever": true})
		assert.NoError(t, err)
	})
}

func TestEntryPoint(t *testing.T) {
	tests := []struct {
		name     string
		manifest Manifest
		want     string
	}{
		{"frontend main", Manifest{Type: TypeFrontend, Main: "a.js"}, "a.js"},
		{"backend script", Manifest{Type: TypeBackendScript, ScriptMain: "bin/run"}, "bin/run"},
		{"hybrid prefers main", Manifest{Type: TypeHybrid, Main: "a.js", ScriptMain: "bin/run"}, "a.js"},
		{"hybrid script only", Manifest{Type: TypeHybrid, ScriptMain: "bin/run"}, "bin/run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.manifest.EntryPoint())
		})
	}
}
