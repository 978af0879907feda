package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// FileName is the manifest file expected inside every plugin directory.
const FileName = "plugin.json"

// SignatureFileName is the detached signature file, if present.
const SignatureFileName = "plugin.sig.json"

// pluginIDRegex validates plugin ID format: URL-safe slug that starts and
// ends with an alphanumeric character.
var pluginIDRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-_.]*[a-z0-9])?$`)

// ValidationError is a single field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every field-level failure found in one pass, so
// a caller never has to fix errors one at a time.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "invalid manifest: " + strings.Join(msgs, "; ")
}

// Loader loads and validates plugin manifests.
type Loader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewLoader creates a manifest loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(Schema),
	}
}

// Load reads, parses, and validates the manifest file at path.
func (l *Loader) Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return l.Parse(data)
}

// LoadDir loads the manifest from a plugin directory.
func (l *Loader) LoadDir(dir string) (*Manifest, error) {
	return l.Load(filepath.Join(dir, FileName))
}

// Parse parses and validates manifest bytes.
func (l *Loader) Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := l.validateSchema(data); err != nil {
		return nil, err
	}

	if errs := l.Validate(&m); len(errs) > 0 {
		return nil, errs
	}

	l.logger.Debug().
		Str("id", m.ID).
		Str("version", m.Version).
		Str("type", string(m.Type)).
		Msg("Loaded manifest")

	return &m, nil
}

// validateSchema runs the structural JSON-Schema pass.
func (l *Loader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(l.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make(ValidationErrors, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, ValidationError{
				Field:   desc.Field(),
				Message: desc.Description(),
			})
		}
		return errs
	}
	return nil
}

// Validate performs semantic validation beyond the JSON schema and returns
// every failure found. Unknown activation events are logged as warnings
// only and never fail validation.
func (l *Loader) Validate(m *Manifest) ValidationErrors {
	var errs ValidationErrors

	if !pluginIDRegex.MatchString(m.ID) {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("invalid plugin ID %q (must be a lowercase URL-safe slug)", m.ID),
		})
	}

	if _, err := semver.NewVersion(m.Version); err != nil {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("invalid semver version %q", m.Version),
		})
	}

	if !ValidTypes[m.Type] {
		errs = append(errs, ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown plugin type %q", m.Type),
		})
	}

	if m.EntryPoint() == "" {
		errs = append(errs, ValidationError{
			Field:   "main",
			Message: "plugin must declare a main or scriptMain entry point",
		})
	}
	if m.Type == TypeBackendScript && m.ScriptMain == "" {
		errs = append(errs, ValidationError{
			Field:   "scriptMain",
			Message: "backend-script plugins must declare scriptMain",
		})
	}

	for i, c := range m.Capabilities {
		if !ValidCapabilities[c] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capabilities[%d]", i),
				Message: fmt.Sprintf("unknown capability %q", c),
			})
		}
	}

	for i, p := range m.Permissions {
		if !ValidPermissions[p] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("permissions[%d]", i),
				Message: fmt.Sprintf("unknown permission %q", p),
			})
		}
	}

	for i, dep := range m.Dependencies {
		if dep.PluginID == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("dependencies[%d].pluginId", i),
				Message: "pluginId cannot be empty",
			})
			continue
		}
		if dep.Version != "" {
			if _, err := semver.NewConstraint(dep.Version); err != nil {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("dependencies[%d].version", i),
					Message: fmt.Sprintf("invalid semver constraint %q", dep.Version),
				})
			}
		}
	}

	for _, event := range m.ActivationEvents {
		base, _, _ := strings.Cut(event, ":")
		if !knownActivationEvents[base] {
			l.logger.Warn().
				Str("id", m.ID).
				Str("event", event).
				Msg("Unknown activation event, ignoring")
		}
	}

	return errs
}

// ValidateConfig validates user-supplied plugin configuration against the
// manifest's configSchema. A manifest without a configSchema accepts any
// configuration.
func (l *Loader) ValidateConfig(m *Manifest, config map[string]any) error {
	if len(m.ConfigSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(m.ConfigSchema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("config schema validation error: %w", err)
	}
	if !result.Valid() {
		errs := make(ValidationErrors, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, ValidationError{
				Field:   "config." + desc.Field(),
				Message: desc.Description(),
			})
		}
		return errs
	}
	return nil
}
