// Package extension implements the host-side extension runtime: manifest
// discovery, the two-phase loader, and the live registry.
package extension

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Type identifies the extension runtime.
type Type string

// Extension types supported by the host.
const (
	// TypeBuiltin extensions are compiled into the host binary and
	// instantiated through a named factory.
	TypeBuiltin Type = "builtin"
	// TypeLua extensions are scripts executed in a sandboxed interpreter.
	TypeLua Type = "lua"
)

// Manifest represents an extension.yaml file.
type Manifest struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string         `yaml:"author,omitempty" json:"author,omitempty"`
	Type        Type           `yaml:"type" json:"type" jsonschema:"enum=builtin,enum=lua"`
	Builtin     *BuiltinConfig `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	Lua         *LuaConfig     `yaml:"lua,omitempty" json:"lua,omitempty"`
}

// BuiltinConfig names the compiled-in factory to instantiate.
type BuiltinConfig struct {
	Factory string `yaml:"factory" json:"factory"`
}

// LuaConfig holds script extension configuration.
type LuaConfig struct {
	Entry string `yaml:"entry" json:"entry"`
}

// maxIDLength is the maximum allowed length for extension ids.
const maxIDLength = 64

// idPattern validates extension ids: must start with a lowercase letter,
// followed by lowercase letters, digits, or hyphens, and not end with a
// hyphen. Single-character ids are allowed.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// ParseManifest parses and validates an extension.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return fmt.Errorf("id %q must start with a-z, contain only a-z, 0-9, hyphens, and not end with a hyphen", m.ID)
	}
	if len(m.ID) > maxIDLength {
		return fmt.Errorf("id must be %d characters or less, got %d", maxIDLength, len(m.ID))
	}

	if m.Name == "" {
		return fmt.Errorf("name is required")
	}

	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("version %q is not a valid semantic version: %w", m.Version, err)
	}

	switch m.Type {
	case TypeBuiltin:
		if m.Builtin == nil {
			return fmt.Errorf("builtin is required when type is builtin")
		}
		if m.Builtin.Factory == "" {
			return fmt.Errorf("builtin.factory is required")
		}
	case TypeLua:
		if m.Lua == nil {
			return fmt.Errorf("lua is required when type is lua")
		}
		if m.Lua.Entry == "" {
			return fmt.Errorf("lua.entry is required")
		}
	default:
		return fmt.Errorf("type must be 'builtin' or 'lua', got %q", m.Type)
	}

	return nil
}
