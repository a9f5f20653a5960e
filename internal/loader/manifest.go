// Package loader discovers packaged mods, builds their dependency
// graph, orders them, and drives their lifecycle and per-mod configs.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// ManifestFileName is the manifest file looked for in a mod directory.
const ManifestFileName = "mod.json"

// Manifest describes a mod's identity, requirements, and contributed
// patch scripts.
type Manifest struct {
	// Identity
	Name        string `json:"name"`        // Unique package id (e.g. "chat-overhaul")
	Version     string `json:"version"`     // Semver (e.g. "1.2.0")
	DisplayName string `json:"displayName"` // Human-readable name
	Description string `json:"description"` // Short description
	Author      string `json:"author"`      // Author name or org

	// GamePack mods always precede regular mods in load order.
	GamePack bool `json:"gamePack"`

	// Dependencies are required package ids.
	Dependencies []string `json:"dependencies"`

	// Contributed patch units.
	EarlyPatches []PatchEntry `json:"earlyPatches"`
	Patches      []PatchEntry `json:"patches"`

	// Internal: path to the mod directory.
	path string
}

// PatchEntry declares one patch script contributed by a mod.
type PatchEntry struct {
	Name     string `json:"name"`     // Patch name, unique within the mod
	Priority int    `json:"priority"` // Higher runs first
	Script   string `json:"script"`   // Relative path to the Lua script
}

// Manifest validation errors.
var (
	ErrMissingName      = errors.New("manifest: name is required")
	ErrInvalidName      = errors.New("manifest: name must be alphanumeric with hyphens")
	ErrMissingVersion   = errors.New("manifest: version is required")
	ErrInvalidVersion   = errors.New("manifest: version must be valid semver")
	ErrMissingPatchName = errors.New("manifest: patch name is required")
	ErrInvalidScript    = errors.New("manifest: patch script must be a .lua file")
)

// namePattern validates package ids.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

// LoadManifest loads and validates a mod manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	m.path = filepath.Dir(path)

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFromDir loads a mod.json manifest from a mod directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFileName))
}

// Validate checks that the manifest is valid.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}

	if m.Version == "" {
		return ErrMissingVersion
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}

	for i, p := range append(append([]PatchEntry{}, m.EarlyPatches...), m.Patches...) {
		if p.Name == "" {
			return fmt.Errorf("%w at index %d", ErrMissingPatchName, i)
		}
		if filepath.Ext(p.Script) != ".lua" {
			return fmt.Errorf("%w: %s (patch %q)", ErrInvalidScript, p.Script, p.Name)
		}
	}
	return nil
}

// Path returns the mod directory the manifest was loaded from.
func (m *Manifest) Path() string {
	return m.path
}

// ScriptPath returns the absolute path of a patch entry's script.
func (m *Manifest) ScriptPath(p PatchEntry) string {
	return filepath.Join(m.path, p.Script)
}

// String returns a human-readable form of the manifest.
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.Name
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}
