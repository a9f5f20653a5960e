package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/patchworkmods/patchwork/internal/config/keys"
	"github.com/patchworkmods/patchwork/internal/logging"
)

// SectionState is the load state of a section.
type SectionState int

const (
	// SectionUnloaded - the section has not been loaded into a config.
	SectionUnloaded SectionState = iota

	// SectionLoading - the section is currently loading.
	SectionLoading

	// SectionLoaded - the section loaded successfully.
	SectionLoaded

	// SectionFailed - loading the section failed.
	SectionFailed
)

// String returns a string representation of the state.
func (s SectionState) String() string {
	switch s {
	case SectionUnloaded:
		return "unloaded"
	case SectionLoading:
		return "loading"
	case SectionLoaded:
		return "loaded"
	case SectionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Section is a named, versioned group of defining keys. A section loads
// into exactly one Config, exactly once.
type Section struct {
	mu sync.Mutex

	id      string
	version *semver.Version

	keys []keys.Definer

	saveable bool
	state    SectionState
	config   *Config
	log      *logging.Logger
}

// NewSection creates a section with the given id, semantic version, and
// declared keys.
func NewSection(id, version string, defs ...keys.Definer) (*Section, error) {
	s := &Section{}
	if err := initSection(s, id, version, defs...); err != nil {
		return nil, err
	}
	return s, nil
}

// initSection initializes a section in place, so wrapper types embedding
// Section can share the constructor.
func initSection(s *Section, id, version string, defs ...keys.Definer) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("section %q: version: %w", id, err)
	}
	s.id = id
	s.version = v
	s.keys = defs
	s.saveable = true
	s.state = SectionUnloaded
	s.log = logging.NullLogger
	return nil
}

// MustSection creates a section and panics on error. Useful for
// sections declared with literal versions.
func MustSection(id, version string, defs ...keys.Definer) *Section {
	s, err := NewSection(id, version, defs...)
	if err != nil {
		panic(err)
	}
	return s
}

// ID returns the section id. Part of the keys.Owner capability.
func (s *Section) ID() string {
	return s.id
}

// Logger returns the section's logger. Part of the keys.Owner
// capability.
func (s *Section) Logger() *logging.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Version returns the section's code version.
func (s *Section) Version() *semver.Version {
	return s.version
}

// State returns the section's load state.
func (s *Section) State() SectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Saveable reports whether the section still participates in saves. It
// flips to false permanently on any fatal error during the section's
// lifetime.
func (s *Section) Saveable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveable
}

// Config returns the config the section is loaded into, or nil.
func (s *Section) Config() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Keys returns the section's keys ordered by descending priority, then
// id. The order affects enumeration and display only.
func (s *Section) Keys() []keys.Definer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]keys.Definer, len(s.keys))
	copy(out, s.keys)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi > pj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// HasChanges reports whether any key in the section holds a value with
// pending changes.
func (s *Section) HasChanges() bool {
	for _, k := range s.Keys() {
		if k.HasValue() && k.HasChanges() {
			return true
		}
	}
	return false
}

// markUnsaveable flips saveable off permanently and logs why.
func (s *Section) markUnsaveable(reason string) {
	s.mu.Lock()
	wasSaveable := s.saveable
	s.saveable = false
	log := s.log
	s.mu.Unlock()

	if wasSaveable {
		log.Error(logging.Msgf("section %q is no longer saveable: %s", s.id, reason))
	}
}

// beginLoad transitions the section into the loading state and wires it
// to its config. Re-registering a section is a programmer error and
// panics.
func (s *Section) beginLoad(c *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config != nil {
		panic(fmt.Sprintf("config: section %q is already registered with config %q", s.id, s.config.owner.ID()))
	}
	s.config = c
	s.state = SectionLoading
	s.log = c.log.WithSource("section." + s.id)
}

// finishLoad records the final load state.
func (s *Section) finishLoad(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.state = SectionLoaded
	} else {
		s.state = SectionFailed
	}
}

// appendKey adds a dynamically declared key to the section.
func (s *Section) appendKey(def keys.Definer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, def)
}
