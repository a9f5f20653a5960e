// Package config implements the settings store owned by one mod or
// loader: versioned sections of defining keys, persisted to a JSON
// document.
package config

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/patchworkmods/patchwork/internal/config/document"
	"github.com/patchworkmods/patchwork/internal/config/keys"
	"github.com/patchworkmods/patchwork/internal/event"
	"github.com/patchworkmods/patchwork/internal/logging"
)

// Owner is the capability a config's owning entity exposes. The config
// engine only ever calls these four members.
type Owner interface {
	// ID identifies the owner; the persisted document must record it.
	ID() string

	// ConfigPath is where the owner's config document lives on disk.
	ConfigPath() string

	// Logger is the owner's diagnostic logger.
	Logger() *logging.Logger

	// Events is the owner's reference back to the loader's cross-cutting
	// event bus.
	Events() *event.Bus
}

// Config is the full settings store for one owner, composed of loaded
// sections and a merged key lookup across all of them.
type Config struct {
	mu sync.Mutex

	owner Owner
	log   *logging.Logger
	doc   *document.Document

	sections  map[string]*Section
	loadOrder []string

	// byIdentity is the merged identity-to-key lookup; byID backs the
	// duplicate-id check across sections.
	byIdentity map[keys.Key]keys.Definer
	byID       map[string]keys.Definer

	// saveMu is the exclusive lock on the backing document held for the
	// whole serialize-and-write of Save.
	saveMu sync.Mutex
}

// New creates the config for an owner, loading its persisted document.
// A missing file starts fresh; a malformed or foreign document is a
// data error: it is logged and the config starts fresh rather than
// failing the owner.
func New(owner Owner) *Config {
	log := owner.Logger()
	if log == nil {
		log = logging.NullLogger
	}
	log = log.WithSource("config")

	doc, err := document.Load(owner.ConfigPath(), owner.ID())
	if err != nil {
		log.Error(logging.Msgf("config for %q: %v; starting from an empty document", owner.ID(), err))
		doc = document.New(owner.ID())
	}
	return newWithDocument(owner, log, doc)
}

// NewWithDocument creates a config over an existing document. Intended
// for tests and tooling.
func NewWithDocument(owner Owner, doc *document.Document) *Config {
	log := owner.Logger()
	if log == nil {
		log = logging.NullLogger
	}
	return newWithDocument(owner, log.WithSource("config"), doc)
}

func newWithDocument(owner Owner, log *logging.Logger, doc *document.Document) *Config {
	return &Config{
		owner:      owner,
		log:        log,
		doc:        doc,
		sections:   make(map[string]*Section),
		byIdentity: make(map[keys.Key]keys.Definer),
		byID:       make(map[string]keys.Definer),
	}
}

// Owner returns the owning entity.
func (c *Config) Owner() Owner {
	return c.owner
}

// Document returns the backing document.
func (c *Config) Document() *document.Document {
	return c.doc
}

// Sections returns the loaded sections in load order.
func (c *Config) Sections() []*Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Section, 0, len(c.loadOrder))
	for _, id := range c.loadOrder {
		out = append(out, c.sections[id])
	}
	return out
}

// Section returns a loaded section by id.
func (c *Config) Section(id string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, id)
	}
	return s, nil
}

// GetKey returns the defining key for an identity. An untyped identity
// matches by id alone; a typed identity must match id and type. Unknown
// identities are a lookup error, never a silent default.
func (c *Config) GetKey(identity keys.Key) (keys.Definer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if def, ok := c.byIdentity[identity]; ok {
		return def, nil
	}
	if !identity.IsTyped() {
		if def, ok := c.byID[identity.ID()]; ok {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, identity)
}

// LoadSection registers a section with the config and runs the load
// protocol: key registration, version compatibility under the policy,
// then best-effort per-key deserialization.
func (c *Config) LoadSection(section *Section, policy VersionPolicy) error {
	c.mu.Lock()
	if _, dup := c.sections[section.ID()]; dup {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrDuplicateSection, section.ID())
	}
	c.mu.Unlock()

	// Panics if the section instance is already registered elsewhere.
	section.beginLoad(c)

	c.mu.Lock()
	c.sections[section.ID()] = section
	c.loadOrder = append(c.loadOrder, section.ID())
	c.mu.Unlock()

	// Register every declared key into the merged lookup.
	for _, def := range section.Keys() {
		def.Bind(section)
		c.registerKey(section, def)
	}

	// Version gate against the persisted sub-object.
	proceed, err := c.checkVersion(section, policy)
	if err != nil {
		section.finishLoad(false)
		return err
	}

	if proceed {
		c.deserializeKeys(section)
	}

	section.finishLoad(true)
	return nil
}

// registerKey adds a key to the merged lookups. A duplicate id across
// sections marks the later-loaded section unsaveable and logs an error;
// loading continues.
func (c *Config) registerKey(section *Section, def keys.Definer) {
	c.mu.Lock()
	if existing, clash := c.byID[def.ID()]; clash {
		c.mu.Unlock()
		ownedBy := "unknown"
		if owner := existing.BoundTo(); owner != nil {
			ownedBy = owner.ID()
		}
		section.markUnsaveable(fmt.Sprintf("key id %q is already defined by section %q", def.ID(), ownedBy))
		return
	}
	c.byID[def.ID()] = def
	c.byIdentity[def.Identity()] = def
	c.mu.Unlock()
}

// checkVersion applies the version compatibility rule and policy.
// Reports whether persisted data should be deserialized.
func (c *Config) checkVersion(section *Section, policy VersionPolicy) (bool, error) {
	sid := section.ID()
	if !c.doc.HasSection(sid) {
		return false, nil
	}

	recorded, ok := c.doc.SectionVersion(sid)
	if !ok {
		// No recorded version at all; nothing trustworthy to load.
		return c.resolveIncompatible(section, policy, fmt.Errorf("%w: section %q has no recorded version", ErrBadVersion, sid))
	}

	persisted, err := semver.NewVersion(recorded)
	if err != nil {
		return c.resolveIncompatible(section, policy, fmt.Errorf("%w: section %q records %q", ErrBadVersion, sid, recorded))
	}

	if CompatibleVersions(persisted, section.Version()) {
		return true, nil
	}
	return c.resolveIncompatible(section, policy,
		fmt.Errorf("%w: section %q persisted %s, code %s", ErrIncompatibleVersion, sid, persisted, section.Version()))
}

// resolveIncompatible applies the configured policy to an incompatible
// or unreadable persisted section.
func (c *Config) resolveIncompatible(section *Section, policy VersionPolicy, cause error) (bool, error) {
	switch policy {
	case PolicyClobber:
		c.log.Warn(logging.Msgf("section %q: discarding persisted data (%v)", section.ID(), cause))
		if err := c.doc.DeleteSection(section.ID()); err != nil {
			c.log.Error(logging.Msgf("section %q: clobber failed: %v", section.ID(), err))
		}
		return false, nil
	case PolicyForceLoad:
		c.log.Warn(logging.Msgf("section %q: force-loading despite %v", section.ID(), cause))
		return true, nil
	default:
		section.markUnsaveable(cause.Error())
		return false, cause
	}
}

// deserializeKeys loads each key's value from the persisted sub-object.
// Per-key failures are logged and mark the section unsaveable, but the
// remaining keys still load.
func (c *Config) deserializeKeys(section *Section) {
	for _, def := range section.Keys() {
		raw, ok := c.doc.KeyRaw(section.ID(), def.ID())
		if !ok {
			continue
		}
		if err := def.UnmarshalValue(raw); err != nil {
			section.markUnsaveable(fmt.Sprintf("load key %q: %v", def.ID(), err))
		}
	}
}

// HasChanges reports whether any key anywhere in the config holds a
// value with pending changes.
func (c *Config) HasChanges() bool {
	for _, section := range c.Sections() {
		if section.HasChanges() {
			return true
		}
	}
	return false
}

// Save serializes saveable sections into the document and writes it to
// disk. It holds an exclusive lock on the backing document for the
// whole transaction. Without any dirty key the save is a no-op and no
// file is touched. A section that fails to serialize is skipped and
// logged; file write failures are logged, never propagated. After a
// successful write, pending changes are cleared only on sections that
// actually serialized.
//
// Reports whether a file write happened.
func (c *Config) Save() bool {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if !c.HasChanges() {
		c.log.Trace(logging.Msg("save skipped: no pending changes"))
		return false
	}

	var written []*Section
	for _, section := range c.Sections() {
		if !section.Saveable() {
			c.log.Debug(logging.Msgf("save: skipping unsaveable section %q", section.ID()))
			continue
		}
		if err := c.serializeSection(section); err != nil {
			c.log.Error(logging.Msgf("save: section %q failed to serialize: %v", section.ID(), err))
			continue
		}
		written = append(written, section)
	}

	if err := c.doc.WriteTo(c.owner.ConfigPath()); err != nil {
		c.log.Error(logging.Msgf("save: writing %q failed: %v", c.owner.ConfigPath(), err))
		return false
	}

	for _, section := range written {
		for _, def := range section.Keys() {
			def.ClearChanges()
		}
	}

	if bus := c.owner.Events(); bus != nil {
		_ = bus.Dispatch(event.Event{
			Topic:  event.TopicConfigSaved,
			Source: c.owner.ID(),
		})
	}
	return true
}

// serializeSection marshals every held key value before touching the
// document, so a failing section leaves its persisted sub-object
// untouched.
func (c *Config) serializeSection(section *Section) error {
	type pending struct {
		id  string
		raw []byte
	}
	var values []pending
	var cleared []string

	for _, def := range section.Keys() {
		if !def.HasValue() {
			cleared = append(cleared, def.ID())
			continue
		}
		raw, err := def.MarshalValue()
		if err != nil {
			return err
		}
		values = append(values, pending{id: def.ID(), raw: raw})
	}

	if err := c.doc.SetSectionVersion(section.ID(), section.Version().String()); err != nil {
		return err
	}
	for _, p := range values {
		if err := c.doc.SetKeyRaw(section.ID(), p.id, p.raw); err != nil {
			return err
		}
	}
	for _, id := range cleared {
		if err := c.doc.DeleteKey(section.ID(), id); err != nil {
			return err
		}
	}
	return nil
}
