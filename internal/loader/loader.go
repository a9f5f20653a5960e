package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/patchworkmods/patchwork/internal/config"
	"github.com/patchworkmods/patchwork/internal/event"
	"github.com/patchworkmods/patchwork/internal/logging"
	"github.com/patchworkmods/patchwork/internal/mods"
	"github.com/patchworkmods/patchwork/internal/monkey"
)

// Loader errors.
var (
	// ErrModNotFound is returned when a mod id is unknown to the loader.
	ErrModNotFound = errors.New("mod not found")

	// ErrDuplicateMod is returned when two discovered mods share an id.
	ErrDuplicateMod = errors.New("mod id discovered twice")
)

// Options configures a Loader.
type Options struct {
	// ModPaths are directories searched for mod directories.
	ModPaths []string

	// ConfigDir is where per-mod config documents live.
	ConfigDir string

	// Policy applies to incompatible persisted config sections.
	Policy config.VersionPolicy

	// Logging is the shared logging controller. Nil disables logging.
	Logging *logging.Controller
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ModPaths:  []string{"mods"},
		ConfigDir: "configs",
		Policy:    config.PolicyError,
	}
}

// Loader owns the full mod pipeline: discovery, dependency resolution,
// ordering, patch-loading passes, per-mod configs, and shutdown. It is
// the Resolver oracle the ordering engine consults.
type Loader struct {
	mu sync.RWMutex

	opts Options
	log  *logging.Logger
	bus  *event.Bus

	mods    map[string]*mods.Mod
	order   []*mods.Mod
	configs map[string]*config.Config

	exiting bool
}

// New creates a loader.
func New(opts Options) *Loader {
	log := logging.NullLogger
	if opts.Logging != nil {
		log = opts.Logging.Logger("loader")
	}
	return &Loader{
		opts:    opts,
		log:     log,
		bus:     event.NewBus(log.WithSource("events")),
		mods:    make(map[string]*mods.Mod),
		configs: make(map[string]*config.Config),
	}
}

// Bus returns the loader's cross-cutting event bus.
func (l *Loader) Bus() *event.Bus {
	return l.bus
}

// Logger returns the loader's logger.
func (l *Loader) Logger() *logging.Logger {
	return l.log
}

// TryResolve resolves a package id to a registered mod. Part of the
// mods.Resolver oracle.
func (l *Loader) TryResolve(id string) (*mods.Mod, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.mods[id]
	return m, ok
}

// Get returns a registered mod by id.
func (l *Loader) Get(id string) (*mods.Mod, error) {
	if m, ok := l.TryResolve(id); ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrModNotFound, id)
}

// Order returns the mods in canonical load order.
func (l *Loader) Order() []*mods.Mod {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*mods.Mod, len(l.order))
	copy(out, l.order)
	return out
}

// Discover scans the configured paths for mod directories containing a
// manifest. Unreadable or invalid manifests are logged and skipped.
func (l *Loader) Discover() []*Manifest {
	var found []*Manifest
	for _, root := range l.opts.ModPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			if !os.IsNotExist(err) {
				l.log.Warn(logging.Msgf("discover: reading %q: %v", root, err))
			}
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, ManifestFileName)); err != nil {
				continue
			}
			m, err := LoadManifestFromDir(dir)
			if err != nil {
				l.log.Warn(logging.Msgf("discover: %q: %v", dir, err))
				continue
			}
			found = append(found, m)
		}
	}
	return found
}

// Register builds a mod from its manifest and adds it to the loader.
func (l *Loader) Register(m *Manifest) (*mods.Mod, error) {
	l.mu.RLock()
	_, dup := l.mods[m.Name]
	l.mu.RUnlock()
	if dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateMod, m.Name)
	}

	opts := []mods.ModOption{
		mods.WithLogger(l.log.WithSource("mod." + m.Name)),
		mods.WithBus(l.bus),
	}
	if m.GamePack {
		opts = append(opts, mods.AsGamePack())
	}
	for _, dep := range m.Dependencies {
		opts = append(opts, mods.WithDependency(dep))
	}
	for _, p := range m.EarlyPatches {
		opts = append(opts, mods.WithEarlyMonkey(monkey.NewLua(p.Name, p.Priority, m.ScriptPath(p))))
	}
	for _, p := range m.Patches {
		opts = append(opts, mods.WithMonkey(monkey.NewLua(p.Name, p.Priority, m.ScriptPath(p))))
	}

	mod, err := mods.NewMod(m.Name, m.Version, opts...)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.mods[m.Name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateMod, m.Name)
	}
	l.mods[m.Name] = mod
	return mod, nil
}

// LoadAll runs the whole pipeline: discover, register, resolve
// dependencies, compute the canonical order, then the early and normal
// patch passes. One mod's failure never stops the pass; registration
// errors are aggregated and returned.
func (l *Loader) LoadAll(ctx context.Context) error {
	var errs *multierror.Error
	for _, m := range l.Discover() {
		if _, err := l.Register(m); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	l.ResolveAndOrder()

	for _, mod := range l.Order() {
		if !mod.AllDependenciesLoaded(l) {
			l.log.Warn(logging.Msgf("mod %q: not all dependencies are loaded", mod.ID()))
		}
		mod.LoadEarlyMonkeys(ctx)
	}
	for _, mod := range l.Order() {
		mod.LoadMonkeys(ctx)
	}

	return errs.ErrorOrNil()
}

// ResolveAndOrder resolves every declared dependency edge and computes
// the canonical total order.
func (l *Loader) ResolveAndOrder() {
	l.mu.Lock()
	defer l.mu.Unlock()

	all := make([]*mods.Mod, 0, len(l.mods))
	for _, mod := range l.mods {
		all = append(all, mod)
		for id, ref := range mod.Dependencies() {
			if !ref.TryResolve(resolverFunc(l.resolveLocked)) {
				l.log.Debug(logging.Msgf("mod %q: dependency %q is not present", mod.ID(), id))
			}
		}
	}
	mods.SortMods(all, resolverFunc(l.resolveLocked))
	l.order = all
}

func (l *Loader) resolveLocked(id string) (*mods.Mod, bool) {
	m, ok := l.mods[id]
	return m, ok
}

// resolverFunc adapts a function to the mods.Resolver oracle.
type resolverFunc func(id string) (*mods.Mod, bool)

func (f resolverFunc) TryResolve(id string) (*mods.Mod, bool) { return f(id) }

// ConfigFor returns the config owned by a mod, creating it lazily on
// first access. Exactly one config exists per owner.
func (l *Loader) ConfigFor(mod *mods.Mod) *config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg, ok := l.configs[mod.ID()]; ok {
		return cfg
	}
	owner := &modOwner{loader: l, mod: mod}
	cfg := config.New(owner)
	l.configs[mod.ID()] = cfg
	return cfg
}

// Policy returns the configured section version policy.
func (l *Loader) Policy() config.VersionPolicy {
	return l.opts.Policy
}

// SaveAll saves every config created so far. Reports how many documents
// were written.
func (l *Loader) SaveAll() int {
	l.mu.RLock()
	configs := make([]*config.Config, 0, len(l.configs))
	for _, cfg := range l.configs {
		configs = append(configs, cfg)
	}
	l.mu.RUnlock()

	written := 0
	for _, cfg := range configs {
		if cfg.Save() {
			written++
		}
	}
	return written
}

// ShutdownAll shuts every loaded mod down in canonical order, saving
// configs first. With applicationExiting set, mods keep their event
// registrations for the remaining process lifetime.
func (l *Loader) ShutdownAll(ctx context.Context, applicationExiting bool) {
	l.mu.Lock()
	l.exiting = l.exiting || applicationExiting
	l.mu.Unlock()

	l.SaveAll()

	for _, mod := range l.Order() {
		if mod.ShutdownRan() {
			continue
		}
		mod.Shutdown(ctx, applicationExiting)
	}
}

// modOwner adapts a mod to the config.Owner capability.
type modOwner struct {
	loader *Loader
	mod    *mods.Mod
}

func (o *modOwner) ID() string {
	return o.mod.ID()
}

func (o *modOwner) ConfigPath() string {
	return filepath.Join(o.loader.opts.ConfigDir, o.mod.ID()+".json")
}

func (o *modOwner) Logger() *logging.Logger {
	return o.loader.log.WithSource("config." + o.mod.ID())
}

func (o *modOwner) Events() *event.Bus {
	return o.loader.bus
}
