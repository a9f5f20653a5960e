package mods

import (
	"context"
	"fmt"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-multierror"

	"github.com/patchworkmods/patchwork/internal/event"
	"github.com/patchworkmods/patchwork/internal/logging"
	"github.com/patchworkmods/patchwork/internal/monkey"
)

// Mod is one discovered, loadable mod: identity, dependency edges,
// contributed patch units, and lifecycle state.
//
// The three lifecycle gates - LoadEarlyMonkeys, LoadMonkeys, Shutdown -
// are one-shot: invoking one a second time is a programmer error and
// panics. A failure inside a gate's body is recorded and logged but
// never propagated, so one broken mod cannot abort the loader's pass
// over the rest.
type Mod struct {
	id         string
	version    *semver.Version
	isGamePack bool

	log *logging.Logger
	bus *event.Bus

	deps         map[string]*DependencyReference
	earlyMonkeys []monkey.Monkey
	monkeys      []monkey.Monkey

	mu             sync.Mutex
	earlyRan       bool
	earlyFailed    bool
	monkeysRan     bool
	monkeysFailed  bool
	shutdownRan    bool
	shutdownFailed bool
	shutdownHooks  []func(ctx context.Context) error
}

// ModOption configures a Mod at construction time.
type ModOption func(*Mod)

// AsGamePack marks the mod as a game pack; game packs always precede
// regular mods in load order.
func AsGamePack() ModOption {
	return func(m *Mod) { m.isGamePack = true }
}

// WithDependency declares a dependency on a package id.
func WithDependency(id string) ModOption {
	return func(m *Mod) { m.deps[id] = NewDependencyReference(id) }
}

// WithEarlyMonkey contributes a pre-load-phase patch unit.
func WithEarlyMonkey(mk monkey.Monkey) ModOption {
	return func(m *Mod) { m.earlyMonkeys = append(m.earlyMonkeys, mk) }
}

// WithMonkey contributes a normal-phase patch unit.
func WithMonkey(mk monkey.Monkey) ModOption {
	return func(m *Mod) { m.monkeys = append(m.monkeys, mk) }
}

// WithShutdownHook registers a hook run inside the Shutdown gate.
func WithShutdownHook(fn func(ctx context.Context) error) ModOption {
	return func(m *Mod) { m.shutdownHooks = append(m.shutdownHooks, fn) }
}

// WithLogger sets the mod's logger.
func WithLogger(log *logging.Logger) ModOption {
	return func(m *Mod) {
		if log != nil {
			m.log = log
		}
	}
}

// WithBus connects the mod to the loader's event bus.
func WithBus(bus *event.Bus) ModOption {
	return func(m *Mod) { m.bus = bus }
}

// NewMod creates a mod with the given package id and semantic version.
func NewMod(id, version string, opts ...ModOption) (*Mod, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("mod %q: version: %w", id, err)
	}
	m := &Mod{
		id:      id,
		version: v,
		log:     logging.NullLogger,
		deps:    make(map[string]*DependencyReference),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ID returns the mod's package id.
func (m *Mod) ID() string { return m.id }

// Version returns the mod's version.
func (m *Mod) Version() *semver.Version { return m.version }

// IsGamePack reports whether the mod is a game pack.
func (m *Mod) IsGamePack() bool { return m.isGamePack }

// String returns "id v1.2.3".
func (m *Mod) String() string {
	return fmt.Sprintf("%s v%s", m.id, m.version)
}

// Dependencies returns the mod's declared dependency references.
func (m *Mod) Dependencies() map[string]*DependencyReference {
	out := make(map[string]*DependencyReference, len(m.deps))
	for id, ref := range m.deps {
		out[id] = ref
	}
	return out
}

// DependencyOn returns the declared reference to a package id.
func (m *Mod) DependencyOn(id string) (*DependencyReference, bool) {
	ref, ok := m.deps[id]
	return ref, ok
}

// AllDependenciesLoaded reports whether every declared dependency
// transitively resolves to a loaded package.
func (m *Mod) AllDependenciesLoaded(r Resolver) bool {
	for _, ref := range m.deps {
		if !ref.AllLoaded(r) {
			return false
		}
	}
	return true
}

// EarlyMonkeys returns the mod's early patch units in priority order.
func (m *Mod) EarlyMonkeys() []monkey.Monkey {
	return monkey.Sorted(m.earlyMonkeys)
}

// Monkeys returns the mod's patch units in priority order.
func (m *Mod) Monkeys() []monkey.Monkey {
	return monkey.Sorted(m.monkeys)
}

// EarlyMonkeysRan reports whether the LoadEarlyMonkeys gate ran.
func (m *Mod) EarlyMonkeysRan() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.earlyRan
}

// EarlyMonkeysFailed reports whether the LoadEarlyMonkeys gate failed.
func (m *Mod) EarlyMonkeysFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.earlyFailed
}

// MonkeysRan reports whether the LoadMonkeys gate ran.
func (m *Mod) MonkeysRan() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monkeysRan
}

// MonkeysFailed reports whether the LoadMonkeys gate failed.
func (m *Mod) MonkeysFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monkeysFailed
}

// ShutdownRan reports whether the Shutdown gate ran.
func (m *Mod) ShutdownRan() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownRan
}

// ShutdownFailed reports whether the Shutdown gate failed.
func (m *Mod) ShutdownFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdownFailed
}

// LoadEarlyMonkeys runs the mod's early patch units in priority order.
// Reports success; failures are recorded on the mod and logged.
func (m *Mod) LoadEarlyMonkeys(ctx context.Context) bool {
	m.enterGate(&m.earlyRan, "LoadEarlyMonkeys")
	err := m.runMonkeys(ctx, m.EarlyMonkeys())
	if err != nil {
		m.recordFailure(&m.earlyFailed, "LoadEarlyMonkeys", err)
		return false
	}
	m.log.Debug(logging.Msgf("mod %q: early monkeys loaded", m.id))
	return true
}

// LoadMonkeys runs the mod's patch units in priority order. Reports
// success; failures are recorded on the mod and logged.
func (m *Mod) LoadMonkeys(ctx context.Context) bool {
	m.enterGate(&m.monkeysRan, "LoadMonkeys")
	err := m.runMonkeys(ctx, m.Monkeys())
	if err != nil {
		m.recordFailure(&m.monkeysFailed, "LoadMonkeys", err)
		return false
	}
	m.log.Debug(logging.Msgf("mod %q: monkeys loaded", m.id))
	return true
}

// Shutdown runs the mod's shutdown hooks, bracketed by shutting-down
// and shutdown-done events. Unless the whole application is exiting,
// the mod's event-bus registrations are removed first. Reports success;
// failures are recorded on the mod and logged.
func (m *Mod) Shutdown(ctx context.Context, applicationExiting bool) bool {
	m.enterGate(&m.shutdownRan, "Shutdown")

	if m.bus != nil {
		_ = m.bus.Dispatch(event.Event{Topic: event.TopicModShuttingDown, Source: m.id})
		if !applicationExiting {
			removed := m.bus.UnsubscribeOwner(m.id)
			if removed > 0 {
				m.log.Debug(logging.Msgf("mod %q: removed %d event registrations", m.id, removed))
			}
		}
	}

	err := m.runHooks(ctx)
	ok := err == nil
	if !ok {
		m.recordFailure(&m.shutdownFailed, "Shutdown", err)
	}

	if m.bus != nil {
		_ = m.bus.Dispatch(event.Event{Topic: event.TopicModShutdownDone, Source: m.id})
	}
	return ok
}

// enterGate marks a one-shot gate as entered, panicking on re-entry.
func (m *Mod) enterGate(ran *bool, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if *ran {
		panic(fmt.Sprintf("mods: %s already ran for mod %q", name, m.id))
	}
	*ran = true
}

func (m *Mod) recordFailure(failed *bool, gate string, err error) {
	m.mu.Lock()
	*failed = true
	m.mu.Unlock()
	m.log.Error(logging.Msgf("mod %q: %s failed: %v", m.id, gate, err))
}

// runMonkeys applies each patch with panic containment; every patch is
// attempted even when earlier ones fail.
func (m *Mod) runMonkeys(ctx context.Context, monkeys []monkey.Monkey) error {
	var errs *multierror.Error
	for _, mk := range monkeys {
		if err := runContained(ctx, mk.Run); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("patch %q: %w", mk.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (m *Mod) runHooks(ctx context.Context) error {
	m.mu.Lock()
	hooks := make([]func(ctx context.Context) error, len(m.shutdownHooks))
	copy(hooks, m.shutdownHooks)
	m.mu.Unlock()

	var errs *multierror.Error
	for _, hook := range hooks {
		if err := runContained(ctx, hook); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func runContained(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}
