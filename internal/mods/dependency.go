// Package mods models loaded mods, their dependency graph, the total
// load order over it, and the one-shot lifecycle of each mod's patch
// loading and shutdown.
package mods

import "sync"

// Resolver resolves a package id to a loaded mod. The ordering engine
// treats it as an opaque oracle.
type Resolver interface {
	TryResolve(id string) (*Mod, bool)
}

// DependencyReference is one declared dependency edge from a mod to a
// package id. Whether the edge transitively resolves to loaded packages
// is memoized; a re-entrancy marker keeps legitimately cyclic
// declaration graphs from recursing forever.
type DependencyReference struct {
	mu sync.Mutex

	targetID string
	target   *Mod

	computing bool
	allLoaded *bool
}

// NewDependencyReference creates a reference to the target package id.
func NewDependencyReference(targetID string) *DependencyReference {
	return &DependencyReference{targetID: targetID}
}

// TargetID returns the declared target package id.
func (d *DependencyReference) TargetID() string {
	return d.targetID
}

// Target returns the resolved mod, or nil before resolution.
func (d *DependencyReference) Target() *Mod {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

// IsResolved reports whether the target has been resolved.
func (d *DependencyReference) IsResolved() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target != nil
}

// TryResolve looks the target up through the resolver. Idempotent:
// once resolved, repeated calls are cheap and never re-query.
func (d *DependencyReference) TryResolve(r Resolver) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tryResolveLocked(r)
}

func (d *DependencyReference) tryResolveLocked(r Resolver) bool {
	if d.target != nil {
		return true
	}
	if r == nil {
		return false
	}
	if m, ok := r.TryResolve(d.targetID); ok {
		d.target = m
		return true
	}
	return false
}

// AllLoaded reports whether the edge resolves and every transitive
// dependency of its target resolves too. The result is memoized. If the
// walk re-enters this reference through a declaration cycle, the
// re-entrant query answers with the cheaper is-this-one-resolved check
// instead of recursing.
func (d *DependencyReference) AllLoaded(r Resolver) bool {
	d.mu.Lock()
	if d.allLoaded != nil {
		v := *d.allLoaded
		d.mu.Unlock()
		return v
	}
	if d.computing {
		v := d.tryResolveLocked(r)
		d.mu.Unlock()
		return v
	}
	d.computing = true
	resolved := d.tryResolveLocked(r)
	target := d.target
	d.mu.Unlock()

	result := resolved
	if resolved && target != nil {
		result = target.AllDependenciesLoaded(r)
	}

	d.mu.Lock()
	d.computing = false
	d.allLoaded = &result
	d.mu.Unlock()
	return result
}
