// Package monkey defines the patch units mods contribute to the host:
// early monkeys applied before normal load, and monkeys applied during
// it. Patch bodies are opaque to the loader; only registration and
// execution order are its contract.
package monkey

import (
	"context"
	"sort"
)

// Monkey is one patch unit. Run applies the patch; a returned error
// marks the patch as failed without aborting the owning mod's pass.
type Monkey interface {
	// Name identifies the patch within its mod.
	Name() string

	// Priority orders patches within a mod; higher runs first.
	Priority() int

	// Run applies the patch.
	Run(ctx context.Context) error
}

// Sort orders monkeys in place by descending priority, then name.
func Sort(monkeys []Monkey) {
	sort.SliceStable(monkeys, func(i, j int) bool {
		if monkeys[i].Priority() != monkeys[j].Priority() {
			return monkeys[i].Priority() > monkeys[j].Priority()
		}
		return monkeys[i].Name() < monkeys[j].Name()
	})
}

// Sorted returns a priority-ordered copy.
func Sorted(monkeys []Monkey) []Monkey {
	out := make([]Monkey, len(monkeys))
	copy(out, monkeys)
	Sort(out)
	return out
}

// Func is an in-process patch unit backed by a Go function.
type Func struct {
	name     string
	priority int
	fn       func(ctx context.Context) error
}

// NewFunc creates a function-backed monkey.
func NewFunc(name string, priority int, fn func(ctx context.Context) error) *Func {
	return &Func{name: name, priority: priority, fn: fn}
}

// Name returns the patch name.
func (f *Func) Name() string { return f.name }

// Priority returns the patch priority.
func (f *Func) Priority() int { return f.priority }

// Run applies the patch.
func (f *Func) Run(ctx context.Context) error {
	if f.fn == nil {
		return nil
	}
	return f.fn(ctx)
}
