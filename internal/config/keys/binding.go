package keys

import (
	"fmt"
	"sync"
)

// Binding keeps two defining keys of the same value type in sync in
// both directions. Each direction re-sets the counterpart with the value
// that triggered it under the propagated label; because Set only raises
// Changed on an actual value diff, the second hop is a no-op write and
// propagation terminates after at most one round trip.
type Binding[T any] struct {
	mu          sync.Mutex
	source      *DefiningKey[T]
	target      *DefiningKey[T]
	initialized bool
	unsubs      [2]func()
}

// NewBinding creates an uninitialized binding component.
func NewBinding[T any]() *Binding[T] {
	return &Binding[T]{}
}

// BindKeys creates a binding between source and target and attaches it
// to the source key's components.
func BindKeys[T any](source, target *DefiningKey[T]) *Binding[T] {
	b := NewBinding[T]()
	b.Initialize(source, target)
	source.Components().MustAttach(b)
	return b
}

// Initialize wires the binding between the two keys. It may run exactly
// once and the keys must differ; violations are programmer errors and
// panic.
func (b *Binding[T]) Initialize(source, target *DefiningKey[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		panic(fmt.Sprintf("keys: %v", ErrBindingInitialized))
	}
	if source == nil || target == nil {
		panic("keys: binding requires two keys")
	}
	if source == target {
		panic(fmt.Sprintf("keys: key %q: %v", source.ID(), ErrBindSelf))
	}

	b.source = source
	b.target = target
	b.initialized = true

	b.unsubs[0] = source.SubscribeChanged(propagateTo(target))
	b.unsubs[1] = target.SubscribeChanged(propagateTo(source))
}

// Source returns the key the binding is attached to.
func (b *Binding[T]) Source() *DefiningKey[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.source
}

// Target returns the key the binding targets.
func (b *Binding[T]) Target() *DefiningKey[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.target
}

// propagateTo forwards value replacements to the counterpart key.
// Same-identity mutations already refer to the shared object and are
// not forwarded.
func propagateTo[T any](counterpart *DefiningKey[T]) ChangedFunc {
	return func(ev ChangeEvent) {
		if ev.SameIdentity || !ev.HasValue {
			return
		}
		if v, ok := ev.New.(T); ok {
			counterpart.TrySet(v, LabelPropagated)
		}
	}
}
