package keys

import "cmp"

// Components are behavior objects attached to a defining key at
// construction time and never removed. They are looked up by capability
// interface through the key's component set.

// DefaultProvider computes the default value for a key that holds none.
type DefaultProvider[T any] interface {
	ComputeDefault() (T, error)
}

// DefaultFunc adapts a function to the DefaultProvider interface.
type DefaultFunc[T any] func() T

// ComputeDefault calls the function.
func (f DefaultFunc[T]) ComputeDefault() (T, error) {
	return f(), nil
}

// DefaultValue provides a fixed default.
type DefaultValue[T any] struct {
	Value T
}

// ComputeDefault returns the fixed value.
func (d DefaultValue[T]) ComputeDefault() (T, error) {
	return d.Value, nil
}

// Validator accepts or rejects candidate values. Every attached
// validator must accept a value before a key commits it.
type Validator[T any] interface {
	Validate(value T) bool
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc[T any] func(value T) bool

// Validate calls the function.
func (f ValidatorFunc[T]) Validate(value T) bool {
	return f(value)
}

// Range restricts values to [Min, Max] under a comparer. A Range is
// simultaneously a Validator: one component, two capabilities.
type Range[T any] struct {
	Min     T
	Max     T
	Compare func(a, b T) int
}

// NewRange creates a range over an ordered type using the natural
// comparison.
func NewRange[T cmp.Ordered](minVal, maxVal T) *Range[T] {
	return &Range[T]{Min: minVal, Max: maxVal, Compare: cmp.Compare[T]}
}

// NewRangeWith creates a range using a caller-supplied comparer.
func NewRangeWith[T any](minVal, maxVal T, compare func(a, b T) int) *Range[T] {
	return &Range[T]{Min: minVal, Max: maxVal, Compare: compare}
}

// Validate reports whether Min <= value <= Max.
func (r *Range[T]) Validate(value T) bool {
	return r.Compare(r.Min, value) <= 0 && r.Compare(value, r.Max) <= 0
}

// Prioritized is the capability interface of the priority component.
type Prioritized interface {
	KeyPriority() int
}

// Priority orders keys within a section for enumeration and display.
// Higher priorities enumerate first; the default priority is 0.
type Priority int

// KeyPriority returns the priority value.
func (p Priority) KeyPriority() int {
	return int(p)
}
