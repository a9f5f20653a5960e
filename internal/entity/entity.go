// Package entity provides the attach-once component model used by the
// config key engine.
//
// A ComponentSet holds heterogeneous behavior objects (defaults,
// validators, ranges, priorities, bindings) attached to one owning
// entity. Components are attached during construction and never
// removed; lookups are by capability interface.
package entity

import (
	"errors"
	"reflect"
	"sync"
)

// ErrNilComponent is returned when attaching a nil component.
var ErrNilComponent = errors.New("entity: component is nil")

// ComponentSet is an arena-style list of components with a type-indexed
// lookup cache. The zero value is ready to use.
type ComponentSet struct {
	mu         sync.RWMutex
	components []any
	byType     map[reflect.Type][]any
}

// Attach adds a component to the set. Components cannot be removed.
func (s *ComponentSet) Attach(component any) error {
	if component == nil {
		return ErrNilComponent
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.components = append(s.components, component)
	// Invalidate the lookup cache; it is rebuilt lazily per queried type.
	s.byType = nil
	return nil
}

// MustAttach adds a component and panics on error. Useful when wiring
// components at construction time.
func (s *ComponentSet) MustAttach(component any) {
	if err := s.Attach(component); err != nil {
		panic(err)
	}
}

// Len returns the number of attached components.
func (s *ComponentSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.components)
}

// ofType returns all components implementing the given interface type,
// in attach order, caching the result.
func (s *ComponentSet) ofType(t reflect.Type) []any {
	s.mu.RLock()
	if cached, ok := s.byType[t]; ok {
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.byType[t]; ok {
		return cached
	}

	var matches []any
	for _, c := range s.components {
		ct := reflect.TypeOf(c)
		if t.Kind() == reflect.Interface {
			if ct.Implements(t) {
				matches = append(matches, c)
			}
		} else if ct.AssignableTo(t) {
			matches = append(matches, c)
		}
	}
	if s.byType == nil {
		s.byType = make(map[reflect.Type][]any)
	}
	s.byType[t] = matches
	return matches
}

// Get returns the first attached component implementing T.
func Get[T any](s *ComponentSet) (T, bool) {
	var zero T
	matches := s.ofType(reflect.TypeOf(&zero).Elem())
	if len(matches) == 0 {
		return zero, false
	}
	return matches[0].(T), true
}

// All returns every attached component implementing T, in attach order.
func All[T any](s *ComponentSet) []T {
	var zero T
	matches := s.ofType(reflect.TypeOf(&zero).Elem())
	if len(matches) == 0 {
		return nil
	}
	result := make([]T, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.(T))
	}
	return result
}
