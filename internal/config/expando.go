package config

import (
	"fmt"
	"reflect"

	"github.com/patchworkmods/patchwork/internal/config/keys"
)

// ExpandoSection is a section that admits dynamically declared keys at
// runtime. A logical key id is declared by at most one section; a
// redeclaration under a different section or with a mismatched type
// fails.
type ExpandoSection struct {
	Section
}

// NewExpandoSection creates an expando section with the given id and
// semantic version.
func NewExpandoSection(id, version string) (*ExpandoSection, error) {
	s := &ExpandoSection{}
	if err := initSection(&s.Section, id, version); err != nil {
		return nil, err
	}
	return s, nil
}

// DefineKey declares a key of type T against the expando section,
// backed by the persisted document's sub-object. Declaring an id the
// section already owns with the same type returns the existing key.
func DefineKey[T any](s *ExpandoSection, id string, opts ...keys.Option[T]) (*keys.DefiningKey[T], error) {
	cfg := s.Config()
	if cfg == nil || s.State() != SectionLoaded {
		return nil, fmt.Errorf("section %q: %w", s.ID(), ErrSectionNotLoaded)
	}

	wantType := reflect.TypeOf((*T)(nil)).Elem()

	cfg.mu.Lock()
	if existing, ok := cfg.byID[id]; ok {
		cfg.mu.Unlock()
		owner := existing.BoundTo()
		if owner == nil || owner.ID() != s.ID() {
			ownedBy := "unknown"
			if owner != nil {
				ownedBy = owner.ID()
			}
			return nil, fmt.Errorf("%w: key %q belongs to section %q", ErrKeyOwnedElsewhere, id, ownedBy)
		}
		if existing.ValueType() != wantType {
			return nil, fmt.Errorf("%w: key %q is %s, requested %s", ErrKeyTypeMismatch, id, existing.ValueType(), wantType)
		}
		return existing.(*keys.DefiningKey[T]), nil
	}
	cfg.mu.Unlock()

	def := keys.New[T](id, opts...)
	def.Bind(&s.Section)
	cfg.registerKey(&s.Section, def)
	s.appendKey(def)

	if raw, ok := cfg.doc.KeyRaw(s.ID(), id); ok {
		if err := def.UnmarshalValue(raw); err != nil {
			s.markUnsaveable(fmt.Sprintf("load key %q: %v", id, err))
		}
	}
	return def, nil
}
