// Package keys implements the defining config key engine: key
// identities, typed defining keys, and the attachable components
// (defaults, validators, ranges, priorities, bindings) that shape their
// behavior.
package keys

import (
	"fmt"
	"reflect"
)

// Key is an immutable key identity: an id plus an optional value type
// tag. It is a lookup token, never a value holder.
//
// Two keys are equal iff their ids match and both are untyped, or their
// ids match and their type tags are identical. Key is comparable and
// usable as a map key.
type Key struct {
	id  string
	typ reflect.Type
}

// NewKey creates an untyped key identity.
func NewKey(id string) Key {
	return Key{id: id}
}

// NewTypedKey creates a key identity carrying a value type tag.
// A nil type is equivalent to NewKey.
func NewTypedKey(id string, t reflect.Type) Key {
	return Key{id: id, typ: t}
}

// TypedKey creates a key identity tagged with the type T.
func TypedKey[T any](id string) Key {
	return Key{id: id, typ: reflect.TypeOf((*T)(nil)).Elem()}
}

// ID returns the key's id.
func (k Key) ID() string {
	return k.id
}

// Type returns the value type tag, or nil for untyped keys.
func (k Key) Type() reflect.Type {
	return k.typ
}

// IsTyped reports whether the key carries a value type tag.
func (k Key) IsTyped() bool {
	return k.typ != nil
}

// Equal reports whether two key identities are equal under the identity
// plus value-type rule.
func (k Key) Equal(other Key) bool {
	return k == other
}

// String returns a human-readable form of the identity.
func (k Key) String() string {
	if k.typ == nil {
		return k.id
	}
	return fmt.Sprintf("%s<%s>", k.id, k.typ)
}
