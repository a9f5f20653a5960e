package keys

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/patchworkmods/patchwork/internal/entity"
	"github.com/patchworkmods/patchwork/internal/logging"
)

// Event labels carried by Changed events so observers can trace where a
// write came from.
const (
	// LabelSet is the default label for direct writes.
	LabelSet = "set"
	// LabelSetFromDefault marks a value materialized from a default provider.
	LabelSetFromDefault = "set-from-default"
	// LabelUnset marks a cleared value.
	LabelUnset = "unset"
	// LabelReset marks a forced recomputation of the default.
	LabelReset = "reset"
	// LabelPropagated marks a write performed by a bidirectional binding.
	LabelPropagated = "propagated"
	// LabelNotification marks a same-identity mutation re-raised from the
	// held value's own change notifications.
	LabelNotification = "notification"
)

// ChangeEvent describes one Changed firing of a defining key.
type ChangeEvent struct {
	// Key is the key that changed.
	Key Definer

	// Label traces where the write came from.
	Label string

	// HadValue and HasValue are the key's value state before and after.
	HadValue bool
	HasValue bool

	// Old and New are the previous and current values. Old is nil when
	// the key held no value before; New is nil after an unset. For
	// same-identity mutations both refer to the same object.
	Old any
	New any

	// SameIdentity is true when the event reports a mutation of the held
	// value rather than a replacement.
	SameIdentity bool

	// Property is the property name of a property-changed pass-through.
	Property string

	// Collection is the diff of a collection-changed pass-through.
	Collection *CollectionChange
}

// ChangedFunc observes a key's Changed events.
type ChangedFunc func(ChangeEvent)

// Owner is the narrow view of the section a defining key is registered
// with. A key is bound to exactly one owner, exactly once.
type Owner interface {
	ID() string
	Logger() *logging.Logger
}

// Equaler lets value types supply their own equality for dirty tracking
// and change suppression.
type Equaler interface {
	Equals(other any) bool
}

// Definer is the untyped view of a defining key, used by sections and
// the config engine to manage keys of heterogeneous value types.
type Definer interface {
	ID() string
	Description() string
	Identity() Key
	ValueType() reflect.Type
	Priority() int

	HasValue() bool
	HasChanges() bool
	ClearChanges()
	ValueAny() (any, bool)
	Unset() bool

	Bind(owner Owner)
	BoundTo() Owner

	MarshalValue() ([]byte, error)
	UnmarshalValue(data []byte) error

	SubscribeChanged(fn ChangedFunc) (unsubscribe func())
}

type changedSub struct {
	id uint64
	fn ChangedFunc
}

// DefiningKey is the canonical, value-holding instance of one config
// key. Behavior is composed from attached components; change
// notifications of the held value pass through as the key's own Changed
// events.
type DefiningKey[T any] struct {
	id          string
	description string
	components  entity.ComponentSet

	mu       sync.Mutex
	owner    Owner
	log      *logging.Logger
	value    T
	hasValue bool
	everSet  bool
	dirty    bool

	// alwaysDirty is decided once from T: mutable reference kinds
	// without notification capability cannot be dirty-tracked by
	// equality, so they count as changed from the first set onward.
	alwaysDirty bool

	subs      []changedSub
	nextSubID uint64

	valueUnsubs []func()
}

// Option configures a DefiningKey at construction time.
type Option[T any] func(*DefiningKey[T])

// WithDescription sets the key's human-readable description.
func WithDescription[T any](description string) Option[T] {
	return func(k *DefiningKey[T]) { k.description = description }
}

// WithDefault attaches a default provider computing via fn.
func WithDefault[T any](fn func() T) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(DefaultFunc[T](fn)) }
}

// WithDefaultValue attaches a fixed default value.
func WithDefaultValue[T any](value T) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(DefaultValue[T]{Value: value}) }
}

// WithValidator attaches a validator component.
func WithValidator[T any](v Validator[T]) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(v) }
}

// WithValidatorFunc attaches a validator function.
func WithValidatorFunc[T any](fn func(T) bool) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(ValidatorFunc[T](fn)) }
}

// WithRange attaches a range component (which also validates).
func WithRange[T any](r *Range[T]) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(r) }
}

// WithPriority attaches a priority component.
func WithPriority[T any](priority int) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(Priority(priority)) }
}

// WithComponent attaches an arbitrary component.
func WithComponent[T any](component any) Option[T] {
	return func(k *DefiningKey[T]) { k.components.MustAttach(component) }
}

// New creates a defining key with the given id and components.
func New[T any](id string, opts ...Option[T]) *DefiningKey[T] {
	k := &DefiningKey[T]{
		id:          id,
		log:         logging.NullLogger,
		alwaysDirty: untrustedEquality[T](),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// ID returns the key's id.
func (k *DefiningKey[T]) ID() string { return k.id }

// Description returns the key's description.
func (k *DefiningKey[T]) Description() string { return k.description }

// Identity returns the key's typed identity token.
func (k *DefiningKey[T]) Identity() Key { return TypedKey[T](k.id) }

// ValueType returns the key's value type.
func (k *DefiningKey[T]) ValueType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Components exposes the key's component set.
func (k *DefiningKey[T]) Components() *entity.ComponentSet { return &k.components }

// Priority returns the attached priority, or 0 when none is attached.
func (k *DefiningKey[T]) Priority() int {
	if p, ok := entity.Get[Prioritized](&k.components); ok {
		return p.KeyPriority()
	}
	return 0
}

// Bind registers the key with its owning section. A key belongs to
// exactly one section; binding twice is a programmer error and panics.
func (k *DefiningKey[T]) Bind(owner Owner) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.owner != nil {
		panic(fmt.Sprintf("keys: key %q is already bound to section %q", k.id, k.owner.ID()))
	}
	k.owner = owner
	if owner != nil && owner.Logger() != nil {
		k.log = owner.Logger()
	}
}

// BoundTo returns the owning section, or nil before Bind.
func (k *DefiningKey[T]) BoundTo() Owner {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.owner
}

// HasValue reports whether the key currently holds a value.
func (k *DefiningKey[T]) HasValue() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.hasValue
}

// HasChanges reports whether the live value differs from the last-saved
// snapshot. Keys of mutable reference types without notification
// capability report true permanently once set.
func (k *DefiningKey[T]) HasChanges() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.alwaysDirty && k.everSet {
		return true
	}
	return k.dirty
}

// ClearChanges marks the current value as the saved snapshot.
func (k *DefiningKey[T]) ClearChanges() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dirty = false
}

// Peek returns the live value without materializing a default.
func (k *DefiningKey[T]) Peek() (T, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.value, k.hasValue
}

// ValueAny returns the live value as an any, without materializing a
// default.
func (k *DefiningKey[T]) ValueAny() (any, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.hasValue {
		return nil, false
	}
	return k.value, true
}

// TryGet returns the live value if one is held. Otherwise it computes a
// default via the attached default provider, commits it as the live
// value under the set-from-default label, and returns it. Without a
// provider it reports false.
func (k *DefiningKey[T]) TryGet() (T, bool) {
	k.mu.Lock()
	if k.hasValue {
		v := k.value
		k.mu.Unlock()
		return v, true
	}
	k.mu.Unlock()

	provider, ok := entity.Get[DefaultProvider[T]](&k.components)
	if !ok {
		var zero T
		return zero, false
	}

	v, err := provider.ComputeDefault()
	if err != nil {
		k.log.Error(logging.Msgf("key %q: default provider failed: %v", k.id, err))
		var zero T
		return zero, false
	}

	k.apply(v, LabelSetFromDefault, false)
	return v, true
}

// Set validates and commits a value. Every attached validator must
// accept it; a rejection leaves the key untouched and returns
// ErrValidationFailed. An optional label overrides the default "set".
func (k *DefiningKey[T]) Set(value T, label ...string) error {
	lbl := LabelSet
	if len(label) > 0 && label[0] != "" {
		lbl = label[0]
	}

	rejected := 0
	for _, v := range entity.All[Validator[T]](&k.components) {
		if !v.Validate(value) {
			rejected++
			k.log.Warn(logging.Msgf("key %q: validator %T rejected value %v", k.id, v, value))
		}
	}
	if rejected > 0 {
		return fmt.Errorf("key %q: %w", k.id, ErrValidationFailed)
	}

	k.apply(value, lbl, false)
	return nil
}

// TrySet is the non-erroring variant of Set.
func (k *DefiningKey[T]) TrySet(value T, label ...string) bool {
	return k.Set(value, label...) == nil
}

// Unset clears the key's value. Reports whether a value was held; when
// it was, a Changed event with the unset label is raised.
func (k *DefiningKey[T]) Unset() bool {
	k.mu.Lock()
	if !k.hasValue {
		k.mu.Unlock()
		return false
	}

	old := k.value
	k.unwireLocked()
	var zero T
	k.value = zero
	k.hasValue = false
	k.dirty = true

	ev := ChangeEvent{
		Key:      k,
		Label:    LabelUnset,
		HadValue: true,
		HasValue: false,
		Old:      old,
	}
	subs := k.snapshotSubsLocked()
	k.mu.Unlock()

	k.raise(subs, ev)
	return true
}

// Reset recomputes the default, bypassing the live value, and commits
// it with an unconditional Changed event.
func (k *DefiningKey[T]) Reset() error {
	provider, ok := entity.Get[DefaultProvider[T]](&k.components)
	if !ok {
		return fmt.Errorf("key %q: %w", k.id, ErrNoDefault)
	}
	v, err := provider.ComputeDefault()
	if err != nil {
		return fmt.Errorf("key %q: default provider: %w", k.id, err)
	}
	k.apply(v, LabelReset, true)
	return nil
}

// SubscribeChanged registers an observer of the key's Changed events and
// returns an unsubscribe function.
func (k *DefiningKey[T]) SubscribeChanged(fn ChangedFunc) func() {
	if fn == nil {
		return func() {}
	}

	k.mu.Lock()
	id := k.nextSubID
	k.nextSubID++
	k.subs = append(k.subs, changedSub{id: id, fn: fn})
	k.mu.Unlock()

	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		for i, s := range k.subs {
			if s.id == id {
				k.subs = append(k.subs[:i], k.subs[i+1:]...)
				return
			}
		}
	}
}

// MarshalValue serializes the held value as JSON.
func (k *DefiningKey[T]) MarshalValue() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.hasValue {
		return nil, fmt.Errorf("key %q: %w", k.id, ErrNoValue)
	}
	return json.Marshal(k.value)
}

// UnmarshalValue deserializes a persisted value and installs it as the
// saved snapshot: the key holds it, with no pending changes and no
// Changed event.
func (k *DefiningKey[T]) UnmarshalValue(data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("key %q: deserialize: %w", k.id, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.unwireLocked()
	k.value = v
	k.hasValue = true
	k.everSet = true
	k.dirty = false
	k.wireLocked(v)
	return nil
}

// apply commits a value: swaps old for new, rewires value change
// notifications, and raises Changed only when the value actually
// differs (or force is set).
func (k *DefiningKey[T]) apply(value T, label string, force bool) {
	k.mu.Lock()

	old := k.value
	hadValue := k.hasValue
	k.value = value
	k.hasValue = true
	k.everSet = true

	k.unwireLocked()
	k.wireLocked(value)

	raise := force || !hadValue || !(sameObject(old, value) || valuesEqual(old, value))
	var ev ChangeEvent
	var subs []changedSub
	if raise {
		k.dirty = true
		ev = ChangeEvent{
			Key:      k,
			Label:    label,
			HadValue: hadValue,
			HasValue: true,
			New:      value,
		}
		if hadValue {
			ev.Old = old
		}
		subs = k.snapshotSubsLocked()
	}
	k.mu.Unlock()

	if raise {
		k.raise(subs, ev)
	}
}

// raiseMutation re-raises a sub-notification of the held value as the
// key's own Changed event. Old and new are the same object.
func (k *DefiningKey[T]) raiseMutation(property string, collection *CollectionChange) {
	k.mu.Lock()
	if !k.hasValue {
		k.mu.Unlock()
		return
	}
	k.dirty = true
	ev := ChangeEvent{
		Key:          k,
		Label:        LabelNotification,
		HadValue:     true,
		HasValue:     true,
		Old:          k.value,
		New:          k.value,
		SameIdentity: true,
		Property:     property,
		Collection:   collection,
	}
	subs := k.snapshotSubsLocked()
	k.mu.Unlock()

	k.raise(subs, ev)
}

func (k *DefiningKey[T]) snapshotSubsLocked() []changedSub {
	subs := make([]changedSub, len(k.subs))
	copy(subs, k.subs)
	return subs
}

// raise delivers a Changed event to all subscribers. A panicking
// subscriber does not stop the rest; panics are aggregated and logged.
func (k *DefiningKey[T]) raise(subs []changedSub, ev ChangeEvent) {
	var errs *multierror.Error
	for _, s := range subs {
		if err := callChanged(s.fn, ev); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		k.log.Error(logging.Msgf("key %q: changed subscribers failed: %v", k.id, err))
	}
}

func callChanged(fn ChangedFunc, ev ChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	fn(ev)
	return nil
}

// wireLocked subscribes the key to the value's own change
// notifications, if it exposes any.
func (k *DefiningKey[T]) wireLocked(value T) {
	if n, ok := any(value).(PropertyChangeNotifier); ok {
		un := n.SubscribePropertyChanged(func(property string) {
			k.raiseMutation(property, nil)
		})
		k.valueUnsubs = append(k.valueUnsubs, un)
	}
	if n, ok := any(value).(CollectionChangeNotifier); ok {
		un := n.SubscribeCollectionChanged(func(change CollectionChange) {
			k.raiseMutation("", &change)
		})
		k.valueUnsubs = append(k.valueUnsubs, un)
	}
}

// unwireLocked drops subscriptions to the previously held value.
func (k *DefiningKey[T]) unwireLocked() {
	for _, un := range k.valueUnsubs {
		if un != nil {
			un()
		}
	}
	k.valueUnsubs = nil
}

var (
	propertyNotifierType   = reflect.TypeOf((*PropertyChangeNotifier)(nil)).Elem()
	collectionNotifierType = reflect.TypeOf((*CollectionChangeNotifier)(nil)).Elem()
)

// untrustedEquality reports whether T's equality cannot be trusted for
// dirty tracking: mutable reference kinds and interface-typed keys that
// expose no change notifications.
func untrustedEquality[T any]() bool {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Implements(propertyNotifierType) || t.Implements(collectionNotifierType) {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return true
	default:
		return false
	}
}

// valuesEqual compares two values for change suppression, preferring a
// value-supplied Equaler over deep equality.
func valuesEqual[T any](a, b T) bool {
	if e, ok := any(a).(Equaler); ok {
		return e.Equals(any(b))
	}
	return reflect.DeepEqual(a, b)
}

// sameObject reports whether a and b are the same referenced object.
// Value kinds are never reference-equal.
func sameObject[T any](a, b T) bool {
	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return !va.IsValid() && !vb.IsValid()
	}
	switch va.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Len() == vb.Len() && (va.Len() == 0 || va.Pointer() == vb.Pointer())
	default:
		return false
	}
}
