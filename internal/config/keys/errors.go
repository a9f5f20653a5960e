package keys

import "errors"

// Key engine errors.
var (
	// ErrValidationFailed is returned when a candidate value is rejected
	// by one or more attached validators.
	ErrValidationFailed = errors.New("value rejected by validator")

	// ErrNoDefault is returned when a default is required but no default
	// provider component is attached.
	ErrNoDefault = errors.New("key has no default provider")

	// ErrNoValue is returned when serializing a key that holds no value.
	ErrNoValue = errors.New("key has no value")

	// ErrBindSelf is returned when a binding targets its own key.
	ErrBindSelf = errors.New("binding cannot target its own key")

	// ErrBindingInitialized is returned when a binding is initialized a
	// second time.
	ErrBindingInitialized = errors.New("binding is already initialized")
)
