package config

import "errors"

// Config engine errors.
var (
	// ErrDuplicateSection is returned when a section id is already loaded
	// into the config.
	ErrDuplicateSection = errors.New("section id is already loaded")

	// ErrIncompatibleVersion is returned when a persisted section version
	// is incompatible with the section's code version.
	ErrIncompatibleVersion = errors.New("persisted section version is incompatible")

	// ErrBadVersion is returned when a recorded section version cannot be
	// parsed.
	ErrBadVersion = errors.New("recorded section version is not valid semver")

	// ErrSectionNotFound is returned when looking up an unknown section.
	ErrSectionNotFound = errors.New("section not found")

	// ErrSectionNotLoaded is returned when an operation requires a loaded
	// section.
	ErrSectionNotLoaded = errors.New("section is not loaded")

	// ErrKeyNotFound is returned when looking up an unknown key.
	ErrKeyNotFound = errors.New("config key not found")

	// ErrKeyTypeMismatch is returned when a key exists under the
	// requested id with a different value type.
	ErrKeyTypeMismatch = errors.New("config key exists with a different value type")

	// ErrKeyOwnedElsewhere is returned when declaring a key whose id is
	// already defined by another section.
	ErrKeyOwnedElsewhere = errors.New("config key is defined by another section")
)
