package config

import "github.com/Masterminds/semver/v3"

// VersionPolicy decides what happens when a persisted section's version
// is incompatible with the section's code version.
type VersionPolicy int

const (
	// PolicyError aborts loading the incompatible section and marks it
	// unsaveable. This is the default.
	PolicyError VersionPolicy = iota

	// PolicyClobber discards the persisted section data and starts fresh.
	PolicyClobber

	// PolicyForceLoad attempts to deserialize the persisted data anyway.
	PolicyForceLoad
)

// String returns the policy name.
func (p VersionPolicy) String() string {
	switch p {
	case PolicyError:
		return "error"
	case PolicyClobber:
		return "clobber"
	case PolicyForceLoad:
		return "force-load"
	default:
		return "unknown"
	}
}

// CompatibleVersions reports whether persisted data written at version
// persisted can be loaded by code at version current. Versions are
// incompatible when majors differ, or when the persisted minor is
// greater than the current minor (downgrade protection); a persisted
// minor less than or equal to the current one is forward-compatible.
func CompatibleVersions(persisted, current *semver.Version) bool {
	if persisted.Major() != current.Major() {
		return false
	}
	return persisted.Minor() <= current.Minor()
}
