package allocator

import "github.com/Masterminds/semver/v3"

// layoutVersion is the on-disk/shared-memory layout version of this
// package's Director. It changes whenever the arena layout (tier sizing,
// registry encoding, side-data stride) changes incompatibly (spec.md §4.7
// "version"/"version_string").
const layoutVersionString = "1.0.0"

var layoutVersion = semver.MustParse(layoutVersionString)

// version returns the numeric components of the layout version.
func version() (major, minor, patch uint64) {
	return layoutVersion.Major(), layoutVersion.Minor(), layoutVersion.Patch()
}

// versionString returns the layout version as a semver string.
func versionString() string {
	return layoutVersion.String()
}

// checkVersionCompatible reports whether a Director built with other's
// layout version can safely attach to memory published by this version. No
// version check is mandated by the spec for correctness; this only returns a
// verdict and leaves any reaction to its caller. Attach does not call it:
// a version difference shows up there only through the layout fingerprint,
// which hashes layoutVersionString.
func checkVersionCompatible(other string) (bool, error) {
	ov, err := semver.NewVersion(other)
	if err != nil {
		return false, err
	}

	return ov.Major() == layoutVersion.Major(), nil
}
