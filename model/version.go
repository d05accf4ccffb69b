package model

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// A Version identifies the layout of the artifact tables. Major changes alter or reorder
// columns and make artifacts produced under different majors incomparable; patch changes
// only add documentation or defaults.
type Version struct {
	Major int
	Patch int
}

// LatestVersion is the table layout written by this build.
var LatestVersion = Version{Major: 1, Patch: 0}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Patch)
}

// Before reports whether v should be ordered before v2
func (v Version) Before(v2 Version) bool {
	return VersionCmp(v, v2) < 0
}

// Compatible reports whether artifacts written with v can be compared to those written with v2.
func (v Version) Compatible(v2 Version) bool {
	return v.Major == v2.Major
}

// VersionCmp compares versions a and b and returns -1 if a < b, +1 if a > b and 0 if they are equal
func VersionCmp(a, b Version) int {
	switch {
	case a.Major != b.Major:
		if a.Major < b.Major {
			return -1
		}
		return 1
	case a.Patch < b.Patch:
		return -1
	case a.Patch > b.Patch:
		return 1
	}
	return 0
}

// ParseVersion parses a version in major.patch form.
func ParseVersion(s string) (Version, error) {
	major, patch, ok := strings.Cut(strings.TrimPrefix(s, "v"), ".")
	if !ok {
		return Version{}, xerrors.Errorf("invalid version %q: expected major.patch", s)
	}
	var (
		v   Version
		err error
	)
	if v.Major, err = strconv.Atoi(major); err != nil {
		return Version{}, xerrors.Errorf("invalid major version in %q: %w", s, err)
	}
	if v.Patch, err = strconv.Atoi(patch); err != nil {
		return Version{}, xerrors.Errorf("invalid patch version in %q: %w", s, err)
	}
	return v, nil
}

// MarshalText implements encoding.TextMarshaler so versions serialize as "major.patch".
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
