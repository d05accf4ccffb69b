package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCmp(t *testing.T) {
	testCases := []struct {
		a, b Version
		cmp  int
	}{
		{a: Version{Major: 0, Patch: 0}, b: Version{Major: 1, Patch: 0}, cmp: -1},
		{a: Version{Major: 1, Patch: 0}, b: Version{Major: 1, Patch: 1}, cmp: -1},
		{a: Version{Major: 1, Patch: 1}, b: Version{Major: 1, Patch: 1}, cmp: 0},
		{a: Version{Major: 2, Patch: 0}, b: Version{Major: 1, Patch: 9}, cmp: 1},
		{a: Version{Major: 1, Patch: 3}, b: Version{Major: 1, Patch: 2}, cmp: 1},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.cmp, VersionCmp(tc.a, tc.b), "%s vs %s", tc.a, tc.b)
		assert.Equal(t, tc.cmp < 0, tc.a.Before(tc.b), "%s before %s", tc.a, tc.b)
	}
}

func TestVersionCompatible(t *testing.T) {
	assert.True(t, Version{Major: 1, Patch: 0}.Compatible(Version{Major: 1, Patch: 4}))
	assert.False(t, Version{Major: 1, Patch: 0}.Compatible(Version{Major: 2, Patch: 0}))
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 1, Patch: 2}, v)

	v, err = ParseVersion("v3.0")
	require.NoError(t, err)
	assert.Equal(t, Version{Major: 3}, v)

	for _, bad := range []string{"", "1", "a.b", "1.x"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestVersionText(t *testing.T) {
	b, err := LatestVersion.MarshalText()
	require.NoError(t, err)

	var v Version
	require.NoError(t, v.UnmarshalText(b))
	assert.Equal(t, LatestVersion, v)
}
