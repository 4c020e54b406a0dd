package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfo_String(t *testing.T) {
	tests := []struct {
		name     string
		version  Info
		expected string
	}{
		{name: "standard version", version: Info{Major: 1, Minor: 2, Patch: 3}, expected: "v1.2.3"},
		{name: "zero version", version: Info{}, expected: "v0.0.0"},
		{name: "large numbers", version: Info{Major: 999, Minor: 888, Patch: 777}, expected: "v999.888.777"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.version.String())
		})
	}
}

func TestInfo_Before(t *testing.T) {
	tests := []struct {
		name   string
		v1, v2 Info
		before bool
	}{
		{name: "lower major", v1: Info{Major: 1}, v2: Info{Major: 2}, before: true},
		{name: "higher major", v1: Info{Major: 2}, v2: Info{Major: 1}, before: false},
		{name: "equal major, lower minor", v1: Info{Major: 1, Minor: 2}, v2: Info{Major: 1, Minor: 3}, before: true},
		{name: "equal major and minor, lower patch", v1: Info{Major: 1, Minor: 2, Patch: 3}, v2: Info{Major: 1, Minor: 2, Patch: 4}, before: true},
		{name: "equal versions", v1: Info{Major: 1, Minor: 2, Patch: 3}, v2: Info{Major: 1, Minor: 2, Patch: 3}, before: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.before, tt.v1.Before(tt.v2))
		})
	}
}

func TestInfo_BeforeTransitivity(t *testing.T) {
	v1 := Info{Major: 1}
	v2 := Info{Major: 2}
	v3 := Info{Major: 3}

	require.True(t, v1.Before(v2))
	require.True(t, v2.Before(v3))
	require.True(t, v1.Before(v3))
}

func TestCurrent_StringIsStable(t *testing.T) {
	require.Equal(t, Current.String(), Current.String())
}
