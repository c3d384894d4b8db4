package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[netwrk]\ntimeout = \"10s\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.Contains(t, err.Error(), `did you mean "network"`)
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	//nolint:misspell // intentional typo to test unknown key detection
	path := writeTestConfig(t, "[api]\ndivison = 5\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key in [api]")
	assert.Contains(t, err.Error(), `"division"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[mirror]\ncompletely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownTopLevelKey(t *testing.T) {
	path := writeTestConfig(t, "log_level = \"debug\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "log_level"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"divison", "division", 1},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestSplitDotted(t *testing.T) {
	section, key, err := splitDotted("mirror.workers")
	require.NoError(t, err)
	assert.Equal(t, "mirror", section)
	assert.Equal(t, "workers", key)

	_, _, err = splitDotted("workers")
	assert.ErrorContains(t, err, "section.key")

	_, _, err = splitDotted("mirorr.workers")
	assert.ErrorContains(t, err, `did you mean "mirror"`)

	_, _, err = splitDotted("mirror.worker")
	assert.ErrorContains(t, err, `did you mean "workers"`)
}
