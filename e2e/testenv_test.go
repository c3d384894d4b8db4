//go:build e2e

package e2e

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/exact-go/testutil"
)

// realHomeDir holds the original HOME directory before TestMain overrides it.
var realHomeDir string

// testCredentialDir holds the path to .testdata/ (repo-root-relative).
// The token and config are read from here, never from production dirs.
var testCredentialDir string

// testDataDir is the isolated data directory holding the copied token.
var testDataDir string

// validateTestData checks that .testdata/ has a token and a config before
// tests start. E2E tests can't import internal packages, so validation uses
// stdlib JSON.
func validateTestData(credDir string) {
	tokenPath := filepath.Join(credDir, testutil.TokenFileName)

	data, err := os.ReadFile(tokenPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot read token file %s: %v\n", tokenPath, err)
		os.Exit(1)
	}

	var parsed map[string]json.RawMessage
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: token file %s is not valid JSON: %v\n", tokenPath, jsonErr)
		os.Exit(1)
	}

	if _, ok := parsed["token"]; !ok {
		fmt.Fprintf(os.Stderr, "FATAL: token file %s missing \"token\" key\n", tokenPath)
		os.Exit(1)
	}

	configPath := filepath.Join(credDir, "config.toml")
	if _, statErr := os.Stat(configPath); statErr != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config.toml not found at %s\n", configPath)
		os.Exit(1)
	}
}

// setupIsolation overrides HOME and XDG directories to temp directories,
// copies the test token and config from .testdata/, and verifies isolation.
// The returned cleanup copies a refreshed token back and removes the temp
// root.
func setupIsolation() func() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot determine home dir: %v\n", err)
		os.Exit(1)
	}

	realHomeDir = home
	testCredentialDir = testutil.FindTestCredentialDir(findModuleRoot())
	validateTestData(testCredentialDir)

	// The division comes from EXACT_GO_TEST_DIVISION via --division.
	os.Unsetenv("EXACT_GO_CONFIG")
	os.Unsetenv("EXACT_GO_DIVISION")

	tempRoot, err := os.MkdirTemp("", "exact-go-e2e-isolation-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating isolation temp dir: %v\n", err)
		os.Exit(1)
	}

	tempHome := filepath.Join(tempRoot, "home")
	tempConfig := filepath.Join(tempRoot, "config")
	tempData := filepath.Join(tempRoot, "data")

	for _, d := range []string{tempHome, tempConfig, tempData} {
		if mkErr := os.MkdirAll(d, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "FATAL: creating dir %s: %v\n", d, mkErr)
			os.Exit(1)
		}
	}

	os.Setenv("HOME", tempHome)
	os.Setenv("XDG_CONFIG_HOME", tempConfig)
	os.Setenv("XDG_DATA_HOME", tempData)

	testDataDir = filepath.Join(tempData, "exact-go")
	tokenPath := filepath.Join(testDataDir, testutil.TokenFileName)

	testutil.CopyFile(filepath.Join(testCredentialDir, testutil.TokenFileName), tokenPath, 0o600)
	testutil.CopyFile(
		filepath.Join(testCredentialDir, "config.toml"),
		filepath.Join(tempConfig, "exact-go", "config.toml"),
		0o600,
	)

	verifyIsolation(tempRoot)

	fmt.Fprintf(os.Stderr, "E2E isolation: HOME=%s XDG_DATA_HOME=%s (credentials from .testdata/)\n", tempHome, tempData)

	return func() {
		// Exact Online rotates refresh tokens; keep the newest one.
		if data, readErr := os.ReadFile(tokenPath); readErr == nil {
			origPath := filepath.Join(testCredentialDir, testutil.TokenFileName)
			if writeErr := os.WriteFile(origPath, data, 0o600); writeErr != nil {
				fmt.Fprintf(os.Stderr, "WARNING: cannot write rotated token back to %s: %v\n", origPath, writeErr)
			}
		}

		os.RemoveAll(tempRoot)
	}
}

// verifyIsolation hard-crashes the process if a production path could leak
// into test execution. Runs before m.Run().
func verifyIsolation(tempRoot string) {
	crash := func(msg string) {
		fmt.Fprintf(os.Stderr, "FATAL: isolation check failed: %s\n", msg)
		os.Exit(1)
	}

	if os.Getenv("EXACT_GO_CONFIG") != "" {
		crash("EXACT_GO_CONFIG is set and would leak a production config into tests")
	}

	for _, v := range []string{"HOME", "XDG_DATA_HOME", "XDG_CONFIG_HOME"} {
		val := os.Getenv(v)
		if val == "" || !strings.HasPrefix(val, tempRoot) {
			crash(v + " not overridden to temp dir")
		}
	}

	homeDir, _ := os.UserHomeDir()
	if !strings.HasPrefix(homeDir, tempRoot) {
		crash("UserHomeDir() returns " + homeDir + " (not under temp)")
	}
}

func TestIsolation_HomeOverridden(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.NotEqual(t, realHomeDir, home, "HOME should be overridden to temp dir")
}

func TestIsolation_TokenInTempDir(t *testing.T) {
	require.NotEmpty(t, testDataDir)
	assert.NotContains(t, testDataDir, realHomeDir)

	_, err := os.Stat(filepath.Join(testDataDir, testutil.TokenFileName))
	assert.NoError(t, err)
}

// TestIsolation_BinaryResolvesTemp runs `config show` and checks that the
// binary resolved its config under the temp root.
func TestIsolation_BinaryResolvesTemp(t *testing.T) {
	stdout, stderr := runCLI(t, "config", "show")

	assert.NotContains(t, stdout, realHomeDir)
	assert.NotContains(t, stderr, realHomeDir)
	assert.Contains(t, stdout, os.Getenv("XDG_CONFIG_HOME"))
}
