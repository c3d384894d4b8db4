//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/exact-go/testutil"
)

var (
	binaryPath string
	division   string
)

func TestMain(m *testing.M) {
	testutil.LoadDotEnv(filepath.Join(findModuleRoot(), ".env"))
	division = testutil.ValidateAllowlist("EXACT_GO_TEST_DIVISION")

	tmpDir, err := os.MkdirTemp("", "exact-go-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "exact-go")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = findModuleRoot()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	cleanup := setupIsolation()
	code := m.Run()

	cleanup()
	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func findModuleRoot() string {
	// e2e/ is one level below the module root.
	return testutil.FindModuleRoot("..")
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIErr(args...)
	if err != nil {
		t.Fatalf("CLI command %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func runCLIErr(args ...string) (string, string, error) {
	fullArgs := append([]string{"--division", division}, args...)
	cmd := exec.Command(binaryPath, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func TestE2E_Whoami(t *testing.T) {
	stdout, _ := runCLI(t, "whoami", "-o", "json")

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.NotEmpty(t, out["user_name"])
	assert.NotZero(t, out["current_division"])
}

func TestE2E_AccountRoundTrip(t *testing.T) {
	code := fmt.Sprintf("E2E%d", time.Now().Unix()%1_000_000)
	name := "exact-go e2e " + code

	stdout, _ := runCLI(t, "save", "accounts", "name="+name, "code="+code, "-o", "json")

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &created))

	id, ok := created["ID"].(string)
	require.True(t, ok, "created account has an ID: %s", stdout)

	t.Cleanup(func() {
		// Best effort; the test may already have deleted it.
		_, _, _ = runCLIErr("delete", "accounts", id)
	})

	t.Run("find", func(t *testing.T) {
		stdout, _ := runCLI(t, "find", "accounts", id, "-o", "json")
		assert.Contains(t, stdout, name)
	})

	t.Run("find_by", func(t *testing.T) {
		stdout, _ := runCLI(t, "find-by", "accounts", "--filter", "id="+id, "--select", "id,name", "-o", "json")

		var recs []map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
		require.Len(t, recs, 1)
		assert.Equal(t, name, recs[0]["Name"])
	})

	t.Run("update", func(t *testing.T) {
		runCLI(t, "save", "accounts", "--id", id, "name="+name+" updated", "remarks=e2e")

		stdout, _ := runCLI(t, "find", "accounts", id, "-o", "json")
		assert.Contains(t, stdout, name+" updated")
	})

	t.Run("delete", func(t *testing.T) {
		runCLI(t, "delete", "accounts", id)

		_, stderr, err := runCLIErr("find", "accounts", id)
		require.Error(t, err)
		assert.Contains(t, stderr, "not found")
	})
}

func TestE2E_ListPaging(t *testing.T) {
	stdout, _ := runCLI(t, "list", "gl_accounts", "--all", "--select", "code,description", "-o", "json")

	var recs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &recs))
	assert.NotEmpty(t, recs, "every administration has a chart of accounts")
}

func TestE2E_MirrorOnce(t *testing.T) {
	db := filepath.Join(t.TempDir(), "mirror.db")

	runCLI(t, "mirror", "--resources", "gl_accounts,journals", "--database", db)

	stdout, _ := runCLI(t, "mirror", "status", "--database", db, "-o", "json")

	var status struct {
		LastRun struct {
			Status  string `json:"status"`
			Records int    `json:"records"`
		} `json:"last_run"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &status))
	assert.Equal(t, "ok", status.LastRun.Status)
	assert.Positive(t, status.LastRun.Records)
}
