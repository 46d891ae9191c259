package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhutchinson/wd/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	viper.SetDefault("db_path", filepath.Join(dir, "wd.db"))
	viper.SetDefault("results_dir", filepath.Join(dir, "results"))
	viper.SetDefault("workspace_root", filepath.Join(dir, "src"))
	viper.SetDefault("agent.binary", "claude")
	viper.SetDefault("agent.max_concurrent", 3)
	viper.SetDefault("agent.poll_interval", "5s")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Initialize output
	ui = output.New()
	ui.Out = &bytes.Buffer{}
	ui.ErrOut = &bytes.Buffer{}

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wd configuration")
	assert.Contains(t, string(data), "max_concurrent: 3")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "wd configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestParseIssueArg(t *testing.T) {
	repo, number, err := parseIssueArg("owner/app#42")
	require.NoError(t, err)
	assert.Equal(t, "owner/app", repo)
	assert.Equal(t, 42, number)

	_, _, err = parseIssueArg("owner/app")
	assert.Error(t, err)
}

func TestWorkDirFor(t *testing.T) {
	viper.Reset()
	viper.Set("workspace_root", "/home/me/src")
	assert.Equal(t, filepath.Join("/home/me/src", "app"), workDirFor("owner/app"))

	viper.Set("repos.owner/app.dir", "/srv/checkouts/app")
	assert.Equal(t, "/srv/checkouts/app", workDirFor("owner/app"))
}
