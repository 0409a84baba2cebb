package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/ait/internal/output"
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
	setDefaults(dir)

	// Initialize output
	ui = output.New()
	ui.Out = io.Discard
	ui.ErrOut = io.Discard

	// Drop anything wired by a previous test
	t.Cleanup(func() {
		if dataStore != nil {
			_ = dataStore.Close()
		}
		dataStore = nil
		deps = nil
	})
	dataStore = nil
	deps = nil

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
	assert.Contains(t, string(data), "ait configuration")
	assert.Contains(t, string(data), "base_url: http://localhost:8000")
	assert.Contains(t, string(data), "csrf_on_bearer: false")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ait configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
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

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestValueSource(t *testing.T) {
	doc := map[string]any{"api": map[string]any{"base_url": "http://x"}, "port": 9000}
	t.Setenv("AIT_LOG_LEVEL", "debug")
	t.Setenv("ANTHROPIC_API_KEY", "k")

	assert.Equal(t, "(env: AIT_LOG_LEVEL)", valueSource(configKey{Key: "log.level"}, doc))
	assert.Equal(t, "(file)", valueSource(configKey{Key: "api.base_url"}, doc))
	assert.Equal(t, "(file)", valueSource(configKey{Key: "port"}, doc))
	assert.Equal(t, "(default)", valueSource(configKey{Key: "api.timeout"}, doc))
	assert.Equal(t, "(env: ANTHROPIC_API_KEY)", valueSource(configKey{Key: "anthropic.api_key", AltEnv: "ANTHROPIC_API_KEY"}, doc))
}

func TestInDoc(t *testing.T) {
	doc := map[string]any{
		"port": 8080,
		"api":  map[string]any{"base_url": "http://x"},
		"log":  "flat",
	}

	assert.True(t, inDoc(doc, "port"))
	assert.True(t, inDoc(doc, "api.base_url"))
	assert.True(t, inDoc(doc, "api"))
	assert.False(t, inDoc(doc, "api.timeout"))
	assert.False(t, inDoc(doc, "log.level"), "scalar where a mapping is expected")
	assert.False(t, inDoc(nil, "port"))
}

func TestEnvVarFor(t *testing.T) {
	assert.Equal(t, "AIT_API_BASE_URL", envVarFor("api.base_url"))
	assert.Equal(t, "AIT_PORT", envVarFor("port"))
}

func TestRenderConfig_ReadsBack(t *testing.T) {
	dir := testEnv(t)
	viper.Set("anthropic.api_key", "sk-secret")
	viper.Set("api.base_url", "https://aits.example.ac.ug")

	data, err := renderConfig()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), "# state_dir: "+dir)

	var doc struct {
		API struct {
			BaseURL      string `yaml:"base_url"`
			Timeout      string `yaml:"timeout"`
			CSRFOnBearer bool   `yaml:"csrf_on_bearer"`
			CacheTTL     string `yaml:"cache_ttl"`
		} `yaml:"api"`
		Log struct {
			Level string `yaml:"level"`
		} `yaml:"log"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		StateDir string `yaml:"state_dir"`
	}
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, "https://aits.example.ac.ug", doc.API.BaseURL)
	assert.Equal(t, "30s", doc.API.Timeout)
	assert.Equal(t, "2m0s", doc.API.CacheTTL)
	assert.False(t, doc.API.CSRFOnBearer)
	assert.Equal(t, "warn", doc.Log.Level)
	assert.Equal(t, "127.0.0.1", doc.Host)
	assert.Equal(t, 8080, doc.Port)
	assert.Empty(t, doc.StateDir, "machine paths stay commented out")
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestConfigShow_MasksAPIKey(t *testing.T) {
	testEnv(t)
	var buf bytes.Buffer
	ui.Out = &buf
	viper.Set("anthropic.api_key", "sk-secret")

	require.NoError(t, configShowRun())
	assert.NotContains(t, buf.String(), "sk-secret")
	assert.Contains(t, buf.String(), "(set)")
	assert.Contains(t, buf.String(), "api.base_url")
}
