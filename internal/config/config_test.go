package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_PassesValidation(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Database.Database, cfg.Database.Database)
	assert.Equal(t, Default().Monitoring.DatasetThreshold, cfg.Monitoring.DatasetThreshold)
}

func TestLoad_YamlFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  database: custom_db\nmonitoring:\n  dataset_drift_threshold: 0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom_db", cfg.Database.Database)
	assert.Equal(t, 0.5, cfg.Monitoring.DatasetThreshold)
	// fields not present in the override file keep their default.
	assert.Equal(t, Default().Decision.TestFraction, cfg.Decision.TestFraction)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load("/no/such/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesApplyOverYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  host: yamlhost\n  port: 7000\nobservability:\n  log_level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("SENTRYML_DB_HOST", "envhost")
	t.Setenv("SENTRYML_DB_PORT", "6543")
	t.Setenv("SENTRYML_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "envhost", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoad_InvalidDbPortEnvIsIgnored(t *testing.T) {
	t.Setenv("SENTRYML_DB_PORT", "not-a-number")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Database.Port, cfg.Database.Port)
}

func TestValidate_RejectsMissingDatabaseName(t *testing.T) {
	cfg := Default()
	cfg.Database.Database = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeDatasetThreshold(t *testing.T) {
	cfg := Default()
	cfg.Monitoring.DatasetThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg.Monitoring.DatasetThreshold = 1.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeTestFraction(t *testing.T) {
	cfg := Default()
	cfg.Decision.TestFraction = 0
	assert.Error(t, cfg.Validate())

	cfg.Decision.TestFraction = 1
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveSegmentMin(t *testing.T) {
	cfg := Default()
	cfg.Decision.SegmentMin = 0
	assert.Error(t, cfg.Validate())
}

func TestLoad_InvalidYamlReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: [this is not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
