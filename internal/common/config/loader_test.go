package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
app:
  name: subsidy-esign
signing:
  default_provider: docusign
  docusign:
    enabled: true
    account_id: acc-1
    integration_key: ik-1
    user_id: user-1
    private_key_path: /secrets/docusign.pem
storage:
  graph:
    tenant_id: tenant-1
    client_id: graph-client
    drive_id: drive-1
workers:
  archive-signed-envelope:
    enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "https://demo.docusign.net/restapi", cfg.Signing.DocuSign.BaseURL)
	assert.Equal(t, 300, cfg.Signing.TokenSafetyMargin)
	assert.Equal(t, int64(4<<20), cfg.Storage.SimpleUploadMaxBytes)
	assert.Equal(t, int64(12*320*1024), cfg.Storage.ChunkSize)
	assert.Equal(t, 3, cfg.Storage.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Storage.Retry.Multiplier)
	assert.Equal(t, "https://login.microsoftonline.com/tenant-1/oauth2/v2.0/token", cfg.Storage.Graph.TokenURL)
	assert.Equal(t, "Subsidieaanvragen", cfg.Storage.RootFolder)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_GRAPH_DRIVE", "drive-from-env")
	content := strings.Replace(validYAML, "drive_id: drive-1", "drive_id: ${TEST_GRAPH_DRIVE}", 1)

	cfg, err := LoadFromFile(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "drive-from-env", cfg.Storage.Graph.DriveID)
}

func TestLoadFromFile_SecretOverrides(t *testing.T) {
	t.Setenv("GRAPH_CLIENT_SECRET", "s3cret")

	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Storage.Graph.ClientSecret)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Signing.DefaultProvider = "adobesign" },
			wantErr: "not supported",
		},
		{
			name:    "default provider disabled",
			mutate:  func(c *Config) { c.Signing.DefaultProvider = ProviderDropboxSign },
			wantErr: "dropboxsign.enabled is false",
		},
		{
			name:    "token margin too small",
			mutate:  func(c *Config) { c.Signing.TokenSafetyMargin = 60 },
			wantErr: "token_safety_margin",
		},
		{
			name:    "chunk size not aligned",
			mutate:  func(c *Config) { c.Storage.ChunkSize = 1000 },
			wantErr: "multiple of 327680",
		},
		{
			name:    "camunda without broker",
			mutate:  func(c *Config) { c.Camunda.Enabled = true },
			wantErr: "broker_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromFile(writeConfig(t, validYAML))
			require.NoError(t, err)

			tt.mutate(cfg)
			err = validateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWorkerHelpers(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.False(t, IsWorkerEnabled(cfg, "archive-signed-envelope"))
	assert.True(t, IsWorkerEnabled(cfg, "classify-company-size"))

	wc := GetWorkerConfig(cfg, "archive-signed-envelope")
	assert.Equal(t, 5, wc.MaxJobsActive)
	assert.Equal(t, 3, wc.MaxRetries)
	assert.Equal(t, time.Minute, GetDuration(wc.Timeout))
}
