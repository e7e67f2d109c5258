package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider names accepted by signing.default_provider.
const (
	ProviderDocuSign    = "docusign"
	ProviderDropboxSign = "dropboxsign"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml and
// applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return build(v)
}

// LoadFromFile loads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return build(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func build(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			expanded := os.ExpandEnv(strVal)
			if expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets from well-known env vars when the YAML left them empty.
func overrideEmptyConfig(cfg *Config) {
	setIfEmpty(&cfg.Signing.DocuSign.PrivateKey, "DOCUSIGN_PRIVATE_KEY")
	setIfEmpty(&cfg.Signing.DocuSign.IntegrationKey, "DOCUSIGN_INTEGRATION_KEY")
	setIfEmpty(&cfg.Signing.DocuSign.WebhookSecret, "DOCUSIGN_CONNECT_SECRET")
	setIfEmpty(&cfg.Signing.DropboxSign.ClientSecret, "DROPBOXSIGN_CLIENT_SECRET")
	setIfEmpty(&cfg.Signing.DropboxSign.RefreshToken, "DROPBOXSIGN_REFRESH_TOKEN")
	setIfEmpty(&cfg.Signing.DropboxSign.WebhookSecret, "DROPBOXSIGN_API_KEY")
	setIfEmpty(&cfg.Storage.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setIfEmpty(&cfg.Redis.Password, "REDIS_PASSWORD")
	setIfEmpty(&cfg.Elasticsearch.Password, "ELASTICSEARCH_PASSWORD")
}

func setIfEmpty(field *string, envKey string) {
	if *field != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

// applyDefaults sets default values for optional configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "subsidy-esign"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15000
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 120000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 5 << 20
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 60000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}
	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 60000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "esign:token:"
	}
	if cfg.Elasticsearch.AuditIndex == "" {
		cfg.Elasticsearch.AuditIndex = "esign-audit"
	}

	if cfg.Signing.DefaultProvider == "" {
		cfg.Signing.DefaultProvider = ProviderDocuSign
	}
	if cfg.Signing.TokenSafetyMargin == 0 {
		cfg.Signing.TokenSafetyMargin = 300
	}
	ds := &cfg.Signing.DocuSign
	if ds.BaseURL == "" {
		ds.BaseURL = "https://demo.docusign.net/restapi"
	}
	if ds.AuthServer == "" {
		ds.AuthServer = "https://account-d.docusign.com"
	}
	if len(ds.Scopes) == 0 {
		ds.Scopes = []string{"signature", "impersonation"}
	}
	if ds.Timeout == 0 {
		ds.Timeout = 30000
	}
	dbs := &cfg.Signing.DropboxSign
	if dbs.BaseURL == "" {
		dbs.BaseURL = "https://api.hellosign.com/v3"
	}
	if dbs.TokenURL == "" {
		dbs.TokenURL = "https://app.hellosign.com/oauth/token"
	}
	if dbs.Timeout == 0 {
		dbs.Timeout = 30000
	}

	if cfg.Templates.RegistryPath == "" {
		cfg.Templates.RegistryPath = "configs/templates.json"
	}

	st := &cfg.Storage
	if st.RootFolder == "" {
		st.RootFolder = "Subsidieaanvragen"
	}
	if st.SimpleUploadMaxBytes == 0 {
		st.SimpleUploadMaxBytes = 4 << 20
	}
	if st.ChunkSize == 0 {
		st.ChunkSize = 12 * 320 * 1024
	}
	if st.Retry.MaxAttempts == 0 {
		st.Retry.MaxAttempts = 3
	}
	if st.Retry.BaseDelay == 0 {
		st.Retry.BaseDelay = 1000
	}
	if st.Retry.Multiplier == 0 {
		st.Retry.Multiplier = 2
	}
	if st.Graph.BaseURL == "" {
		st.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if st.Graph.TokenURL == "" && st.Graph.TenantID != "" {
		st.Graph.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", st.Graph.TenantID)
	}
	if len(st.Graph.Scopes) == 0 {
		st.Graph.Scopes = []string{"https://graph.microsoft.com/.default"}
	}
	if st.Graph.Timeout == 0 {
		st.Graph.Timeout = 120000
	}

	if cfg.Notifications.AWSRegion == "" {
		cfg.Notifications.AWSRegion = "eu-west-1"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// validateConfig validates critical configuration fields.
func validateConfig(cfg *Config) error {
	switch cfg.Signing.DefaultProvider {
	case ProviderDocuSign:
		if !cfg.Signing.DocuSign.Enabled {
			return fmt.Errorf("signing.default_provider is docusign but signing.docusign.enabled is false")
		}
	case ProviderDropboxSign:
		if !cfg.Signing.DropboxSign.Enabled {
			return fmt.Errorf("signing.default_provider is dropboxsign but signing.dropboxsign.enabled is false")
		}
	default:
		return fmt.Errorf("signing.default_provider %q is not supported", cfg.Signing.DefaultProvider)
	}

	if cfg.Signing.TokenSafetyMargin < 300 {
		return fmt.Errorf("signing.token_safety_margin must be at least 300 seconds")
	}

	if ds := cfg.Signing.DocuSign; ds.Enabled {
		if ds.AccountID == "" || ds.IntegrationKey == "" || ds.UserID == "" {
			return fmt.Errorf("signing.docusign.account_id, integration_key and user_id are required")
		}
		if ds.PrivateKey == "" && ds.PrivateKeyPath == "" {
			return fmt.Errorf("signing.docusign.private_key or private_key_path is required")
		}
	}
	if dbs := cfg.Signing.DropboxSign; dbs.Enabled {
		if dbs.ClientID == "" || dbs.ClientSecret == "" || dbs.RefreshToken == "" {
			return fmt.Errorf("signing.dropboxsign.client_id, client_secret and refresh_token are required")
		}
	}

	if cfg.Storage.Graph.DriveID == "" {
		return fmt.Errorf("storage.graph.drive_id is required")
	}
	if cfg.Storage.Graph.ClientID == "" || cfg.Storage.Graph.TokenURL == "" {
		return fmt.Errorf("storage.graph.client_id and tenant_id (or token_url) are required")
	}
	if cfg.Storage.ChunkSize%(320*1024) != 0 {
		return fmt.Errorf("storage.chunk_size must be a multiple of 327680 bytes")
	}

	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if cfg.Elasticsearch.Enabled && len(cfg.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch.addresses is required when elasticsearch is enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration.
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults.
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       60000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled.
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
