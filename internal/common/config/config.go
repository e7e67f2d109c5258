package config

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Redis         RedisConfig             `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig     `mapstructure:"elasticsearch"`
	Signing       SigningConfig           `mapstructure:"signing"`
	Templates     TemplateConfig          `mapstructure:"templates"`
	Storage       StorageConfig           `mapstructure:"storage"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	ReadTimeout    int    `mapstructure:"read_timeout"`    // milliseconds
	WriteTimeout   int    `mapstructure:"write_timeout"`   // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	WebhookTimeout int    `mapstructure:"webhook_timeout"` // milliseconds
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// RedisConfig enables the shared provider token store.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ElasticsearchConfig enables mirroring audit entries into a search index.
type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

// --- Signing Providers ---

type SigningConfig struct {
	DefaultProvider   string            `mapstructure:"default_provider"`
	ReturnURL         string            `mapstructure:"return_url"`
	FrameAncestors    []string          `mapstructure:"frame_ancestors"`
	MessageOrigins    []string          `mapstructure:"message_origins"`
	TokenSafetyMargin int               `mapstructure:"token_safety_margin"` // seconds
	DocuSign          DocuSignConfig    `mapstructure:"docusign"`
	DropboxSign       DropboxSignConfig `mapstructure:"dropboxsign"`
}

type DocuSignConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	BaseURL        string   `mapstructure:"base_url"`
	AuthServer     string   `mapstructure:"auth_server"`
	AccountID      string   `mapstructure:"account_id"`
	IntegrationKey string   `mapstructure:"integration_key"`
	UserID         string   `mapstructure:"user_id"`
	PrivateKey     string   `mapstructure:"private_key"`
	PrivateKeyPath string   `mapstructure:"private_key_path"`
	Scopes         []string `mapstructure:"scopes"`
	WebhookSecret  string   `mapstructure:"webhook_secret"`
	Timeout        int      `mapstructure:"timeout"` // milliseconds
}

type DropboxSignConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	BaseURL       string            `mapstructure:"base_url"`
	TokenURL      string            `mapstructure:"token_url"`
	ClientID      string            `mapstructure:"client_id"`
	ClientSecret  string            `mapstructure:"client_secret"`
	RefreshToken  string            `mapstructure:"refresh_token"`
	WebhookSecret string            `mapstructure:"webhook_secret"`
	UseTemplates  bool              `mapstructure:"use_templates"`
	TemplateIDs   map[string]string `mapstructure:"template_ids"` // formKind -> template id
	TestMode      bool              `mapstructure:"test_mode"`
	Timeout       int               `mapstructure:"timeout"` // milliseconds
}

// --- Templates & Storage ---

type TemplateConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	BaseDir      string `mapstructure:"base_dir"`
}

type StorageConfig struct {
	Graph                GraphConfig `mapstructure:"graph"`
	RootFolder           string      `mapstructure:"root_folder"`
	ArchiveCopies        bool        `mapstructure:"archive_copies"`
	SimpleUploadMaxBytes int64       `mapstructure:"simple_upload_max_bytes"`
	ChunkSize            int64       `mapstructure:"chunk_size"`
	Retry                RetryConfig `mapstructure:"retry"`
}

type GraphConfig struct {
	BaseURL      string   `mapstructure:"base_url"`
	TokenURL     string   `mapstructure:"token_url"`
	TenantID     string   `mapstructure:"tenant_id"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	DriveID      string   `mapstructure:"drive_id"`
	Scopes       []string `mapstructure:"scopes"`
	Timeout      int      `mapstructure:"timeout"` // milliseconds
}

type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelay   int     `mapstructure:"base_delay"` // milliseconds
	Multiplier  float64 `mapstructure:"multiplier"`
}

// --- Notifications ---

type NotificationConfig struct {
	AWSRegion string `mapstructure:"aws_region"`
	SES       struct {
		Enabled     bool     `mapstructure:"enabled"`
		FromEmail   string   `mapstructure:"from_email"`
		ToAddresses []string `mapstructure:"to_addresses"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
