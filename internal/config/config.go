package config

import (
	"fmt"
	"time"

	"github.com/pulseloop/wearsync/pkg/model"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	User     UserConfig
	Database DatabaseConfig
	Azure    AzureConfig
	Backup   BackupStorageConfig
	Security SecurityConfig
	Sync     SyncConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	Environment     string
	ShutdownTimeout time.Duration
}

// UserConfig identifies the local profile health data is synchronized for
type UserConfig struct {
	ID string
}

// DatabaseConfig holds database connection configuration.
// When URL is empty the service falls back to the in-memory health data store.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
}

// AzureConfig holds Azure Blob Storage configuration for the "azure" backup location
type AzureConfig struct {
	AccountName     string
	AccountKey      string
	BackupContainer string
}

// BackupStorageConfig holds local backup storage configuration
type BackupStorageConfig struct {
	Dir string

	// SyncConfigPath is where runtime sync configuration changes are
	// persisted between restarts.
	SyncConfigPath string
}

// SecurityConfig holds encryption configuration
type SecurityConfig struct {
	// EncryptionKey must be 32 bytes when sync.encryptdata is enabled
	EncryptionKey string
}

// BatteryOptimization controls how aggressively scheduled syncs are gated
// on battery state
type BatteryOptimization string

const (
	BatteryOptimizationNone   BatteryOptimization = "none"
	BatteryOptimizationLow    BatteryOptimization = "low"
	BatteryOptimizationMedium BatteryOptimization = "medium"
	BatteryOptimizationHigh   BatteryOptimization = "high"
)

// BackupFrequency controls how often automatic backups run
type BackupFrequency string

const (
	BackupDaily   BackupFrequency = "daily"
	BackupWeekly  BackupFrequency = "weekly"
	BackupMonthly BackupFrequency = "monthly"
)

// Interval returns the minimum elapsed time between automatic backups
func (f BackupFrequency) Interval() time.Duration {
	switch f {
	case BackupWeekly:
		return 7 * 24 * time.Hour
	case BackupMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// BackupConfig holds the backup policy portion of SyncConfig
type BackupConfig struct {
	Enabled             bool            `json:"enabled"`
	Frequency           BackupFrequency `json:"frequency"`
	RetentionPeriodDays int             `json:"retention_period_days"`
	StorageLocation     string          `json:"storage_location"` // "filesystem" or "azure"
	Incremental         bool            `json:"incremental"`
}

// PlatformConfig holds per-platform authorization and endpoint settings
type PlatformConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
	AuthURL      string   `json:"auth_url"`
	TokenURL     string   `json:"token_url"`
	APIBaseURL   string   `json:"api_base_url"`
}

// SyncConfig is the process-wide synchronization configuration. It is owned
// by the Manager; all other components read it through Manager.Snapshot and
// mutate it only via Manager.Apply.
type SyncConfig struct {
	SyncIntervalMinutes int                                       `json:"sync_interval_minutes"`
	EnabledMetrics      []model.MetricType                        `json:"enabled_metrics"`
	SyncHistoricalData  bool                                      `json:"sync_historical_data"`
	HistoricalDays      int                                       `json:"historical_days"`
	AnomalyThreshold    float64                                   `json:"anomaly_threshold"`
	BatteryOptimization BatteryOptimization                       `json:"battery_optimization"`
	LogLevel            model.LogLevel                            `json:"log_level"`
	EncryptData         bool                                      `json:"encrypt_data"`
	FetchTimeout        time.Duration                             `json:"fetch_timeout"`
	Backup              BackupConfig                              `json:"backup"`
	Platforms           map[model.SourcePlatform]PlatformConfig   `json:"platforms"`
}

// DefaultSyncConfig returns the built-in synchronization defaults
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		SyncIntervalMinutes: 30,
		EnabledMetrics:      append([]model.MetricType(nil), model.AllMetricTypes...),
		SyncHistoricalData:  false,
		HistoricalDays:      30,
		AnomalyThreshold:    3.0,
		BatteryOptimization: BatteryOptimizationMedium,
		LogLevel:            model.LogInfo,
		EncryptData:         false,
		FetchTimeout:        15 * time.Second,
		Backup: BackupConfig{
			Enabled:             true,
			Frequency:           BackupDaily,
			RetentionPeriodDays: 90,
			StorageLocation:     "filesystem",
		},
		Platforms: map[model.SourcePlatform]PlatformConfig{},
	}
}

// Load reads configuration from environment variables and defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.AutomaticEnv()
	bindEnvVars(v)

	cfg := Config{Sync: DefaultSyncConfig()}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Overlay sync settings that can come from the environment
	cfg.Sync.SyncIntervalMinutes = v.GetInt("sync.intervalminutes")
	cfg.Sync.AnomalyThreshold = v.GetFloat64("sync.anomalythreshold")
	cfg.Sync.BatteryOptimization = BatteryOptimization(v.GetString("sync.batteryoptimization"))
	cfg.Sync.LogLevel = model.LogLevel(v.GetString("sync.loglevel"))
	cfg.Sync.EncryptData = v.GetBool("sync.encryptdata")
	cfg.Sync.FetchTimeout = v.GetDuration("sync.fetchtimeout")
	cfg.Sync.Backup.Enabled = v.GetBool("sync.backup.enabled")
	cfg.Sync.Backup.Frequency = BackupFrequency(v.GetString("sync.backup.frequency"))
	cfg.Sync.Backup.RetentionPeriodDays = v.GetInt("sync.backup.retentiondays")
	cfg.Sync.Backup.StorageLocation = v.GetString("sync.backup.storagelocation")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdowntimeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.maxopenconns", 25)

	// Azure Storage defaults
	v.SetDefault("azure.backupcontainer", "wearsync-backups")

	// User defaults
	v.SetDefault("user.id", "local-user")

	// Backup defaults
	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.syncconfigpath", "./wearsync-config.json")

	// Sync defaults
	v.SetDefault("sync.intervalminutes", 30)
	v.SetDefault("sync.anomalythreshold", 3.0)
	v.SetDefault("sync.batteryoptimization", string(BatteryOptimizationMedium))
	v.SetDefault("sync.loglevel", string(model.LogInfo))
	v.SetDefault("sync.encryptdata", false)
	v.SetDefault("sync.fetchtimeout", 15*time.Second)
	v.SetDefault("sync.backup.enabled", true)
	v.SetDefault("sync.backup.frequency", string(BackupDaily))
	v.SetDefault("sync.backup.retentiondays", 90)
	v.SetDefault("sync.backup.storagelocation", "filesystem")
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.environment", "ENV", "ENVIRONMENT")

	// Database
	v.BindEnv("database.url", "DATABASE_URL")

	// Azure Storage
	v.BindEnv("azure.accountname", "AZURE_STORAGE_ACCOUNT_NAME")
	v.BindEnv("azure.accountkey", "AZURE_STORAGE_ACCOUNT_KEY")
	v.BindEnv("azure.backupcontainer", "AZURE_STORAGE_BACKUP_CONTAINER")

	// User
	v.BindEnv("user.id", "SYNC_USER_ID")

	// Backup
	v.BindEnv("backup.dir", "BACKUP_DIR")
	v.BindEnv("backup.syncconfigpath", "SYNC_CONFIG_PATH")

	// Security
	v.BindEnv("security.encryptionkey", "ENCRYPTION_KEY")

	// Sync
	v.BindEnv("sync.intervalminutes", "SYNC_INTERVAL_MINUTES")
	v.BindEnv("sync.anomalythreshold", "SYNC_ANOMALY_THRESHOLD")
	v.BindEnv("sync.batteryoptimization", "SYNC_BATTERY_OPTIMIZATION")
	v.BindEnv("sync.loglevel", "SYNC_LOG_LEVEL")
	v.BindEnv("sync.encryptdata", "SYNC_ENCRYPT_DATA")
	v.BindEnv("sync.fetchtimeout", "SYNC_FETCH_TIMEOUT")
	v.BindEnv("sync.backup.enabled", "SYNC_BACKUP_ENABLED")
	v.BindEnv("sync.backup.frequency", "SYNC_BACKUP_FREQUENCY")
	v.BindEnv("sync.backup.retentiondays", "SYNC_BACKUP_RETENTION_DAYS")
	v.BindEnv("sync.backup.storagelocation", "SYNC_BACKUP_STORAGE_LOCATION")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Sync.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("sync.intervalminutes must be positive")
	}

	if c.Sync.AnomalyThreshold <= 0 {
		return fmt.Errorf("sync.anomalythreshold must be positive")
	}

	switch c.Sync.BatteryOptimization {
	case BatteryOptimizationNone, BatteryOptimizationLow, BatteryOptimizationMedium, BatteryOptimizationHigh:
	default:
		return fmt.Errorf("unknown battery optimization level: %s", c.Sync.BatteryOptimization)
	}

	switch c.Sync.Backup.Frequency {
	case BackupDaily, BackupWeekly, BackupMonthly:
	default:
		return fmt.Errorf("unknown backup frequency: %s", c.Sync.Backup.Frequency)
	}

	if c.Sync.Backup.StorageLocation == "azure" && (c.Azure.AccountName == "" || c.Azure.AccountKey == "") {
		return fmt.Errorf("azure storage credentials are required for the azure backup location")
	}

	if c.Sync.EncryptData && len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("security.encryptionkey must be 32 bytes when encryption is enabled")
	}

	return nil
}
