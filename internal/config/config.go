// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/stacklabel/update-governor/internal/admission"
	"github.com/stacklabel/update-governor/pkg/utils"
)

// Config holds the complete application configuration
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Governance    GovernanceConfig   `mapstructure:"governance"`
	Admission     AdmissionConfig    `mapstructure:"admission"`
	Queue         QueueConfig        `mapstructure:"queue"`
	Executor      ExecutorConfig     `mapstructure:"executor"`
	Storage       StorageConfig      `mapstructure:"storage"`
	Server        ServerConfig       `mapstructure:"server"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Logging       LoggingConfig      `mapstructure:"logging"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// GovernanceConfig holds voting state machine settings
type GovernanceConfig struct {
	QuorumThreshold  float64       `mapstructure:"quorum_threshold"`
	AdminCount       int           `mapstructure:"admin_count"`
	OwnerID          string        `mapstructure:"owner_id"`
	ExpirationWindow time.Duration `mapstructure:"expiration_window"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// AdmissionConfig holds admission tracker settings
type AdmissionConfig struct {
	MaxRequestsPerDay int           `mapstructure:"max_requests_per_day"`
	ExpirationWindow  time.Duration `mapstructure:"expiration_window"`
	SanityWindow      time.Duration `mapstructure:"sanity_window"`
}

// QueueConfig holds execution queue settings
type QueueConfig struct {
	MaxQueueSize   int           `mapstructure:"max_queue_size"`
	RapidThreshold time.Duration `mapstructure:"rapid_threshold"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxWaitTime    time.Duration `mapstructure:"max_wait_time"`
}

// ExecutorConfig holds catalog executor settings
type ExecutorConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// StorageConfig holds storage settings
type StorageConfig struct {
	Type             string        `mapstructure:"type"`
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
	RetentionDays    int           `mapstructure:"retention_days"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	EnableCORS    bool          `mapstructure:"enable_cors"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("governor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/governor")
	}

	v.SetEnvPrefix("GOVERNOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to read config file", err.Error())
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to unmarshal config", err.Error())
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "update-governor")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "America/Los_Angeles")

	// Governance defaults
	v.SetDefault("governance.quorum_threshold", 0.75)
	v.SetDefault("governance.admin_count", 4)
	v.SetDefault("governance.owner_id", "")
	v.SetDefault("governance.expiration_window", "10m")
	v.SetDefault("governance.cleanup_interval", "30s")

	// Admission defaults
	v.SetDefault("admission.max_requests_per_day", 1)
	v.SetDefault("admission.expiration_window", "10m")
	v.SetDefault("admission.sanity_window", "8760h")

	// Queue defaults
	v.SetDefault("queue.max_queue_size", 1)
	v.SetDefault("queue.rapid_threshold", "5s")
	v.SetDefault("queue.poll_interval", "2s")
	v.SetDefault("queue.max_wait_time", "60s")

	// Executor defaults
	v.SetDefault("executor.batch_size", 100)
	v.SetDefault("executor.timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/governor.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "5m")
	v.SetDefault("storage.retention_days", 90)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.enable_metrics", true)

	// Notification defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook_url", "")
	v.SetDefault("notifications.timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Governance.QuorumThreshold <= 0 || c.Governance.QuorumThreshold > 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "governance.quorum_threshold must be in (0, 1]")
	}
	if c.Governance.AdminCount < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "governance.admin_count must be at least 1")
	}
	if c.Governance.OwnerID != "" && !admission.ValidAdminID(c.Governance.OwnerID) {
		return utils.NewAppError(utils.ErrCodeConfiguration, "governance.owner_id must be a valid UUID v4")
	}
	if c.Governance.ExpirationWindow <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "governance.expiration_window must be positive")
	}

	if c.Admission.MaxRequestsPerDay < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "admission.max_requests_per_day must be at least 1")
	}
	if c.Admission.SanityWindow <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "admission.sanity_window must be positive")
	}

	if c.Queue.MaxQueueSize < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "queue.max_queue_size must be at least 1")
	}
	if c.Queue.PollInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "queue.poll_interval must be positive")
	}
	if c.Queue.MaxWaitTime < c.Queue.PollInterval {
		return utils.NewAppError(utils.ErrCodeConfiguration, "queue.max_wait_time must be at least queue.poll_interval")
	}

	if c.Executor.BatchSize < 1 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "executor.batch_size must be at least 1")
	}

	switch strings.ToLower(c.Storage.Type) {
	case "sqlite", "postgres", "postgresql":
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("storage.type must be sqlite or postgres, got %q", c.Storage.Type))
	}
	if c.Storage.ConnectionString == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "storage.connection_string is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "server.port must be between 1 and 65535")
	}

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("app.timezone %q is not a valid tz database name", c.App.Timezone))
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("logging.level %q is not valid", c.Logging.Level))
	}

	return nil
}

// Address returns the server listen address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
