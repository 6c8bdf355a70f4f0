// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/smartdevs17/theorem-bounty-sync/pkg/utils"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Chain   ChainConfig   `mapstructure:"chain"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`

	Notification NotificationConfig `mapstructure:"notification"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains ledger node connection configuration
type ChainConfig struct {
	NodeURL         string        `mapstructure:"node_url"`
	NetworkID       int           `mapstructure:"network_id"`
	BackupNodes     []string      `mapstructure:"backup_nodes"`
	ContractAddress string        `mapstructure:"contract_address"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// SyncConfig contains reconciliation run configuration
type SyncConfig struct {
	// FromBlock is kept as text so a malformed checkpoint can be reported
	// and defaulted instead of failing the whole config load.
	FromBlock        string        `mapstructure:"from_block"`
	StrictCheckpoint bool          `mapstructure:"strict_checkpoint"`
	ChunkSize        uint64        `mapstructure:"chunk_size"`
	ConcurrentChunks int           `mapstructure:"concurrent_chunks"`
	AmountDecimals   int32         `mapstructure:"amount_decimals"`
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	RunTimeout       time.Duration `mapstructure:"run_timeout"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// MetricsConfig contains batch metrics export configuration
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// NotificationConfig contains run outcome webhook configuration
type NotificationConfig struct {
	WebhookURL    string            `mapstructure:"webhook_url"`
	Headers       map[string]string `mapstructure:"headers"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryAttempts int               `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration     `mapstructure:"retry_delay"`
	OnlyIssues    bool              `mapstructure:"only_issues"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("BOUNTY_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy variable names used by the deployment scripts
	v.BindEnv("sync.from_block", "BOUNTY_SYNC_SYNC_FROM_BLOCK", "SYNC_FROM_BLOCK")
	v.BindEnv("chain.node_url", "BOUNTY_SYNC_CHAIN_NODE_URL", "ETH_NODE_URL")
	v.BindEnv("chain.contract_address", "BOUNTY_SYNC_CHAIN_CONTRACT_ADDRESS", "CONTRACT_ADDRESS")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			utils.GetLogger().Debug("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
		if strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://") {
			config.Storage.Type = "postgres"
		}
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "theorem-bounty-sync")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("chain.node_url", "https://rpc.sepolia.org")
	v.SetDefault("chain.network_id", 11155111) // Sepolia
	v.SetDefault("chain.request_timeout", "30s")
	v.SetDefault("chain.retry_attempts", 3)
	v.SetDefault("chain.retry_delay", "5s")

	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.connection_string", "./data/bounties.db")
	v.SetDefault("storage.max_connections", 10)
	v.SetDefault("storage.max_idle_time", "15m")

	v.SetDefault("sync.from_block", "0")
	v.SetDefault("sync.strict_checkpoint", false)
	v.SetDefault("sync.chunk_size", 10000)
	v.SetDefault("sync.concurrent_chunks", 1)
	v.SetDefault("sync.amount_decimals", 18)
	v.SetDefault("sync.schedule_interval", "10m")
	v.SetDefault("sync.run_timeout", "15m")

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	v.SetDefault("metrics.job_name", "theorem_bounty_sync")

	v.SetDefault("notification.timeout", "10s")
	v.SetDefault("notification.retry_attempts", 3)
	v.SetDefault("notification.retry_delay", "2s")
	v.SetDefault("notification.only_issues", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.NodeURL == "" {
		return fmt.Errorf("chain node URL is required")
	}
	if c.Chain.ContractAddress == "" {
		return fmt.Errorf("bounty contract address is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Sync.ChunkSize == 0 {
		return fmt.Errorf("sync chunk size must be positive")
	}
	if c.Sync.ConcurrentChunks <= 0 {
		return fmt.Errorf("sync concurrent chunks must be positive")
	}
	if c.Sync.StrictCheckpoint {
		if _, err := ParseCheckpoint(c.Sync.FromBlock); err != nil {
			return err
		}
	}
	return nil
}

// ParseCheckpoint parses a checkpoint block number. Empty input means block 0.
func ParseCheckpoint(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid checkpoint block %q: %w", raw, err)
	}
	return block, nil
}

// Checkpoint resolves the configured start block. Unless strict, a malformed
// value is logged and treated as 0.
func (c *Config) Checkpoint() (uint64, error) {
	block, err := ParseCheckpoint(c.Sync.FromBlock)
	if err == nil {
		return block, nil
	}
	if c.Sync.StrictCheckpoint {
		return 0, err
	}
	utils.GetLogger().WithFields(logrus.Fields{
		"from_block": c.Sync.FromBlock,
		"error":      err,
	}).Warn("Unparsable checkpoint, scanning from block 0")
	return 0, nil
}
