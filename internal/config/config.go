package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Watcher     WatcherConfig     `mapstructure:"watcher"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ChainConfig contains blockchain connection and signing configuration.
// Networks maps a network name (anvil, sepolia, mainnet) to its RPC endpoint.
type ChainConfig struct {
	Networks        map[string]string `mapstructure:"networks"`
	DefaultNetwork  string            `mapstructure:"default_network"`
	DeployerAddress string            `mapstructure:"deployer_address"`
	PrivateKey      string            `mapstructure:"private_key"`
	RequestTimeout  time.Duration     `mapstructure:"request_timeout"`
	RetryAttempts   int               `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration     `mapstructure:"retry_delay"`
	MaxConnections  int               `mapstructure:"max_connections"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// CoordinatorConfig contains execution coordinator configuration
type CoordinatorConfig struct {
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	ConfirmTimeout   time.Duration `mapstructure:"confirm_timeout"`
	FeeRetryAttempts int           `mapstructure:"fee_retry_attempts"`
	FeeRetryDelay    time.Duration `mapstructure:"fee_retry_delay"`
}

// WatcherConfig contains on-chain event watcher configuration
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StartBlock   uint64        `mapstructure:"start_block"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	RateBurst     int           `mapstructure:"rate_burst"`
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
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("AUTOMATOR")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if config.Chain.Networks == nil {
		config.Chain.Networks = map[string]string{}
	}
	if rpcURL := os.Getenv("ANVIL_RPC_URL"); rpcURL != "" {
		config.Chain.Networks["anvil"] = rpcURL
	}
	if rpcURL := os.Getenv("SEPOLIA_RPC_URL"); rpcURL != "" {
		config.Chain.Networks["sepolia"] = rpcURL
	}
	if rpcURL := os.Getenv("MAINNET_RPC_URL"); rpcURL != "" {
		config.Chain.Networks["mainnet"] = rpcURL
	}
	if deployer := os.Getenv("DEPLOYLOCALAUTOMATOR_CONTRACT_ADDRESS"); deployer != "" {
		config.Chain.DeployerAddress = deployer
	}
	if key := os.Getenv("AUTOMATOR_PRIVATE_KEY"); key != "" {
		config.Chain.PrivateKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "upkeep-automator")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Chain defaults
	viper.SetDefault("chain.networks", map[string]string{"anvil": "http://127.0.0.1:8545"})
	viper.SetDefault("chain.default_network", "anvil")
	viper.SetDefault("chain.request_timeout", "30s")
	viper.SetDefault("chain.retry_attempts", 3)
	viper.SetDefault("chain.retry_delay", "5s")
	viper.SetDefault("chain.max_connections", 10)

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/automator.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Coordinator defaults
	viper.SetDefault("coordinator.submit_timeout", "30s")
	viper.SetDefault("coordinator.confirm_timeout", "20s")
	viper.SetDefault("coordinator.fee_retry_attempts", 3)
	viper.SetDefault("coordinator.fee_retry_delay", "1s")

	// Watcher defaults (anvil mines on demand, keep polling tight)
	viper.SetDefault("watcher.poll_interval", "2s")
	viper.SetDefault("watcher.start_block", 0)

	// Server defaults
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)
	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chain.Networks) == 0 {
		return fmt.Errorf("at least one chain network RPC endpoint is required")
	}
	if _, ok := c.Chain.Networks[c.Chain.DefaultNetwork]; !ok {
		return fmt.Errorf("default network %q has no RPC endpoint configured", c.Chain.DefaultNetwork)
	}
	if c.Chain.DeployerAddress == "" {
		return fmt.Errorf("deployer contract address is required")
	}
	if c.Chain.PrivateKey == "" {
		return fmt.Errorf("signing private key is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Coordinator.SubmitTimeout <= 0 || c.Coordinator.ConfirmTimeout <= 0 {
		return fmt.Errorf("coordinator timeouts must be positive")
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll interval must be positive")
	}
	return nil
}
