package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration of a satoshi-bridge process
type Config struct {
	Environment types.Environment `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Near        NearConfig        `mapstructure:"near"`
	BTC         BTCConfig         `mapstructure:"btc"`
	Relay       RelayConfig       `mapstructure:"relay"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Polling     PollingConfig     `mapstructure:"polling"`
	Gas         GasConfig         `mapstructure:"gas"`
	Whitelist   WhitelistConfig   `mapstructure:"whitelist"`
	Session     SessionConfig     `mapstructure:"session"`
	Events      EventsConfig      `mapstructure:"events"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig represents the planning API server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// RateLimitPerMinute caps requests per client IP; zero disables limiting
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// NearConfig overrides the NEAR RPC endpoints of the selected environment
type NearConfig struct {
	RPCEndpoints      []string      `mapstructure:"rpc_endpoints"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// BTCConfig overrides the explorer of the selected environment
type BTCConfig struct {
	ExplorerURL string        `mapstructure:"explorer_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RelayConfig configures the relay backend HTTP client
type RelayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
	// BTCFailedStatus is the btcTx status at and above which an intention failed
	BTCFailedStatus int `mapstructure:"btc_failed_status"`
}

// CacheConfig configures the advisory request cache
type CacheConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// PollingConfig bounds the status pollers
type PollingConfig struct {
	BridgeInterval    time.Duration `mapstructure:"bridge_interval"`
	BridgeMaxAttempts int           `mapstructure:"bridge_max_attempts"`
	NearInterval      time.Duration `mapstructure:"near_interval"`
	NearMaxAttempts   int           `mapstructure:"near_max_attempts"`
}

// GasConfig selects the gas payment strategy
type GasConfig struct {
	Strategy string `mapstructure:"strategy"` // auto, near, btc
}

// WhitelistConfig toggles the mainnet allow-list gate
type WhitelistConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// SessionConfig selects the session credential store
type SessionConfig struct {
	Driver string `mapstructure:"driver"` // memory, leveldb, postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// EventsConfig configures operation event publishing
type EventsConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	URLs       []string `mapstructure:"urls"`
	Subject    string   `mapstructure:"subject"`
	StreamName string   `mapstructure:"stream_name"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// MetricsConfig toggles the /metrics endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// setDefaults registers every default so that a config file is optional
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(types.EnvironmentTestnet))
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("near.requests_per_second", 10.0)
	v.SetDefault("near.timeout", 30*time.Second)
	v.SetDefault("btc.timeout", 20*time.Second)
	v.SetDefault("relay.timeout", 20*time.Second)
	v.SetDefault("relay.retries", 1)
	v.SetDefault("relay.btc_failed_status", 100)
	v.SetDefault("cache.ttl", 3*time.Second)
	v.SetDefault("cache.cleanup_interval", time.Minute)
	v.SetDefault("polling.bridge_interval", 5*time.Second)
	v.SetDefault("polling.bridge_max_attempts", 360)
	v.SetDefault("polling.near_interval", 10*time.Second)
	v.SetDefault("polling.near_max_attempts", 180)
	v.SetDefault("gas.strategy", "auto")
	v.SetDefault("whitelist.enabled", true)
	v.SetDefault("whitelist.refresh_interval", 5*time.Minute)
	v.SetDefault("server.rate_limit_per_minute", 120)
	v.SetDefault("session.driver", "memory")
	v.SetDefault("session.path", "db/session")
	v.SetDefault("events.subject", "satoshi.operations")
	v.SetDefault("events.stream_name", "SATOSHI_OPERATIONS")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("metrics.enabled", true)
}

// LoadConfig loads configuration from file and environment variables.
// An empty path uses SATOSHI_ENVIRONMENT to pick a file; a missing default file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Allow environment variable overrides
	v.SetEnvPrefix("SATOSHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := configPath != ""
	if !explicit {
		env := os.Getenv("SATOSHI_ENVIRONMENT")
		if env == "" {
			env = string(types.EnvironmentTestnet)
		}
		configPath = getConfigPathForEnv(env)
	}

	if _, err := os.Stat(configPath); err == nil || explicit {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// getConfigPathForEnv returns the config file path for the given environment
func getConfigPathForEnv(env string) string {
	switch types.Environment(env) {
	case types.EnvironmentMainnet:
		return "config/config.mainnet.yaml"
	case types.EnvironmentPrivateMainnet:
		return "config/config.private_mainnet.yaml"
	case types.EnvironmentTestnet:
		return "config/config.testnet.yaml"
	default:
		return "config/config.dev.yaml"
	}
}

// ValidateConfig validates the configuration
func ValidateConfig(config *Config) error {
	if _, err := Resolve(config.Environment); err != nil {
		return err
	}

	switch config.Gas.Strategy {
	case "auto", "near", "btc":
	default:
		return fmt.Errorf("unsupported gas strategy: %q", config.Gas.Strategy)
	}

	if config.Relay.Timeout <= 0 {
		return fmt.Errorf("relay timeout must be positive")
	}
	if config.Relay.Retries < 0 {
		return fmt.Errorf("relay retries must not be negative")
	}
	if config.Relay.BTCFailedStatus <= 3 {
		return fmt.Errorf("relay btc_failed_status must be above the success status 3")
	}

	if config.Polling.BridgeMaxAttempts < 1 || config.Polling.NearMaxAttempts < 1 {
		return fmt.Errorf("polling max attempts must be at least 1")
	}
	if config.Polling.BridgeInterval <= 0 || config.Polling.NearInterval <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}

	switch config.Session.Driver {
	case "memory":
	case "leveldb":
		if config.Session.Path == "" {
			return fmt.Errorf("leveldb session store requires session.path")
		}
	case "postgres":
		if config.Session.DSN == "" {
			return fmt.Errorf("postgres session store requires session.dsn")
		}
	default:
		return fmt.Errorf("unsupported session driver: %q", config.Session.Driver)
	}

	if config.Events.Enabled && len(config.Events.URLs) == 0 {
		return fmt.Errorf("events enabled but no NATS urls configured")
	}

	return nil
}

// EnvConfig resolves the environment record and applies endpoint overrides
func (c *Config) EnvConfig() (types.EnvConfig, error) {
	env, err := Resolve(c.Environment)
	if err != nil {
		return types.EnvConfig{}, err
	}
	if len(c.Near.RPCEndpoints) > 0 {
		env.NearRPCEndpoints = append([]string(nil), c.Near.RPCEndpoints...)
	}
	if c.BTC.ExplorerURL != "" {
		env.BTCExplorerURL = c.BTC.ExplorerURL
	}
	if c.Relay.BaseURL != "" {
		env.BaseURL = c.Relay.BaseURL
	}
	return env, nil
}
