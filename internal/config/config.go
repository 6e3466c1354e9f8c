package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// TokenInfo describes one accepted bearer token.
type TokenInfo struct {
	User    string `mapstructure:"user"`
	Starred bool   `mapstructure:"starred"`
}

// Config represents the application configuration
type Config struct {
	// Server configuration
	LogLevel    string `mapstructure:"log_level"`
	BindAddress string `mapstructure:"bind_address"`

	// Workload execution
	Command string `mapstructure:"command"`
	MaxJobs int    `mapstructure:"max_jobs"`

	// Per-tier limits
	SizeLimitDefaultMiB int64         `mapstructure:"size_limit_default_mib"`
	SizeLimitStarredMiB int64         `mapstructure:"size_limit_starred_mib"`
	TimeoutDefault      time.Duration `mapstructure:"timeout_default"`
	TimeoutStarred      time.Duration `mapstructure:"timeout_starred"`

	// Listen port policy
	SharedPortProtections bool   `mapstructure:"shared_port_protections"`
	PortMin               uint16 `mapstructure:"port_min"`
	PortMax               uint16 `mapstructure:"port_max"`

	// Output read deadline and upload staging
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ConfigMaxBytes int64         `mapstructure:"config_max_bytes"`
	TempDirectory  string        `mapstructure:"temp_directory"`

	// Web layer
	RequestBodyLimit int64         `mapstructure:"request_body_limit"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`

	// Accepted bearer tokens (stand-in for the identity provider)
	Tokens map[string]TokenInfo `mapstructure:"tokens"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("log_level", "INFO")
	viper.SetDefault("bind_address", "0.0.0.0:3000")
	viper.SetDefault("command", "enarx")
	viper.SetDefault("max_jobs", runtime.NumCPU())
	viper.SetDefault("size_limit_default_mib", 10)
	viper.SetDefault("size_limit_starred_mib", 50)
	viper.SetDefault("timeout_default", "5m")
	viper.SetDefault("timeout_starred", "15m")
	viper.SetDefault("shared_port_protections", true)
	viper.SetDefault("port_min", 2000)
	viper.SetDefault("port_max", 30000)
	viper.SetDefault("read_timeout", "500ms")
	viper.SetDefault("config_max_bytes", 256*1024)
	viper.SetDefault("temp_directory", os.TempDir())
	viper.SetDefault("request_body_limit", 128*1024*1024)
	viper.SetDefault("session_ttl", "24h")
	viper.SetDefault("tokens", map[string]TokenInfo{})

	// Set environment variable prefix
	viper.SetEnvPrefix("BENCHRUNR")
	viper.AutomaticEnv()

	// Try to read config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/benchrunr/")
	viper.AddConfigPath("$HOME/.benchrunr/")

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate validates the configuration
func validate(config *Config) error {
	// Validate log level
	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", config.LogLevel)
	}

	if config.Command == "" {
		return fmt.Errorf("command must not be empty")
	}

	if config.MaxJobs <= 0 {
		return fmt.Errorf("max_jobs must be positive")
	}

	if config.PortMin >= config.PortMax {
		return fmt.Errorf("port_min must be less than port_max")
	}

	if config.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	if config.ConfigMaxBytes <= 0 {
		return fmt.Errorf("config_max_bytes must be positive")
	}

	if _, err := os.Stat(config.TempDirectory); err != nil {
		return fmt.Errorf("temp directory is not usable: %s", config.TempDirectory)
	}

	return nil
}

// GetBindAddress returns the complete bind address
func (c *Config) GetBindAddress() string {
	if c.BindAddress == "" {
		return "0.0.0.0:3000"
	}
	return c.BindAddress
}

// GetLogLevel returns the parsed log level
func (c *Config) GetLogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Limits returns the per-tier limits decision table.
func (c *Config) Limits() Limits {
	return Limits{
		SizeDefault: c.SizeLimitDefaultMiB * 1024 * 1024,
		SizeStarred: c.SizeLimitStarredMiB * 1024 * 1024,
		TTLDefault:  c.TimeoutDefault,
		TTLStarred:  c.TimeoutStarred,
	}
}

// Limits holds the size and time-to-live limits for both quota tiers.
type Limits struct {
	SizeDefault int64
	SizeStarred int64
	TTLDefault  time.Duration
	TTLStarred  time.Duration
}

// Decide returns the time-to-live and upload size limit for a quota tier.
func (l Limits) Decide(starred bool) (time.Duration, int64) {
	if starred {
		return l.TTLStarred, l.SizeStarred
	}
	return l.TTLDefault, l.SizeDefault
}
