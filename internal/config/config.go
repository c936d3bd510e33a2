// Package config loads service configuration from file and environment and
// owns global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/synkro/synkro/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Followup  FollowupConfig  `yaml:"followup" mapstructure:"followup"`
	Crypto    CryptoConfig    `yaml:"crypto" mapstructure:"crypto"`
	HTTP      HTTPConfig      `yaml:"http" mapstructure:"http"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the control-plane database.
type StoreConfig struct {
	DatabaseURL string         `yaml:"database_url" mapstructure:"database_url"`
	Pool        *db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// SchedulerConfig configures the scheduled-run ticker. The tick must stay
// below the 180-second due window or scheduled runs can be missed.
type SchedulerConfig struct {
	TickSecs int `yaml:"tick_secs" mapstructure:"tick_secs"`
}

// FollowupConfig configures the follow-up poller.
type FollowupConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// CryptoConfig holds the secret used to encrypt integration credentials at
// rest.
type CryptoConfig struct {
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
}

// HTTPConfig tunes outbound HTTP behavior shared by all connectors.
type HTTPConfig struct {
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SYNKRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.tick_secs", 60)
	v.SetDefault("followup.interval_secs", 60)
	v.SetDefault("http.max_attempts", 6)
	v.SetDefault("http.rate_limit", 5.0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
