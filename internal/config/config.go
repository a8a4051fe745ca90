// Package config loads companion settings from a .env file and the
// environment.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/scriberr-companion/internal/errors"
)

// Config holds all settings for the companion process. ScriberrURL may
// be empty: the ledger works fully offline and sync stays disabled
// until a remote instance is configured.
type Config struct {
	ScriberrURL   string        `mapstructure:"scriberr_url" validate:"omitempty,url"`
	APIKey        string        `mapstructure:"api_key"`
	HTTPAddr      string        `mapstructure:"http_addr" validate:"required"`
	DataDir       string        `mapstructure:"data_dir" validate:"required"`
	RecordingsDir string        `mapstructure:"recordings_dir" validate:"required"`
	SyncInterval  time.Duration `mapstructure:"sync_interval" validate:"required"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout" validate:"required"`
	LogLevel      string        `mapstructure:"log_level" validate:"required"`
}

// PinnedDir is where pinned audio copies are retained.
func (c *Config) PinnedDir() string {
	return filepath.Join(c.DataDir, "pinned")
}

// Load reads the .env file if present, applies defaults, lets real
// environment variables override, and validates the result.
func Load() (*Config, error) {
	v := viper.New()

	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to parse configuration", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid configuration", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to create data directory", err)
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0755); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "failed to create recordings directory", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	v.SetDefault("SCRIBERR_URL", "")
	v.SetDefault("API_KEY", "")
	v.SetDefault("HTTP_ADDR", "127.0.0.1:8573")
	v.SetDefault("DATA_DIR", filepath.Join(home, ".scriberr-companion"))
	v.SetDefault("RECORDINGS_DIR", filepath.Join(home, ".scriberr-companion", "recordings"))
	v.SetDefault("SYNC_INTERVAL", "5m")
	v.SetDefault("HTTP_TIMEOUT", "2m")
	v.SetDefault("LOG_LEVEL", "info")
}
