// Package config loads engine configuration from a YAML file with
// environment overrides. A .env file is honored for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
)

// Duration is a time.Duration that unmarshals from "30s" style YAML
// strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full engine configuration.
type Config struct {
	DataDir       string `yaml:"data_dir" validate:"required"`
	RemoteBaseURL string `yaml:"remote_base_url" validate:"required,url"`
	ListenAddr    string `yaml:"listen_addr" validate:"required"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`

	ProbeInterval Duration `yaml:"probe_interval" validate:"gt=0"`
	ProbeTimeout  Duration `yaml:"probe_timeout" validate:"gt=0"`
	SyncInterval  Duration `yaml:"sync_interval" validate:"gt=0"`
	SyncTimeout   Duration `yaml:"sync_timeout" validate:"gt=0"`

	MaxRetries  int      `yaml:"max_retries" validate:"gt=0"`
	BackoffBase Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax  Duration `yaml:"backoff_max" validate:"gt=0"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		DataDir:       "./data",
		RemoteBaseURL: "http://localhost:8080",
		ListenAddr:    "127.0.0.1:8090",
		LogLevel:      "info",
		ProbeInterval: Duration(30 * time.Second),
		ProbeTimeout:  Duration(5 * time.Second),
		SyncInterval:  Duration(5 * time.Minute),
		SyncTimeout:   Duration(5 * time.Minute),
		MaxRetries:    5,
		BackoffBase:   Duration(15 * time.Second),
		BackoffMax:    Duration(30 * time.Minute),
	}
}

// Load reads the YAML file at path (optional), applies FIELDSYNC_*
// environment overrides, and validates the result. A .env file in the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperrors.Wrap(apperrors.ErrInvalid, "read config file", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "parse config file", err)
		}
	}

	applyEnv(cfg)

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid configuration", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.DataDir, "FIELDSYNC_DATA_DIR")
	setString(&cfg.RemoteBaseURL, "FIELDSYNC_REMOTE_BASE_URL")
	setString(&cfg.ListenAddr, "FIELDSYNC_LISTEN_ADDR")
	setString(&cfg.LogLevel, "FIELDSYNC_LOG_LEVEL")
	setDuration(&cfg.ProbeInterval, "FIELDSYNC_PROBE_INTERVAL")
	setDuration(&cfg.ProbeTimeout, "FIELDSYNC_PROBE_TIMEOUT")
	setDuration(&cfg.SyncInterval, "FIELDSYNC_SYNC_INTERVAL")
	setDuration(&cfg.SyncTimeout, "FIELDSYNC_SYNC_TIMEOUT")
	setInt(&cfg.MaxRetries, "FIELDSYNC_MAX_RETRIES")
	setDuration(&cfg.BackoffBase, "FIELDSYNC_BACKOFF_BASE")
	setDuration(&cfg.BackoffMax, "FIELDSYNC_BACKOFF_MAX")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
