// Package config loads process configuration from the environment, an
// optional .env file and an optional possync.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kimhsiao/possync/internal/crypto"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/ratelimit"
)

// EnvPrefix prefixes every environment variable, e.g. POSSYNC_DATA_DIR.
const EnvPrefix = "POSSYNC"

// Config is the process configuration.
type Config struct {
	DataDir  string
	HTTPAddr string

	LogLevel string
	LogFile  string

	Google    GoogleConfig
	SecretKey string

	MinCallInterval     time.Duration
	MaxThrottleAttempts int
}

// GoogleConfig holds the Sheets credentials.
type GoogleConfig struct {
	ClientID        string
	ClientSecret    string
	RedirectURL     string
	CredentialsFile string // service-account key; takes precedence over OAuth
	SpreadsheetID   string
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("data_dir", filepath.Join(home, ".possync"))
	v.SetDefault("http_addr", "127.0.0.1:8090")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("google.redirect_url", "")
	v.SetDefault("secret_key", crypto.DefaultSecret)
	v.SetDefault("sync.min_call_interval", ratelimit.DefaultConfig().MinInterval)
	v.SetDefault("sync.max_throttle_attempts", ratelimit.DefaultConfig().MaxAttempts)
}

// Load reads configuration. configFile may be empty, in which case
// possync.yaml is looked up in the working directory and the data dir.
func Load(configFile string) (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("possync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DataDir:  v.GetString("data_dir"),
		HTTPAddr: v.GetString("http_addr"),
		LogLevel: v.GetString("log.level"),
		LogFile:  v.GetString("log.file"),
		Google: GoogleConfig{
			ClientID:        v.GetString("google.client_id"),
			ClientSecret:    v.GetString("google.client_secret"),
			RedirectURL:     v.GetString("google.redirect_url"),
			CredentialsFile: v.GetString("google.credentials_file"),
			SpreadsheetID:   v.GetString("google.spreadsheet_id"),
		},
		SecretKey:           v.GetString("secret_key"),
		MinCallInterval:     v.GetDuration("sync.min_call_interval"),
		MaxThrottleAttempts: v.GetInt("sync.max_throttle_attempts"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MinCallInterval < 0 {
		return fmt.Errorf("sync.min_call_interval must not be negative")
	}
	if c.MaxThrottleAttempts < 1 {
		return fmt.Errorf("sync.max_throttle_attempts must be at least 1")
	}
	return nil
}

// RateLimit returns the limiter configuration.
func (c *Config) RateLimit() ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.MinInterval = c.MinCallInterval
	rl.MaxAttempts = c.MaxThrottleAttempts
	return rl
}

// SettingsSeed returns the values that fill empty persisted settings.
func (c *Config) SettingsSeed() *models.SyncSettings {
	return &models.SyncSettings{
		ClientID:      c.Google.ClientID,
		SpreadsheetID: c.Google.SpreadsheetID,
	}
}
