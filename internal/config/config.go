package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "DAYBREAK"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "daybreak.db"
	defaultLogLevel           = "info"
	defaultAuthIssuer         = "daybreak-auth"
	defaultAuthAudience       = "daybreak-api"
	defaultCompletionsBaseURL = "https://api.openai.com"
	defaultCompletionsModel   = "gpt-4o-mini"
	defaultCompletionsTimeout = 30
	defaultPurgeInterval      = 60
	defaultPurgeRetention     = 24
)

// AppConfig captures runtime configuration for the priorities API server.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	AuthSigningSecret  string
	AuthIssuer         string
	AuthAudience       string
	CompletionsBaseURL string
	CompletionsAPIKey  string
	CompletionsModel   string
	CompletionsTimeout time.Duration
	PurgeInterval      time.Duration
	PurgeRetention     time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("completions.base_url", defaultCompletionsBaseURL)
	configViper.SetDefault("completions.model", defaultCompletionsModel)
	configViper.SetDefault("completions.timeout_seconds", defaultCompletionsTimeout)
	configViper.SetDefault("purge.interval_minutes", defaultPurgeInterval)
	configViper.SetDefault("purge.retention_hours", defaultPurgeRetention)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		AuthSigningSecret:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:         configViper.GetString("auth.issuer"),
		AuthAudience:       configViper.GetString("auth.audience"),
		CompletionsBaseURL: configViper.GetString("completions.base_url"),
		CompletionsAPIKey:  configViper.GetString("completions.api_key"),
		CompletionsModel:   configViper.GetString("completions.model"),
		CompletionsTimeout: time.Duration(configViper.GetInt("completions.timeout_seconds")) * time.Second,
		PurgeInterval:      time.Duration(configViper.GetInt("purge.interval_minutes")) * time.Minute,
		PurgeRetention:     time.Duration(configViper.GetInt("purge.retention_hours")) * time.Hour,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.CompletionsAPIKey) == "" {
		return fmt.Errorf("completions.api_key is required")
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("purge.interval_minutes must be positive")
	}
	if c.PurgeRetention <= 0 {
		return fmt.Errorf("purge.retention_hours must be positive")
	}
	return nil
}
