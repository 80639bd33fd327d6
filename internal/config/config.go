package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "RELAY"
	defaultHTTPAddress = "0.0.0.0:8090"
	defaultLogLevel    = "info"
)

// AppConfig captures runtime configuration for the relay engine.
type AppConfig struct {
	HTTPAddress      string
	TenantSlug       string
	StaffID          string
	LogLevel         string
	JournalPath      string
	OpsSigningSecret string
	RestBaseURL      string
	RestBearerToken  string
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("journal.path", "")
	configViper.SetDefault("tenant.slug", "")
	configViper.SetDefault("tenant.staff_id", "")
	configViper.SetDefault("rest.base_url", "")
	configViper.SetDefault("rest.bearer_token", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		TenantSlug:       configViper.GetString("tenant.slug"),
		StaffID:          configViper.GetString("tenant.staff_id"),
		LogLevel:         configViper.GetString("log.level"),
		JournalPath:      configViper.GetString("journal.path"),
		OpsSigningSecret: configViper.GetString("ops.signing_secret"),
		RestBaseURL:      configViper.GetString("rest.base_url"),
		RestBearerToken:  configViper.GetString("rest.bearer_token"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TenantSlug) == "" {
		return fmt.Errorf("tenant.slug is required")
	}
	if strings.TrimSpace(c.OpsSigningSecret) == "" {
		return fmt.Errorf("ops.signing_secret is required")
	}
	return nil
}
