// Package config loads application configuration from a YAML file and
// environment variables (prefix ASKORO, dots replaced by underscores).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// OAuthProviderConfig holds one provider's OAuth application settings.
type OAuthProviderConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	Scopes       string `mapstructure:"scopes"`
}

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

// Config is the root configuration object.
type Config struct {
	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
		// BaseURL is used to build absolute redirect targets for OAuth
		// callbacks, e.g. https://app.example.com.
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"server"`

	Log struct {
		Level      string `mapstructure:"level"`
		FilePath   string `mapstructure:"file_path"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`

	Database struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	CORS CORSConfig `mapstructure:"cors"`

	Redis struct {
		// Addr enables Redis-backed rate limiting when set.
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	RateLimit struct {
		// QueriesPerMinute caps knowledge base queries per client IP.
		QueriesPerMinute int `mapstructure:"queries_per_minute"`
	} `mapstructure:"rate_limit"`

	Auth struct {
		// JWTSecret verifies the bearer tokens minted by the external auth
		// provider. The token subject is the user id.
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	AWS struct {
		Region          string `mapstructure:"region"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Bucket          string `mapstructure:"bucket"`
		KnowledgeBaseID string `mapstructure:"knowledge_base_id"`
		ModelARN        string `mapstructure:"model_arn"`
	} `mapstructure:"aws"`

	Slack struct {
		SigningSecret string `mapstructure:"signing_secret"`
	} `mapstructure:"slack"`

	OAuth struct {
		GitHub     OAuthProviderConfig `mapstructure:"github"`
		Confluence OAuthProviderConfig `mapstructure:"confluence"`
		Notion     OAuthProviderConfig `mapstructure:"notion"`
		Google     OAuthProviderConfig `mapstructure:"google"`
		Quip       OAuthProviderConfig `mapstructure:"quip"`
		OneDrive   OAuthProviderConfig `mapstructure:"onedrive"`
	} `mapstructure:"oauth"`

	Sync struct {
		// Workers caps concurrent fetch/upload pairs per sync run. 1 means
		// fully sequential.
		Workers int `mapstructure:"workers"`
	} `mapstructure:"sync"`
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("rate_limit.queries_per_minute", 60)
	v.SetDefault("oauth.github.scopes", "repo read:org")
	v.SetDefault("oauth.confluence.scopes", "read:confluence-content.all offline_access")
	v.SetDefault("oauth.google.scopes", "https://www.googleapis.com/auth/drive.readonly")
	v.SetDefault("oauth.quip.scopes", "read-all write-all")
	v.SetDefault("oauth.onedrive.scopes", "offline_access Files.Read.All")

	v.SetEnvPrefix("ASKORO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Sync.Workers < 1 {
		cfg.Sync.Workers = 1
	}
	return &cfg, nil
}
