// Package config loads the server configuration from defaults, an optional
// config file, RELEASES_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nickromney-org/release-update-server/internal/backend"
	"github.com/nickromney-org/release-update-server/internal/signature"
	"github.com/spf13/viper"
)

const (
	defaultConfigName = "config"
	envPrefix         = "RELEASES"
)

// Config holds every server setting
type Config struct {
	Port    int
	Backend string

	CacheTTL      time.Duration
	CacheTimeout  time.Duration
	CachePrefetch bool

	// RefreshSecret authenticates the GitHub webhook on POST /refresh
	RefreshSecret string

	SignedURLs        bool
	SignatureSecret   string
	SignatureQueryKey string

	// APIUsername enables basic auth on /api when set
	APIUsername string
	APIPassword string

	GitHubRepository  string
	GitHubToken       string
	GitHubEndpoint    string
	GitHubProxyAssets bool

	FileDir      string
	FileManifest string

	S3Bucket   string
	S3Region   string
	S3Prefix   string
	S3Manifest string

	// TrustProxy makes the server honour X-Forwarded-* headers when it
	// builds absolute URLs
	TrustProxy bool
}

// NewViper returns a viper instance with defaults and environment binding.
// Flags may be bound to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(defaultConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("backend", "github")

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.timeout", 30*time.Second)
	v.SetDefault("cache.prefetch", true)

	v.SetDefault("refresh_secret", "secret")

	v.SetDefault("signed_urls.enabled", false)
	v.SetDefault("signed_urls.secret", "")
	v.SetDefault("signed_urls.query_key", signature.DefaultQueryKey)

	v.SetDefault("api.username", "")
	v.SetDefault("api.password", "")

	v.SetDefault("github.repository", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.endpoint", "")
	v.SetDefault("github.proxy_assets", false)

	v.SetDefault("file.dir", "releases")
	v.SetDefault("file.manifest", backend.DefaultManifest)

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.manifest", backend.DefaultManifest)

	v.SetDefault("trust_proxy", false)
	return v
}

// Load reads the config file (optional) and returns a validated Config
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:              v.GetInt("port"),
		Backend:           strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		CacheTTL:          v.GetDuration("cache.ttl"),
		CacheTimeout:      v.GetDuration("cache.timeout"),
		CachePrefetch:     v.GetBool("cache.prefetch"),
		RefreshSecret:     v.GetString("refresh_secret"),
		SignedURLs:        v.GetBool("signed_urls.enabled"),
		SignatureSecret:   v.GetString("signed_urls.secret"),
		SignatureQueryKey: strings.TrimSpace(v.GetString("signed_urls.query_key")),
		APIUsername:       v.GetString("api.username"),
		APIPassword:       v.GetString("api.password"),
		GitHubRepository:  strings.TrimSpace(v.GetString("github.repository")),
		GitHubToken:       strings.TrimSpace(v.GetString("github.token")),
		GitHubEndpoint:    strings.TrimSpace(v.GetString("github.endpoint")),
		GitHubProxyAssets: v.GetBool("github.proxy_assets"),
		FileDir:           v.GetString("file.dir"),
		FileManifest:      v.GetString("file.manifest"),
		S3Bucket:          strings.TrimSpace(v.GetString("s3.bucket")),
		S3Region:          strings.TrimSpace(v.GetString("s3.region")),
		S3Prefix:          strings.Trim(v.GetString("s3.prefix"), "/"),
		S3Manifest:        v.GetString("s3.manifest"),
		TrustProxy:        v.GetBool("trust_proxy"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	known := false
	for _, name := range backend.Names() {
		if name == c.Backend {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown backend %q (available: %s)", c.Backend, strings.Join(backend.Names(), ", "))
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %s", c.CacheTTL)
	}
	if c.CacheTimeout <= 0 {
		return fmt.Errorf("cache.timeout must be positive, got %s", c.CacheTimeout)
	}

	if err := signature.ValidateSecret(c.SignedURLs, c.SignatureSecret); err != nil {
		return err
	}
	if c.SignedURLs && c.SignatureQueryKey == "" {
		return fmt.Errorf("signed_urls.query_key must not be empty")
	}

	if c.APIUsername != "" && c.APIPassword == "" {
		return fmt.Errorf("api.password is required when api.username is set")
	}

	switch c.Backend {
	case "github":
		if c.GitHubRepository == "" {
			return fmt.Errorf("github.repository is required for the github backend")
		}
		if _, err := ParseRepositoryString(c.GitHubRepository); err != nil {
			return err
		}
	case "file":
		if strings.TrimSpace(c.FileDir) == "" {
			return fmt.Errorf("file.dir must not be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("s3.bucket is required for the s3 backend")
		}
	}
	return nil
}

// BackendConfig converts the settings into backend configuration
func (c *Config) BackendConfig() (backend.Config, error) {
	cfg := backend.Config{
		File: backend.FileConfig{
			Dir:      c.FileDir,
			Manifest: c.FileManifest,
		},
		S3: backend.S3Config{
			Bucket:   c.S3Bucket,
			Region:   c.S3Region,
			Prefix:   c.S3Prefix,
			Manifest: c.S3Manifest,
		},
	}

	if c.GitHubRepository != "" {
		repo, err := ParseRepositoryString(c.GitHubRepository)
		if err != nil {
			return backend.Config{}, err
		}
		cfg.GitHub = backend.GitHubConfig{
			Owner:       repo.Owner,
			Repo:        repo.Repo,
			Token:       c.GitHubToken,
			Endpoint:    c.GitHubEndpoint,
			ProxyAssets: c.GitHubProxyAssets,
		}
	}
	return cfg, nil
}
