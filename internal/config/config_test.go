package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELEASES_GITHUB_REPOSITORY", "electron/fiddle")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Backend != "github" {
		t.Errorf("Backend = %s, want github", cfg.Backend)
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %s, want 1h", cfg.CacheTTL)
	}
	if !cfg.CachePrefetch {
		t.Error("expected prefetch enabled by default")
	}
	if cfg.SignatureQueryKey != "signature" {
		t.Errorf("SignatureQueryKey = %s", cfg.SignatureQueryKey)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RELEASES_BACKEND", "S3")
	t.Setenv("RELEASES_S3_BUCKET", "acme-releases")
	t.Setenv("RELEASES_S3_PREFIX", "/desktop/")
	t.Setenv("RELEASES_CACHE_TTL", "5m")
	t.Setenv("RELEASES_SIGNED_URLS_ENABLED", "true")
	t.Setenv("RELEASES_SIGNED_URLS_SECRET", "s3cret")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend != "s3" || cfg.S3Bucket != "acme-releases" || cfg.S3Prefix != "desktop" {
		t.Errorf("unexpected s3 settings %+v", cfg)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %s, want 5m", cfg.CacheTTL)
	}
	if !cfg.SignedURLs || cfg.SignatureSecret != "s3cret" {
		t.Errorf("unexpected signing settings %+v", cfg)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `port: 9000
backend: file
file:
  dir: /srv/releases
cache:
  ttl: 10m
  prefetch: false
api:
  username: admin
  password: hunter2
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9000 || cfg.Backend != "file" || cfg.FileDir != "/srv/releases" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.CacheTTL != 10*time.Minute || cfg.CachePrefetch {
		t.Errorf("unexpected cache settings %+v", cfg)
	}
	if cfg.APIUsername != "admin" || cfg.APIPassword != "hunter2" {
		t.Errorf("unexpected api settings %+v", cfg)
	}
}

func TestLoad_BrokenConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: [9000"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	if _, err := Load(v); err == nil {
		t.Error("expected error for unparsable config file")
	}
}

func validConfig() Config {
	return Config{
		Port:              8080,
		Backend:           "github",
		CacheTTL:          time.Hour,
		CacheTimeout:      30 * time.Second,
		SignatureQueryKey: "signature",
		GitHubRepository:  "electron/fiddle",
		FileDir:           "releases",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		{name: "unknown backend", mutate: func(c *Config) { c.Backend = "ftp" }, wantErr: "unknown backend"},
		{name: "zero ttl", mutate: func(c *Config) { c.CacheTTL = 0 }, wantErr: "cache.ttl"},
		{name: "zero timeout", mutate: func(c *Config) { c.CacheTimeout = 0 }, wantErr: "cache.timeout"},
		{
			name:    "short signing secret",
			mutate:  func(c *Config) { c.SignedURLs, c.SignatureSecret = true, "ab" },
			wantErr: "secret",
		},
		{
			name:   "signing secret of three characters",
			mutate: func(c *Config) { c.SignedURLs, c.SignatureSecret = true, "abc" },
		},
		{
			name:    "api user without password",
			mutate:  func(c *Config) { c.APIUsername = "admin" },
			wantErr: "api.password",
		},
		{
			name:    "github without repository",
			mutate:  func(c *Config) { c.GitHubRepository = "" },
			wantErr: "github.repository",
		},
		{
			name:    "github bad repository",
			mutate:  func(c *Config) { c.GitHubRepository = "fiddle" },
			wantErr: "invalid repository format",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Backend = "s3" },
			wantErr: "s3.bucket",
		},
		{
			name:    "file without dir",
			mutate:  func(c *Config) { c.Backend, c.FileDir = "file", " " },
			wantErr: "file.dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_BackendConfig(t *testing.T) {
	cfg := validConfig()
	cfg.GitHubRepository = "https://github.com/electron/fiddle/releases"
	cfg.GitHubToken = "ghp_test"
	cfg.GitHubProxyAssets = true

	bc, err := cfg.BackendConfig()
	if err != nil {
		t.Fatalf("BackendConfig() error = %v", err)
	}
	if bc.GitHub.Owner != "electron" || bc.GitHub.Repo != "fiddle" {
		t.Errorf("unexpected repository %s/%s", bc.GitHub.Owner, bc.GitHub.Repo)
	}
	if bc.GitHub.Token != "ghp_test" || !bc.GitHub.ProxyAssets {
		t.Errorf("unexpected github config %+v", bc.GitHub)
	}
	if bc.File.Dir != "releases" {
		t.Errorf("unexpected file config %+v", bc.File)
	}
}
