// Package backend defines where releases come from. A backend lists every
// published release and serves the bytes of its assets.
package backend

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// Backend is a source of releases
type Backend interface {
	// Init prepares the backend, for example by checking credentials
	Init(ctx context.Context) error

	// List returns every release, newest first. A partial failure fails the
	// whole call.
	List(ctx context.Context) ([]version.Release, error)

	// ReadAsset returns the full content of a small asset such as RELEASES
	ReadAsset(ctx context.Context, asset version.Asset) ([]byte, error)

	// ServeAsset writes asset to the client, by redirect or by proxying
	ServeAsset(ctx context.Context, asset version.Asset, w http.ResponseWriter, r *http.Request) error
}

// Config carries the settings of every built-in backend. Each factory reads
// only its own section.
type Config struct {
	GitHub GitHubConfig
	File   FileConfig
	S3     S3Config
}

// Factory builds a backend from configuration
type Factory func(cfg Config) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available by name. Registering the same name twice
// replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(name)] = factory
}

// New builds the backend registered under name
func New(name string, cfg Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[strings.ToLower(name)]
	registryMu.RUnlock()

	if !ok {
		return nil, apperr.Validation("unknown backend %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(cfg)
}

// Names lists the registered backends in alphabetical order
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("github", func(cfg Config) (Backend, error) { return NewGitHub(cfg.GitHub) })
	Register("file", func(cfg Config) (Backend, error) { return NewFile(cfg.File) })
	Register("s3", func(cfg Config) (Backend, error) { return NewS3(cfg.S3) })
}

// Normalize sorts releases newest first and drops repeated tags, keeping the
// first occurrence. Releases without a tag are dropped.
func Normalize(releases []version.Release) []version.Release {
	seen := make(map[string]bool, len(releases))
	out := make([]version.Release, 0, len(releases))
	for _, r := range releases {
		if r.Tag == nil {
			continue
		}
		key := r.Tag.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	version.SortDescending(out)
	return out
}
