package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// FileConfig configures the file backend
type FileConfig struct {
	// Dir holds the manifest and the asset files
	Dir string
	// Manifest is the manifest name inside Dir
	Manifest string
}

// File serves releases described by a manifest in a local directory
type File struct {
	dir      string
	manifest string
}

// NewFile creates a new file backend
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Dir == "" {
		return nil, apperr.Validation("file backend requires a directory")
	}
	manifest := cfg.Manifest
	if manifest == "" {
		manifest = DefaultManifest
	}
	return &File{dir: cfg.Dir, manifest: manifest}, nil
}

// Init checks that the directory exists
func (f *File) Init(ctx context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return apperr.Backend(err, "release directory %s is not accessible", f.dir)
	}
	if !info.IsDir() {
		return apperr.Backend(nil, "release directory %s is not a directory", f.dir)
	}
	return nil
}

// List reads the manifest on every call; the cache in front decides how often
func (f *File) List(ctx context.Context) ([]version.Release, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, f.manifest))
	if err != nil {
		return nil, apperr.Backend(err, "failed to read manifest %s", f.manifest)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, apperr.Backend(err, "failed to parse manifest %s", f.manifest)
	}
	return m.ToReleases(nil), nil
}

// ReadAsset reads an asset file from disk
func (f *File) ReadAsset(ctx context.Context, asset version.Asset) ([]byte, error) {
	p, err := f.assetPath(asset)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, apperr.Backend(err, "failed to read asset %s", asset.Filename)
	}
	return data, nil
}

// ServeAsset streams an asset file with range support
func (f *File) ServeAsset(ctx context.Context, asset version.Asset, w http.ResponseWriter, r *http.Request) error {
	p, err := f.assetPath(asset)
	if err != nil {
		return err
	}

	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.NotFound("asset %s is missing from %s", asset.Filename, f.dir)
		}
		return apperr.Backend(err, "failed to open asset %s", asset.Filename)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return apperr.Backend(err, "failed to stat asset %s", asset.Filename)
	}

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", asset.Filename))
	http.ServeContent(w, r, asset.Filename, info.ModTime(), file)
	return nil
}

// assetPath resolves an asset ID inside the directory, refusing paths that
// escape it
func (f *File) assetPath(asset version.Asset) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(asset.ID)) {
		return "", apperr.Validation("invalid asset path %q", asset.ID)
	}
	return filepath.Join(f.dir, filepath.FromSlash(asset.ID)), nil
}
