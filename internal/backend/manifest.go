package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/version"
	"gopkg.in/yaml.v3"
)

// DefaultManifest is the manifest name the file and s3 backends look for
const DefaultManifest = "releases.yaml"

// Manifest is the on-disk description of the releases served by the file and
// s3 backends. It is written as YAML or JSON.
type Manifest struct {
	GeneratedAt time.Time         `json:"generated_at" yaml:"generated_at"`
	Releases    []ManifestRelease `json:"releases" yaml:"releases"`
}

// ManifestRelease is one release in a manifest
type ManifestRelease struct {
	Version     string          `json:"version" yaml:"version"`
	Channel     string          `json:"channel,omitempty" yaml:"channel,omitempty"`
	PublishedAt time.Time       `json:"published_at" yaml:"published_at"`
	Notes       string          `json:"notes,omitempty" yaml:"notes,omitempty"`
	URL         string          `json:"url,omitempty" yaml:"url,omitempty"`
	Assets      []ManifestAsset `json:"assets" yaml:"assets"`
}

// ManifestAsset is one file of a manifest release. Path is relative to the
// backend root; it defaults to "<version>/<filename>".
type ManifestAsset struct {
	Filename    string `json:"filename" yaml:"filename"`
	Platform    string `json:"platform,omitempty" yaml:"platform,omitempty"`
	Size        int64  `json:"size,omitempty" yaml:"size,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ParseManifest decodes a manifest. JSON is recognised by its leading brace,
// anything else is read as YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, apperr.Format("invalid JSON manifest: %v", err)
		}
		return &m, nil
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperr.Format("invalid YAML manifest: %v", err)
	}
	return &m, nil
}

// Marshal encodes the manifest as JSON when the name ends in .json and as
// YAML otherwise
func (m *Manifest) Marshal(name string) ([]byte, error) {
	if strings.EqualFold(path.Ext(name), ".json") {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode manifest: %w", err)
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// ToReleases converts the manifest into releases. Entries whose version is not
// a semantic version are skipped; assets without a recognised platform are
// dropped. The asset ID is its path, and its URL is built with urlFor.
func (m *Manifest) ToReleases(urlFor func(assetPath string) string) []version.Release {
	releases := make([]version.Release, 0, len(m.Releases))
	for _, mr := range m.Releases {
		tag, err := semver.NewVersion(mr.Version)
		if err != nil {
			continue
		}

		channel := mr.Channel
		if channel == "" {
			channel = version.ChannelFromTag(tag)
		}

		release := version.Release{
			Tag:         tag,
			Channel:     channel,
			PublishedAt: mr.PublishedAt,
			Notes:       mr.Notes,
			URL:         mr.URL,
		}

		for _, ma := range mr.Assets {
			// Written platforms may be loose names like "mac" or "osx"
			plat := platform.Detect(ma.Platform)
			if plat == "" {
				plat = platform.Detect(ma.Filename)
			}
			if plat == "" {
				continue
			}

			assetPath := ma.Path
			if assetPath == "" {
				assetPath = path.Join(mr.Version, ma.Filename)
			}

			asset := version.Asset{
				ID:          assetPath,
				Filename:    ma.Filename,
				Platform:    plat,
				Size:        ma.Size,
				ContentType: ma.ContentType,
			}
			if urlFor != nil {
				asset.URL = urlFor(assetPath)
			}
			release.Assets = append(release.Assets, asset)
		}

		releases = append(releases, release)
	}
	return Normalize(releases)
}

// ManifestFromReleases snapshots releases into a manifest. Asset paths follow
// the "<version>/<filename>" layout.
func ManifestFromReleases(releases []version.Release, generatedAt time.Time) *Manifest {
	m := &Manifest{
		GeneratedAt: generatedAt.UTC(),
		Releases:    make([]ManifestRelease, 0, len(releases)),
	}
	for _, r := range releases {
		mr := ManifestRelease{
			Version:     r.Tag.String(),
			Channel:     r.Channel,
			PublishedAt: r.PublishedAt.UTC(),
			Notes:       r.Notes,
			URL:         r.URL,
			Assets:      make([]ManifestAsset, 0, len(r.Assets)),
		}
		for _, a := range r.Assets {
			mr.Assets = append(mr.Assets, ManifestAsset{
				Filename:    a.Filename,
				Platform:    a.Platform,
				Size:        a.Size,
				ContentType: a.ContentType,
			})
		}
		m.Releases = append(m.Releases, mr)
	}
	return m
}
