package version

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/nickromney-org/release-update-server/internal/apperr"
)

const (
	// ChannelAny matches releases of every channel
	ChannelAny = "*"
	// ChannelStable is the channel of releases without a prerelease suffix
	ChannelStable = "stable"
)

// Release represents a published release and its downloadable files
type Release struct {
	Tag         *semver.Version
	Channel     string
	PublishedAt time.Time
	Notes       string
	URL         string
	Assets      []Asset
}

// Asset is a single downloadable file attached to a release
type Asset struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Platform    string `json:"type"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	URL         string `json:"url,omitempty"`
}

// ChannelFromTag derives the release channel from the prerelease part of a tag:
// 1.2.0 is stable, 1.2.0-beta.3 is beta.
func ChannelFromTag(tag *semver.Version) string {
	pre := tag.Prerelease()
	if pre == "" {
		return ChannelStable
	}
	if i := strings.IndexByte(pre, '.'); i >= 0 {
		pre = pre[:i]
	}
	return pre
}

// AssetByFilename returns the asset with the given filename
func (r Release) AssetByFilename(filename string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Filename == filename {
			return a, true
		}
	}
	return Asset{}, false
}

// HasPlatform reports whether the release ships at least one asset for platform
func (r Release) HasPlatform(platform string) bool {
	for _, a := range r.Assets {
		if a.Platform == platform {
			return true
		}
	}
	return false
}

// MarshalJSON implements custom JSON marshaling
func (r Release) MarshalJSON() ([]byte, error) {
	assets := r.Assets
	if assets == nil {
		assets = []Asset{}
	}
	return json.Marshal(&struct {
		Tag         string  `json:"tag"`
		Channel     string  `json:"channel"`
		PublishedAt string  `json:"published_at"`
		Notes       string  `json:"notes"`
		URL         string  `json:"url,omitempty"`
		Assets      []Asset `json:"platforms"`
	}{
		Tag:         versionString(r.Tag),
		Channel:     r.Channel,
		PublishedAt: r.PublishedAt.UTC().Format(time.RFC3339),
		Notes:       r.Notes,
		URL:         r.URL,
		Assets:      assets,
	})
}

// Op is the comparison applied by a tag constraint
type Op string

const (
	OpLatest Op = "latest"
	OpEqual  Op = "=="
	OpGTE    Op = ">="
	OpGT     Op = ">"
)

// Constraint restricts the tags a query accepts
type Constraint struct {
	Op      Op
	Version *semver.Version
}

// Latest is the constraint with no lower bound
var Latest = Constraint{Op: OpLatest}

// ParseConstraint parses "latest", "*", "1.2.3", "==1.2.3", ">=1.2.3" or ">1.2.3".
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" || strings.EqualFold(s, string(OpLatest)) {
		return Latest, nil
	}

	op := OpEqual
	switch {
	case strings.HasPrefix(s, ">="):
		op, s = OpGTE, s[2:]
	case strings.HasPrefix(s, ">"):
		op, s = OpGT, s[1:]
	case strings.HasPrefix(s, "=="):
		s = s[2:]
	case strings.HasPrefix(s, "="):
		s = s[1:]
	}

	v, err := semver.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return Constraint{}, apperr.Validation("invalid version %q: %v", s, err)
	}
	return Constraint{Op: op, Version: v}, nil
}

// MustParseConstraint is like ParseConstraint but panics on error
func MustParseConstraint(s string) Constraint {
	c, err := ParseConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// IsLatest reports whether the constraint has no lower bound
func (c Constraint) IsLatest() bool {
	return c.Op == OpLatest || c.Op == "" || c.Version == nil
}

// Allows reports whether tag satisfies the constraint
func (c Constraint) Allows(tag *semver.Version) bool {
	if c.IsLatest() {
		return true
	}
	cmp := tag.Compare(c.Version)
	switch c.Op {
	case OpEqual:
		return cmp == 0
	case OpGTE:
		return cmp >= 0
	case OpGT:
		return cmp > 0
	}
	return false
}

func (c Constraint) String() string {
	if c.IsLatest() {
		return string(OpLatest)
	}
	if c.Op == OpEqual {
		return c.Version.String()
	}
	return string(c.Op) + c.Version.String()
}

// Query selects releases. An empty Channel means stable.
type Query struct {
	Channel        string
	Tag            Constraint
	Platform       string
	Filename       string
	FiletypeWanted string
}

// Helper functions for JSON marshaling
func versionString(v *semver.Version) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func (q Query) String() string {
	channel := q.Channel
	if channel == "" {
		channel = ChannelStable
	}
	s := fmt.Sprintf("channel=%s tag=%s", channel, q.Tag)
	if q.Platform != "" {
		s += " platform=" + q.Platform
	}
	return s
}
