package version

import (
	"context"
	"sort"
	"time"

	"github.com/nickromney-org/release-update-server/internal/apperr"
)

// ReleaseSource supplies the current release list
type ReleaseSource interface {
	Get(ctx context.Context) ([]Release, error)
}

// Resolver matches queries against the releases of a source
type Resolver struct {
	source ReleaseSource
}

// NewResolver creates a new resolver
func NewResolver(source ReleaseSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the best matching release for the query
func (r *Resolver) Resolve(ctx context.Context, q Query) (Release, error) {
	releases, err := r.source.Get(ctx)
	if err != nil {
		return Release{}, err
	}
	return ResolveReleases(releases, q)
}

// Filter returns every release matching the query, newest first
func (r *Resolver) Filter(ctx context.Context, q Query) ([]Release, error) {
	releases, err := r.source.Get(ctx)
	if err != nil {
		return nil, err
	}
	return FilterReleases(releases, q), nil
}

// EffectiveChannel applies the channel policy: an explicit version pin always
// searches every channel, and an empty channel means stable.
func EffectiveChannel(q Query) string {
	if !q.Tag.IsLatest() {
		return ChannelAny
	}
	if q.Channel == "" {
		return ChannelStable
	}
	return q.Channel
}

// FilterReleases is the pure form of Resolver.Filter.
// q.Platform must already be a canonical platform token.
func FilterReleases(releases []Release, q Query) []Release {
	channel := EffectiveChannel(q)

	var matches []Release
	for _, release := range releases {
		if channel != ChannelAny && release.Channel != channel {
			continue
		}
		if q.Platform != "" && !release.HasPlatform(q.Platform) {
			continue
		}
		if !q.Tag.Allows(release.Tag) {
			continue
		}
		matches = append(matches, release)
	}

	SortDescending(matches)
	return matches
}

// ResolveReleases is the pure form of Resolver.Resolve.
func ResolveReleases(releases []Release, q Query) (Release, error) {
	if matches := FilterReleases(releases, q); len(matches) > 0 {
		return matches[0], nil
	}

	// Fall back to any channel when the newest release of a channel was asked for
	if q.Tag.IsLatest() && EffectiveChannel(q) != ChannelAny {
		q.Channel = ChannelAny
		if matches := FilterReleases(releases, q); len(matches) > 0 {
			return matches[0], nil
		}
	}

	return Release{}, apperr.NotFound("version not found: %s", q)
}

// SortDescending orders releases by tag, newest first
func SortDescending(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[i].Tag.GreaterThan(releases[j].Tag)
	})
}

// ChannelSummary describes the newest release of a channel
type ChannelSummary struct {
	Latest      string `json:"latest"`
	PublishedAt string `json:"published_at"`
	Count       int    `json:"versions"`
}

// Channels groups releases by channel
func Channels(releases []Release) map[string]ChannelSummary {
	sorted := make([]Release, len(releases))
	copy(sorted, releases)
	SortDescending(sorted)

	channels := make(map[string]ChannelSummary)
	for _, r := range sorted {
		summary, ok := channels[r.Channel]
		if !ok {
			summary.Latest = r.Tag.String()
			summary.PublishedAt = r.PublishedAt.UTC().Format(time.RFC3339)
		}
		summary.Count++
		channels[r.Channel] = summary
	}
	return channels
}
