package updater

import (
	"context"
	"time"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/version"
)

// Status describes the server and its cache
type Status struct {
	Backend   string  `json:"backend"`
	Uptime    float64 `json:"uptime"`
	Cached    bool    `json:"cached"`
	Releases  int     `json:"releases"`
	FetchedAt string  `json:"fetched_at,omitempty"`
}

// Status reports uptime and the state of the release cache without fetching
func (s *Service) Status() Status {
	st := Status{
		Backend: s.opts.BackendName,
		Uptime:  time.Since(s.started).Seconds(),
	}
	if releases, fetchedAt, ok := s.cache.Snapshot(); ok {
		st.Cached = true
		st.Releases = len(releases)
		st.FetchedAt = fetchedAt.UTC().Format(time.RFC3339)
	}
	return st
}

// Versions lists releases, newest first. Channel and platform are optional
// filters; an empty channel lists every channel.
func (s *Service) Versions(ctx context.Context, channel, platformName string) ([]version.Release, error) {
	if channel == "" {
		channel = version.ChannelAny
	}
	token, err := detectPlatform(platformName)
	if err != nil {
		return nil, err
	}
	releases, err := s.resolver.Filter(ctx, version.Query{Channel: channel, Tag: version.Latest, Platform: token})
	if err != nil {
		return nil, err
	}
	if releases == nil {
		releases = []version.Release{}
	}
	return releases, nil
}

// Channels summarises every channel
func (s *Service) Channels(ctx context.Context) (map[string]version.ChannelSummary, error) {
	releases, err := s.cache.Get(ctx)
	if err != nil {
		return nil, err
	}
	return version.Channels(releases), nil
}

// Resolve returns the release a query selects, applying the same channel
// policy and fallback as downloads
func (s *Service) Resolve(ctx context.Context, channel, tag, platformName string) (version.Release, error) {
	constraint, err := version.ParseConstraint(tag)
	if err != nil {
		return version.Release{}, err
	}
	token, err := detectPlatform(platformName)
	if err != nil {
		return version.Release{}, err
	}
	return s.resolver.Resolve(ctx, version.Query{Channel: channel, Tag: constraint, Platform: token})
}

// detectPlatform normalises an optional platform name
func detectPlatform(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	token := platform.Detect(name)
	if token == "" {
		return "", apperr.Validation("unknown platform %q", name)
	}
	return token, nil
}

// Releases returns the full cached list, fetching it when needed
func (s *Service) Releases(ctx context.Context) ([]version.Release, error) {
	return s.cache.Get(ctx)
}
