// Package updater ties a backend, the release cache and the resolver into the
// operations served to auto-updating clients.
package updater

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/backend"
	"github.com/nickromney-org/release-update-server/internal/cache"
	"github.com/nickromney-org/release-update-server/internal/hooks"
	"github.com/nickromney-org/release-update-server/internal/platform"
	"github.com/nickromney-org/release-update-server/internal/signature"
	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options configures a Service
type Options struct {
	// BackendName is reported by Status
	BackendName string

	CacheTTL     time.Duration
	CacheTimeout time.Duration
	// Prefetch lists releases during Init
	Prefetch bool

	// RefreshSecret authenticates webhook refresh calls
	RefreshSecret string

	SignedURLs        bool
	SignatureSecret   string
	SignatureQueryKey string

	Logger *zerolog.Logger
}

// Service answers download, update and API requests
type Service struct {
	backend  backend.Backend
	cache    *cache.Manager
	resolver *version.Resolver
	hooks    *hooks.Pipeline
	opts     Options
	logger   zerolog.Logger
	started  time.Time

	initGroup singleflight.Group
	initMu    sync.Mutex
	initDone  bool
}

// DownloadEvent is the payload of the download hook
type DownloadEvent struct {
	Request *http.Request
	Release version.Release
	Asset   version.Asset
}

// APIEvent is the payload of the api hook
type APIEvent struct {
	Request *http.Request
}

// New creates a service on top of b. It fails when signed URLs are enabled
// without a usable secret.
func New(b backend.Backend, opts Options) (*Service, error) {
	if err := signature.ValidateSecret(opts.SignedURLs, opts.SignatureSecret); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	if opts.SignatureQueryKey == "" {
		opts.SignatureQueryKey = signature.DefaultQueryKey
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	releases := cache.NewManager(b,
		cache.WithTTL(opts.CacheTTL),
		cache.WithTimeout(opts.CacheTimeout),
		cache.WithLogger(logger.With().Str("component", "cache").Logger()),
	)

	s := &Service{
		backend:  b,
		cache:    releases,
		resolver: version.NewResolver(releases),
		hooks:    hooks.New(),
		opts:     opts,
		logger:   logger,
		started:  time.Now(),
	}
	s.hooks.Before(hooks.EventDownload, s.logDownloadStart)
	s.hooks.After(hooks.EventDownload, s.logDownload)
	return s, nil
}

// Hooks exposes the pipeline so callers can add stages
func (s *Service) Hooks() *hooks.Pipeline {
	return s.hooks
}

// Init initialises the backend and, when configured, prefetches the release
// list. Concurrent callers share one run, detached from any single caller's
// context and bounded by the cache timeout; each caller stops waiting when its
// own ctx is done. After a success later calls return immediately, after a
// failure the next call tries again.
func (s *Service) Init(ctx context.Context) error {
	s.initMu.Lock()
	done := s.initDone
	s.initMu.Unlock()
	if done {
		return nil
	}

	ch := s.initGroup.DoChan("init", func() (any, error) {
		s.initMu.Lock()
		done := s.initDone
		s.initMu.Unlock()
		if done {
			return nil, nil
		}

		timeout := s.opts.CacheTimeout
		if timeout <= 0 {
			timeout = cache.DefaultTimeout
		}
		initCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		if err := s.backend.Init(initCtx); err != nil {
			return nil, err
		}
		if s.opts.Prefetch {
			if err := s.cache.Prefetch(initCtx); err != nil {
				return nil, err
			}
		}

		s.initMu.Lock()
		s.initDone = true
		s.initMu.Unlock()

		s.logger.Info().Str("backend", s.opts.BackendName).Bool("prefetch", s.opts.Prefetch).Msg("backend initialised")
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return apperr.Backend(ctx.Err(), "request abandoned while initialising backend")
	}
}

// DownloadRequest describes a download as received from a client
type DownloadRequest struct {
	Channel        string
	Tag            string
	Platform       string
	Filename       string
	FiletypeWanted string
	UserAgent      string
	Signature      string
}

// ResolveDownload finds the release and asset a download request points at
func (s *Service) ResolveDownload(ctx context.Context, req DownloadRequest) (version.Release, version.Asset, error) {
	if s.opts.SignedURLs && !signature.Validate(s.opts.SignatureSecret, req.Signature) {
		return version.Release{}, version.Asset{}, apperr.Unauthorized("Invalid Signature")
	}

	tag, err := version.ParseConstraint(req.Tag)
	if err != nil {
		return version.Release{}, version.Asset{}, err
	}

	match := platform.Request{
		Platform:       req.Platform,
		Filename:       req.Filename,
		FiletypeWanted: req.FiletypeWanted,
		UserAgent:      req.UserAgent,
	}

	// A specific file does not need a platform
	token := ""
	if req.Filename == "" {
		token = match.Resolve()
		if token == "" {
			return version.Release{}, version.Asset{}, apperr.Validation("no platform specified and impossible to detect one")
		}
		match.Platform = token
	}

	release, err := s.resolver.Resolve(ctx, version.Query{
		Channel:        req.Channel,
		Tag:            tag,
		Platform:       token,
		Filename:       req.Filename,
		FiletypeWanted: req.FiletypeWanted,
	})
	if err != nil {
		return version.Release{}, version.Asset{}, err
	}

	asset, err := platform.Match(release, match)
	if err != nil {
		return version.Release{}, version.Asset{}, err
	}
	return release, asset, nil
}

// ServeAsset runs the download hook around the backend's ServeAsset
func (s *Service) ServeAsset(ctx context.Context, w http.ResponseWriter, r *http.Request, release version.Release, asset version.Asset) error {
	if err := s.Init(ctx); err != nil {
		return err
	}

	event := DownloadEvent{Request: r, Release: release, Asset: asset}
	return s.hooks.Run(ctx, hooks.EventDownload, event, func(ctx context.Context) error {
		return s.backend.ServeAsset(ctx, asset, w, r)
	})
}

func (s *Service) logDownloadStart(ctx context.Context, payload any) error {
	if event, ok := payload.(DownloadEvent); ok {
		s.logger.Debug().
			Str("filename", event.Asset.Filename).
			Str("version", event.Release.Tag.String()).
			Msg("download starting")
	}
	return nil
}

func (s *Service) logDownload(ctx context.Context, payload any) error {
	event, ok := payload.(DownloadEvent)
	if !ok {
		return nil
	}
	s.logger.Info().
		Str("filename", event.Asset.Filename).
		Str("version", event.Release.Tag.String()).
		Str("channel", event.Release.Channel).
		Str("platform", event.Asset.Platform).
		Msg("download")
	return nil
}

// SignatureQueryKey is the query parameter download links carry their token in
func (s *Service) SignatureQueryKey() string {
	return s.opts.SignatureQueryKey
}

// Refresh drops the cached release list so the next request refetches it
func (s *Service) Refresh() {
	s.cache.Invalidate()
}
