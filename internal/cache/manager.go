package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nickromney-org/release-update-server/internal/apperr"
	"github.com/nickromney-org/release-update-server/internal/version"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a fetched release list is served before refetching
	DefaultTTL = time.Hour

	// DefaultTimeout bounds a single backend List call
	DefaultTimeout = 30 * time.Second

	fetchKey = "releases"
)

// Lister fetches the full release list from a backend
type Lister interface {
	List(ctx context.Context) ([]version.Release, error)
}

// entry is an immutable snapshot of a successful fetch
type entry struct {
	releases  []version.Release
	fetchedAt time.Time
	// generation is the invalidation generation observed when the fetch started
	generation uint64
}

// Manager memoizes the backend release list.
//
// A list is refetched when none has been fetched yet, when it is older than the
// TTL, or when Invalidate was called after the fetch that produced it started.
// Concurrent callers share one in-flight fetch.
type Manager struct {
	lister  Lister
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	entry      *entry
	generation uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithTTL sets how long a release list stays fresh
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTimeout bounds each backend fetch
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithLogger sets the logger for the manager
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a new release cache in front of lister
func NewManager(lister Lister, opts ...Option) *Manager {
	m := &Manager{
		lister:  lister,
		ttl:     DefaultTTL,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the current release list, fetching it when needed. When a fetch
// fails and an older list exists, the older list is returned.
func (m *Manager) Get(ctx context.Context) ([]version.Release, error) {
	m.mu.RLock()
	current, gen := m.entry, m.generation
	m.mu.RUnlock()

	if current != nil && m.fresh(current, gen) {
		return current.releases, nil
	}

	for {
		fetched, err := m.fetch(ctx)
		if err != nil {
			if current != nil {
				m.logger.Warn().Err(err).
					Time("fetched_at", current.fetchedAt).
					Msg("release fetch failed, serving cached list")
				return current.releases, nil
			}
			return nil, err
		}

		// A fetch that started before our invalidation does not satisfy it
		if fetched.generation >= gen {
			return fetched.releases, nil
		}
		current = fetched
	}
}

// Invalidate forces the next Get to refetch regardless of the TTL
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()
	m.logger.Info().Msg("release cache invalidated")
}

// Prefetch performs one eager fetch, typically at startup
func (m *Manager) Prefetch(ctx context.Context) error {
	_, err := m.fetch(ctx)
	return err
}

// Snapshot returns the cached list without fetching
func (m *Manager) Snapshot() (releases []version.Release, fetchedAt time.Time, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.entry == nil {
		return nil, time.Time{}, false
	}
	return m.entry.releases, m.entry.fetchedAt, true
}

func (m *Manager) fresh(e *entry, gen uint64) bool {
	return e.generation == gen && m.now().Sub(e.fetchedAt) < m.ttl
}

// fetch runs at most one backend List at a time. The List call is detached
// from the caller's context so that an abandoned request does not cancel the
// fetch for other waiters; the caller itself stops waiting when ctx is done.
func (m *Manager) fetch(ctx context.Context) (*entry, error) {
	ch := m.group.DoChan(fetchKey, func() (any, error) {
		m.mu.RLock()
		startGen := m.generation
		m.mu.RUnlock()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		started := m.now()
		releases, err := m.lister.List(fetchCtx)
		if err != nil {
			return nil, classify(err, m.timeout)
		}

		e := &entry{
			releases:   releases,
			fetchedAt:  m.now(),
			generation: startGen,
		}

		m.mu.Lock()
		m.entry = e
		m.mu.Unlock()

		m.logger.Debug().
			Int("releases", len(releases)).
			Dur("took", m.now().Sub(started)).
			Msg("fetched releases")
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*entry), nil
	case <-ctx.Done():
		return nil, apperr.Backend(ctx.Err(), "request abandoned while fetching releases")
	}
}

func classify(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Backend(err, "timed out after %s listing releases", timeout)
	}
	if apperr.KindOf(err) == apperr.KindUnknown {
		return apperr.Backend(err, "failed to list releases")
	}
	return err
}
