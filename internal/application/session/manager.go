// Package session owns the authenticated dashboard session: the student's
// profile, the source token and the academic.Store holding their records.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

// Source labels for the session.started event.
const (
	SourceBackend = "backend"
	SourceCache   = "cache"
)

// Session describes the active session.
type Session struct {
	ID        string           `json:"id"`
	Token     string           `json:"-"`
	Profile   academic.Profile `json:"profile"`
	StartedAt time.Time        `json:"started_at"`
	LoadedAt  time.Time        `json:"loaded_at"`
	FromCache bool             `json:"from_cache"`
}

// FeatureContext returns the feature flag context of the session's student.
func (s Session) FeatureContext() *config.FeatureContext {
	return &config.FeatureContext{
		StudentID: s.Profile.StudentID.Int64(),
		Program:   s.Profile.Program,
	}
}

// Config holds Manager dependencies.
type Config struct {
	Backend academic.Backend

	// Cache defaults to a cache that never hits.
	Cache    academic.SnapshotCache
	CacheTTL time.Duration

	// Events defaults to dropping events.
	Events shared.EventPublisher

	Flags  *config.FeatureFlags
	Logger *logger.Logger

	// StoreOptions are applied to every store the manager creates.
	StoreOptions []academic.StoreOption
}

// Manager serializes access to the single session of the dashboard.
// Source and cache calls never run while the lock is held.
type Manager struct {
	backend  academic.Backend
	cache    academic.SnapshotCache
	cacheTTL time.Duration
	events   shared.EventPublisher
	flags    *config.FeatureFlags
	log      *logger.Logger

	mu      sync.Mutex
	store   *academic.Store
	current *Session
}

// NewManager creates a Manager with no active session.
func NewManager(cfg Config) *Manager {
	if cfg.Cache == nil {
		cfg.Cache = missCache{}
	}
	if cfg.Events == nil {
		cfg.Events = discardPublisher{}
	}
	if cfg.Flags == nil {
		cfg.Flags = config.NewFeatureFlags()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	return &Manager{
		backend:  cfg.Backend,
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		events:   cfg.Events,
		flags:    cfg.Flags,
		log:      cfg.Logger.With(logger.Component("session")),
		store:    academic.NewStore(cfg.StoreOptions...),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Login authenticates against the backend and loads the student's snapshot,
// from the cache when allowed. A previous session is replaced.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	creds, err := m.backend.Login(ctx, username, password)
	if err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:        uuid.NewString(),
		Token:     creds.Token,
		Profile:   creds.Profile,
		StartedAt: time.Now().UTC(),
	}

	snap, fromCache, err := m.loadSnapshot(ctx, sess, m.cacheEnabled(sess))
	if err != nil {
		// Token auth may hand out the token the active session still uses.
		if !m.usesToken(creds.Token) {
			_ = m.backend.Logout(ctx, creds.Token)
		}
		return Session{}, err
	}
	sess.LoadedAt = time.Now().UTC()
	sess.FromCache = fromCache

	m.mu.Lock()
	previous := m.current
	m.store.LoadSnapshot(snap)
	m.current = &sess
	m.mu.Unlock()

	if previous != nil {
		// The cache entry of the same student was just refreshed, and a
		// reissued token must stay valid for the new session.
		m.endRemote(ctx, *previous, previous.Profile.StudentID != sess.Profile.StudentID, previous.Token != sess.Token)
	}

	log := m.log.With(logger.SessionID(sess.ID), logger.StudentID(sess.Profile.StudentID.Int64()))
	log.Info("session started", logger.Username(sess.Profile.Username), logger.Bool("from_cache", fromCache))

	source := SourceBackend
	if fromCache {
		source = SourceCache
	}
	started := shared.NewSessionStartedEvent(sess.Profile.StudentID.String(), sess.ID, sess.Profile.Username, source)
	m.publish(started)
	m.publishLoaded(sess, snap, fromCache)

	return sess, nil
}

// Logout ends the session. Remote logout and cache invalidation are best
// effort; the local state is always cleared.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	sess := m.current
	if sess == nil {
		m.mu.Unlock()
		return shared.ErrNotAuthenticated
	}
	m.current = nil
	m.store.Reset()
	m.mu.Unlock()

	m.endRemote(ctx, *sess, true, true)
	m.log.Info("session ended", logger.SessionID(sess.ID))
	return nil
}

// endRemote optionally releases the token of sess and drops its cached
// snapshot, then publishes session.ended.
func (m *Manager) endRemote(ctx context.Context, sess Session, invalidate, revoke bool) {
	if revoke {
		if err := m.backend.Logout(ctx, sess.Token); err != nil {
			m.log.Warn("remote logout failed", logger.SessionID(sess.ID), logger.Err(err))
		}
	}
	if invalidate {
		m.InvalidateCache(ctx, sess.Profile.StudentID)
	}

	ended := shared.NewSessionEndedEvent(sess.Profile.StudentID.String(), sess.ID, time.Since(sess.StartedAt))
	m.publish(ended)
}

func (m *Manager) usesToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Token == token
}

// Reload refetches the snapshot from the backend, bypassing the cache.
// Records created locally and not pushed to the source are lost.
func (m *Manager) Reload(ctx context.Context) (Session, error) {
	sess, err := m.Current()
	if err != nil {
		return Session{}, err
	}

	snap, _, err := m.loadSnapshot(ctx, sess, false)
	if err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	if m.current == nil || m.current.ID != sess.ID {
		m.mu.Unlock()
		return Session{}, shared.NewDomainError("session", "Reload", shared.ErrInvalidState, "session changed during reload")
	}
	m.store.LoadSnapshot(snap)
	m.current.LoadedAt = time.Now().UTC()
	m.current.FromCache = false
	sess = *m.current
	m.mu.Unlock()

	m.publishLoaded(sess, snap, false)
	return sess, nil
}

// loadSnapshot reads the snapshot from the cache when useCache is set and
// falls back to the backend. Fresh snapshots are written back to the cache.
func (m *Manager) loadSnapshot(ctx context.Context, sess Session, useCache bool) (academic.Snapshot, bool, error) {
	studentID := sess.Profile.StudentID

	if useCache {
		snap, err := m.cache.Get(ctx, studentID)
		switch {
		case err == nil:
			return snap, true, nil
		case !shared.IsNotFound(err):
			m.log.Warn("snapshot cache read failed", logger.StudentID(studentID.Int64()), logger.Err(err))
		}
	}

	snap, err := m.backend.FetchSnapshot(ctx, sess.Token, studentID)
	if err != nil {
		return academic.Snapshot{}, false, err
	}

	if m.cacheEnabled(sess) {
		if err := m.cache.Set(ctx, studentID, snap, m.cacheTTL); err != nil {
			m.log.Warn("snapshot cache write failed", logger.StudentID(studentID.Int64()), logger.Err(err))
		}
	}
	return snap, false, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCESS
// ══════════════════════════════════════════════════════════════════════════════

// Current returns the active session.
func (m *Manager) Current() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Session{}, shared.ErrNotAuthenticated
	}
	return *m.current, nil
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// WithStore runs fn with exclusive access to the store of the active
// session. fn must not call back into the Manager.
func (m *Manager) WithStore(fn func(store *academic.Store, sess Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return shared.ErrNotAuthenticated
	}
	return fn(m.store, *m.current)
}

// InvalidateCache drops the cached snapshot of studentID. Failures are logged.
func (m *Manager) InvalidateCache(ctx context.Context, studentID shared.StudentID) {
	if err := m.cache.Invalidate(ctx, studentID); err != nil {
		m.log.Warn("snapshot cache invalidation failed", logger.StudentID(studentID.Int64()), logger.Err(err))
	}
}

// Flags returns the feature flags.
func (m *Manager) Flags() *config.FeatureFlags {
	return m.flags
}

// Backend returns the data source of the manager.
func (m *Manager) Backend() academic.Backend {
	return m.backend
}

func (m *Manager) cacheEnabled(sess Session) bool {
	return m.flags.IsEnabled(config.FeatureSnapshotCache, sess.FeatureContext())
}

func (m *Manager) publishLoaded(sess Session, snap academic.Snapshot, fromCache bool) {
	loaded := shared.NewSnapshotLoadedEvent(sess.Profile.StudentID.String(),
		len(snap.Subjects), len(snap.Grades), len(snap.Attendance), len(snap.Alerts), fromCache)
	loaded.BaseEvent = loaded.BaseEvent.WithCorrelationID(sess.ID)
	m.publish(loaded)
}

func (m *Manager) publish(event shared.Event) {
	if err := m.events.Publish(event); err != nil {
		m.log.Warn("event publish failed", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEFAULTS
// ══════════════════════════════════════════════════════════════════════════════

var errCacheDisabled = errors.New("snapshot cache disabled")

type missCache struct{}

func (missCache) Get(context.Context, shared.StudentID) (academic.Snapshot, error) {
	return academic.Snapshot{}, shared.WrapError("session", "CacheGet", shared.ErrNotFound, "cache disabled", errCacheDisabled)
}

func (missCache) Set(context.Context, shared.StudentID, academic.Snapshot, time.Duration) error {
	return nil
}

func (missCache) Invalidate(context.Context, shared.StudentID) error { return nil }

type discardPublisher struct{}

func (discardPublisher) Publish(shared.Event) error { return nil }
