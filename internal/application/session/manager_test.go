package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academic-tracker/student-dashboard/config"
	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
	"github.com/academic-tracker/student-dashboard/pkg/logger"
)

type fakeBackend struct {
	mu       sync.Mutex
	snapshot academic.Snapshot
	loginErr error
	fetchErr error
	fetches  int
	logouts  []string

	// rotateTokens issues a fresh token on every login instead of the
	// stable per-user token DRF token auth returns.
	rotateTokens bool
	issued       int
}

func (f *fakeBackend) Login(_ context.Context, username, password string) (*academic.Credentials, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	if password != "secret" {
		return nil, shared.ErrInvalidCredentials
	}
	f.mu.Lock()
	f.issued++
	token := "token-" + username
	if f.rotateTokens {
		token = fmt.Sprintf("%s-%d", token, f.issued)
	}
	f.mu.Unlock()
	return &academic.Credentials{
		Token: token,
		Profile: academic.Profile{
			StudentID: 42,
			Username:  username,
			FullName:  "Ana Torres",
			Program:   "Systems Engineering",
			Active:    true,
		},
	}, nil
}

func (f *fakeBackend) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return nil
}

func (f *fakeBackend) FetchSnapshot(context.Context, string, shared.StudentID) (academic.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return academic.Snapshot{}, f.fetchErr
	}
	return f.snapshot.Clone(), nil
}

func (f *fakeBackend) SaveGrade(context.Context, string, shared.StudentID, academic.Grade) error {
	return nil
}

func (f *fakeBackend) SaveAttendance(context.Context, string, shared.StudentID, academic.AttendanceEntry) error {
	return nil
}

func (f *fakeBackend) MarkAlertRead(context.Context, string, academic.AlertID) error { return nil }

func (f *fakeBackend) ListPrograms(context.Context, string) ([]academic.Program, error) {
	return nil, nil
}

type memoryCache struct {
	entries     map[shared.StudentID]academic.Snapshot
	invalidated []shared.StudentID
	getErr      error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[shared.StudentID]academic.Snapshot)}
}

func (c *memoryCache) Get(_ context.Context, id shared.StudentID) (academic.Snapshot, error) {
	if c.getErr != nil {
		return academic.Snapshot{}, c.getErr
	}
	snap, ok := c.entries[id]
	if !ok {
		return academic.Snapshot{}, shared.NewDomainError("cache", "Get", shared.ErrNotFound, "miss")
	}
	return snap, nil
}

func (c *memoryCache) Set(_ context.Context, id shared.StudentID, snap academic.Snapshot, _ time.Duration) error {
	c.entries[id] = snap
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, id shared.StudentID) error {
	delete(c.entries, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

type recordingPublisher struct {
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

func testSnapshot() academic.Snapshot {
	return academic.Snapshot{
		Subjects: []academic.Subject{{ID: 1, Name: "Calculus I", Credits: 4}},
		Grades:   []academic.Grade{{ID: 1, SubjectID: 1, Value: 15, WeightPercent: 30}},
	}
}

func newTestManager(backend *fakeBackend, cache *memoryCache, events *recordingPublisher) *Manager {
	return NewManager(Config{
		Backend:  backend,
		Cache:    cache,
		CacheTTL: time.Minute,
		Events:   events,
		Logger:   logger.Nop(),
	})
}

func TestManager_LoginLoadsSnapshotFromBackend(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	events := &recordingPublisher{}
	m := newTestManager(backend, cache, events)

	sess, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "token-ana", sess.Token)
	assert.False(t, sess.FromCache)
	assert.True(t, m.IsAuthenticated())
	assert.Equal(t, 1, backend.fetches)

	_, cached := cache.entries[42]
	assert.True(t, cached)

	err = m.WithStore(func(store *academic.Store, s Session) error {
		assert.Equal(t, sess.ID, s.ID)
		assert.Equal(t, "Calculus I", store.FindSubjectName(1))
		assert.Len(t, store.Grades(), 1)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []shared.EventType{shared.EventSessionStarted, shared.EventSnapshotLoaded}, events.types())
}

func TestManager_LoginUsesCache(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	cache.entries[42] = academic.Snapshot{Subjects: []academic.Subject{{ID: 9, Name: "Cached", Credits: 2}}}
	events := &recordingPublisher{}
	m := newTestManager(backend, cache, events)

	sess, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	assert.True(t, sess.FromCache)
	assert.Zero(t, backend.fetches)
	require.NoError(t, m.WithStore(func(store *academic.Store, _ Session) error {
		assert.Equal(t, "Cached", store.FindSubjectName(9))
		return nil
	}))

	started, ok := events.events[0].(shared.SessionStartedEvent)
	require.True(t, ok)
	assert.Equal(t, SourceCache, started.Source)
}

func TestManager_CacheDisabledByFlag(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	cache.entries[42] = academic.Snapshot{}

	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureSnapshotCache))

	m := NewManager(Config{Backend: backend, Cache: cache, Flags: flags, Logger: logger.Nop()})

	sess, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.False(t, sess.FromCache)
	assert.Equal(t, 1, backend.fetches)
}

func TestManager_CacheErrorFallsBackToBackend(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	cache.getErr = errors.New("redis down")
	m := newTestManager(backend, cache, &recordingPublisher{})

	sess, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.False(t, sess.FromCache)
	assert.Equal(t, 1, backend.fetches)
}

func TestManager_LoginFailures(t *testing.T) {
	t.Run("invalid credentials", func(t *testing.T) {
		m := newTestManager(&fakeBackend{}, newMemoryCache(), &recordingPublisher{})

		_, err := m.Login(context.Background(), "ana", "wrong")
		assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
		assert.False(t, m.IsAuthenticated())
	})

	t.Run("snapshot fetch fails", func(t *testing.T) {
		backend := &fakeBackend{fetchErr: shared.ErrAPIUnavailable}
		m := newTestManager(backend, newMemoryCache(), &recordingPublisher{})

		_, err := m.Login(context.Background(), "ana", "secret")
		assert.True(t, shared.IsExternalService(err))
		assert.False(t, m.IsAuthenticated())
		assert.Equal(t, []string{"token-ana"}, backend.logouts)
	})
}

func TestManager_Logout(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	events := &recordingPublisher{}
	m := newTestManager(backend, cache, events)

	_, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background()))

	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, []string{"token-ana"}, backend.logouts)
	assert.Equal(t, []shared.StudentID{42}, cache.invalidated)
	assert.Equal(t, shared.EventSessionEnded, events.events[len(events.events)-1].EventType())

	_, err = m.Current()
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
	assert.ErrorIs(t, m.Logout(context.Background()), shared.ErrNotAuthenticated)

	err = m.WithStore(func(*academic.Store, Session) error { return nil })
	assert.True(t, shared.IsUnauthorized(err))
}

func TestManager_LogoutClearsStore(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	m := newTestManager(backend, newMemoryCache(), &recordingPublisher{})

	_, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	require.NoError(t, m.Logout(context.Background()))

	backend.snapshot = academic.Snapshot{}
	_, err = m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	require.NoError(t, m.WithStore(func(store *academic.Store, _ Session) error {
		assert.Empty(t, store.Grades())
		assert.Equal(t, academic.UnknownSubjectName, store.FindSubjectName(1))
		return nil
	}))
}

func TestManager_ReloadBypassesCache(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	m := newTestManager(backend, cache, &recordingPublisher{})

	_, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	require.NoError(t, m.WithStore(func(store *academic.Store, _ Session) error {
		store.AddGrade(1, 20, 70)
		return nil
	}))

	backend.snapshot.Grades = append(backend.snapshot.Grades, academic.Grade{ID: 2, SubjectID: 1, Value: 10, WeightPercent: 20})
	sess, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, sess.FromCache)
	assert.Equal(t, 2, backend.fetches)

	require.NoError(t, m.WithStore(func(store *academic.Store, _ Session) error {
		grades := store.Grades()
		require.Len(t, grades, 2)
		assert.Equal(t, 10.0, grades[1].Value)
		return nil
	}))
}

func TestManager_ReloadRequiresSession(t *testing.T) {
	m := newTestManager(&fakeBackend{}, newMemoryCache(), &recordingPublisher{})

	_, err := m.Reload(context.Background())
	assert.ErrorIs(t, err, shared.ErrNotAuthenticated)
}

func TestManager_ReloginReplacesSession(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	m := newTestManager(backend, cache, &recordingPublisher{})

	first, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	second, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, backend.logouts, "the reissued token belongs to the new session")
	assert.Empty(t, cache.invalidated)

	current, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, "token-ana", current.Token)
}

func TestManager_ReloginRevokesRotatedToken(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot(), rotateTokens: true}
	m := newTestManager(backend, newMemoryCache(), &recordingPublisher{})

	_, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	_, err = m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	assert.Equal(t, []string{"token-ana-1"}, backend.logouts)
	current, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, "token-ana-2", current.Token)
}

func TestManager_FailedReloginKeepsSharedToken(t *testing.T) {
	backend := &fakeBackend{snapshot: testSnapshot()}
	cache := newMemoryCache()
	m := newTestManager(backend, cache, &recordingPublisher{})

	first, err := m.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)

	cache.getErr = errors.New("redis down")
	backend.mu.Lock()
	backend.fetchErr = shared.ErrAPIUnavailable
	backend.mu.Unlock()

	_, err = m.Login(context.Background(), "ana", "secret")
	require.Error(t, err)
	assert.Empty(t, backend.logouts)

	current, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
}

func TestSession_FeatureContext(t *testing.T) {
	sess := Session{Profile: academic.Profile{StudentID: 42, Program: "Law"}}

	fc := sess.FeatureContext()
	assert.Equal(t, int64(42), fc.StudentID)
	assert.Equal(t, "Law", fc.Program)
}
