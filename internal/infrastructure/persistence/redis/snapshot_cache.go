package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/academic"
	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// snapshotFormat is bumped whenever the cached layout changes, so entries
// written by an older build read as misses instead of half-decoded data.
const snapshotFormat = 1

var (
	_ academic.SnapshotCache = (*SnapshotCache)(nil)
	_ academic.SnapshotCache = NoopSnapshotCache{}
)

// snapshotEntry is the JSON document stored under snapshot:{studentID}.
type snapshotEntry struct {
	Format   int               `json:"format"`
	CachedAt time.Time         `json:"cached_at"`
	Snapshot academic.Snapshot `json:"snapshot"`
}

// SnapshotCache implements academic.SnapshotCache on top of Cache.
type SnapshotCache struct {
	cache *Cache
	now   func() time.Time
}

// NewSnapshotCache creates a SnapshotCache.
func NewSnapshotCache(cache *Cache) *SnapshotCache {
	return &SnapshotCache{cache: cache, now: time.Now}
}

// Get returns the cached snapshot of studentID.
func (s *SnapshotCache) Get(ctx context.Context, studentID shared.StudentID) (academic.Snapshot, error) {
	var entry snapshotEntry
	err := s.cache.Get(ctx, SnapshotKey(studentID.Int64()), &entry)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) || errors.Is(err, ErrCacheSerialization) {
			return academic.Snapshot{}, missError(studentID, err)
		}
		return academic.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	if entry.Format != snapshotFormat {
		return academic.Snapshot{}, missError(studentID, nil)
	}
	return entry.Snapshot, nil
}

// Set stores snap for ttl. A non-positive ttl uses TTLSnapshot.
func (s *SnapshotCache) Set(ctx context.Context, studentID shared.StudentID, snap academic.Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLSnapshot
	}
	return s.cache.Set(ctx, SnapshotKey(studentID.Int64()), newSnapshotEntry(snap, s.now()), ttl)
}

// Invalidate drops the cached snapshot of studentID.
func (s *SnapshotCache) Invalidate(ctx context.Context, studentID shared.StudentID) error {
	return s.cache.Delete(ctx, SnapshotKey(studentID.Int64()))
}

func newSnapshotEntry(snap academic.Snapshot, now time.Time) snapshotEntry {
	return snapshotEntry{Format: snapshotFormat, CachedAt: now.UTC(), Snapshot: snap}
}

func missError(studentID shared.StudentID, cause error) error {
	return shared.WrapError("cache", "GetSnapshot", shared.ErrNotFound,
		"no cached snapshot for student "+studentID.String(), cause)
}

// NoopSnapshotCache never stores anything. Used when Redis is disabled.
type NoopSnapshotCache struct{}

// Get always misses.
func (NoopSnapshotCache) Get(_ context.Context, studentID shared.StudentID) (academic.Snapshot, error) {
	return academic.Snapshot{}, missError(studentID, nil)
}

// Set does nothing.
func (NoopSnapshotCache) Set(context.Context, shared.StudentID, academic.Snapshot, time.Duration) error {
	return nil
}

// Invalidate does nothing.
func (NoopSnapshotCache) Invalidate(context.Context, shared.StudentID) error {
	return nil
}
