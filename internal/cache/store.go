// SPDX-License-Identifier: MIT

package cache

import (
	"sync"
	"time"

	"github.com/pulsetv/pulse/internal/config"
	"github.com/pulsetv/pulse/internal/epg"
	"github.com/pulsetv/pulse/internal/metrics"
)

// Store is the in-memory cache layer. All state is owned by a single
// (profileID, configSignature) pair; changing the owner drops everything
// atomically so no cross-profile data can leak out.
type Store struct {
	mu sync.RWMutex

	owner config.Ownership

	snapshot       *Snapshot
	guideUpdatedAt time.Time
	emptyGuideAt   time.Time // arms the empty-result throttle
}

// NewStore returns an empty store owned by the given pair.
func NewStore(owner config.Ownership) *Store {
	return &Store{owner: owner}
}

// Owner returns the current ownership key.
func (s *Store) Owner() config.Ownership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// SetOwner swaps the ownership key. If it differs from the current one all
// cached state is dropped in the same critical section.
func (s *Store) SetOwner(owner config.Ownership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner == s.owner {
		return
	}
	s.owner = owner
	s.snapshot = nil
	s.guideUpdatedAt = time.Time{}
	s.emptyGuideAt = time.Time{}
}

// Snapshot returns the cached snapshot when it is fresh under the given TTL.
func (s *Store) Snapshot(ttl time.Duration, now time.Time) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil || now.Sub(s.snapshot.LoadedAt) > ttl {
		metrics.RecordCacheRead("memory", "miss")
		return nil, false
	}
	metrics.RecordCacheRead("memory", "hit")
	return s.snapshot, true
}

// Peek returns whatever snapshot is cached regardless of freshness.
func (s *Store) Peek() (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.snapshot != nil
}

// Put replaces the cached snapshot. The write is ignored when owner no
// longer matches, so a load that raced a profile switch cannot resurrect
// stale data.
func (s *Store) Put(owner config.Ownership, snap *Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner {
		return false
	}
	s.snapshot = snap
	if len(snap.GuideByChannelID) > 0 {
		s.guideUpdatedAt = snap.LoadedAt
	}
	return true
}

// MergeGuide merges fresh guide data into the cached snapshot, channel by
// channel, and returns the resulting snapshot. Used by the coordinator to
// expose partial short-guide results before the full document lands.
func (s *Store) MergeGuide(owner config.Ownership, fresh epg.GuideMap, now time.Time) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner || s.snapshot == nil {
		return nil, false
	}
	merged := make(epg.GuideMap, len(s.snapshot.GuideByChannelID)+len(fresh))
	for id, g := range s.snapshot.GuideByChannelID {
		merged[id] = g
	}
	for id, g := range fresh {
		merged[id] = epg.Merge(g, merged[id])
	}
	s.snapshot = s.snapshot.WithGuide(merged)
	s.guideUpdatedAt = now
	return s.snapshot, true
}

// ReplaceGuide swaps the guide map wholesale (full refresh path).
func (s *Store) ReplaceGuide(owner config.Ownership, guide epg.GuideMap, now time.Time) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner != s.owner || s.snapshot == nil {
		return nil, false
	}
	s.snapshot = s.snapshot.WithGuide(guide)
	s.guideUpdatedAt = now
	return s.snapshot, true
}

// GuideUpdatedAt reports when guide data last changed.
func (s *Store) GuideUpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guideUpdatedAt
}

// ArmEmptyGuideThrottle records an empty acquisition result at now.
func (s *Store) ArmEmptyGuideThrottle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emptyGuideAt = now
}

// GuideThrottled reports whether a guide refresh at now should be
// suppressed by the empty-result throttle.
func (s *Store) GuideThrottled(window time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.emptyGuideAt.IsZero() && now.Sub(s.emptyGuideAt) < window
}
