package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"tagwatch/internal/components/assert"
	"tagwatch/internal/components/chrono"
	"tagwatch/internal/release"
)

// MemoryStore is a Store that lives only as long as the process, it is used for
// dry runs and as the reference implementation in tests.
type MemoryStore struct {
	mutex    sync.Mutex
	time     chrono.TimeAPI
	releases map[string]release.Release
	// insertion order, ties on discovery time are broken by it
	order []string
}

func NewMemoryStore(clock chrono.TimeAPI) *MemoryStore {
	assert.NotNil(clock, "clock")
	return &MemoryStore{
		time:     clock,
		releases: make(map[string]release.Release),
	}
}

func (m *MemoryStore) Exists(ctx context.Context, identity string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.releases[identity]
	return ok, nil
}

func (m *MemoryStore) Get(ctx context.Context, identity string) (release.Release, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.releases[identity]
	if !ok {
		return release.Release{}, ErrNotFound
	}
	r.Metadata.Tags = slices.Clone(r.Metadata.Tags)
	return r, nil
}

func (m *MemoryStore) Insert(ctx context.Context, r release.Release) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.releases[r.Identity]; ok {
		return ErrDuplicateIdentity
	}
	r.DiscoveredAt = r.DiscoveredAt.Truncate(time.Second)
	r.Metadata.Tags = slices.Clone(r.Metadata.Tags)
	if r.SentAt != nil {
		sentAt := r.SentAt.Truncate(time.Second)
		r.SentAt = &sentAt
	}
	m.releases[r.Identity] = r
	m.order = append(m.order, r.Identity)
	return nil
}

func (m *MemoryStore) MarkSent(ctx context.Context, identity string, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	r, ok := m.releases[identity]
	if !ok {
		return ErrNotFound
	}
	if r.SentAt != nil {
		return nil
	}
	at = at.Truncate(time.Second)
	r.SentAt = &at
	m.releases[identity] = r
	return nil
}

func (m *MemoryStore) ListUnsent(ctx context.Context) ([]release.Release, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var out []release.Release
	for _, r := range m.sorted() {
		if r.SentAt == nil && !r.Blacklisted {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cutoff := m.time.Now().Add(-age).Truncate(time.Second)
	var deleted int64
	kept := m.order[:0]
	for _, identity := range m.order {
		if m.releases[identity].DiscoveredAt.Before(cutoff) {
			delete(m.releases, identity)
			deleted++
			continue
		}
		kept = append(kept, identity)
	}
	m.order = kept
	return deleted, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var stats Stats
	for _, r := range m.releases {
		stats.Total++
		if r.SentAt != nil {
			stats.Sent++
		}
		if r.Blacklisted {
			stats.Blacklisted++
		}
	}
	stats.Pending = stats.Total - stats.Sent
	return stats, nil
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]release.Release, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sorted := m.sorted()
	slices.Reverse(sorted)
	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// sorted returns every release by discovery time then insertion order.
func (m *MemoryStore) sorted() []release.Release {
	out := make([]release.Release, len(m.order))
	for i, identity := range m.order {
		out[i] = m.releases[identity]
	}
	slices.SortStableFunc(out, func(a, b release.Release) int {
		return a.DiscoveredAt.Compare(b.DiscoveredAt)
	})
	return out
}
