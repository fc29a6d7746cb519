package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/storage"
)

// PreferenceStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*storage.UserPreferences, error)
	SavePreferences(ctx context.Context, userID string, prefs storage.UserPreferences) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DefaultCacheTTL bounds how stale a cached profile may get when nothing
// invalidates it.
const DefaultCacheTTL = 60 * time.Second

type cacheEntry struct {
	prefs    *storage.UserPreferences
	cachedAt time.Time
}

// Manager provides cached per-user access to stored preferences. Rebuilds and
// updates that go through the Manager invalidate the user's entry.
type Manager struct {
	store   PreferenceStore
	agg     *Aggregator
	clock   Clock
	ttl     time.Duration
	logger  *zap.Logger
	metrics *metrics.Collector

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with DefaultCacheTTL.
func NewManager(store PreferenceStore, agg *Aggregator, logger *zap.Logger, m *metrics.Collector) *Manager {
	return NewManagerWithClock(store, agg, realClock{}, DefaultCacheTTL, logger, m)
}

// NewManagerWithClock creates a Manager with a custom clock and TTL. A nil
// clock uses wall time.
func NewManagerWithClock(store PreferenceStore, agg *Aggregator, clock Clock, ttl time.Duration, logger *zap.Logger, m *metrics.Collector) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = realClock{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Manager{
		store:   store,
		agg:     agg,
		clock:   clock,
		ttl:     ttl,
		logger:  logger,
		metrics: m,
		cache:   make(map[string]cacheEntry),
	}
}

// GetPreferences returns the user's preferences, or nil if they have never
// been aggregated. Unknown users yield storage.ErrNotFound. The returned value
// is a copy and may be modified freely.
func (m *Manager) GetPreferences(ctx context.Context, userID string) (*storage.UserPreferences, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		p := deepCopyPreferences(e.prefs)
		m.mu.RUnlock()
		m.metrics.CacheHit()
		return p, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[userID]; ok && m.clock.Now().Before(e.cachedAt.Add(m.ttl)) {
		m.metrics.CacheHit()
		return deepCopyPreferences(e.prefs), nil
	}
	m.metrics.CacheMiss()

	prefs, err := m.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading preferences for %s: %w", userID, err)
	}
	m.cache[userID] = cacheEntry{prefs: prefs, cachedAt: m.clock.Now()}
	return deepCopyPreferences(prefs), nil
}

// UpdatePreferences replaces the user's preferences wholesale, stamping
// LastUpdated with the current time. Repeated interests keep their first
// occurrence.
func (m *Manager) UpdatePreferences(ctx context.Context, userID string, prefs storage.UserPreferences) error {
	prefs.Interests = uniqueStrings(prefs.Interests)
	prefs.LastUpdated = m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SavePreferences(ctx, userID, prefs); err != nil {
		return fmt.Errorf("saving preferences for %s: %w", userID, err)
	}
	delete(m.cache, userID)
	return nil
}

// Rebuild runs a full aggregation for the user and drops the cached copy.
func (m *Manager) Rebuild(ctx context.Context, userID string) (storage.UserPreferences, error) {
	prefs, err := m.agg.Rebuild(ctx, userID)
	if err != nil {
		return storage.UserPreferences{}, err
	}
	m.Invalidate(userID)
	return prefs, nil
}

// RebuildAll rebuilds every active user and clears the whole cache.
func (m *Manager) RebuildAll(ctx context.Context, limit int) (int, error) {
	n, err := m.agg.RebuildAll(ctx, limit)

	m.mu.Lock()
	m.cache = make(map[string]cacheEntry)
	m.mu.Unlock()
	return n, err
}

// Invalidate drops the cached preferences of one user.
func (m *Manager) Invalidate(userID string) {
	m.mu.Lock()
	delete(m.cache, userID)
	m.mu.Unlock()
}

// Insights derives insights from the user's current preferences. A user
// without preferences has no insights.
func (m *Manager) Insights(ctx context.Context, userID string) ([]Insight, error) {
	prefs, err := m.GetPreferences(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		return nil, nil
	}
	return GenerateInsights(*prefs, m.clock.Now()), nil
}

func deepCopyPreferences(p *storage.UserPreferences) *storage.UserPreferences {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Interests = copyStrings(p.Interests)
	cp.Habits = copyStrings(p.Habits)
	cp.Relationships = copyRelationships(p.Relationships)

	if p.Tasks != nil {
		cp.Tasks = make([]storage.TaskItem, len(p.Tasks))
		for i, t := range p.Tasks {
			cp.Tasks[i] = t
			cp.Tasks[i].DueDate = copyTime(t.DueDate)
		}
	}
	if p.HealthInfo != nil {
		h := *p.HealthInfo
		h.Medications = copyStrings(p.HealthInfo.Medications)
		h.Allergies = copyStrings(p.HealthInfo.Allergies)
		if p.HealthInfo.Doctors != nil {
			h.Doctors = make([]storage.Doctor, len(p.HealthInfo.Doctors))
			for i, d := range p.HealthInfo.Doctors {
				h.Doctors[i] = d
				h.Doctors[i].ContactInfo = copyContactInfo(d.ContactInfo)
				h.Doctors[i].LastVisit = copyTime(d.LastVisit)
			}
		}
		cp.HealthInfo = &h
	}
	if p.WorkInfo != nil {
		w := *p.WorkInfo
		w.Colleagues = copyRelationships(p.WorkInfo.Colleagues)
		w.Projects = copyStrings(p.WorkInfo.Projects)
		cp.WorkInfo = &w
	}
	return &cp
}

func copyRelationships(rs []storage.Relationship) []storage.Relationship {
	if rs == nil {
		return nil
	}
	out := make([]storage.Relationship, len(rs))
	for i, r := range rs {
		out[i] = r
		out[i].ContactInfo = copyContactInfo(r.ContactInfo)
	}
	return out
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// uniqueStrings drops repeats, preserving first-seen order.
func uniqueStrings(s []string) []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
