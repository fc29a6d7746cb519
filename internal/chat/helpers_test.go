package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

var ctx = context.Background()

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
}

type fixture struct {
	store    *storage.Store
	profiles *profile.Manager
	chat     *Manager
	clock    *mockClock
	seq      int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := newClock()
	agg := profile.NewAggregatorWithClock(s, clock, nil, nil)
	profiles := profile.NewManagerWithClock(s, agg, clock, time.Minute, nil, nil)
	return &fixture{
		store:    s,
		profiles: profiles,
		chat:     NewManagerWithClock(s, profiles, clock, 0, nil, nil),
		clock:    clock,
	}
}

func (f *fixture) seedUser(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(ctx, storage.User{ID: id, Name: name, Email: id + "@example.com", IsActive: true}))
}

func (f *fixture) seedRecord(t *testing.T, userID string, p extract.Payload) {
	t.Helper()
	src, raw, err := extract.Encode(p)
	require.NoError(t, err)
	f.seq++
	require.NoError(t, f.store.InsertRecord(ctx, storage.RawRecord{
		ID: uuid.NewString(), UserID: userID, Source: src, RawPayload: raw,
		CollectedAt: time.Date(2025, 1, 1, 0, 0, f.seq, 0, time.UTC),
	}))
}

func (f *fixture) rebuild(t *testing.T, userID string) {
	t.Helper()
	_, err := f.profiles.Rebuild(ctx, userID)
	require.NoError(t, err)
}

// ask sends text in a fresh session and returns the response.
func (f *fixture) ask(t *testing.T, userID, text string) Response {
	t.Helper()
	resp, err := f.chat.ProcessMessage(ctx, userID, text, "")
	require.NoError(t, err)
	return resp
}
