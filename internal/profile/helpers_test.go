package profile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/storage"
)

var ctx = context.Background()

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *mockClock {
	return &mockClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
}

// --- Store helpers ---

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *storage.Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateUser(ctx, storage.User{ID: id, Name: "Alex", Email: id + "@example.com", IsActive: true}))
}

var recordSeq int

func seedRecord(t *testing.T, s *storage.Store, userID string, p extract.Payload) string {
	t.Helper()
	src, raw, err := extract.Encode(p)
	require.NoError(t, err)
	recordSeq++
	id := uuid.NewString()
	require.NoError(t, s.InsertRecord(ctx, storage.RawRecord{
		ID: id, UserID: userID, Source: src, RawPayload: raw,
		CollectedAt: time.Date(2025, 1, 1, 0, 0, recordSeq, 0, time.UTC),
	}))
	return id
}
