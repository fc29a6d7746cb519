package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/persona/internal/extract"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

var ctx = context.Background()

type mockRebuilder struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (m *mockRebuilder) Rebuild(ctx context.Context, userID string) (storage.UserPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, userID)
	return storage.UserPreferences{}, m.err
}

func (m *mockRebuilder) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.users...)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertPayload(t *testing.T, s *storage.Store, id, userID string, p extract.Payload, at time.Time) storage.RawRecord {
	t.Helper()
	src, raw, err := extract.Encode(p)
	require.NoError(t, err)
	rec := storage.RawRecord{ID: id, UserID: userID, Source: src, RawPayload: raw, CollectedAt: at}
	require.NoError(t, s.InsertRecord(ctx, rec))
	got, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	return got
}

func insertRaw(t *testing.T, s *storage.Store, id string, source storage.Source, raw string, at time.Time) storage.RawRecord {
	t.Helper()
	require.NoError(t, s.InsertRecord(ctx, storage.RawRecord{ID: id, UserID: "u1", Source: source, RawPayload: raw, CollectedAt: at}))
	got, err := s.GetRecord(ctx, id)
	require.NoError(t, err)
	return got
}

func TestProcessRecord_Completes(t *testing.T) {
	s := openTestStore(t)
	rb := &mockRebuilder{}
	p := NewProcessor(s, rb, nil, nil)
	rec := insertPayload(t, s, "r1", "u1", extract.GmailMessage{Subject: "Quarterly planning review"}, time.Now())

	require.NoError(t, p.ProcessRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
	assert.NotEmpty(t, got.ProcessedFields)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "Quarterly planning review", got.ProcessedFields["subject"])
	assert.Equal(t, []string{"u1"}, rb.calls())
}

func TestProcessRecord_MalformedPayloadMarksFailed(t *testing.T) {
	s := openTestStore(t)
	rb := &mockRebuilder{}
	p := NewProcessor(s, rb, nil, nil)
	rec := insertRaw(t, s, "bad", storage.SourceIOSCalendar, "{not json", time.Now())

	err := p.ProcessRecord(ctx, rec)

	var xerr *extract.Error
	require.ErrorAs(t, err, &xerr)
	got, gerr := s.GetRecord(ctx, "bad")
	require.NoError(t, gerr)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Empty(t, rb.calls(), "failed records must not trigger a rebuild")
}

func TestProcessRecord_RebuildFailureKeepsRecordCompleted(t *testing.T) {
	s := openTestStore(t)
	p := NewProcessor(s, &mockRebuilder{err: errors.New("db down")}, nil, nil)
	rec := insertPayload(t, s, "r1", "u1", extract.Contact{FirstName: "Bob"}, time.Now())

	require.NoError(t, p.ProcessRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, got.Status)
}

func TestProcessRecord_NotPending(t *testing.T) {
	s := openTestStore(t)
	p := NewProcessor(s, &mockRebuilder{}, nil, nil)
	rec := insertPayload(t, s, "r1", "u1", extract.Contact{FirstName: "Bob"}, time.Now())
	require.NoError(t, p.ProcessRecord(ctx, rec))

	// Stale copy still says pending; the store refuses the transition.
	err := p.ProcessRecord(ctx, rec)
	assert.ErrorIs(t, err, ErrNotPending)

	fresh, gerr := s.GetRecord(ctx, "r1")
	require.NoError(t, gerr)
	assert.ErrorIs(t, p.ProcessRecord(ctx, fresh), ErrNotPending)
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	s := openTestStore(t)
	rb := &mockRebuilder{}
	p := NewProcessor(s, rb, nil, nil)
	now := time.Now()
	records := []storage.RawRecord{
		insertPayload(t, s, "r1", "u1", extract.GmailMessage{Subject: "Garden planning"}, now),
		insertRaw(t, s, "r2", storage.SourceGmail, "<<garbage>>", now.Add(time.Second)),
		insertPayload(t, s, "r3", "u1", extract.DriveFile{FileName: "a.pdf", FileType: "application/pdf"}, now.Add(2*time.Second)),
	}

	res := p.ProcessBatch(ctx, records)

	assert.Equal(t, 2, res.ProcessedCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, 0, res.SkippedCount)
	assert.False(t, res.Success)
	assert.Equal(t, []string{"Failed to process data: r2"}, res.Errors)

	r3, err := s.GetRecord(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusCompleted, r3.Status)
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	s := openTestStore(t)
	p := NewProcessor(s, &mockRebuilder{}, nil, nil)
	rec := insertPayload(t, s, "r1", "u1", extract.Contact{FirstName: "Bob"}, time.Now())

	res := p.ProcessBatch(ctx, []storage.RawRecord{rec})
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	s := openTestStore(t)
	p := NewProcessor(s, &mockRebuilder{}, nil, nil)
	rec := insertPayload(t, s, "r1", "u1", extract.Contact{FirstName: "Bob"}, time.Now())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	res := p.ProcessBatch(cctx, []storage.RawRecord{rec})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.FailedCount)
	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusPending, got.Status)
}

func TestProcessPending_FeedsProfile(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateUser(ctx, storage.User{ID: "u1", Name: "Alex", IsActive: true}))
	mgr := profile.NewManager(s, profile.NewAggregator(s, nil, nil), nil, nil)
	p := NewProcessor(s, mgr, nil, nil)
	insertPayload(t, s, "c1", "u1", extract.Contact{FirstName: "Greg", Organization: "City Medical"}, time.Now())

	res, err := p.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedCount)

	prefs, err := mgr.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, prefs)
	require.Len(t, prefs.Relationships, 1)
	assert.Equal(t, storage.RelationshipDoctor, prefs.Relationships[0].Type)
}

func TestProcessByID_NotFound(t *testing.T) {
	p := NewProcessor(openTestStore(t), &mockRebuilder{}, nil, nil)
	assert.ErrorIs(t, p.ProcessByID(ctx, "missing"), storage.ErrNotFound)
}
