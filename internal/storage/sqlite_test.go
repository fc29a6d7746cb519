package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err, "Open(:memory:)")
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.CreateUser(ctx, User{ID: id, Name: "Test " + id, Email: id + "@example.com", IsActive: true}))
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_raw_records_user_source", "idx_raw_records_status_collected", "idx_chat_sessions_user_activity"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "index %q", idx)
	}
}

func TestInsertAndGetRecord(t *testing.T) {
	s := openTestStore(t)

	collected := time.Date(2025, 3, 1, 10, 0, 0, 123456789, time.UTC)
	err := s.InsertRecord(ctx, RawRecord{
		ID:          "r1",
		UserID:      "u1",
		Source:      SourceGmail,
		DataType:    "email",
		RawPayload:  `{"subject":"hello"}`,
		CollectedAt: collected,
	})
	require.NoError(t, err)

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, SourceGmail, got.Source)
	assert.True(t, got.CollectedAt.Equal(collected))
	assert.Nil(t, got.ProcessedAt)
	assert.Empty(t, got.ProcessedFields)
}

func TestGetRecord_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindRecordsByUser_FiltersBySource(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i, src := range []Source{SourceGmail, SourceIOSContacts, SourceGmail} {
		require.NoError(t, s.InsertRecord(ctx, RawRecord{
			ID: string(rune('a' + i)), UserID: "u1", Source: src, RawPayload: "{}",
			CollectedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.InsertRecord(ctx, RawRecord{ID: "other", UserID: "u2", Source: SourceGmail, RawPayload: "{}"}))

	all, err := s.FindRecordsByUser(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	gmail, err := s.FindRecordsByUser(ctx, "u1", SourceGmail)
	require.NoError(t, err)
	require.Len(t, gmail, 2)
	assert.Equal(t, "a", gmail[0].ID)
	assert.Equal(t, "c", gmail[1].ID)
}

func TestFindPending_OldestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC()
	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.InsertRecord(ctx, RawRecord{
			ID: id, UserID: "u1", Source: SourceGmail, RawPayload: "{}",
			CollectedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.UpdateRecordStatus(ctx, "p1", StatusFailed, "boom"))

	pending, err := s.FindPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p2", pending[0].ID)
}

func TestUpdateRecordStatus_StampsProcessedAt(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertRecord(ctx, RawRecord{ID: "r1", UserID: "u1", Source: SourceGmail, RawPayload: "{}"}))

	require.NoError(t, s.UpdateProcessedFields(ctx, "r1", map[string]any{"subject": "hi"}))
	require.NoError(t, s.UpdateRecordStatus(ctx, "r1", StatusCompleted, ""))

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.ProcessedAt)
	assert.Equal(t, "hi", got.ProcessedFields["subject"])
}

func TestUpdateRecordStatus_OnlyFromPending(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertRecord(ctx, RawRecord{ID: "r1", UserID: "u1", Source: SourceGmail, RawPayload: "{}"}))
	require.NoError(t, s.UpdateRecordStatus(ctx, "r1", StatusFailed, "bad payload"))

	err := s.UpdateRecordStatus(ctx, "r1", StatusCompleted, "")
	assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)

	got, err := s.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "bad payload", got.ErrorMessage)
}

func TestUpdateRecordStatus_NotFound(t *testing.T) {
	s := openTestStore(t)
	assert.ErrorIs(t, s.UpdateRecordStatus(ctx, "nope", StatusCompleted, ""), ErrNotFound)
}

func TestDeleteRecord(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertRecord(ctx, RawRecord{ID: "r1", UserID: "u1", Source: SourceGmail, RawPayload: "{}"}))

	require.NoError(t, s.DeleteRecord(ctx, "r1"))
	assert.ErrorIs(t, s.DeleteRecord(ctx, "r1"), ErrNotFound)
}

func TestPreferences_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedUser(t, s, "u1")

	prefs, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, prefs, "preferences should be nil before first aggregation")

	due := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	want := UserPreferences{
		Interests: []string{"golang", "climbing"},
		Relationships: []Relationship{{
			Name: "Jane Doe", Type: RelationshipColleague, Source: SourceIOSContacts, Confidence: 0.8,
			ContactInfo: &ContactInfo{Email: "jane@acme.com", Organization: "Acme Corp"},
		}},
		Tasks:       []TaskItem{{Title: "Standup", DueDate: &due, Priority: DefaultTaskPriority, Source: SourceIOSCalendar}},
		LastUpdated: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.SavePreferences(ctx, "u1", want))

	got, err := s.GetPreferences(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Interests, got.Interests)
	assert.Equal(t, want.Relationships, got.Relationships)
	require.Len(t, got.Tasks, 1)
	assert.True(t, got.Tasks[0].DueDate.Equal(due))

	user, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user.Preferences)
	assert.Equal(t, want.Interests, user.Preferences.Interests)
}

func TestPreferences_UnknownUser(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetPreferences(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SavePreferences(ctx, "ghost", UserPreferences{}), ErrNotFound)
}

func TestSessions_InsertReplaceList(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for i, sid := range []string{"s1", "s2"} {
		require.NoError(t, s.InsertSession(ctx, ChatSession{
			ID: "id-" + sid, SessionID: sid, UserID: "u1", IsActive: true,
			CreatedAt: now, LastActivityAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	cs, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, cs.Messages)

	cs.Messages = append(cs.Messages,
		ChatMessage{ID: "m1", Content: "hi", Role: RoleUser, Timestamp: now},
		ChatMessage{ID: "m2", Content: "hello", Role: RoleAssistant, Timestamp: now, Sources: []string{"Contacts"}},
	)
	cs.LastActivityAt = now.Add(time.Minute)
	require.NoError(t, s.ReplaceSession(ctx, cs))

	list, err := s.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s1", list[0].SessionID, "most recently active session first")
	require.Len(t, list[0].Messages, 2)
	assert.Equal(t, []string{"Contacts"}, list[0].Messages[1].Sources)
}

func TestSessions_Deactivate(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.InsertSession(ctx, ChatSession{ID: "id1", SessionID: "s1", UserID: "u1", IsActive: true, CreatedAt: now, LastActivityAt: now}))

	require.NoError(t, s.DeactivateSession(ctx, "s1"))

	cs, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, cs.IsActive)

	list, err := s.ListSessions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, s.DeactivateSession(ctx, "missing"), ErrNotFound)
}
