package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const sessionColumns = `id, session_id, user_id, messages, context, created_at, last_activity_at, is_active`

func scanSession(row rowScanner) (ChatSession, error) {
	var cs ChatSession
	var messages, sessionCtx, createdAt, lastActivity string
	var active int
	if err := row.Scan(&cs.ID, &cs.SessionID, &cs.UserID, &messages, &sessionCtx, &createdAt, &lastActivity, &active); err != nil {
		return ChatSession{}, err
	}
	cs.IsActive = active != 0

	var err error
	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return ChatSession{}, fmt.Errorf("parsing created_at for session %s: %w", cs.SessionID, err)
	}
	if cs.LastActivityAt, err = parseTime(lastActivity); err != nil {
		return ChatSession{}, fmt.Errorf("parsing last_activity_at for session %s: %w", cs.SessionID, err)
	}
	if err := json.Unmarshal([]byte(messages), &cs.Messages); err != nil {
		return ChatSession{}, fmt.Errorf("decoding messages for session %s: %w", cs.SessionID, err)
	}
	if cs.Messages == nil {
		cs.Messages = []ChatMessage{}
	}
	if cs.Context, err = unmarshalMap(sessionCtx); err != nil {
		return ChatSession{}, fmt.Errorf("decoding context for session %s: %w", cs.SessionID, err)
	}
	return cs, nil
}

func encodeSession(cs ChatSession) (messages, sessionCtx string, err error) {
	msgs := cs.Messages
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", "", fmt.Errorf("encoding messages: %w", err)
	}
	c, err := marshalMap(cs.Context)
	if err != nil {
		return "", "", fmt.Errorf("encoding context: %w", err)
	}
	return string(b), c, nil
}

// InsertSession stores a new chat session.
func (s *Store) InsertSession(ctx context.Context, cs ChatSession) error {
	messages, sessionCtx, err := encodeSession(cs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.SessionID, cs.UserID, messages, sessionCtx,
		formatTime(cs.CreatedAt), formatTime(cs.LastActivityAt), boolToInt(cs.IsActive),
	)
	return err
}

// GetSession looks a session up by its public session id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM chat_sessions WHERE session_id = ?`, sessionID)
	cs, err := scanSession(row)
	if err == sql.ErrNoRows {
		return ChatSession{}, ErrNotFound
	}
	return cs, err
}

// ReplaceSession overwrites the stored session (messages included) with cs.
func (s *Store) ReplaceSession(ctx context.Context, cs ChatSession) error {
	messages, sessionCtx, err := encodeSession(cs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE chat_sessions
		SET user_id = ?, messages = ?, context = ?, last_activity_at = ?, is_active = ?
		WHERE session_id = ?`,
		cs.UserID, messages, sessionCtx, formatTime(cs.LastActivityAt), boolToInt(cs.IsActive), cs.SessionID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListSessions returns the user's active sessions, most recently active first.
func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM chat_sessions
		WHERE user_id = ? AND is_active = 1
		ORDER BY last_activity_at DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, cs)
	}
	return results, rows.Err()
}

// DeactivateSession soft-deletes a session.
func (s *Store) DeactivateSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chat_sessions SET is_active = 0 WHERE session_id = ?`, sessionID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
