package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateUser inserts a user. Preferences on u are ignored; use SavePreferences.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at, last_login_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, formatTime(createdAt), formatNullTime(u.LastLoginAt), boolToInt(u.IsActive),
	)
	return err
}

// GetUser returns the user with its stored preferences, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var createdAt string
	var lastLogin, prefs sql.NullString
	var active int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, created_at, last_login_at, is_active, preferences
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &createdAt, &lastLogin, &active, &prefs)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.IsActive = active != 0
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at for user %s: %w", id, err)
	}
	if u.LastLoginAt, err = parseNullTime(lastLogin); err != nil {
		return User{}, fmt.Errorf("parsing last_login_at for user %s: %w", id, err)
	}
	if u.Preferences, err = decodePreferences(prefs); err != nil {
		return User{}, fmt.Errorf("decoding preferences for user %s: %w", id, err)
	}
	return u, nil
}

// TouchLogin records the user's latest login time.
func (s *Store) TouchLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListUserIDs returns the ids of all active users.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SavePreferences replaces the user's preferences wholesale.
func (s *Store) SavePreferences(ctx context.Context, userID string, prefs UserPreferences) error {
	b, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET preferences = ?, preferences_updated_at = ? WHERE id = ?`,
		string(b), formatTime(prefs.LastUpdated), userID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GetPreferences returns the stored preferences, nil if never aggregated, or
// ErrNotFound if the user does not exist.
func (s *Store) GetPreferences(ctx context.Context, userID string) (*UserPreferences, error) {
	var prefs sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT preferences FROM users WHERE id = ?`, userID).Scan(&prefs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodePreferences(prefs)
}

func decodePreferences(ns sql.NullString) (*UserPreferences, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var p UserPreferences
	if err := json.Unmarshal([]byte(ns.String), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
