package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const recordColumns = `id, user_id, source, data_type, raw_payload, processed_fields, status, collected_at, processed_at, error_message, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (RawRecord, error) {
	var r RawRecord
	var source, status, collectedAt, fields, metadata string
	var processedAt sql.NullString
	if err := row.Scan(&r.ID, &r.UserID, &source, &r.DataType, &r.RawPayload, &fields, &status,
		&collectedAt, &processedAt, &r.ErrorMessage, &metadata); err != nil {
		return RawRecord{}, err
	}
	r.Source = Source(source)
	r.Status = Status(status)

	var err error
	if r.CollectedAt, err = parseTime(collectedAt); err != nil {
		return RawRecord{}, fmt.Errorf("parsing collected_at for record %s: %w", r.ID, err)
	}
	if r.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return RawRecord{}, fmt.Errorf("parsing processed_at for record %s: %w", r.ID, err)
	}
	if r.ProcessedFields, err = unmarshalMap(fields); err != nil {
		return RawRecord{}, fmt.Errorf("decoding processed_fields for record %s: %w", r.ID, err)
	}
	if r.Metadata, err = unmarshalMap(metadata); err != nil {
		return RawRecord{}, fmt.Errorf("decoding metadata for record %s: %w", r.ID, err)
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]RawRecord, error) {
	defer rows.Close()
	var results []RawRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertRecord stores a newly collected record. An empty status is stored as pending.
func (s *Store) InsertRecord(ctx context.Context, r RawRecord) error {
	status := r.Status
	if status == "" {
		status = StatusPending
	}
	collectedAt := r.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}
	fields, err := marshalMap(r.ProcessedFields)
	if err != nil {
		return fmt.Errorf("encoding processed_fields: %w", err)
	}
	metadata, err := marshalMap(r.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Source), r.DataType, r.RawPayload, fields, string(status),
		formatTime(collectedAt), formatNullTime(r.ProcessedAt), r.ErrorMessage, metadata,
	)
	return err
}

// GetRecord returns the record with the given id, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, id string) (RawRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM raw_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return RawRecord{}, ErrNotFound
	}
	return r, err
}

// FindRecordsByUser returns every record of the user, oldest first. An empty
// source matches all sources.
func (s *Store) FindRecordsByUser(ctx context.Context, userID string, source Source) ([]RawRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM raw_records WHERE user_id = ?`
	args := []any{userID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY collected_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// FindPending returns up to limit pending records, oldest first.
func (s *Store) FindPending(ctx context.Context, limit int) ([]RawRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM raw_records
		WHERE status = ?
		ORDER BY collected_at ASC, id ASC
		LIMIT ?`, string(StatusPending), limit,
	)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// UpdateRecordStatus moves a pending record to status. Terminal statuses also
// stamp processed_at. Records that are no longer pending are left untouched
// and ErrInvalidTransition is returned.
func (s *Store) UpdateRecordStatus(ctx context.Context, id string, status Status, errMsg string) error {
	var processedAt sql.NullString
	if status == StatusCompleted || status == StatusFailed || status == StatusSkipped {
		processedAt = sql.NullString{String: formatTime(time.Now()), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM raw_records WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if Status(current) != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE raw_records SET status = ?, error_message = ?, processed_at = COALESCE(?, processed_at)
		WHERE id = ?`, string(status), errMsg, processedAt, id,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateProcessedFields replaces the extracted field map of a record.
func (s *Store) UpdateProcessedFields(ctx context.Context, id string, fields map[string]any) error {
	encoded, err := marshalMap(fields)
	if err != nil {
		return fmt.Errorf("encoding processed_fields: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE raw_records SET processed_fields = ? WHERE id = ?`, encoded, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteRecord removes a record permanently.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_records WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// ListRecords returns a user's records newest first, for browsing.
func (s *Store) ListRecords(ctx context.Context, userID string, source Source, limit, offset int) ([]RawRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM raw_records WHERE user_id = ?`
	args := []any{userID}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, string(source))
	}
	query += ` ORDER BY collected_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
