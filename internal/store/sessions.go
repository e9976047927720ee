package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const captureSessionColumns = `id, user_id, created_at, display_date, display_time, original_text, tasks, version`

func scanCaptureSession(row interface{ Scan(...any) error }) (CaptureSession, error) {
	var item CaptureSession
	var tasksJSON []byte
	if err := row.Scan(&item.ID, &item.UserID, &item.CreatedAt, &item.Date, &item.Time, &item.OriginalText, &tasksJSON, &item.Version); err != nil {
		return CaptureSession{}, err
	}
	item.Tasks = make([]CaptureTask, 0)
	if len(tasksJSON) > 0 {
		if err := json.Unmarshal(tasksJSON, &item.Tasks); err != nil {
			return CaptureSession{}, fmt.Errorf("decode session tasks: %w", err)
		}
	}
	return item, nil
}

func encodeTasks(tasks []CaptureTask) ([]byte, error) {
	if tasks == nil {
		tasks = []CaptureTask{}
	}
	encoded, err := json.Marshal(tasks)
	if err != nil {
		return nil, fmt.Errorf("encode session tasks: %w", err)
	}
	return encoded, nil
}

// ListCaptureSessions returns the user's sessions newest first.
func (s *PostgresStore) ListCaptureSessions(ctx context.Context, userID string) ([]CaptureSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+captureSessionColumns+`
		FROM capture_sessions
		WHERE user_id=$1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list capture sessions: %w", err)
	}
	defer rows.Close()

	items := make([]CaptureSession, 0)
	for rows.Next() {
		item, err := scanCaptureSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture session: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate capture sessions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCaptureSession(ctx context.Context, userID, sessionID string) (CaptureSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+captureSessionColumns+`
		FROM capture_sessions
		WHERE user_id=$1 AND id=$2
	`, userID, sessionID)
	return scanCaptureSession(row)
}

func (s *PostgresStore) InsertCaptureSession(ctx context.Context, item CaptureSession) error {
	tasks, err := encodeTasks(item.Tasks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO capture_sessions (id, user_id, created_at, display_date, display_time, original_text, tasks, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
	`, item.ID, item.UserID, item.CreatedAt, item.Date, item.Time, item.OriginalText, tasks)
	if err != nil {
		return fmt.Errorf("insert capture session: %w", err)
	}
	return nil
}

// ReplaceCaptureTasks rewrites the task array when the stored version still
// equals expectedVersion. It returns ErrVersionConflict when another writer got
// there first and sql.ErrNoRows when the session is gone.
func (s *PostgresStore) ReplaceCaptureTasks(ctx context.Context, userID, sessionID string, expectedVersion int, tasks []CaptureTask) (int, error) {
	encoded, err := encodeTasks(tasks)
	if err != nil {
		return 0, err
	}
	var version int
	err = s.db.QueryRowContext(ctx, `
		UPDATE capture_sessions
		SET tasks=$4, version=version+1
		WHERE user_id=$1 AND id=$2 AND version=$3
		RETURNING version
	`, userID, sessionID, expectedVersion, encoded).Scan(&version)
	if err == nil {
		return version, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("replace capture tasks: %w", err)
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM capture_sessions WHERE user_id=$1 AND id=$2)`, userID, sessionID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("check capture session: %w", err)
	}
	if exists {
		return 0, ErrVersionConflict
	}
	return 0, sql.ErrNoRows
}

// DeleteCaptureSession removes the session. When expectedVersion is positive
// the delete only happens if the version still matches.
func (s *PostgresStore) DeleteCaptureSession(ctx context.Context, userID, sessionID string, expectedVersion int) (bool, error) {
	query := `DELETE FROM capture_sessions WHERE user_id=$1 AND id=$2`
	args := []any{userID, sessionID}
	if expectedVersion > 0 {
		query += ` AND version=$3`
		args = append(args, expectedVersion)
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("delete capture session: %w", err)
	}
	return affected(result, "delete capture session")
}
