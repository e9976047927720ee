package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const qcProjectColumns = `id, user_id, name, url, checklist, status, created_at, last_check`

func scanQCProject(row interface{ Scan(...any) error }) (QCProject, error) {
	var item QCProject
	var checklist []byte
	var lastCheck sql.NullTime
	if err := row.Scan(&item.ID, &item.UserID, &item.Name, &item.URL, &checklist, &item.Status, &item.CreatedAt, &lastCheck); err != nil {
		return QCProject{}, err
	}
	item.Checklist = map[string]bool{}
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &item.Checklist); err != nil {
			return QCProject{}, fmt.Errorf("decode qc checklist: %w", err)
		}
	}
	if lastCheck.Valid {
		item.LastCheck = &lastCheck.Time
	}
	return item, nil
}

func (s *PostgresStore) ListQCProjects(ctx context.Context, userID string) ([]QCProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+qcProjectColumns+`
		FROM qc_projects
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list qc projects: %w", err)
	}
	defer rows.Close()

	items := make([]QCProject, 0)
	for rows.Next() {
		item, err := scanQCProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qc project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate qc projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQCProject(ctx context.Context, userID, projectID string) (QCProject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+qcProjectColumns+` FROM qc_projects WHERE user_id=$1 AND id=$2`, userID, projectID)
	return scanQCProject(row)
}

func (s *PostgresStore) InsertQCProject(ctx context.Context, item QCProject) error {
	checklist, err := json.Marshal(item.Checklist)
	if err != nil {
		return fmt.Errorf("encode qc checklist: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qc_projects (id, user_id, name, url, checklist, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.UserID, item.Name, item.URL, checklist, item.Status)
	if err != nil {
		return fmt.Errorf("insert qc project: %w", err)
	}
	return nil
}

// MutateQCChecks locks the project row, lets mutate edit the checklist and
// return the derived status, then stores both and stamps last_check.
func (s *PostgresStore) MutateQCChecks(ctx context.Context, userID, projectID string, mutate func(checklist map[string]bool) string) (QCProject, error) {
	var updated QCProject
	err := s.withTx(ctx, "mutate qc checks", func(tx *sql.Tx) error {
		current, err := scanQCProject(tx.QueryRowContext(ctx, `SELECT `+qcProjectColumns+` FROM qc_projects WHERE user_id=$1 AND id=$2 FOR UPDATE`, userID, projectID))
		if err != nil {
			return err
		}
		status := mutate(current.Checklist)
		encoded, err := json.Marshal(current.Checklist)
		if err != nil {
			return fmt.Errorf("encode qc checklist: %w", err)
		}
		updated, err = scanQCProject(tx.QueryRowContext(ctx, `
			UPDATE qc_projects
			SET checklist=$3, status=$4, last_check=NOW()
			WHERE user_id=$1 AND id=$2
			RETURNING `+qcProjectColumns, userID, projectID, encoded, status))
		return err
	})
	return updated, err
}

func (s *PostgresStore) DeleteQCProject(ctx context.Context, userID, projectID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM qc_projects WHERE user_id=$1 AND id=$2`, userID, projectID)
	if err != nil {
		return false, fmt.Errorf("delete qc project: %w", err)
	}
	return affected(result, "delete qc project")
}
