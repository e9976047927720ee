package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) ListMaintenanceClients(ctx context.Context, userID string) ([]MaintenanceClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM maintenance_clients
		WHERE user_id=$1
		ORDER BY name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance clients: %w", err)
	}
	defer rows.Close()

	items := make([]MaintenanceClient, 0)
	for rows.Next() {
		var item MaintenanceClient
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan maintenance client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maintenance clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetMaintenanceClient(ctx context.Context, userID, clientID string) (MaintenanceClient, error) {
	var item MaintenanceClient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM maintenance_clients
		WHERE user_id=$1 AND id=$2
	`, userID, clientID).Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt)
	if err != nil {
		return MaintenanceClient{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertMaintenanceClient(ctx context.Context, item MaintenanceClient) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_clients (id, user_id, name)
		VALUES ($1, $2, $3)
	`, item.ID, item.UserID, item.Name)
	if err != nil {
		return fmt.Errorf("insert maintenance client: %w", err)
	}
	return nil
}

// DeleteMaintenanceClient removes the client and every task filed under it in
// one transaction.
func (s *PostgresStore) DeleteMaintenanceClient(ctx context.Context, userID, clientID string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete maintenance client", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM maintenance_tasks WHERE user_id=$1 AND client_id=$2`, userID, clientID); err != nil {
			return fmt.Errorf("delete maintenance client tasks: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM maintenance_clients WHERE user_id=$1 AND id=$2`, userID, clientID)
		if err != nil {
			return fmt.Errorf("delete maintenance client: %w", err)
		}
		deleted, err = affected(result, "delete maintenance client")
		return err
	})
	return deleted, err
}

const maintenanceTaskColumns = `id, user_id, client_id, client_name, description, priority, due_date, completed, completed_at, created_at`

func scanMaintenanceTask(row interface{ Scan(...any) error }) (MaintenanceTask, error) {
	var item MaintenanceTask
	var completedAt sql.NullTime
	if err := row.Scan(&item.ID, &item.UserID, &item.ClientID, &item.ClientName, &item.Description, &item.Priority, &item.DueDate, &item.Completed, &completedAt, &item.CreatedAt); err != nil {
		return MaintenanceTask{}, err
	}
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) ListMaintenanceTasks(ctx context.Context, userID string) ([]MaintenanceTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+maintenanceTaskColumns+`
		FROM maintenance_tasks
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list maintenance tasks: %w", err)
	}
	defer rows.Close()

	items := make([]MaintenanceTask, 0)
	for rows.Next() {
		item, err := scanMaintenanceTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan maintenance task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate maintenance tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMaintenanceTask(ctx context.Context, item MaintenanceTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_tasks (id, user_id, client_id, client_name, description, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.ClientID, item.ClientName, item.Description, item.Priority, item.DueDate)
	if err != nil {
		return fmt.Errorf("insert maintenance task: %w", err)
	}
	return nil
}

// ToggleMaintenanceTask flips completion and stamps or clears completed_at.
func (s *PostgresStore) ToggleMaintenanceTask(ctx context.Context, userID, taskID string) (MaintenanceTask, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE maintenance_tasks
		SET completed = NOT completed,
			completed_at = CASE WHEN completed THEN NULL ELSE NOW() END
		WHERE user_id=$1 AND id=$2
		RETURNING `+maintenanceTaskColumns, userID, taskID)
	return scanMaintenanceTask(row)
}

func (s *PostgresStore) DeleteMaintenanceTask(ctx context.Context, userID, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM maintenance_tasks WHERE user_id=$1 AND id=$2`, userID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete maintenance task: %w", err)
	}
	return affected(result, "delete maintenance task")
}
