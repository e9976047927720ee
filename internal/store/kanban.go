package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListKanbanProjects(ctx context.Context, userID string) ([]KanbanProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, color, created_at, updated_at
		FROM kanban_projects
		WHERE user_id=$1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list kanban projects: %w", err)
	}
	defer rows.Close()

	items := make([]KanbanProject, 0)
	for rows.Next() {
		var item KanbanProject
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.Description, &item.Color, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan kanban project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kanban projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetKanbanProject(ctx context.Context, userID, projectID string) (KanbanProject, error) {
	var item KanbanProject
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, color, created_at, updated_at
		FROM kanban_projects
		WHERE user_id=$1 AND id=$2
	`, userID, projectID).Scan(&item.ID, &item.UserID, &item.Name, &item.Description, &item.Color, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return KanbanProject{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertKanbanProject(ctx context.Context, item KanbanProject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kanban_projects (id, user_id, name, description, color)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.UserID, item.Name, item.Description, item.Color)
	if err != nil {
		return fmt.Errorf("insert kanban project: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateKanbanProject(ctx context.Context, item KanbanProject) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE kanban_projects
		SET name=$3, description=$4, color=$5, updated_at=NOW()
		WHERE user_id=$1 AND id=$2
	`, item.UserID, item.ID, item.Name, item.Description, item.Color)
	if err != nil {
		return false, fmt.Errorf("update kanban project: %w", err)
	}
	return affected(result, "update kanban project")
}

// DeleteKanbanProject removes the project and its tasks in one transaction.
func (s *PostgresStore) DeleteKanbanProject(ctx context.Context, userID, projectID string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete kanban project", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM kanban_projects WHERE user_id=$1 AND id=$2`, userID, projectID)
		if err != nil {
			return fmt.Errorf("delete kanban project: %w", err)
		}
		deleted, err = affected(result, "delete kanban project")
		if err != nil || !deleted {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kanban_tasks WHERE project_id=$1`, projectID); err != nil {
			return fmt.Errorf("delete kanban project tasks: %w", err)
		}
		return nil
	})
	return deleted, err
}

const kanbanTaskColumns = `t.id, t.project_id, t.title, t.description, t.priority, t.assignee, t.due_date, t.column_id, t.checklist, t.created_at, t.updated_at`

func scanKanbanTask(row interface{ Scan(...any) error }) (KanbanTask, error) {
	var item KanbanTask
	var checklist []byte
	if err := row.Scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Priority, &item.Assignee, &item.DueDate, &item.Column, &checklist, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return KanbanTask{}, err
	}
	item.Checklist = make([]ChecklistItem, 0)
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &item.Checklist); err != nil {
			return KanbanTask{}, fmt.Errorf("decode checklist: %w", err)
		}
	}
	return item, nil
}

func encodeChecklist(items []ChecklistItem) ([]byte, error) {
	if items == nil {
		items = []ChecklistItem{}
	}
	return json.Marshal(items)
}

// ListKanbanTasks returns the tasks of a project owned by userID.
func (s *PostgresStore) ListKanbanTasks(ctx context.Context, userID, projectID string) ([]KanbanTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+kanbanTaskColumns+`
		FROM kanban_tasks t
		JOIN kanban_projects p ON p.id = t.project_id
		WHERE p.user_id=$1 AND t.project_id=$2
		ORDER BY t.created_at ASC
	`, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list kanban tasks: %w", err)
	}
	defer rows.Close()

	items := make([]KanbanTask, 0)
	for rows.Next() {
		item, err := scanKanbanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kanban task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kanban tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetKanbanTask(ctx context.Context, userID, taskID string) (KanbanTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+kanbanTaskColumns+`
		FROM kanban_tasks t
		JOIN kanban_projects p ON p.id = t.project_id
		WHERE p.user_id=$1 AND t.id=$2
	`, userID, taskID)
	return scanKanbanTask(row)
}

func (s *PostgresStore) InsertKanbanTask(ctx context.Context, item KanbanTask) error {
	checklist, err := encodeChecklist(item.Checklist)
	if err != nil {
		return fmt.Errorf("encode checklist: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kanban_tasks (id, project_id, title, description, priority, assignee, due_date, column_id, checklist)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.ProjectID, item.Title, item.Description, item.Priority, item.Assignee, item.DueDate, item.Column, checklist)
	if err != nil {
		return fmt.Errorf("insert kanban task: %w", err)
	}
	return nil
}

// UpdateKanbanTask overwrites the editable fields of a task; callers merge
// partial updates before calling.
func (s *PostgresStore) UpdateKanbanTask(ctx context.Context, item KanbanTask) (bool, error) {
	checklist, err := encodeChecklist(item.Checklist)
	if err != nil {
		return false, fmt.Errorf("encode checklist: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE kanban_tasks
		SET title=$2, description=$3, priority=$4, assignee=$5, due_date=$6, column_id=$7, checklist=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.Priority, item.Assignee, item.DueDate, item.Column, checklist)
	if err != nil {
		return false, fmt.Errorf("update kanban task: %w", err)
	}
	return affected(result, "update kanban task")
}

func (s *PostgresStore) DeleteKanbanTask(ctx context.Context, userID, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM kanban_tasks t
		USING kanban_projects p
		WHERE p.id = t.project_id AND p.user_id=$1 AND t.id=$2
	`, userID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete kanban task: %w", err)
	}
	return affected(result, "delete kanban task")
}
