package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) ListWeeks(ctx context.Context, userID string) ([]Week, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at
		FROM weekly_weeks
		WHERE user_id=$1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list weeks: %w", err)
	}
	defer rows.Close()

	items := make([]Week, 0)
	for rows.Next() {
		var item Week
		if err := rows.Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan week: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weeks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWeek(ctx context.Context, userID, weekID string) (Week, error) {
	var item Week
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at FROM weekly_weeks WHERE user_id=$1 AND id=$2
	`, userID, weekID).Scan(&item.ID, &item.UserID, &item.Name, &item.CreatedAt)
	if err != nil {
		return Week{}, err
	}
	return item, nil
}

// EnsureWeek inserts the week unless the user already has one with that name
// and returns the stored row either way.
func (s *PostgresStore) EnsureWeek(ctx context.Context, item Week) (Week, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO weekly_weeks (id, user_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO NOTHING
	`, item.ID, item.UserID, item.Name)
	if err != nil {
		return Week{}, false, fmt.Errorf("insert week: %w", err)
	}
	created, err := affected(result, "insert week")
	if err != nil {
		return Week{}, false, err
	}
	var stored Week
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, created_at FROM weekly_weeks WHERE user_id=$1 AND name=$2
	`, item.UserID, item.Name).Scan(&stored.ID, &stored.UserID, &stored.Name, &stored.CreatedAt)
	if err != nil {
		return Week{}, false, fmt.Errorf("read week: %w", err)
	}
	return stored, created, nil
}

// DeleteWeek removes the week and its tasks in one transaction.
func (s *PostgresStore) DeleteWeek(ctx context.Context, userID, weekID string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, "delete week", func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM weekly_weeks WHERE user_id=$1 AND id=$2`, userID, weekID)
		if err != nil {
			return fmt.Errorf("delete week: %w", err)
		}
		deleted, err = affected(result, "delete week")
		if err != nil || !deleted {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM weekly_tasks WHERE week_id=$1`, weekID); err != nil {
			return fmt.Errorf("delete week tasks: %w", err)
		}
		return nil
	})
	return deleted, err
}

// UsersWithWeeks lists every user that has created at least one week.
func (s *PostgresStore) UsersWithWeeks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM weekly_weeks ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list week owners: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan week owner: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const weeklyTaskColumns = `t.id, t.week_id, t.title, t.icon, t.day, t.responsibles, t.status, t.pressure, t.due_date, t.semaforo, t.subtasks, t.comments, t.created_at, t.updated_at`

func scanWeeklyTask(row interface{ Scan(...any) error }) (WeeklyTask, error) {
	var item WeeklyTask
	var responsibles, subtasks, comments []byte
	if err := row.Scan(&item.ID, &item.WeekID, &item.Title, &item.Icon, &item.Day, &responsibles, &item.Status, &item.Pressure, &item.DueDate, &item.Semaforo, &subtasks, &comments, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return WeeklyTask{}, err
	}
	item.Responsibles = []string{}
	item.Subtasks = []Subtask{}
	item.Comments = []Comment{}
	for _, field := range []struct {
		raw  []byte
		dest any
	}{{responsibles, &item.Responsibles}, {subtasks, &item.Subtasks}, {comments, &item.Comments}} {
		if len(field.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(field.raw, field.dest); err != nil {
			return WeeklyTask{}, fmt.Errorf("decode weekly task: %w", err)
		}
	}
	return item, nil
}

type weeklyTaskJSON struct {
	responsibles, subtasks, comments []byte
}

func encodeWeeklyTask(item WeeklyTask) (weeklyTaskJSON, error) {
	var out weeklyTaskJSON
	var err error
	if item.Responsibles == nil {
		item.Responsibles = []string{}
	}
	if item.Subtasks == nil {
		item.Subtasks = []Subtask{}
	}
	if item.Comments == nil {
		item.Comments = []Comment{}
	}
	if out.responsibles, err = json.Marshal(item.Responsibles); err != nil {
		return out, fmt.Errorf("encode responsibles: %w", err)
	}
	if out.subtasks, err = json.Marshal(item.Subtasks); err != nil {
		return out, fmt.Errorf("encode subtasks: %w", err)
	}
	if out.comments, err = json.Marshal(item.Comments); err != nil {
		return out, fmt.Errorf("encode comments: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListWeeklyTasks(ctx context.Context, userID, weekID string) ([]WeeklyTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+weeklyTaskColumns+`
		FROM weekly_tasks t
		JOIN weekly_weeks w ON w.id = t.week_id
		WHERE w.user_id=$1 AND t.week_id=$2
		ORDER BY t.created_at ASC
	`, userID, weekID)
	if err != nil {
		return nil, fmt.Errorf("list weekly tasks: %w", err)
	}
	defer rows.Close()

	items := make([]WeeklyTask, 0)
	for rows.Next() {
		item, err := scanWeeklyTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weekly tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertWeeklyTask(ctx context.Context, item WeeklyTask) error {
	encoded, err := encodeWeeklyTask(item)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weekly_tasks (id, week_id, title, icon, day, responsibles, status, pressure, due_date, semaforo, subtasks, comments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID, item.WeekID, item.Title, item.Icon, item.Day, encoded.responsibles, item.Status, item.Pressure, item.DueDate, item.Semaforo, encoded.subtasks, encoded.comments)
	if err != nil {
		return fmt.Errorf("insert weekly task: %w", err)
	}
	return nil
}

// MutateWeeklyTask locks the task row, applies mutate and writes the result
// back. sql.ErrNoRows means the task does not exist for userID.
func (s *PostgresStore) MutateWeeklyTask(ctx context.Context, userID, taskID string, mutate func(task *WeeklyTask) error) (WeeklyTask, error) {
	var updated WeeklyTask
	err := s.withTx(ctx, "mutate weekly task", func(tx *sql.Tx) error {
		current, err := scanWeeklyTask(tx.QueryRowContext(ctx, `
			SELECT `+weeklyTaskColumns+`
			FROM weekly_tasks t
			JOIN weekly_weeks w ON w.id = t.week_id
			WHERE w.user_id=$1 AND t.id=$2
			FOR UPDATE OF t
		`, userID, taskID))
		if err != nil {
			return err
		}
		if err := mutate(&current); err != nil {
			return err
		}
		encoded, err := encodeWeeklyTask(current)
		if err != nil {
			return err
		}
		updated, err = scanWeeklyTask(tx.QueryRowContext(ctx, `
			UPDATE weekly_tasks t
			SET title=$2, icon=$3, day=$4, responsibles=$5, status=$6, pressure=$7, due_date=$8, semaforo=$9, subtasks=$10, comments=$11, updated_at=NOW()
			WHERE t.id=$1
			RETURNING `+weeklyTaskColumns,
			current.ID, current.Title, current.Icon, current.Day, encoded.responsibles, current.Status, current.Pressure, current.DueDate, current.Semaforo, encoded.subtasks, encoded.comments))
		return err
	})
	return updated, err
}

func (s *PostgresStore) DeleteWeeklyTask(ctx context.Context, userID, taskID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM weekly_tasks t
		USING weekly_weeks w
		WHERE w.id = t.week_id AND w.user_id=$1 AND t.id=$2
	`, userID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete weekly task: %w", err)
	}
	return affected(result, "delete weekly task")
}
