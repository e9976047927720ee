package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SweepOrphans deletes child rows whose parent no longer exists: maintenance
// tasks without a client, kanban tasks without a project and weekly tasks
// without a week. Cascading deletes are transactional, so orphans only come
// from rows written before that or by writers that bypass this store.
func (s *PostgresStore) SweepOrphans(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	err := s.withTx(ctx, "sweep orphans", func(tx *sql.Tx) error {
		steps := []struct {
			name  string
			query string
			dest  *int64
		}{
			{"maintenance tasks", `
				DELETE FROM maintenance_tasks t
				WHERE NOT EXISTS (SELECT 1 FROM maintenance_clients c WHERE c.id = t.client_id)`, &res.MaintenanceTasks},
			{"kanban tasks", `
				DELETE FROM kanban_tasks t
				WHERE NOT EXISTS (SELECT 1 FROM kanban_projects p WHERE p.id = t.project_id)`, &res.KanbanTasks},
			{"weekly tasks", `
				DELETE FROM weekly_tasks t
				WHERE NOT EXISTS (SELECT 1 FROM weekly_weeks w WHERE w.id = t.week_id)`, &res.WeeklyTasks},
		}
		for _, step := range steps {
			result, err := tx.ExecContext(ctx, step.query)
			if err != nil {
				return fmt.Errorf("sweep %s: %w", step.name, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return fmt.Errorf("sweep %s rows: %w", step.name, err)
			}
			*step.dest = n
		}
		return nil
	})
	return res, err
}
