package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres implements Searcher with ILIKE matching. It serves every query
// while Meilisearch is down or not configured.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

const (
	captureSubquery = `
		SELECT 'capture'::text AS kind, t->>'id' AS id,
			coalesce(t->>'description', '') AS title,
			coalesce(t->>'client', '') AS snippet,
			s.id AS parent_id, s.created_at AS created_at
		FROM capture_sessions s
		CROSS JOIN LATERAL jsonb_array_elements(s.tasks) AS t
		WHERE s.user_id = $1
			AND (t->>'description' ILIKE $2 OR t->>'client' ILIKE $2 OR t->'responsibles'::text ILIKE $2)`
	maintenanceSubquery = `
		SELECT 'maintenance'::text AS kind, mt.id,
			mt.description AS title,
			mt.client_name AS snippet,
			mt.client_id AS parent_id, mt.created_at
		FROM maintenance_tasks mt
		WHERE mt.user_id = $1
			AND (mt.description ILIKE $2 OR mt.client_name ILIKE $2)`
	kanbanSubquery = `
		SELECT 'kanban'::text AS kind, kt.id,
			kt.title AS title,
			kt.description AS snippet,
			kt.project_id AS parent_id, kt.created_at
		FROM kanban_tasks kt
		JOIN kanban_projects kp ON kp.id = kt.project_id
		WHERE kp.user_id = $1
			AND (kt.title ILIKE $2 OR kt.description ILIKE $2 OR kt.assignee ILIKE $2)`
)

func (p *Postgres) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	var subQueries []string
	if q.Kind == "" || q.Kind == KindCapture {
		subQueries = append(subQueries, captureSubquery)
	}
	if q.Kind == "" || q.Kind == KindMaintenance {
		subQueries = append(subQueries, maintenanceSubquery)
	}
	if q.Kind == "" || q.Kind == KindKanban {
		subQueries = append(subQueries, kanbanSubquery)
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}
	union := strings.Join(subQueries, " UNION ALL ")
	args := []any{q.UserID, "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM (%s) sub", union), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT kind, id, title, snippet, parent_id
		FROM (%s) sub
		ORDER BY created_at DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var kind string
		if err := rows.Scan(&kind, &r.ID, &r.Title, &r.Snippet, &r.ParentID); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.Kind = Kind(kind)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(text string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(text)
}

// LoadUserRecords returns every indexable task owned by userID, or by every
// user when userID is empty.
func (p *Postgres) LoadUserRecords(ctx context.Context, userID string) ([]Record, error) {
	records := make([]Record, 0)

	rows, err := p.db.QueryContext(ctx, `
		SELECT s.user_id, s.id, t->>'id', coalesce(t->>'description', ''),
			concat_ws(' ', t->>'client', t->>'urgency', t->'responsibles'::text)
		FROM capture_sessions s
		CROSS JOIN LATERAL jsonb_array_elements(s.tasks) AS t
		WHERE ($1 = '' OR s.user_id = $1) AND t->>'id' IS NOT NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load capture records: %w", err)
	}
	if err := collect(rows, KindCapture, &records); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT user_id, client_id, id, description, concat_ws(' ', client_name, priority)
		FROM maintenance_tasks
		WHERE $1 = '' OR user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load maintenance records: %w", err)
	}
	if err := collect(rows, KindMaintenance, &records); err != nil {
		return nil, err
	}

	rows, err = p.db.QueryContext(ctx, `
		SELECT kp.user_id, kt.project_id, kt.id, kt.title, concat_ws(' ', kt.description, kt.assignee)
		FROM kanban_tasks kt
		JOIN kanban_projects kp ON kp.id = kt.project_id
		WHERE $1 = '' OR kp.user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("load kanban records: %w", err)
	}
	if err := collect(rows, KindKanban, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func collect(rows *sql.Rows, kind Kind, into *[]Record) error {
	defer rows.Close()
	for rows.Next() {
		r := Record{Kind: kind}
		if err := rows.Scan(&r.UserID, &r.ParentID, &r.ID, &r.Title, &r.Body); err != nil {
			return fmt.Errorf("scan %s record: %w", kind, err)
		}
		*into = append(*into, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s records: %w", kind, err)
	}
	return nil
}
