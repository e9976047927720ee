// Package roster keeps the team roster and UI preferences in a SQLite file
// local to the machine running the API. Nothing here is synced to Postgres.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"

	prefTheme        = "theme"
	prefOpenAIAPIKey = "openaiApiKey"
)

type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// MemberPatch carries the fields to overwrite; nil leaves a field untouched.
type MemberPatch struct {
	Name  *string `json:"name"`
	Color *string `json:"color"`
}

var DefaultMembers = []Member{
	{ID: "carlos", Name: "Carlos Armando", Color: "bg-blue-500"},
	{ID: "leslie", Name: "Leslie Marlene", Color: "bg-pink-500"},
	{ID: "sara", Name: "Sara Esther", Color: "bg-purple-500"},
	{ID: "vladimir", Name: "Vladimir", Color: "bg-indigo-500"},
	{ID: "ian", Name: "Ian Andrade", Color: "bg-green-500"},
	{ID: "jesus", Name: "Jesus Lerma", Color: "bg-orange-500"},
}

type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens (or creates) the roster database at path and seeds it on first use.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open settings db: %w", err)
	}
	// One writer keeps SQLite from reporting SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect settings db: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.seed(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create settings tables: %w", err)
	}
	return nil
}

func (s *Store) seed(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seeded int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM preferences WHERE key = 'seeded'`).Scan(&seeded); err != nil {
		return fmt.Errorf("check seed: %w", err)
	}
	if seeded > 0 {
		return nil
	}
	for i, m := range DefaultMembers {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO members (id, name, color, position) VALUES (?, ?, ?, ?)`,
			m.ID, m.Name, m.Color, i,
		); err != nil {
			return fmt.Errorf("seed member %s: %w", m.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO preferences (key, value) VALUES (?, ?), ('seeded', '1')`,
		prefTheme, ThemeDark,
	); err != nil {
		return fmt.Errorf("seed preferences: %w", err)
	}
	return tx.Commit()
}

// Members returns the roster in insertion order.
func (s *Store) Members(ctx context.Context) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color FROM members ORDER BY position, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := make([]Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Name, &m.Color); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// Add appends a member under a millisecond timestamp id, bumped until free.
func (s *Store) Add(ctx context.Context, name, color string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Member{}, fmt.Errorf("begin add member: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := s.now().UnixMilli()
	for {
		var taken int
		if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM members WHERE id = ?`, strconv.FormatInt(id, 10)).Scan(&taken); err != nil {
			return Member{}, fmt.Errorf("check member id: %w", err)
		}
		if taken == 0 {
			break
		}
		id++
	}

	var position int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) + 1 FROM members`).Scan(&position); err != nil {
		return Member{}, fmt.Errorf("next member position: %w", err)
	}

	m := Member{ID: strconv.FormatInt(id, 10), Name: name, Color: color}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO members (id, name, color, position) VALUES (?, ?, ?, ?)`,
		m.ID, m.Name, m.Color, position,
	); err != nil {
		return Member{}, fmt.Errorf("insert member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Member{}, fmt.Errorf("commit add member: %w", err)
	}
	return m, nil
}

// Update merges patch into the member; false when the id is unknown.
func (s *Store) Update(ctx context.Context, id string, patch MemberPatch) (Member, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Member
	err := s.db.QueryRowContext(ctx, `SELECT id, name, color FROM members WHERE id = ?`, id).Scan(&m.ID, &m.Name, &m.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return Member{}, false, nil
	}
	if err != nil {
		return Member{}, false, fmt.Errorf("get member: %w", err)
	}
	if patch.Name != nil {
		m.Name = *patch.Name
	}
	if patch.Color != nil {
		m.Color = *patch.Color
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE members SET name = ?, color = ? WHERE id = ?`, m.Name, m.Color, m.ID); err != nil {
		return Member{}, false, fmt.Errorf("update member: %w", err)
	}
	return m, true, nil
}

func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete member: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete member rows: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Theme(ctx context.Context) (string, error) {
	theme, err := s.preference(ctx, prefTheme)
	if err != nil {
		return "", err
	}
	if theme != ThemeLight {
		return ThemeDark, nil
	}
	return theme, nil
}

func (s *Store) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeDark && theme != ThemeLight {
		return fmt.Errorf("unknown theme %q", theme)
	}
	return s.setPreference(ctx, prefTheme, theme)
}

func (s *Store) ToggleTheme(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Theme(ctx)
	if err != nil {
		return "", err
	}
	next := ThemeLight
	if current == ThemeLight {
		next = ThemeDark
	}
	if err := s.setPreference(ctx, prefTheme, next); err != nil {
		return "", err
	}
	return next, nil
}

// OpenAIAPIKey returns the stored key, or "" when none was saved.
func (s *Store) OpenAIAPIKey(ctx context.Context) (string, error) {
	return s.preference(ctx, prefOpenAIAPIKey)
}

func (s *Store) SetOpenAIAPIKey(ctx context.Context, key string) error {
	return s.setPreference(ctx, prefOpenAIAPIKey, key)
}

func (s *Store) preference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) setPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}
