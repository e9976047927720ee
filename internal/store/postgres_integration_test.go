package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("IGNIS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("IGNIS_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestCaptureSessionVersionedRewrite(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	session := CaptureSession{
		ID:        "ses_1",
		UserID:    "usr_1",
		CreatedAt: time.Now(),
		Date:      "17 oct 2026",
		Time:      "10:00",
		Tasks:     []CaptureTask{{ID: "t1", Description: "Llamar", Responsibles: []string{}}},
	}
	if err := s.InsertCaptureSession(ctx, session); err != nil {
		t.Fatalf("InsertCaptureSession() error = %v", err)
	}

	loaded, err := s.GetCaptureSession(ctx, "usr_1", "ses_1")
	if err != nil {
		t.Fatalf("GetCaptureSession() error = %v", err)
	}
	if loaded.Version != 1 || len(loaded.Tasks) != 1 {
		t.Fatalf("unexpected session: %+v", loaded)
	}

	loaded.Tasks[0].Completed = true
	version, err := s.ReplaceCaptureTasks(ctx, "usr_1", "ses_1", 1, loaded.Tasks)
	if err != nil || version != 2 {
		t.Fatalf("ReplaceCaptureTasks() = %d, %v", version, err)
	}

	if _, err := s.ReplaceCaptureTasks(ctx, "usr_1", "ses_1", 1, loaded.Tasks); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := s.ReplaceCaptureTasks(ctx, "usr_1", "missing", 1, loaded.Tasks); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing session, got %v", err)
	}
	if _, err := s.GetCaptureSession(ctx, "usr_2", "ses_1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected other user to miss the session, got %v", err)
	}
}

func TestDeleteMaintenanceClientCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMaintenanceClient(ctx, MaintenanceClient{ID: "cli_acme", UserID: "usr_1", Name: "Acme"}); err != nil {
		t.Fatalf("InsertMaintenanceClient() error = %v", err)
	}
	for _, id := range []string{"mt_1", "mt_2"} {
		if err := s.InsertMaintenanceTask(ctx, MaintenanceTask{ID: id, UserID: "usr_1", ClientID: "cli_acme", ClientName: "Acme", Description: id, Priority: "media"}); err != nil {
			t.Fatalf("InsertMaintenanceTask() error = %v", err)
		}
	}

	deleted, err := s.DeleteMaintenanceClient(ctx, "usr_1", "cli_acme")
	if err != nil || !deleted {
		t.Fatalf("DeleteMaintenanceClient() = %v, %v", deleted, err)
	}
	tasks, err := s.ListMaintenanceTasks(ctx, "usr_1")
	if err != nil {
		t.Fatalf("ListMaintenanceTasks() error = %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected cascade to remove tasks, found %d", len(tasks))
	}
}

func TestDeleteMaintenanceClientFailureKeepsClientAndTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMaintenanceClient(ctx, MaintenanceClient{ID: "cli_acme", UserID: "usr_1", Name: "Acme"}); err != nil {
		t.Fatalf("InsertMaintenanceClient() error = %v", err)
	}
	for _, id := range []string{"mt_1", "mt_2"} {
		if err := s.InsertMaintenanceTask(ctx, MaintenanceTask{ID: id, UserID: "usr_1", ClientID: "cli_acme", ClientName: "Acme", Description: id, Priority: "media"}); err != nil {
			t.Fatalf("InsertMaintenanceTask() error = %v", err)
		}
	}
	// The client delete runs after the task delete; make it fail.
	if _, err := s.DB().ExecContext(ctx, `
		CREATE FUNCTION refuse_client_delete() RETURNS trigger AS $$
		BEGIN RAISE EXCEPTION 'client delete refused'; END;
		$$ LANGUAGE plpgsql;
		CREATE TRIGGER refuse_client_delete BEFORE DELETE ON maintenance_clients
		FOR EACH ROW EXECUTE FUNCTION refuse_client_delete();
	`); err != nil {
		t.Fatalf("install trigger: %v", err)
	}

	if deleted, err := s.DeleteMaintenanceClient(ctx, "usr_1", "cli_acme"); err == nil || deleted {
		t.Fatalf("expected the cascade to fail, got %v, %v", deleted, err)
	}
	clients, err := s.ListMaintenanceClients(ctx, "usr_1")
	if err != nil || len(clients) != 1 {
		t.Fatalf("client should survive: %+v %v", clients, err)
	}
	tasks, err := s.ListMaintenanceTasks(ctx, "usr_1")
	if err != nil || len(tasks) != 2 {
		t.Fatalf("both tasks should survive the rolled back cascade: %+v %v", tasks, err)
	}
}

func TestSweepOrphansRemovesLegacyChildren(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Rows left behind by a client-side cascade that stopped halfway.
	if err := s.InsertMaintenanceTask(ctx, MaintenanceTask{ID: "mt_orphan", UserID: "usr_1", ClientID: "cli_gone", Description: "x", Priority: "alta"}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if err := s.InsertKanbanTask(ctx, KanbanTask{ID: "kt_orphan", ProjectID: "prj_gone", Title: "x", Priority: "media", Column: "planning"}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if err := s.InsertWeeklyTask(ctx, WeeklyTask{ID: "wt_orphan", WeekID: "wk_gone", Title: "x", Day: "lunes", Status: "sin_empezar"}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	if err := s.InsertMaintenanceClient(ctx, MaintenanceClient{ID: "cli_live", UserID: "usr_1", Name: "Live"}); err != nil {
		t.Fatalf("insert client: %v", err)
	}
	if err := s.InsertMaintenanceTask(ctx, MaintenanceTask{ID: "mt_live", UserID: "usr_1", ClientID: "cli_live", Description: "y", Priority: "baja"}); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	res, err := s.SweepOrphans(ctx)
	if err != nil {
		t.Fatalf("SweepOrphans() error = %v", err)
	}
	if res.MaintenanceTasks != 1 || res.KanbanTasks != 1 || res.WeeklyTasks != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	tasks, err := s.ListMaintenanceTasks(ctx, "usr_1")
	if err != nil {
		t.Fatalf("ListMaintenanceTasks() error = %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "mt_live" {
		t.Fatalf("sweep touched live data: %+v", tasks)
	}
}

func TestMutateQCChecksRecordsLastCheck(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertQCProject(ctx, QCProject{ID: "qc_1", UserID: "usr_1", Name: "Sitio", URL: "https://example.com", Checklist: map[string]bool{"ssl": false}, Status: "pending"}); err != nil {
		t.Fatalf("InsertQCProject() error = %v", err)
	}
	updated, err := s.MutateQCChecks(ctx, "usr_1", "qc_1", func(checklist map[string]bool) string {
		checklist["ssl"] = true
		return "completed"
	})
	if err != nil {
		t.Fatalf("MutateQCChecks() error = %v", err)
	}
	if !updated.Checklist["ssl"] || updated.Status != "completed" || updated.LastCheck == nil {
		t.Fatalf("unexpected project: %+v", updated)
	}
}

func TestEnsureWeekIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, created, err := s.EnsureWeek(ctx, Week{ID: "wk_1", UserID: "usr_1", Name: "Semana 3 Octubre"})
	if err != nil || !created {
		t.Fatalf("EnsureWeek() = %v, %v", created, err)
	}
	second, created, err := s.EnsureWeek(ctx, Week{ID: "wk_2", UserID: "usr_1", Name: "Semana 3 Octubre"})
	if err != nil || created {
		t.Fatalf("EnsureWeek() second = %v, %v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same week, got %s and %s", first.ID, second.ID)
	}
}

func TestConsumePasswordResetIsSingleUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "usr_1", Email: "ana@ignis.mx", DisplayName: "Ana", PasswordHash: "old"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreatePasswordReset(ctx, "tok_hash", "usr_1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreatePasswordReset() error = %v", err)
	}
	if err := s.CreatePasswordReset(ctx, "tok_old", "usr_1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("CreatePasswordReset() error = %v", err)
	}

	userID, err := s.ConsumePasswordReset(ctx, "tok_hash", "new")
	if err != nil || userID != "usr_1" {
		t.Fatalf("ConsumePasswordReset() = %q, %v", userID, err)
	}
	user, err := s.GetUserByEmail(ctx, "ana@ignis.mx")
	if err != nil || user.PasswordHash != "new" {
		t.Fatalf("expected the new hash, got %+v %v", user, err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok_hash", "again"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected a spent token to miss, got %v", err)
	}
	if _, err := s.ConsumePasswordReset(ctx, "tok_old", "again"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected an expired token to miss, got %v", err)
	}
}
