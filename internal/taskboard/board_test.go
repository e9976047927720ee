package taskboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]store.CaptureSession
	writes   int
	// beforeWrite runs ahead of every conditional write, simulating another
	// writer slipping in.
	beforeWrite func(m *memStore)
}

func newMemStore(sessions ...store.CaptureSession) *memStore {
	m := &memStore{sessions: map[string]store.CaptureSession{}}
	for _, s := range sessions {
		if s.Version == 0 {
			s.Version = 1
		}
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memStore) ListCaptureSessions(_ context.Context, userID string) ([]store.CaptureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.CaptureSession, 0)
	for _, s := range m.sessions {
		if s.UserID == userID {
			s.Tasks = cloneTasks(s.Tasks)
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetCaptureSession(_ context.Context, userID, sessionID string) (store.CaptureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return store.CaptureSession{}, sql.ErrNoRows
	}
	s.Tasks = cloneTasks(s.Tasks)
	return s, nil
}

func (m *memStore) InsertCaptureSession(_ context.Context, item store.CaptureSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.Tasks = cloneTasks(item.Tasks)
	m.sessions[item.ID] = item
	return nil
}

func (m *memStore) hook() {
	if m.beforeWrite != nil {
		hook := m.beforeWrite
		m.beforeWrite = nil
		hook(m)
	}
}

func (m *memStore) ReplaceCaptureTasks(_ context.Context, userID, sessionID string, expected int, tasks []store.CaptureTask) (int, error) {
	m.hook()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return 0, sql.ErrNoRows
	}
	if s.Version != expected {
		return 0, store.ErrVersionConflict
	}
	s.Tasks = cloneTasks(tasks)
	s.Version++
	m.sessions[sessionID] = s
	m.writes++
	return s.Version, nil
}

func (m *memStore) DeleteCaptureSession(_ context.Context, userID, sessionID string, expected int) (bool, error) {
	m.hook()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID || (expected > 0 && s.Version != expected) {
		return false, nil
	}
	delete(m.sessions, sessionID)
	m.writes++
	return true, nil
}

// rawWrite bumps a session the way another process would.
func (m *memStore) rawWrite(sessionID string, fn func(tasks []store.CaptureTask) []store.CaptureTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[sessionID]
	s.Tasks = fn(cloneTasks(s.Tasks))
	s.Version++
	m.sessions[sessionID] = s
}

func threeTaskSession() store.CaptureSession {
	return store.CaptureSession{
		ID:        "ses_1",
		UserID:    "usr_1",
		CreatedAt: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		Date:      "17 oct 2026",
		Tasks: []store.CaptureTask{
			{ID: "a", Description: "Llamar a Acme", Client: "Acme", Urgency: "Alta", Type: "Trabajo", Responsibles: []string{"Carlos Armando"}},
			{ID: "b", Description: "Pagar renta", Client: "Personal", Urgency: "Media", Type: "Personal", Responsibles: []string{}},
			{ID: "c", Description: "Revisar QA", Client: "Beta", Urgency: "Baja", Type: "Trabajo", Responsibles: []string{"Sara Esther"}},
		},
	}
}

func TestToggleFlipsOnlyTargetTask(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	applied, err := board.Toggle(ctx, "usr_1", "ses_1", "b")
	if err != nil || !applied {
		t.Fatalf("Toggle() = %v, %v", applied, err)
	}

	stored, _ := ms.GetCaptureSession(ctx, "usr_1", "ses_1")
	want := threeTaskSession().Tasks
	want[1].Completed = true
	for i := range want {
		got := stored.Tasks[i]
		if got.ID != want[i].ID || got.Completed != want[i].Completed || got.Description != want[i].Description || got.Urgency != want[i].Urgency {
			t.Fatalf("task %d changed unexpectedly: got %+v want %+v", i, got, want[i])
		}
	}
}

func TestDeleteOnlyTaskRemovesSession(t *testing.T) {
	session := threeTaskSession()
	session.Tasks = session.Tasks[:1]
	ms := newMemStore(session)
	board := New(ms, nil)
	ctx := context.Background()

	applied, err := board.Delete(ctx, "usr_1", "ses_1", "a")
	if err != nil || !applied {
		t.Fatalf("Delete() = %v, %v", applied, err)
	}
	if _, err := ms.GetCaptureSession(ctx, "usr_1", "ses_1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
	sessions, _ := board.Sessions(ctx, "usr_1")
	if len(sessions) != 0 {
		t.Fatalf("expected empty projection, got %d sessions", len(sessions))
	}
}

func TestDeleteKeepsOrderOfRemainingTasks(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	if _, err := board.Delete(ctx, "usr_1", "ses_1", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	stored, _ := ms.GetCaptureSession(ctx, "usr_1", "ses_1")
	if len(stored.Tasks) != 2 || stored.Tasks[0].ID != "b" || stored.Tasks[1].ID != "c" {
		t.Fatalf("unexpected remaining tasks: %+v", stored.Tasks)
	}

	// Deleting by id after a renumbering still hits the intended task.
	if _, err := board.Delete(ctx, "usr_1", "ses_1", "c"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	stored, _ = ms.GetCaptureSession(ctx, "usr_1", "ses_1")
	if len(stored.Tasks) != 1 || stored.Tasks[0].ID != "b" {
		t.Fatalf("wrong task removed: %+v", stored.Tasks)
	}
}

func TestMissingSessionOrTaskIsSilentNoop(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	cases := []struct {
		name      string
		sessionID string
		taskID    string
	}{
		{"unknown session", "ses_missing", "a"},
		{"unknown task", "ses_1", "zzz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			applied, err := board.Toggle(ctx, "usr_1", tc.sessionID, tc.taskID)
			if err != nil || applied {
				t.Fatalf("Toggle() = %v, %v; want false, nil", applied, err)
			}
		})
	}
	if ms.writes != 0 {
		t.Fatalf("expected no writes, got %d", ms.writes)
	}
}

func TestOtherUsersSessionIsInvisible(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	applied, err := board.Toggle(context.Background(), "usr_2", "ses_1", "a")
	if err != nil || applied {
		t.Fatalf("Toggle() = %v, %v; want false, nil", applied, err)
	}
}

func TestConcurrentWriteIsMergedNotOverwritten(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	// Warm the projection, then let another writer complete task c.
	if _, err := board.Sessions(ctx, "usr_1"); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	ms.beforeWrite = func(m *memStore) {
		m.rawWrite("ses_1", func(tasks []store.CaptureTask) []store.CaptureTask {
			tasks[2].Completed = true
			return tasks
		})
	}

	applied, err := board.Toggle(ctx, "usr_1", "ses_1", "a")
	if err != nil || !applied {
		t.Fatalf("Toggle() = %v, %v", applied, err)
	}
	stored, _ := ms.GetCaptureSession(ctx, "usr_1", "ses_1")
	if !stored.Tasks[0].Completed || !stored.Tasks[2].Completed {
		t.Fatalf("expected both writes to survive: %+v", stored.Tasks)
	}
}

func TestConcurrentDeleteOfTargetBecomesNoop(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	if _, err := board.Sessions(ctx, "usr_1"); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	ms.beforeWrite = func(m *memStore) {
		m.rawWrite("ses_1", func(tasks []store.CaptureTask) []store.CaptureTask {
			return tasks[1:]
		})
	}

	applied, err := board.Toggle(ctx, "usr_1", "ses_1", "a")
	if err != nil || applied {
		t.Fatalf("Toggle() = %v, %v; want false, nil", applied, err)
	}
}

func TestUpdateMergesFieldsAndValidates(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	urgency := "Baja"
	who := []string{"Ian Andrade"}
	patch := TaskPatch{Urgency: &urgency, Responsibles: &who, DueDate: OptionalString{Set: true, Value: strPtr("20/10/2026")}}
	applied, err := board.Update(ctx, "usr_1", "ses_1", "a", patch)
	if err != nil || !applied {
		t.Fatalf("Update() = %v, %v", applied, err)
	}
	stored, _ := ms.GetCaptureSession(ctx, "usr_1", "ses_1")
	task := stored.Tasks[0]
	if task.Urgency != "Baja" || task.Description != "Llamar a Acme" || len(task.Responsibles) != 1 || task.Responsibles[0] != "Ian Andrade" || task.DueDate == nil || *task.DueDate != "20/10/2026" {
		t.Fatalf("unexpected merged task: %+v", task)
	}

	bad := "Urgente"
	if _, err := board.Update(ctx, "usr_1", "ses_1", "a", TaskPatch{Urgency: &bad}); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
}

func TestAddSessionAssignsIDsAndOrdersNewestFirst(t *testing.T) {
	ms := newMemStore(threeTaskSession())
	board := New(ms, nil)
	ctx := context.Background()

	if _, err := board.Sessions(ctx, "usr_1"); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	added, err := board.AddSession(ctx, "usr_1", store.CaptureSession{
		CreatedAt: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Tasks:     []store.CaptureTask{{Description: "Nueva"}},
	})
	if err != nil {
		t.Fatalf("AddSession() error = %v", err)
	}
	if added.ID == "" || added.Tasks[0].ID == "" || added.Tasks[0].Responsibles == nil {
		t.Fatalf("expected generated ids: %+v", added)
	}
	sessions, _ := board.Sessions(ctx, "usr_1")
	if len(sessions) != 2 || sessions[0].ID != added.ID {
		t.Fatalf("expected new session first, got %+v", sessions)
	}
}

// Run with -race: writers on distinct sessions share one cached projection
// with readers cloning it.
func TestConcurrentWritersAndReadersShareProjection(t *testing.T) {
	const writers = 8
	var seeded []store.CaptureSession
	for i := 0; i < writers; i++ {
		seeded = append(seeded, store.CaptureSession{
			ID:        fmt.Sprintf("ses_%d", i),
			UserID:    "u",
			CreatedAt: time.Date(2026, 10, 17, 9, i, 0, 0, time.UTC),
			Tasks:     []store.CaptureTask{{ID: "t", Description: "Tarea", Responsibles: []string{}}},
		})
	}
	seeded = append(seeded, store.CaptureSession{
		ID:        "ses_gone",
		UserID:    "u",
		CreatedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Tasks:     []store.CaptureTask{{ID: "t", Description: "Borrar", Responsibles: []string{}}},
	})
	board := New(newMemStore(seeded...), nil)
	ctx := context.Background()
	if _, err := board.Sessions(ctx, "u"); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}

	const toggles = 5
	var wg sync.WaitGroup
	errs := make(chan error, 4*writers)
	for i := 0; i < writers; i++ {
		sessionID := fmt.Sprintf("ses_%d", i)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < toggles; n++ {
				if _, err := board.Toggle(ctx, "u", sessionID, "t"); err != nil {
					errs <- err
				}
			}
		}()
		go func() {
			defer wg.Done()
			for n := 0; n < toggles; n++ {
				if _, err := board.Tasks(ctx, "u", Filter{}); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := board.DeleteSession(ctx, "u", "ses_gone"); err != nil {
			errs <- err
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := board.AddSession(ctx, "u", store.CaptureSession{Tasks: []store.CaptureTask{{Description: "Nueva"}}}); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent operation failed: %v", err)
	}

	sessions, err := board.Sessions(ctx, "u")
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	if len(sessions) != writers+1 {
		t.Fatalf("expected %d sessions, got %d", writers+1, len(sessions))
	}
	for _, session := range sessions {
		if session.ID == "ses_gone" {
			t.Fatal("deleted session reappeared")
		}
		if session.Tasks[0].Description == "Tarea" && !session.Tasks[0].Completed {
			t.Fatalf("%s: an odd number of toggles must leave the task completed", session.ID)
		}
	}
}

func TestFlatViewsFilter(t *testing.T) {
	session := threeTaskSession()
	session.Tasks[1].Completed = true
	board := New(newMemStore(session), nil)
	ctx := context.Background()

	active, _ := board.ActiveTasks(ctx, "usr_1")
	if len(active) != 2 || active[0].ID != "a" || active[1].TaskIndex != 2 || active[0].SessionID != "ses_1" || active[0].Date != "17 oct 2026" {
		t.Fatalf("unexpected active tasks: %+v", active)
	}
	done, _ := board.CompletedTasks(ctx, "usr_1")
	if len(done) != 1 || done[0].ID != "b" {
		t.Fatalf("unexpected completed tasks: %+v", done)
	}
	high, _ := board.TasksByUrgency(ctx, "usr_1", "Alta")
	if len(high) != 1 || high[0].ID != "a" {
		t.Fatalf("unexpected Alta tasks: %+v", high)
	}
	sara, _ := board.TasksByResponsible(ctx, "usr_1", "Sara Esther")
	if len(sara) != 1 || sara[0].ID != "c" {
		t.Fatalf("unexpected tasks for Sara: %+v", sara)
	}
}

func TestLegacyTasksGetIDsOnLoad(t *testing.T) {
	session := threeTaskSession()
	for i := range session.Tasks {
		session.Tasks[i].ID = ""
	}
	ms := newMemStore(session)
	board := New(ms, nil)

	sessions, err := board.Sessions(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	for _, task := range sessions[0].Tasks {
		if task.ID == "" {
			t.Fatal("expected backfilled id")
		}
	}
	stored, _ := ms.GetCaptureSession(context.Background(), "usr_1", "ses_1")
	if stored.Tasks[0].ID != sessions[0].Tasks[0].ID {
		t.Fatal("expected backfilled ids to be persisted")
	}
}

type fakeHub struct {
	source    string
	ch        chan feed.Change
	published []feed.Change
	mu        sync.Mutex
}

func (h *fakeHub) Publish(_ context.Context, change feed.Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = append(h.published, change)
	return nil
}

func (h *fakeHub) Subscribe(context.Context, string) (*feed.Subscription, error) {
	return &feed.Subscription{C: h.ch}, nil
}

func (h *fakeHub) Source() string { return h.source }
func (h *fakeHub) Close() error   { return nil }

func TestForeignChangeInvalidatesProjection(t *testing.T) {
	hub := &fakeHub{source: "ignisos/api/self", ch: make(chan feed.Change)}
	ms := newMemStore(threeTaskSession())
	board := New(ms, hub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = board.Run(ctx) }()

	if _, err := board.Sessions(ctx, "usr_1"); err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	ms.rawWrite("ses_1", func(tasks []store.CaptureTask) []store.CaptureTask {
		tasks[0].Description = "Cambiado en otro equipo"
		return tasks
	})

	// Own echoes are ignored.
	hub.ch <- feed.Change{Collection: feed.CollectionSessions, Op: feed.OpUpdated, UserID: "usr_1", Source: "ignisos/api/self"}
	sessions, _ := board.Sessions(ctx, "usr_1")
	if sessions[0].Tasks[0].Description != "Llamar a Acme" {
		t.Fatalf("projection dropped on own change: %q", sessions[0].Tasks[0].Description)
	}

	hub.ch <- feed.Change{Collection: feed.CollectionSessions, Op: feed.OpUpdated, UserID: "usr_1", Source: "ignisos/api/other"}
	// A second send only completes once Run has handled the first.
	hub.ch <- feed.Change{Collection: feed.CollectionQC, Op: feed.OpUpdated, UserID: "usr_1", Source: "ignisos/api/other"}

	sessions, _ = board.Sessions(ctx, "usr_1")
	if sessions[0].Tasks[0].Description != "Cambiado en otro equipo" {
		t.Fatalf("expected reload after foreign change, got %q", sessions[0].Tasks[0].Description)
	}
}

func TestMutationsPublishChanges(t *testing.T) {
	hub := &fakeHub{source: "ignisos/api/self"}
	board := New(newMemStore(threeTaskSession()), hub)
	ctx := context.Background()

	if _, err := board.Toggle(ctx, "usr_1", "ses_1", "a"); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if _, err := board.DeleteSession(ctx, "usr_1", "ses_1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if len(hub.published) != 2 || hub.published[0].Op != feed.OpUpdated || hub.published[1].Op != feed.OpDeleted {
		t.Fatalf("unexpected published changes: %+v", hub.published)
	}
}

func strPtr(v string) *string { return &v }
