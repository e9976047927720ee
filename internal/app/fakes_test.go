package app

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"ignisos/api/internal/config"
	"ignisos/api/internal/feed"
	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/roster"
	"ignisos/api/internal/search"
	"ignisos/api/internal/store"
	"ignisos/api/internal/taskboard"
)

// fakeStore keeps everything in maps. It serves as the data store, the user
// store, the session store and the capture-session store of the task board.
type fakeStore struct {
	mu sync.Mutex

	pingFn        func(context.Context) error
	sessionPingFn func(context.Context) error

	users         map[string]store.User
	resets        map[string]string
	failures      map[string]int
	refresh       map[string]string
	revoked       map[string]bool
	captures      map[string]store.CaptureSession
	clients       map[string]store.MaintenanceClient
	maintenance   map[string]store.MaintenanceTask
	projects      map[string]store.KanbanProject
	kanban        map[string]store.KanbanTask
	qc            map[string]store.QCProject
	weeks         map[string]store.Week
	weekly        map[string]store.WeeklyTask
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]store.User{},
		resets:      map[string]string{},
		failures:    map[string]int{},
		refresh:     map[string]string{},
		revoked:     map[string]bool{},
		captures:    map[string]store.CaptureSession{},
		clients:     map[string]store.MaintenanceClient{},
		maintenance: map[string]store.MaintenanceTask{},
		projects:    map[string]store.KanbanProject{},
		kanban:      map[string]store.KanbanTask{},
		qc:          map[string]store.QCProject{},
		weeks:       map[string]store.Week{},
		weekly:      map[string]store.WeeklyTask{},
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users.

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) TouchLastLogin(context.Context, string) error { return nil }

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) ConsumePasswordReset(_ context.Context, token, passwordHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", sql.ErrNoRows
	}
	user, ok := f.users[userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	delete(f.resets, token)
	user.PasswordHash = passwordHash
	f.users[userID] = user
	return userID, nil
}

func (f *fakeStore) RecentSignInFailures(_ context.Context, email string, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[email], nil
}

func (f *fakeStore) RecordSignInFailure(_ context.Context, email string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[email]++
	return nil
}

func (f *fakeStore) ClearSignInFailures(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, email)
	return nil
}

// Sessions.

type fakeSessions struct{ *fakeStore }

func (f fakeSessions) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f fakeSessions) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f fakeSessions) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f fakeSessions) RevokeUserRefreshSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hash, owner := range f.refresh {
		if owner == userID {
			delete(f.refresh, hash)
		}
	}
	return nil
}

func (f fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f fakeSessions) Ping(ctx context.Context) error {
	if f.sessionPingFn != nil {
		return f.sessionPingFn(ctx)
	}
	return nil
}

// Capture sessions.

func (f *fakeStore) ListCaptureSessions(_ context.Context, userID string) ([]store.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.CaptureSession{}
	for _, s := range f.captures {
		if s.UserID == userID {
			s.Tasks = append([]store.CaptureTask(nil), s.Tasks...)
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetCaptureSession(_ context.Context, userID, sessionID string) (store.CaptureSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.captures[sessionID]
	if !ok || s.UserID != userID {
		return store.CaptureSession{}, sql.ErrNoRows
	}
	s.Tasks = append([]store.CaptureTask(nil), s.Tasks...)
	return s, nil
}

func (f *fakeStore) InsertCaptureSession(_ context.Context, item store.CaptureSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.Tasks = append([]store.CaptureTask(nil), item.Tasks...)
	f.captures[item.ID] = item
	return nil
}

func (f *fakeStore) ReplaceCaptureTasks(_ context.Context, userID, sessionID string, expected int, tasks []store.CaptureTask) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.captures[sessionID]
	if !ok || s.UserID != userID {
		return 0, sql.ErrNoRows
	}
	if s.Version != expected {
		return 0, store.ErrVersionConflict
	}
	s.Tasks = append([]store.CaptureTask(nil), tasks...)
	s.Version++
	f.captures[sessionID] = s
	return s.Version, nil
}

func (f *fakeStore) DeleteCaptureSession(_ context.Context, userID, sessionID string, expected int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.captures[sessionID]
	if !ok || s.UserID != userID || (expected > 0 && s.Version != expected) {
		return false, nil
	}
	delete(f.captures, sessionID)
	return true, nil
}

// Maintenance.

func (f *fakeStore) ListMaintenanceClients(_ context.Context, userID string) ([]store.MaintenanceClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.MaintenanceClient{}
	for _, c := range f.clients {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetMaintenanceClient(_ context.Context, userID, id string) (store.MaintenanceClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok || c.UserID != userID {
		return store.MaintenanceClient{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertMaintenanceClient(_ context.Context, c store.MaintenanceClient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c.ID] = c
	return nil
}

func (f *fakeStore) DeleteMaintenanceClient(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[id]
	if !ok || c.UserID != userID {
		return false, nil
	}
	delete(f.clients, id)
	for taskID, task := range f.maintenance {
		if task.ClientID == id {
			delete(f.maintenance, taskID)
		}
	}
	return true, nil
}

func (f *fakeStore) ListMaintenanceTasks(_ context.Context, userID string) ([]store.MaintenanceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.MaintenanceTask{}
	for _, t := range f.maintenance {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) InsertMaintenanceTask(_ context.Context, t store.MaintenanceTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maintenance[t.ID] = t
	return nil
}

func (f *fakeStore) ToggleMaintenanceTask(_ context.Context, userID, id string) (store.MaintenanceTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.maintenance[id]
	if !ok || t.UserID != userID {
		return store.MaintenanceTask{}, sql.ErrNoRows
	}
	t.Completed = !t.Completed
	t.CompletedAt = nil
	if t.Completed {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
	f.maintenance[id] = t
	return t, nil
}

func (f *fakeStore) DeleteMaintenanceTask(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.maintenance[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(f.maintenance, id)
	return true, nil
}

// Kanban.

func (f *fakeStore) ListKanbanProjects(_ context.Context, userID string) ([]store.KanbanProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.KanbanProject{}
	for _, p := range f.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetKanbanProject(_ context.Context, userID, id string) (store.KanbanProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok || p.UserID != userID {
		return store.KanbanProject{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertKanbanProject(_ context.Context, p store.KanbanProject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) UpdateKanbanProject(_ context.Context, p store.KanbanProject) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.projects[p.ID]
	if !ok || existing.UserID != p.UserID {
		return false, nil
	}
	f.projects[p.ID] = p
	return true, nil
}

func (f *fakeStore) DeleteKanbanProject(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok || p.UserID != userID {
		return false, nil
	}
	delete(f.projects, id)
	for taskID, task := range f.kanban {
		if task.ProjectID == id {
			delete(f.kanban, taskID)
		}
	}
	return true, nil
}

func (f *fakeStore) ListKanbanTasks(_ context.Context, userID, projectID string) ([]store.KanbanTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.KanbanTask{}
	if p, ok := f.projects[projectID]; !ok || p.UserID != userID {
		return out, nil
	}
	for _, t := range f.kanban {
		if t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) ownsKanbanTask(userID string, t store.KanbanTask) bool {
	p, ok := f.projects[t.ProjectID]
	return ok && p.UserID == userID
}

func (f *fakeStore) GetKanbanTask(_ context.Context, userID, id string) (store.KanbanTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.kanban[id]
	if !ok || !f.ownsKanbanTask(userID, t) {
		return store.KanbanTask{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) InsertKanbanTask(_ context.Context, t store.KanbanTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kanban[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateKanbanTask(_ context.Context, t store.KanbanTask) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.kanban[t.ID]; !ok {
		return false, nil
	}
	f.kanban[t.ID] = t
	return true, nil
}

func (f *fakeStore) DeleteKanbanTask(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.kanban[id]
	if !ok || !f.ownsKanbanTask(userID, t) {
		return false, nil
	}
	delete(f.kanban, id)
	return true, nil
}

// QC.

func (f *fakeStore) ListQCProjects(_ context.Context, userID string) ([]store.QCProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.QCProject{}
	for _, p := range f.qc {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetQCProject(_ context.Context, userID, id string) (store.QCProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.qc[id]
	if !ok || p.UserID != userID {
		return store.QCProject{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) InsertQCProject(_ context.Context, p store.QCProject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qc[p.ID] = p
	return nil
}

func (f *fakeStore) MutateQCChecks(_ context.Context, userID, id string, fn func(map[string]bool) string) (store.QCProject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.qc[id]
	if !ok || p.UserID != userID {
		return store.QCProject{}, sql.ErrNoRows
	}
	checks := make(map[string]bool, len(p.Checklist))
	for k, v := range p.Checklist {
		checks[k] = v
	}
	p.Status = fn(checks)
	p.Checklist = checks
	now := time.Now().UTC()
	p.LastCheck = &now
	f.qc[id] = p
	return p, nil
}

func (f *fakeStore) DeleteQCProject(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.qc[id]
	if !ok || p.UserID != userID {
		return false, nil
	}
	delete(f.qc, id)
	return true, nil
}

// Weekly.

func (f *fakeStore) ListWeeks(_ context.Context, userID string) ([]store.Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Week{}
	for _, w := range f.weeks {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetWeek(_ context.Context, userID, id string) (store.Week, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.weeks[id]
	if !ok || w.UserID != userID {
		return store.Week{}, sql.ErrNoRows
	}
	return w, nil
}

func (f *fakeStore) EnsureWeek(_ context.Context, week store.Week) (store.Week, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.weeks {
		if w.UserID == week.UserID && w.Name == week.Name {
			return w, false, nil
		}
	}
	if week.CreatedAt.IsZero() {
		week.CreatedAt = time.Now().UTC()
	}
	f.weeks[week.ID] = week
	return week, true, nil
}

func (f *fakeStore) DeleteWeek(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.weeks[id]
	if !ok || w.UserID != userID {
		return false, nil
	}
	delete(f.weeks, id)
	for taskID, task := range f.weekly {
		if task.WeekID == id {
			delete(f.weekly, taskID)
		}
	}
	return true, nil
}

func (f *fakeStore) ownsWeeklyTask(userID string, t store.WeeklyTask) bool {
	w, ok := f.weeks[t.WeekID]
	return ok && w.UserID == userID
}

func (f *fakeStore) ListWeeklyTasks(_ context.Context, userID, weekID string) ([]store.WeeklyTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.WeeklyTask{}
	for _, t := range f.weekly {
		if t.WeekID == weekID && f.ownsWeeklyTask(userID, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertWeeklyTask(_ context.Context, t store.WeeklyTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekly[t.ID] = t
	return nil
}

func (f *fakeStore) MutateWeeklyTask(_ context.Context, userID, id string, fn func(*store.WeeklyTask) error) (store.WeeklyTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.weekly[id]
	if !ok || !f.ownsWeeklyTask(userID, t) {
		return store.WeeklyTask{}, sql.ErrNoRows
	}
	t.Subtasks = append([]store.Subtask(nil), t.Subtasks...)
	t.Comments = append([]store.Comment(nil), t.Comments...)
	if err := fn(&t); err != nil {
		return store.WeeklyTask{}, err
	}
	t.UpdatedAt = time.Now().UTC()
	f.weekly[id] = t
	return t, nil
}

func (f *fakeStore) DeleteWeeklyTask(_ context.Context, userID, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.weekly[id]
	if !ok || !f.ownsWeeklyTask(userID, t) {
		return false, nil
	}
	delete(f.weekly, id)
	return true, nil
}

// Collaborators.

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]bool
}

func newFakeSearch() *fakeSearch { return &fakeSearch{indexed: map[string]bool{}} }

func (f *fakeSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) Index(records ...search.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.indexed[r.ID] = true
	}
}

func (f *fakeSearch) Delete(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.indexed, id)
	}
}

func (f *fakeSearch) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexed[id]
}

type fakeInspector struct {
	inspectFn func(context.Context, string) (qccheck.Report, error)
}

func (f *fakeInspector) Inspect(ctx context.Context, target string) (qccheck.Report, error) {
	if f.inspectFn != nil {
		return f.inspectFn(ctx, target)
	}
	return qccheck.Report{}, nil
}

func (f *fakeInspector) Budget() time.Duration { return 3 * time.Second }

type fakeMailer struct {
	configured bool
	sent       []string
	sendFn     func(to, userName, resetURL string) error
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendPasswordResetEmail(to, userName, resetURL string) error {
	f.sent = append(f.sent, resetURL)
	if f.sendFn != nil {
		return f.sendFn(to, userName, resetURL)
	}
	return nil
}

type fakeCapturer struct {
	captureFn func(context.Context, string, string) (store.CaptureSession, error)
}

func (f *fakeCapturer) Capture(ctx context.Context, userID, text string) (store.CaptureSession, error) {
	if f.captureFn != nil {
		return f.captureFn(ctx, userID, text)
	}
	return store.CaptureSession{}, errors.New("capture not stubbed")
}

type testEnv struct {
	store  *fakeStore
	search *fakeSearch
	hub    *feed.MemoryHub
	board  *taskboard.Board
	svc    *Service
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "http://localhost:5173",
		Timezone:   "UTC",
	}
}

// newTestEnv wires a Service over in-memory fakes, a real task board and a
// SQLite roster in a temp dir.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fs := newFakeStore()
	hub := feed.NewMemoryHub("test")
	t.Cleanup(func() { _ = hub.Close() })

	settings, err := roster.Open(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("open roster: %v", err)
	}
	t.Cleanup(func() { _ = settings.Close() })

	board := taskboard.New(fs, hub)
	index := newFakeSearch()
	svc := New(testConfig(), Components{
		Store:    fs,
		Users:    fs,
		Sessions: fakeSessions{fs},
		Board:    board,
		Settings: settings,
		Search:   index,
		Hub:      hub,
	})
	return &testEnv{store: fs, search: index, hub: hub, board: board, svc: svc}
}

func (e *testEnv) server() *HTTPServer {
	return NewHTTPServer(e.svc, "*")
}

// signUp registers a user and returns the session for it.
func (e *testEnv) signUp(t *testing.T, email string) Session {
	t.Helper()
	session, err := e.svc.SignUp(context.Background(), email, "secreto123", "")
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return session
}
