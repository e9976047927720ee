// Package taskboard presents a user's captured tasks as one flat list while
// they are stored as arrays embedded in capture sessions.
//
// Board keeps a per-user projection of the sessions in memory. A projection is
// loaded from the store on first access and is authoritative for this process
// until a change made by another process arrives on the feed, at which point
// it is dropped and rebuilt on the next read. Writes never trust the
// projection blindly: every rewrite is conditional on the session version and
// a conflict reloads that session and re-applies the mutation.
package taskboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

const maxAttempts = 3

var ErrConflict = errors.New("session changed concurrently; retry")

type Store interface {
	ListCaptureSessions(ctx context.Context, userID string) ([]store.CaptureSession, error)
	GetCaptureSession(ctx context.Context, userID, sessionID string) (store.CaptureSession, error)
	InsertCaptureSession(ctx context.Context, item store.CaptureSession) error
	ReplaceCaptureTasks(ctx context.Context, userID, sessionID string, expectedVersion int, tasks []store.CaptureTask) (int, error)
	DeleteCaptureSession(ctx context.Context, userID, sessionID string, expectedVersion int) (bool, error)
}

type Board struct {
	store Store
	hub   feed.Hub

	mu    sync.Mutex
	users map[string][]store.CaptureSession
}

// New returns a Board. hub may be nil, in which case changes are neither
// published nor consumed.
func New(s Store, hub feed.Hub) *Board {
	return &Board{store: s, hub: hub, users: map[string][]store.CaptureSession{}}
}

// Run drops projections whenever another process changes a user's sessions.
// It blocks until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	if b.hub == nil {
		<-ctx.Done()
		return nil
	}
	sub, err := b.hub.Subscribe(ctx, "")
	if err != nil {
		return fmt.Errorf("subscribe to feed: %w", err)
	}
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-sub.C:
			if !ok {
				return nil
			}
			if change.Collection != feed.CollectionSessions || change.Source == b.hub.Source() {
				continue
			}
			b.Invalidate(change.UserID)
		}
	}
}

// Invalidate forgets the cached projection for userID.
func (b *Board) Invalidate(userID string) {
	b.mu.Lock()
	delete(b.users, userID)
	b.mu.Unlock()
}

// Sessions returns the user's sessions, newest first.
func (b *Board) Sessions(ctx context.Context, userID string) ([]store.CaptureSession, error) {
	b.mu.Lock()
	cached, ok := b.users[userID]
	var out []store.CaptureSession
	if ok {
		out = cloneSessions(cached)
	}
	b.mu.Unlock()
	if ok {
		return out, nil
	}

	loaded, err := b.store.ListCaptureSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		loaded[i] = b.ensureTaskIDs(ctx, loaded[i])
	}
	sortSessions(loaded)

	b.mu.Lock()
	b.users[userID] = loaded
	out = cloneSessions(loaded)
	b.mu.Unlock()
	return out, nil
}

// ensureTaskIDs gives ids to tasks written before ids existed and persists
// them. A lost race is harmless: the winner's ids are used on the next load.
func (b *Board) ensureTaskIDs(ctx context.Context, session store.CaptureSession) store.CaptureSession {
	missing := false
	for i := range session.Tasks {
		if session.Tasks[i].ID == "" {
			session.Tasks[i].ID = util.NewUUID()
			missing = true
		}
	}
	if !missing {
		return session
	}
	version, err := b.store.ReplaceCaptureTasks(ctx, session.UserID, session.ID, session.Version, session.Tasks)
	if err != nil {
		log.Printf("taskboard: backfill task ids for %s: %v", session.ID, err)
		return session
	}
	session.Version = version
	return session
}

// AddSession stores a new session. The id, timestamp and missing task ids are
// generated here.
func (b *Board) AddSession(ctx context.Context, userID string, session store.CaptureSession) (store.CaptureSession, error) {
	session.ID = util.NewID("ses")
	session.UserID = userID
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.Version = 1
	session.Tasks = cloneTasks(session.Tasks)
	for i := range session.Tasks {
		if session.Tasks[i].ID == "" {
			session.Tasks[i].ID = util.NewUUID()
		}
		if session.Tasks[i].Responsibles == nil {
			session.Tasks[i].Responsibles = []string{}
		}
	}
	if err := b.store.InsertCaptureSession(ctx, session); err != nil {
		return store.CaptureSession{}, err
	}

	b.remember(session)

	b.publish(ctx, userID, session.ID, feed.OpCreated)
	return session, nil
}

// DeleteSession removes a whole session. Unknown sessions are a no-op.
func (b *Board) DeleteSession(ctx context.Context, userID, sessionID string) (bool, error) {
	deleted, err := b.store.DeleteCaptureSession(ctx, userID, sessionID, 0)
	if err != nil {
		return false, err
	}
	b.forget(userID, sessionID)
	if deleted {
		b.publish(ctx, userID, sessionID, feed.OpDeleted)
	}
	return deleted, nil
}

// Toggle flips the completion flag of one task.
func (b *Board) Toggle(ctx context.Context, userID, sessionID, taskID string) (bool, error) {
	return b.mutate(ctx, userID, sessionID, taskID, func(tasks []store.CaptureTask, i int) []store.CaptureTask {
		tasks[i].Completed = !tasks[i].Completed
		return tasks
	})
}

// Update merges the fields present in patch into one task.
func (b *Board) Update(ctx context.Context, userID, sessionID, taskID string, patch TaskPatch) (bool, error) {
	if err := patch.Validate(); err != nil {
		return false, err
	}
	return b.mutate(ctx, userID, sessionID, taskID, func(tasks []store.CaptureTask, i int) []store.CaptureTask {
		patch.apply(&tasks[i])
		return tasks
	})
}

// Delete removes one task, and the session with it when it was the last one.
func (b *Board) Delete(ctx context.Context, userID, sessionID, taskID string) (bool, error) {
	return b.mutate(ctx, userID, sessionID, taskID, func(tasks []store.CaptureTask, i int) []store.CaptureTask {
		return append(tasks[:i], tasks[i+1:]...)
	})
}

type mutation func(tasks []store.CaptureTask, index int) []store.CaptureTask

// mutate applies fn to the addressed task and writes the resulting array back
// under the session's version. A missing session or task reports false with
// no error and writes nothing.
func (b *Board) mutate(ctx context.Context, userID, sessionID, taskID string, fn mutation) (bool, error) {
	session, ok, err := b.cachedSession(ctx, userID, sessionID)
	if err != nil || !ok {
		return false, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		index := indexOf(session.Tasks, taskID)
		if index < 0 {
			return false, nil
		}
		tasks := fn(cloneTasks(session.Tasks), index)

		if len(tasks) == 0 {
			deleted, err := b.store.DeleteCaptureSession(ctx, userID, sessionID, session.Version)
			if err != nil {
				return false, err
			}
			if deleted {
				b.forget(userID, sessionID)
				b.publish(ctx, userID, sessionID, feed.OpDeleted)
				return true, nil
			}
		} else {
			version, err := b.store.ReplaceCaptureTasks(ctx, userID, sessionID, session.Version, tasks)
			if err == nil {
				session.Tasks = tasks
				session.Version = version
				b.remember(session)
				b.publish(ctx, userID, sessionID, feed.OpUpdated)
				return true, nil
			}
			if errors.Is(err, sql.ErrNoRows) {
				b.forget(userID, sessionID)
				return false, nil
			}
			if !errors.Is(err, store.ErrVersionConflict) {
				return false, err
			}
		}

		// Someone else wrote the session first; start over from the stored copy.
		fresh, err := b.store.GetCaptureSession(ctx, userID, sessionID)
		if errors.Is(err, sql.ErrNoRows) {
			b.forget(userID, sessionID)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		session = fresh
		b.remember(session)
	}
	return false, ErrConflict
}

func (b *Board) cachedSession(ctx context.Context, userID, sessionID string) (store.CaptureSession, bool, error) {
	sessions, err := b.Sessions(ctx, userID)
	if err != nil {
		return store.CaptureSession{}, false, err
	}
	for _, session := range sessions {
		if session.ID == sessionID {
			return session, true, nil
		}
	}
	return store.CaptureSession{}, false, nil
}

// Cached projections are never written in place: remember and forget
// install a fresh slice so a reader cloning the previous one under the lock
// never sees a partial update.
func (b *Board) remember(session store.CaptureSession) {
	session.Tasks = cloneTasks(session.Tasks)
	b.mu.Lock()
	defer b.mu.Unlock()
	cached, ok := b.users[session.UserID]
	if !ok {
		return
	}
	next := make([]store.CaptureSession, 0, len(cached)+1)
	replaced := false
	for _, existing := range cached {
		if existing.ID == session.ID {
			existing = session
			replaced = true
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, session)
		sortSessions(next)
	}
	b.users[session.UserID] = next
}

func (b *Board) forget(userID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cached, ok := b.users[userID]
	if !ok {
		return
	}
	kept := make([]store.CaptureSession, 0, len(cached))
	for _, session := range cached {
		if session.ID != sessionID {
			kept = append(kept, session)
		}
	}
	b.users[userID] = kept
}

func (b *Board) publish(ctx context.Context, userID, sessionID, op string) {
	if b.hub == nil {
		return
	}
	err := b.hub.Publish(ctx, feed.Change{
		Collection: feed.CollectionSessions,
		Op:         op,
		UserID:     userID,
		DocumentID: sessionID,
	})
	if err != nil {
		log.Printf("taskboard: publish %s %s: %v", op, sessionID, err)
	}
}

func indexOf(tasks []store.CaptureTask, taskID string) int {
	for i, task := range tasks {
		if task.ID == taskID {
			return i
		}
	}
	return -1
}

func sortSessions(sessions []store.CaptureSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

func cloneSessions(in []store.CaptureSession) []store.CaptureSession {
	out := make([]store.CaptureSession, len(in))
	for i, session := range in {
		session.Tasks = cloneTasks(session.Tasks)
		out[i] = session
	}
	return out
}

func cloneTasks(in []store.CaptureTask) []store.CaptureTask {
	out := make([]store.CaptureTask, len(in))
	for i, task := range in {
		task.Responsibles = append([]string(nil), task.Responsibles...)
		if task.Responsibles == nil {
			task.Responsibles = []string{}
		}
		if task.DueDate != nil {
			due := *task.DueDate
			task.DueDate = &due
		}
		out[i] = task
	}
	return out
}
