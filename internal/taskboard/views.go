package taskboard

import (
	"context"

	"ignisos/api/internal/store"
)

// TaskView is a task flattened out of its session.
type TaskView struct {
	store.CaptureTask
	SessionID string `json:"sessionId"`
	TaskIndex int    `json:"taskIndex"`
	Date      string `json:"date"`
}

// Filter narrows the flat task list. Zero value matches everything.
type Filter struct {
	Completed   *bool
	Urgency     string
	Responsible string
}

func (f Filter) match(task store.CaptureTask) bool {
	if f.Completed != nil && task.Completed != *f.Completed {
		return false
	}
	if f.Urgency != "" && task.Urgency != f.Urgency {
		return false
	}
	if f.Responsible != "" && !contains(task.Responsibles, f.Responsible) {
		return false
	}
	return true
}

// Tasks flattens every session, newest session first, preserving task order
// inside each session.
func (b *Board) Tasks(ctx context.Context, userID string, filter Filter) ([]TaskView, error) {
	sessions, err := b.Sessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TaskView, 0)
	for _, session := range sessions {
		for i, task := range session.Tasks {
			if !filter.match(task) {
				continue
			}
			out = append(out, TaskView{CaptureTask: task, SessionID: session.ID, TaskIndex: i, Date: session.Date})
		}
	}
	return out, nil
}

func (b *Board) ActiveTasks(ctx context.Context, userID string) ([]TaskView, error) {
	return b.Tasks(ctx, userID, Filter{Completed: boolPtr(false)})
}

func (b *Board) CompletedTasks(ctx context.Context, userID string) ([]TaskView, error) {
	return b.Tasks(ctx, userID, Filter{Completed: boolPtr(true)})
}

// TasksByUrgency returns active tasks with the given urgency.
func (b *Board) TasksByUrgency(ctx context.Context, userID, urgency string) ([]TaskView, error) {
	return b.Tasks(ctx, userID, Filter{Completed: boolPtr(false), Urgency: urgency})
}

// TasksByResponsible returns active tasks assigned to name.
func (b *Board) TasksByResponsible(ctx context.Context, userID, name string) ([]TaskView, error) {
	return b.Tasks(ctx, userID, Filter{Completed: boolPtr(false), Responsible: name})
}

func boolPtr(v bool) *bool { return &v }

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
