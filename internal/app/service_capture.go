package app

import (
	"context"
	"strings"

	"ignisos/api/internal/capture"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/search"
	"ignisos/api/internal/store"
	"ignisos/api/internal/taskboard"
)

type CreateSessionInput struct {
	OriginalText string           `json:"originalText"`
	Tasks        []map[string]any `json:"tasks"`
}

type TaskListFilterInput struct {
	Status      string
	Urgency     string
	Responsible string
}

// Capture runs free text through the extraction pipeline and stores the
// resulting session.
func (s *Service) Capture(ctx context.Context, userID, text string) (store.CaptureSession, error) {
	if s.capture == nil {
		return store.CaptureSession{}, unavailable("CAPTURE_UNAVAILABLE", "Capture pipeline not configured")
	}
	session, err := s.capture.Capture(ctx, userID, text)
	if err != nil {
		return store.CaptureSession{}, err
	}
	s.index(search.SessionRecords(session)...)
	return session, nil
}

func (s *Service) Sessions(ctx context.Context, userID string) ([]store.CaptureSession, error) {
	return s.board.Sessions(ctx, userID)
}

// CreateSession stores a session whose tasks were supplied by the caller
// rather than extracted. Tasks go through the same normalization as captured
// ones.
func (s *Service) CreateSession(ctx context.Context, userID string, input CreateSessionInput) (store.CaptureSession, error) {
	if len(input.Tasks) == 0 {
		return store.CaptureSession{}, validationError("tasks", "tasks is required")
	}
	tasks := make([]store.CaptureTask, 0, len(input.Tasks))
	for _, raw := range input.Tasks {
		tasks = append(tasks, capture.Normalize(raw))
	}
	now := s.now().In(s.loc)
	session, err := s.board.AddSession(ctx, userID, store.CaptureSession{
		CreatedAt:    now,
		Date:         locale.ShortDate(now),
		Time:         locale.Clock(now),
		OriginalText: strings.TrimSpace(input.OriginalText),
		Tasks:        tasks,
	})
	if err != nil {
		return store.CaptureSession{}, err
	}
	s.index(search.SessionRecords(session)...)
	return session, nil
}

func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) (bool, error) {
	session, found, err := s.findSession(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	deleted, err := s.board.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return false, err
	}
	if deleted {
		ids := make([]string, 0, len(session.Tasks))
		for _, task := range session.Tasks {
			ids = append(ids, task.ID)
		}
		s.unindex(ids...)
	}
	return deleted, nil
}

func (s *Service) ToggleTask(ctx context.Context, userID, sessionID, taskID string) (bool, error) {
	return s.board.Toggle(ctx, userID, sessionID, taskID)
}

func (s *Service) UpdateTask(ctx context.Context, userID, sessionID, taskID string, patch taskboard.TaskPatch) (bool, error) {
	if err := patch.Validate(); err != nil {
		return false, validationError("task", err.Error())
	}
	applied, err := s.board.Update(ctx, userID, sessionID, taskID, patch)
	if err != nil || !applied {
		return applied, err
	}
	if session, found, err := s.findSession(ctx, userID, sessionID); err == nil && found {
		for _, task := range session.Tasks {
			if task.ID == taskID {
				s.index(search.CaptureRecord(userID, sessionID, task))
			}
		}
	}
	return true, nil
}

func (s *Service) DeleteTask(ctx context.Context, userID, sessionID, taskID string) (bool, error) {
	applied, err := s.board.Delete(ctx, userID, sessionID, taskID)
	if err != nil {
		return false, err
	}
	if applied {
		s.unindex(taskID)
	}
	return applied, nil
}

// Tasks lists captured tasks flattened across sessions. Status is "active",
// "completed" or empty for both.
func (s *Service) Tasks(ctx context.Context, userID string, input TaskListFilterInput) ([]taskboard.TaskView, error) {
	filter := taskboard.Filter{
		Urgency:     strings.TrimSpace(input.Urgency),
		Responsible: strings.TrimSpace(input.Responsible),
	}
	switch strings.TrimSpace(input.Status) {
	case "":
	case "active":
		filter.Completed = boolPtr(false)
	case "completed":
		filter.Completed = boolPtr(true)
	default:
		return nil, oneOf("status", input.Status, "active", "completed")
	}
	if filter.Urgency != "" {
		if err := oneOf("urgency", filter.Urgency, taskboard.Urgencies...); err != nil {
			return nil, err
		}
	}
	return s.board.Tasks(ctx, userID, filter)
}

func (s *Service) findSession(ctx context.Context, userID, sessionID string) (store.CaptureSession, bool, error) {
	sessions, err := s.board.Sessions(ctx, userID)
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
