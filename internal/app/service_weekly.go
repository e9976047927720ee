package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"ignisos/api/internal/export"
	"ignisos/api/internal/feed"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

var (
	weeklyDays     = []string{"cuentas", "lunes", "martes", "miercoles", "jueves", "viernes"}
	weeklyStatuses = []string{"sin_empezar", "en_progreso", "listo"}
	weeklyPressure = []string{"", "baja", "moderada", "alta"}
)

type WeeklyTaskInput struct {
	Title        *string   `json:"title"`
	Icon         *string   `json:"icon"`
	Day          *string   `json:"day"`
	Responsibles *[]string `json:"responsibles"`
	Status       *string   `json:"status"`
	Pressure     *string   `json:"pressure"`
	DueDate      *string   `json:"dueDate"`
	Semaforo     *string   `json:"semaforo"`
}

type WeeklyDay struct {
	ID    string             `json:"id"`
	Tasks []store.WeeklyTask `json:"tasks"`
}

var errSubtaskNotFound = errors.New("subtask not found")

// CurrentWeekName names the week containing now in the configured zone.
func (s *Service) CurrentWeekName() string {
	return locale.WeekName(s.now().In(s.loc))
}

// Weeks lists the user's weeks newest first, creating the current week when
// it does not exist yet.
func (s *Service) Weeks(ctx context.Context, userID string) ([]store.Week, error) {
	if _, _, err := s.CreateWeek(ctx, userID, s.CurrentWeekName()); err != nil {
		return nil, err
	}
	return s.store.ListWeeks(ctx, userID)
}

// CreateWeek returns the existing week when the name is already taken.
func (s *Service) CreateWeek(ctx context.Context, userID, name string) (store.Week, bool, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return store.Week{}, false, err
	}
	week, created, err := s.store.EnsureWeek(ctx, store.Week{
		ID:     util.NewID("wk"),
		UserID: userID,
		Name:   name,
	})
	if err != nil {
		return store.Week{}, false, err
	}
	if created {
		s.publish(ctx, feed.CollectionWeekly, feed.OpCreated, userID, week.ID)
	}
	return week, created, nil
}

// DeleteWeek removes the week together with its tasks.
func (s *Service) DeleteWeek(ctx context.Context, userID, weekID string) error {
	deleted, err := s.store.DeleteWeek(ctx, userID, weekID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Week")
	}
	s.publish(ctx, feed.CollectionWeekly, feed.OpDeleted, userID, weekID)
	return nil
}

// WeeklyBoard returns the week's tasks grouped by day in board order.
func (s *Service) WeeklyBoard(ctx context.Context, userID, weekID string) (store.Week, []WeeklyDay, error) {
	week, err := s.store.GetWeek(ctx, userID, weekID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Week{}, nil, notFound("Week")
	}
	if err != nil {
		return store.Week{}, nil, err
	}
	tasks, err := s.store.ListWeeklyTasks(ctx, userID, weekID)
	if err != nil {
		return store.Week{}, nil, err
	}
	days := make([]WeeklyDay, 0, len(weeklyDays))
	for _, id := range weeklyDays {
		day := WeeklyDay{ID: id, Tasks: []store.WeeklyTask{}}
		for _, task := range tasks {
			if task.Day == id {
				day.Tasks = append(day.Tasks, task)
			}
		}
		days = append(days, day)
	}
	return week, days, nil
}

func (s *Service) CreateWeeklyTask(ctx context.Context, userID, weekID string, input WeeklyTaskInput) (store.WeeklyTask, error) {
	if _, err := s.store.GetWeek(ctx, userID, weekID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.WeeklyTask{}, notFound("Week")
		}
		return store.WeeklyTask{}, err
	}
	now := s.now().UTC()
	task := store.WeeklyTask{
		ID:           util.NewID("wtk"),
		WeekID:       weekID,
		Day:          "lunes",
		Status:       "sin_empezar",
		Responsibles: []string{},
		Subtasks:     []store.Subtask{},
		Comments:     []store.Comment{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := applyWeeklyInput(&task, input); err != nil {
		return store.WeeklyTask{}, err
	}
	if err := required("title", task.Title); err != nil {
		return store.WeeklyTask{}, err
	}
	if err := s.store.InsertWeeklyTask(ctx, task); err != nil {
		return store.WeeklyTask{}, err
	}
	s.publish(ctx, feed.CollectionWeekly, feed.OpCreated, userID, task.ID)
	return task, nil
}

func (s *Service) UpdateWeeklyTask(ctx context.Context, userID, taskID string, input WeeklyTaskInput) (store.WeeklyTask, error) {
	return s.mutateWeeklyTask(ctx, userID, taskID, func(task *store.WeeklyTask) error {
		return applyWeeklyInput(task, input)
	})
}

func (s *Service) DeleteWeeklyTask(ctx context.Context, userID, taskID string) error {
	deleted, err := s.store.DeleteWeeklyTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Task")
	}
	s.publish(ctx, feed.CollectionWeekly, feed.OpDeleted, userID, taskID)
	return nil
}

func (s *Service) AddSubtask(ctx context.Context, userID, taskID, text, assignee string) (store.WeeklyTask, error) {
	text = strings.TrimSpace(text)
	if err := required("text", text); err != nil {
		return store.WeeklyTask{}, err
	}
	return s.mutateWeeklyTask(ctx, userID, taskID, func(task *store.WeeklyTask) error {
		task.Subtasks = append(task.Subtasks, store.Subtask{
			ID:       util.NewUUID(),
			Text:     text,
			Assignee: strings.TrimSpace(assignee),
		})
		return nil
	})
}

func (s *Service) ToggleSubtask(ctx context.Context, userID, taskID, subtaskID string) (store.WeeklyTask, error) {
	task, err := s.mutateWeeklyTask(ctx, userID, taskID, func(task *store.WeeklyTask) error {
		for i := range task.Subtasks {
			if task.Subtasks[i].ID == subtaskID {
				task.Subtasks[i].Completed = !task.Subtasks[i].Completed
				return nil
			}
		}
		return errSubtaskNotFound
	})
	if errors.Is(err, errSubtaskNotFound) {
		return store.WeeklyTask{}, notFound("Subtask")
	}
	return task, err
}

// AddComment appends a comment signed with the author's display name, or
// their email when they have none.
func (s *Service) AddComment(ctx context.Context, session Session, taskID, text string) (store.WeeklyTask, error) {
	text = strings.TrimSpace(text)
	if err := required("text", text); err != nil {
		return store.WeeklyTask{}, err
	}
	author := strings.TrimSpace(session.UserName)
	if author == "" {
		author = session.Email
	}
	now := s.now().UTC()
	return s.mutateWeeklyTask(ctx, session.UserID, taskID, func(task *store.WeeklyTask) error {
		task.Comments = append(task.Comments, store.Comment{
			ID:        util.NewUUID(),
			Text:      text,
			Author:    author,
			CreatedAt: now,
		})
		return nil
	})
}

func (s *Service) ExportWeek(ctx context.Context, userID, weekID, format string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, unavailable("EXPORT_UNAVAILABLE", "Export not configured")
	}
	f := export.Format(strings.ToLower(strings.TrimSpace(format)))
	if f == "" {
		f = export.FormatHTML
	}
	if !f.Valid() {
		return nil, oneOf("format", string(f), string(export.FormatHTML), string(export.FormatPDF), string(export.FormatDOCX))
	}
	result, err := s.exporter.Export(ctx, export.Request{UserID: userID, WeekID: weekID, Format: f})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Week")
	}
	return result, err
}

func (s *Service) mutateWeeklyTask(ctx context.Context, userID, taskID string, fn func(*store.WeeklyTask) error) (store.WeeklyTask, error) {
	task, err := s.store.MutateWeeklyTask(ctx, userID, taskID, fn)
	if errors.Is(err, sql.ErrNoRows) {
		return store.WeeklyTask{}, notFound("Task")
	}
	if err != nil {
		return store.WeeklyTask{}, err
	}
	s.publish(ctx, feed.CollectionWeekly, feed.OpUpdated, userID, task.ID)
	return task, nil
}

func applyWeeklyInput(task *store.WeeklyTask, input WeeklyTaskInput) error {
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if err := required("title", title); err != nil {
			return err
		}
		task.Title = title
	}
	if input.Icon != nil {
		task.Icon = strings.TrimSpace(*input.Icon)
	}
	if input.Day != nil {
		if err := oneOf("day", *input.Day, weeklyDays...); err != nil {
			return err
		}
		task.Day = *input.Day
	}
	if input.Responsibles != nil {
		responsibles := make([]string, 0, len(*input.Responsibles))
		for _, id := range *input.Responsibles {
			if id = strings.TrimSpace(id); id != "" {
				responsibles = append(responsibles, id)
			}
		}
		task.Responsibles = responsibles
	}
	if input.Status != nil {
		if err := oneOf("status", *input.Status, weeklyStatuses...); err != nil {
			return err
		}
		task.Status = *input.Status
	}
	if input.Pressure != nil {
		if err := oneOf("pressure", *input.Pressure, weeklyPressure...); err != nil {
			return err
		}
		task.Pressure = *input.Pressure
	}
	if input.DueDate != nil {
		task.DueDate = strings.TrimSpace(*input.DueDate)
	}
	if input.Semaforo != nil {
		task.Semaforo = strings.TrimSpace(*input.Semaforo)
	}
	return nil
}
