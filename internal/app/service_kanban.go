package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/search"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

var kanbanColumns = []string{"planning", "frontend", "backend", "qa", "completed"}

const (
	defaultProjectName        = "Proyecto Principal"
	defaultProjectDescription = "Mi primer proyecto"
	defaultProjectColor       = "bg-purple-500"
)

type KanbanProjectInput struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
}

type KanbanTaskInput struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Priority    *string                `json:"priority"`
	Assignee    *string                `json:"assignee"`
	DueDate     *string                `json:"dueDate"`
	Column      *string                `json:"column"`
	Checklist   *[]store.ChecklistItem `json:"checklist"`
}

type KanbanColumn struct {
	ID    string             `json:"id"`
	Tasks []store.KanbanTask `json:"tasks"`
}

// KanbanProjects lists the user's projects, creating the starter project the
// first time none exist.
func (s *Service) KanbanProjects(ctx context.Context, userID string) ([]store.KanbanProject, error) {
	projects, err := s.store.ListKanbanProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(projects) > 0 {
		return projects, nil
	}
	name, description, color := defaultProjectName, defaultProjectDescription, defaultProjectColor
	project, err := s.CreateKanbanProject(ctx, userID, KanbanProjectInput{Name: &name, Description: &description, Color: &color})
	if err != nil {
		return nil, err
	}
	return []store.KanbanProject{project}, nil
}

func (s *Service) CreateKanbanProject(ctx context.Context, userID string, input KanbanProjectInput) (store.KanbanProject, error) {
	now := s.now().UTC()
	project := store.KanbanProject{
		ID:        util.NewID("kpj"),
		UserID:    userID,
		Color:     defaultProjectColor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyProjectInput(&project, input); err != nil {
		return store.KanbanProject{}, err
	}
	if err := required("name", project.Name); err != nil {
		return store.KanbanProject{}, err
	}
	if err := s.store.InsertKanbanProject(ctx, project); err != nil {
		return store.KanbanProject{}, err
	}
	s.publish(ctx, feed.CollectionKanban, feed.OpCreated, userID, project.ID)
	return project, nil
}

func (s *Service) UpdateKanbanProject(ctx context.Context, userID, projectID string, input KanbanProjectInput) (store.KanbanProject, error) {
	project, err := s.store.GetKanbanProject(ctx, userID, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.KanbanProject{}, notFound("Project")
	}
	if err != nil {
		return store.KanbanProject{}, err
	}
	if err := applyProjectInput(&project, input); err != nil {
		return store.KanbanProject{}, err
	}
	updated, err := s.store.UpdateKanbanProject(ctx, project)
	if err != nil {
		return store.KanbanProject{}, err
	}
	if !updated {
		return store.KanbanProject{}, notFound("Project")
	}
	project.UpdatedAt = s.now().UTC()
	s.publish(ctx, feed.CollectionKanban, feed.OpUpdated, userID, project.ID)
	return project, nil
}

func applyProjectInput(project *store.KanbanProject, input KanbanProjectInput) error {
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if err := required("name", name); err != nil {
			return err
		}
		project.Name = name
	}
	if input.Description != nil {
		project.Description = strings.TrimSpace(*input.Description)
	}
	if input.Color != nil && strings.TrimSpace(*input.Color) != "" {
		project.Color = strings.TrimSpace(*input.Color)
	}
	return nil
}

// DeleteKanbanProject removes the project together with its tasks.
func (s *Service) DeleteKanbanProject(ctx context.Context, userID, projectID string) error {
	tasks, err := s.store.ListKanbanTasks(ctx, userID, projectID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteKanbanProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Project")
	}
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	s.unindex(ids...)
	s.publish(ctx, feed.CollectionKanban, feed.OpDeleted, userID, projectID)
	return nil
}

// KanbanBoard returns the project's tasks grouped by column in board order.
func (s *Service) KanbanBoard(ctx context.Context, userID, projectID string) ([]KanbanColumn, error) {
	if _, err := s.store.GetKanbanProject(ctx, userID, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("Project")
		}
		return nil, err
	}
	tasks, err := s.store.ListKanbanTasks(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	columns := make([]KanbanColumn, 0, len(kanbanColumns))
	for _, id := range kanbanColumns {
		column := KanbanColumn{ID: id, Tasks: []store.KanbanTask{}}
		for _, task := range tasks {
			if task.Column == id {
				column.Tasks = append(column.Tasks, task)
			}
		}
		columns = append(columns, column)
	}
	return columns, nil
}

func (s *Service) CreateKanbanTask(ctx context.Context, userID, projectID string, input KanbanTaskInput) (store.KanbanTask, error) {
	if _, err := s.store.GetKanbanProject(ctx, userID, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.KanbanTask{}, notFound("Project")
		}
		return store.KanbanTask{}, err
	}
	now := s.now().UTC()
	task := store.KanbanTask{
		ID:        util.NewID("ktk"),
		ProjectID: projectID,
		Priority:  "media",
		Column:    "planning",
		Checklist: []store.ChecklistItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := applyTaskInput(&task, input); err != nil {
		return store.KanbanTask{}, err
	}
	if err := required("title", task.Title); err != nil {
		return store.KanbanTask{}, err
	}
	if err := s.store.InsertKanbanTask(ctx, task); err != nil {
		return store.KanbanTask{}, err
	}
	s.index(search.KanbanRecord(userID, task))
	s.publish(ctx, feed.CollectionKanban, feed.OpCreated, userID, task.ID)
	return task, nil
}

func (s *Service) UpdateKanbanTask(ctx context.Context, userID, taskID string, input KanbanTaskInput) (store.KanbanTask, error) {
	task, err := s.store.GetKanbanTask(ctx, userID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.KanbanTask{}, notFound("Task")
	}
	if err != nil {
		return store.KanbanTask{}, err
	}
	if err := applyTaskInput(&task, input); err != nil {
		return store.KanbanTask{}, err
	}
	updated, err := s.store.UpdateKanbanTask(ctx, task)
	if err != nil {
		return store.KanbanTask{}, err
	}
	if !updated {
		return store.KanbanTask{}, notFound("Task")
	}
	task.UpdatedAt = s.now().UTC()
	s.index(search.KanbanRecord(userID, task))
	s.publish(ctx, feed.CollectionKanban, feed.OpUpdated, userID, task.ID)
	return task, nil
}

func (s *Service) MoveKanbanTask(ctx context.Context, userID, taskID, column string) (store.KanbanTask, error) {
	return s.UpdateKanbanTask(ctx, userID, taskID, KanbanTaskInput{Column: &column})
}

func (s *Service) DeleteKanbanTask(ctx context.Context, userID, taskID string) error {
	deleted, err := s.store.DeleteKanbanTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Task")
	}
	s.unindex(taskID)
	s.publish(ctx, feed.CollectionKanban, feed.OpDeleted, userID, taskID)
	return nil
}

func applyTaskInput(task *store.KanbanTask, input KanbanTaskInput) error {
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if err := required("title", title); err != nil {
			return err
		}
		task.Title = title
	}
	if input.Description != nil {
		task.Description = strings.TrimSpace(*input.Description)
	}
	if input.Priority != nil {
		priority := strings.ToLower(strings.TrimSpace(*input.Priority))
		if err := oneOf("priority", priority, priorities...); err != nil {
			return err
		}
		task.Priority = priority
	}
	if input.Assignee != nil {
		task.Assignee = strings.TrimSpace(*input.Assignee)
	}
	if input.DueDate != nil {
		task.DueDate = strings.TrimSpace(*input.DueDate)
	}
	if input.Column != nil {
		column := strings.TrimSpace(*input.Column)
		if err := oneOf("column", column, kanbanColumns...); err != nil {
			return err
		}
		task.Column = column
	}
	if input.Checklist != nil {
		items := make([]store.ChecklistItem, 0, len(*input.Checklist))
		for _, item := range *input.Checklist {
			text := strings.TrimSpace(item.Text)
			if text == "" {
				continue
			}
			if item.ID == "" {
				item.ID = util.NewUUID()
			}
			item.Text = text
			items = append(items, item)
		}
		task.Checklist = items
	}
	return nil
}
