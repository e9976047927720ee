package app

import (
	"time"

	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/store"
)

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalTimestamp(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timestamp(*t)
}

func sessionJSON(item store.CaptureSession) map[string]any {
	tasks := item.Tasks
	if tasks == nil {
		tasks = []store.CaptureTask{}
	}
	return map[string]any{
		"id":           item.ID,
		"timestamp":    timestamp(item.CreatedAt),
		"date":         item.Date,
		"time":         item.Time,
		"originalText": item.OriginalText,
		"tasks":        tasks,
		"version":      item.Version,
	}
}

func maintenanceClientJSON(item store.MaintenanceClient) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"name":      item.Name,
		"createdAt": timestamp(item.CreatedAt),
	}
}

func maintenanceTaskJSON(item store.MaintenanceTask) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"clientId":    item.ClientID,
		"clientName":  item.ClientName,
		"description": item.Description,
		"priority":    item.Priority,
		"dueDate":     item.DueDate,
		"completed":   item.Completed,
		"completedAt": optionalTimestamp(item.CompletedAt),
		"createdAt":   timestamp(item.CreatedAt),
	}
}

func kanbanProjectJSON(item store.KanbanProject) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"name":        item.Name,
		"description": item.Description,
		"color":       item.Color,
		"createdAt":   timestamp(item.CreatedAt),
		"updatedAt":   timestamp(item.UpdatedAt),
	}
}

func kanbanTaskJSON(item store.KanbanTask) map[string]any {
	checklist := item.Checklist
	if checklist == nil {
		checklist = []store.ChecklistItem{}
	}
	return map[string]any{
		"id":          item.ID,
		"projectId":   item.ProjectID,
		"title":       item.Title,
		"description": item.Description,
		"priority":    item.Priority,
		"assignee":    item.Assignee,
		"dueDate":     item.DueDate,
		"column":      item.Column,
		"checklist":   checklist,
		"createdAt":   timestamp(item.CreatedAt),
		"updatedAt":   timestamp(item.UpdatedAt),
	}
}

func kanbanColumnsJSON(columns []KanbanColumn) []map[string]any {
	out := make([]map[string]any, 0, len(columns))
	for _, column := range columns {
		tasks := make([]map[string]any, 0, len(column.Tasks))
		for _, task := range column.Tasks {
			tasks = append(tasks, kanbanTaskJSON(task))
		}
		out = append(out, map[string]any{"id": column.ID, "tasks": tasks})
	}
	return out
}

func qcProjectJSON(item store.QCProject) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"name":      item.Name,
		"url":       item.URL,
		"checklist": item.Checklist,
		"status":    item.Status,
		"progress":  qccheck.Progress(item.Checklist),
		"createdAt": timestamp(item.CreatedAt),
		"lastCheck": optionalTimestamp(item.LastCheck),
	}
}

func weekJSON(item store.Week) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"name":      item.Name,
		"createdAt": timestamp(item.CreatedAt),
	}
}

func weeklyTaskJSON(item store.WeeklyTask) map[string]any {
	responsibles := item.Responsibles
	if responsibles == nil {
		responsibles = []string{}
	}
	subtasks := item.Subtasks
	if subtasks == nil {
		subtasks = []store.Subtask{}
	}
	comments := item.Comments
	if comments == nil {
		comments = []store.Comment{}
	}
	return map[string]any{
		"id":           item.ID,
		"weekId":       item.WeekID,
		"title":        item.Title,
		"icon":         item.Icon,
		"day":          item.Day,
		"responsibles": responsibles,
		"status":       item.Status,
		"pressure":     item.Pressure,
		"dueDate":      item.DueDate,
		"semaforo":     item.Semaforo,
		"subtasks":     subtasks,
		"comments":     comments,
		"createdAt":    timestamp(item.CreatedAt),
		"updatedAt":    timestamp(item.UpdatedAt),
	}
}

func weeklyDaysJSON(days []WeeklyDay) []map[string]any {
	out := make([]map[string]any, 0, len(days))
	for _, day := range days {
		tasks := make([]map[string]any, 0, len(day.Tasks))
		for _, task := range day.Tasks {
			tasks = append(tasks, weeklyTaskJSON(task))
		}
		out = append(out, map[string]any{"id": day.ID, "tasks": tasks})
	}
	return out
}

func mapSlice[T any](items []T, fn func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, fn(item))
	}
	return out
}
