package capture

import (
	"strings"

	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

const (
	defaultDescription = "Sin descripción"
	defaultClient      = "Personal"
	defaultUrgency     = "Media"
	defaultType        = "Personal"
)

var (
	urgencies = []string{"Alta", "Media", "Baja"}
	taskTypes = []string{"Trabajo", "Personal"}
)

// Normalize turns one extracted object into a complete task with a fresh id.
func Normalize(raw map[string]any) store.CaptureTask {
	task := store.CaptureTask{
		ID:           util.NewUUID(),
		Description:  stringOr(raw["description"], defaultDescription),
		Client:       stringOr(raw["client"], defaultClient),
		Urgency:      canonical(raw["urgency"], urgencies, defaultUrgency),
		Type:         canonical(raw["type"], taskTypes, defaultType),
		Responsibles: []string{},
		Completed:    false,
	}
	if due := stringOr(raw["dueDate"], ""); due != "" && !strings.EqualFold(due, "null") {
		task.DueDate = &due
	}
	if list, ok := raw["responsibles"].([]any); ok {
		for _, item := range list {
			if name, ok := item.(string); ok && strings.TrimSpace(name) != "" {
				task.Responsibles = append(task.Responsibles, strings.TrimSpace(name))
			}
		}
	}
	return task
}

func stringOr(value any, fallback string) string {
	text, ok := value.(string)
	if !ok {
		return fallback
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback
	}
	return text
}

// canonical maps value onto one of allowed ignoring case, else fallback.
func canonical(value any, allowed []string, fallback string) string {
	text := stringOr(value, "")
	for _, candidate := range allowed {
		if strings.EqualFold(text, candidate) {
			return candidate
		}
	}
	return fallback
}
