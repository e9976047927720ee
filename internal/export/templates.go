package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"

	"ignisos/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// Day order and labels as shown on the weekly board.
var dayOrder = []struct{ Key, Label string }{
	{"cuentas", "Cuentas"},
	{"lunes", "Lunes"},
	{"martes", "Martes"},
	{"miercoles", "Miércoles"},
	{"jueves", "Jueves"},
	{"viernes", "Viernes"},
}

var statusLabels = map[string]string{
	"sin_empezar": "Sin empezar",
	"en_progreso": "En progreso",
	"listo":       "Listo",
}

var weeklyTemplate = template.Must(template.New("weekly.html").Funcs(template.FuncMap{
	"join": strings.Join,
	"statusLabel": func(status string) string {
		if label, ok := statusLabels[status]; ok {
			return label
		}
		return status
	},
}).ParseFS(templateFS, "templates/weekly.html"))

type TemplateData struct {
	WeekName    string
	GeneratedAt string
	Total       int
	Done        int
	Days        []TemplateDay
}

type TemplateDay struct {
	Label string
	Tasks []store.WeeklyTask
}

func groupByDay(tasks []store.WeeklyTask) []TemplateDay {
	byDay := make(map[string][]store.WeeklyTask, len(dayOrder))
	for _, task := range tasks {
		byDay[task.Day] = append(byDay[task.Day], task)
	}
	days := make([]TemplateDay, 0, len(dayOrder))
	for _, d := range dayOrder {
		days = append(days, TemplateDay{Label: d.Label, Tasks: byDay[d.Key]})
	}
	return days
}

func RenderWeeklyHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := weeklyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
