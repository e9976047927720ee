package store

import "time"

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	LastLoginAt  *time.Time
}

// CaptureSession is one note run through the capture pipeline together with
// the tasks extracted from it. Tasks are stored as an embedded array and the
// whole array is rewritten on every mutation; Version guards those rewrites.
type CaptureSession struct {
	ID           string
	UserID       string
	CreatedAt    time.Time
	Date         string
	Time         string
	OriginalText string
	Tasks        []CaptureTask
	Version      int
}

type CaptureTask struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Client       string   `json:"client"`
	Urgency      string   `json:"urgency"`
	Type         string   `json:"type"`
	DueDate      *string  `json:"dueDate"`
	Responsibles []string `json:"responsibles"`
	Completed    bool     `json:"completed"`
}

type MaintenanceClient struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

type MaintenanceTask struct {
	ID          string
	UserID      string
	ClientID    string
	ClientName  string
	Description string
	Priority    string
	DueDate     string
	Completed   bool
	CompletedAt *time.Time
	CreatedAt   time.Time
}

type KanbanProject struct {
	ID          string
	UserID      string
	Name        string
	Description string
	Color       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ChecklistItem struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

type KanbanTask struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Priority    string
	Assignee    string
	DueDate     string
	Column      string
	Checklist   []ChecklistItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type QCProject struct {
	ID        string
	UserID    string
	Name      string
	URL       string
	Checklist map[string]bool
	Status    string
	CreatedAt time.Time
	LastCheck *time.Time
}

type Week struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

type Subtask struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Assignee  string `json:"assignee"`
}

type Comment struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type WeeklyTask struct {
	ID           string
	WeekID       string
	Title        string
	Icon         string
	Day          string
	Responsibles []string
	Status       string
	Pressure     string
	DueDate      string
	Semaforo     string
	Subtasks     []Subtask
	Comments     []Comment
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SweepResult counts rows removed by SweepOrphans.
type SweepResult struct {
	MaintenanceTasks int64
	KanbanTasks      int64
	WeeklyTasks      int64
}

func (r SweepResult) Total() int64 {
	return r.MaintenanceTasks + r.KanbanTasks + r.WeeklyTasks
}
