package taskboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ignisos/api/internal/store"
)

var ErrInvalidPatch = errors.New("invalid task fields")

var (
	Urgencies = []string{"Alta", "Media", "Baja"}
	TaskTypes = []string{"Trabajo", "Personal"}
)

// OptionalString distinguishes an absent JSON field from an explicit null.
type OptionalString struct {
	Set   bool
	Value *string
}

func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	o.Value = &value
	return nil
}

// TaskPatch lists the task fields a caller may overwrite. Nil fields are left
// untouched.
type TaskPatch struct {
	Description  *string        `json:"description"`
	Client       *string        `json:"client"`
	Urgency      *string        `json:"urgency"`
	Type         *string        `json:"type"`
	DueDate      OptionalString `json:"dueDate"`
	Responsibles *[]string      `json:"responsibles"`
	Completed    *bool          `json:"completed"`
}

func (p TaskPatch) Validate() error {
	if p.Urgency != nil && !oneOf(*p.Urgency, Urgencies) {
		return fmt.Errorf("%w: urgency must be one of %s", ErrInvalidPatch, strings.Join(Urgencies, ", "))
	}
	if p.Type != nil && !oneOf(*p.Type, TaskTypes) {
		return fmt.Errorf("%w: type must be one of %s", ErrInvalidPatch, strings.Join(TaskTypes, ", "))
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fmt.Errorf("%w: description cannot be blank", ErrInvalidPatch)
	}
	return nil
}

func (p TaskPatch) apply(task *store.CaptureTask) {
	if p.Description != nil {
		task.Description = strings.TrimSpace(*p.Description)
	}
	if p.Client != nil {
		task.Client = *p.Client
	}
	if p.Urgency != nil {
		task.Urgency = *p.Urgency
	}
	if p.Type != nil {
		task.Type = *p.Type
	}
	if p.DueDate.Set {
		task.DueDate = p.DueDate.Value
	}
	if p.Responsibles != nil {
		task.Responsibles = append([]string{}, (*p.Responsibles)...)
	}
	if p.Completed != nil {
		task.Completed = *p.Completed
	}
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}
