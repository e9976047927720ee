// Package capture turns a free-text note into tasks through a chat
// completion model and records them as a new capture session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ignisos/api/internal/llm"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/store"
)

var (
	ErrEmptyText = errors.New("el texto de la nota es obligatorio")
	ErrNoTasks   = errors.New("No se encontraron tareas")
)

// Error is the single failure surfaced to users for completion, parse or
// persistence problems. Nothing is retried.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return "Error: " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type SessionAdder interface {
	AddSession(ctx context.Context, userID string, session store.CaptureSession) (store.CaptureSession, error)
}

type Observer interface {
	ObserveCapture(outcome string, completion time.Duration)
}

type Pipeline struct {
	completer Completer
	sessions  SessionAdder
	prompts   *PromptSource
	location  *time.Location
	observer  Observer
	now       func() time.Time
}

type Option func(*Pipeline)

func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(completer Completer, sessions SessionAdder, prompts *PromptSource, location *time.Location, opts ...Option) *Pipeline {
	if prompts == nil {
		prompts = NewPromptSource("")
	}
	if location == nil {
		location = time.UTC
	}
	p := &Pipeline{
		completer: completer,
		sessions:  sessions,
		prompts:   prompts,
		location:  location,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capture extracts tasks from text and stores them as one new session.
func (p *Pipeline) Capture(ctx context.Context, userID, text string) (store.CaptureSession, error) {
	if strings.TrimSpace(text) == "" {
		return store.CaptureSession{}, ErrEmptyText
	}
	now := p.now().In(p.location)

	started := time.Now()
	content, err := p.completer.Complete(ctx, []llm.Message{
		{Role: "system", Content: p.prompts.System()},
		{Role: "user", Content: UserPrompt(now, text)},
	})
	elapsed := time.Since(started)
	if err != nil {
		p.observe("completion_error", elapsed)
		return store.CaptureSession{}, &Error{Stage: "completion", Err: err}
	}

	rawTasks, err := ParseExtraction(content)
	if err != nil {
		p.observe("parse_error", elapsed)
		return store.CaptureSession{}, &Error{Stage: "parse", Err: err}
	}
	if len(rawTasks) == 0 {
		p.observe("no_tasks", elapsed)
		return store.CaptureSession{}, ErrNoTasks
	}

	tasks := make([]store.CaptureTask, 0, len(rawTasks))
	for _, raw := range rawTasks {
		tasks = append(tasks, Normalize(raw))
	}

	session, err := p.sessions.AddSession(ctx, userID, store.CaptureSession{
		CreatedAt:    now.UTC(),
		Date:         locale.ShortDate(now),
		Time:         locale.Clock(now),
		OriginalText: text,
		Tasks:        tasks,
	})
	if err != nil {
		p.observe("store_error", elapsed)
		return store.CaptureSession{}, &Error{Stage: "store", Err: fmt.Errorf("guardar sesión: %w", err)}
	}
	p.observe("created", elapsed)
	return session, nil
}

func (p *Pipeline) observe(outcome string, completion time.Duration) {
	if p.observer != nil {
		p.observer.ObserveCapture(outcome, completion)
	}
}
