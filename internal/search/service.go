package search

import (
	"context"
	"log"
	"strings"
	"sync"

	"ignisos/api/internal/store"
)

type indexBackend interface {
	Searcher
	Index(records []Record) error
	Delete(ids []string) error
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	primary  indexBackend
	fallback Searcher
	loader   *Postgres
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *Postgres) *Service {
	s := &Service{}
	if pg != nil {
		s.fallback = pg
		s.loader = pg
	}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) Search(q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: postgres error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) available() bool {
	return s != nil && s.primary != nil && s.primary.Healthy()
}

// Index pushes records to Meilisearch in the background.
func (s *Service) Index(records ...Record) {
	if !s.available() || len(records) == 0 {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.Index(records); err != nil {
			log.Printf("search: index %d records: %v", len(records), err)
		}
	}()
}

// Delete removes ids from the index in the background.
func (s *Service) Delete(ids ...string) {
	if !s.available() || len(ids) == 0 {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.Delete(ids); err != nil {
			log.Printf("search: delete %d records: %v", len(ids), err)
		}
	}()
}

// Wait blocks until background index writes have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAllFromPG pushes every task in Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.available() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadUserRecords(ctx, "")
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.primary.Index(records); err != nil {
		log.Printf("search: reindex: %v", err)
		return
	}
	log.Printf("search: reindexed %d records", len(records))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// SessionRecords flattens a capture session into one record per task.
func SessionRecords(session store.CaptureSession) []Record {
	records := make([]Record, 0, len(session.Tasks))
	for _, task := range session.Tasks {
		records = append(records, CaptureRecord(session.UserID, session.ID, task))
	}
	return records
}

func CaptureRecord(userID, sessionID string, task store.CaptureTask) Record {
	body := []string{task.Client, task.Urgency}
	body = append(body, task.Responsibles...)
	return Record{
		ID:       task.ID,
		UserID:   userID,
		Kind:     KindCapture,
		Title:    task.Description,
		Body:     strings.Join(body, " "),
		ParentID: sessionID,
	}
}

func MaintenanceRecord(task store.MaintenanceTask) Record {
	return Record{
		ID:       task.ID,
		UserID:   task.UserID,
		Kind:     KindMaintenance,
		Title:    task.Description,
		Body:     task.ClientName + " " + task.Priority,
		ParentID: task.ClientID,
	}
}

func KanbanRecord(userID string, task store.KanbanTask) Record {
	return Record{
		ID:       task.ID,
		UserID:   userID,
		Kind:     KindKanban,
		Title:    task.Title,
		Body:     strings.TrimSpace(task.Description + " " + task.Assignee),
		ParentID: task.ProjectID,
	}
}
