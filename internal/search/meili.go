package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	taskIndex      = "ignis_tasks"
	healthInterval = 10 * time.Second
)

var errMeiliDown = errors.New("meilisearch unhealthy")

// Meili implements Searcher against one task index. It tracks server health
// so the Service can route around an outage without waiting on timeouts.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if m.probe() {
		m.prepareIndex()
	} else {
		log.Printf("search: meilisearch unavailable at %s, serving from postgres", url)
	}
	go m.watch()
	return m
}

// probe records and returns whether the server answers its health check.
func (m *Meili) probe() bool {
	_, err := m.client.Health()
	m.healthy.Store(err == nil)
	return err == nil
}

func (m *Meili) prepareIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: taskIndex, PrimaryKey: "id"}); err != nil {
		log.Printf("search: create index %s: %v", taskIndex, err)
	}
	index := m.client.Index(taskIndex)
	filterable := []interface{}{"userId", "kind", "parentId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: filterable attributes: %v", err)
	}
	searchable := []string{"title", "body"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: searchable attributes: %v", err)
	}
}

func (m *Meili) watch() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			wasHealthy := m.healthy.Load()
			if m.probe() && !wasHealthy {
				log.Println("search: meilisearch is back")
				m.prepareIndex()
			}
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errMeiliDown
	}
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(taskIndex).Search(q.Text, &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		Filter:                meiliFilter(q),
		AttributesToHighlight: []string{"title", "body"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		result, err := decodeHit(hit)
		if err != nil {
			log.Printf("search: skipping undecodable hit: %v", err)
			continue
		}
		results = append(results, result)
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// meiliFilter always scopes to the owner. Values are quoted so ids with
// dashes or spaces stay single tokens.
func meiliFilter(q Query) string {
	clauses := []string{fmt.Sprintf("userId = %q", q.UserID)}
	if q.Kind != "" {
		clauses = append(clauses, fmt.Sprintf("kind = %q", string(q.Kind)))
	}
	return strings.Join(clauses, " AND ")
}

type taskHit struct {
	Record
	Formatted struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"_formatted"`
}

// decodeHit prefers the highlighted fields and falls back to the stored ones.
func decodeHit(hit meili.Hit) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var doc taskHit
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, err
	}
	return Result{
		Kind:     doc.Kind,
		ID:       doc.ID,
		ParentID: doc.ParentID,
		Title:    orElse(doc.Formatted.Title, doc.Title),
		Snippet:  orElse(doc.Formatted.Body, doc.Body),
	}, nil
}

func orElse(preferred, fallback string) string {
	if strings.TrimSpace(preferred) != "" {
		return strings.TrimSpace(preferred)
	}
	return fallback
}

func (m *Meili) Index(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(taskIndex).AddDocuments(records, nil)
	return err
}

func (m *Meili) Delete(ids []string) error {
	index := m.client.Index(taskIndex)
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}
