// Package search finds a user's tasks across the capture ledger, the
// maintenance board and the project hub.
package search

// Kind identifies where a search result lives.
type Kind string

const (
	KindCapture     Kind = "capture"
	KindMaintenance Kind = "maintenance"
	KindKanban      Kind = "kanban"
)

func (k Kind) Valid() bool {
	switch k {
	case KindCapture, KindMaintenance, KindKanban:
		return true
	}
	return false
}

// Result is a single search hit returned to the caller.
type Result struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
	ParentID string `json:"parentId"`
}

// Query describes a search request. UserID is always applied.
type Query struct {
	UserID string
	Text   string
	Kind   Kind // empty = all kinds
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the flat document pushed into the index for any task. ParentID
// is the capture session, maintenance client or kanban project.
type Record struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	ParentID string `json:"parentId"`
}
