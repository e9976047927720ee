// Package feed carries change notifications between writers and the readers
// that keep projections or browser views current.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"

	"ignisos/api/internal/util"
)

const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

const (
	CollectionSessions    = "sessions"
	CollectionMaintenance = "maintenance"
	CollectionKanban      = "kanban"
	CollectionQC          = "qc"
	CollectionWeekly      = "weekly"
)

const eventTypePrefix = "com.ignisos."

// Change describes one write to a user's data.
type Change struct {
	Collection string    `json:"collection"`
	Op         string    `json:"op"`
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at"`
}

// Hub publishes changes and fans them out to subscribers.
type Hub interface {
	Publish(ctx context.Context, change Change) error
	// Subscribe delivers changes for userID, or for every user when userID is
	// empty, until ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, userID string) (*Subscription, error)
	// Source identifies this process; it is stamped on every published change.
	Source() string
	Close() error
}

type Subscription struct {
	C      <-chan Change
	cancel func()
}

func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// NewSource returns a process-unique source string.
func NewSource() string {
	return "ignisos/api/" + util.NewID("")[:12]
}

type changeData struct {
	Collection string `json:"collection"`
	Op         string `json:"op"`
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
}

// Encode renders change as a structured-mode CloudEvent.
func Encode(change Change) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetID(util.NewID("evt"))
	event.SetType(eventTypePrefix + change.Collection + "." + change.Op)
	event.SetSource(change.Source)
	event.SetSubject(change.UserID)
	event.SetTime(change.At)
	if err := event.SetData(cloudevents.ApplicationJSON, changeData{
		Collection: change.Collection,
		Op:         change.Op,
		UserID:     change.UserID,
		DocumentID: change.DocumentID,
	}); err != nil {
		return nil, fmt.Errorf("set event data: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}

func Decode(payload []byte) (Change, error) {
	event := cloudevents.NewEvent()
	if err := json.Unmarshal(payload, &event); err != nil {
		return Change{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if !strings.HasPrefix(event.Type(), eventTypePrefix) {
		return Change{}, fmt.Errorf("unexpected event type %q", event.Type())
	}
	var data changeData
	if err := event.DataAs(&data); err != nil {
		return Change{}, fmt.Errorf("decode event data: %w", err)
	}
	return Change{
		Collection: data.Collection,
		Op:         data.Op,
		UserID:     data.UserID,
		DocumentID: data.DocumentID,
		Source:     event.Source(),
		At:         event.Time(),
	}, nil
}

func stamp(change Change, source string) Change {
	change.Source = source
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}
	return change
}
