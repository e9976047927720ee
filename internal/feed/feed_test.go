package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEncodeDecodeCarriesSourceAndType(t *testing.T) {
	at := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	payload, err := Encode(Change{Collection: CollectionSessions, Op: OpUpdated, UserID: "usr_1", DocumentID: "ses_1", Source: "ignisos/api/a", At: at})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	change, err := Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if change.Source != "ignisos/api/a" || change.DocumentID != "ses_1" || !change.At.Equal(at) {
		t.Fatalf("unexpected change: %+v", change)
	}
}

func TestDecodeRejectsForeignEvents(t *testing.T) {
	payload := []byte(`{"specversion":"1.0","id":"1","source":"x","type":"other.thing"}`)
	if _, err := Decode(payload); err == nil {
		t.Fatal("expected foreign event type to be rejected")
	}
}

func TestMemoryHubFiltersByUser(t *testing.T) {
	hub := NewMemoryHub("ignisos/api/test")
	defer hub.Close()
	ctx := context.Background()

	mine, err := hub.Subscribe(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer mine.Close()
	all, err := hub.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer all.Close()

	_ = hub.Publish(ctx, Change{Collection: CollectionQC, Op: OpCreated, UserID: "usr_2", DocumentID: "qc_1"})
	_ = hub.Publish(ctx, Change{Collection: CollectionQC, Op: OpCreated, UserID: "usr_1", DocumentID: "qc_2"})

	got := <-mine.C
	if got.DocumentID != "qc_2" || got.Source != "ignisos/api/test" {
		t.Fatalf("unexpected change for usr_1: %+v", got)
	}
	if first := <-all.C; first.DocumentID != "qc_1" {
		t.Fatalf("expected wildcard subscriber to see usr_2 change first, got %+v", first)
	}
}

func TestMemoryHubCloseEndsSubscription(t *testing.T) {
	hub := NewMemoryHub("s")
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	cancel()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancel")
	}
}

func TestRedisHubDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	defer clientB.Close()

	hubA := NewRedisHub(clientA, "ignisos/api/a")
	hubB := NewRedisHub(clientB, "ignisos/api/b")
	defer hubA.Close()
	defer hubB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := hubB.Subscribe(ctx, "usr_1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Close()
	wildcard, err := hubB.Subscribe(ctx, "")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer wildcard.Close()

	if err := hubA.Publish(ctx, Change{Collection: CollectionSessions, Op: OpDeleted, UserID: "usr_1", DocumentID: "ses_9"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for _, ch := range []<-chan Change{sub.C, wildcard.C} {
		select {
		case got := <-ch:
			if got.Source != "ignisos/api/a" || got.Op != OpDeleted || got.DocumentID != "ses_9" {
				t.Fatalf("unexpected change: %+v", got)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for change")
		}
	}
}
