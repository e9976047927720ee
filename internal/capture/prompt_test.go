package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPromptSourceDefaults(t *testing.T) {
	p := NewPromptSource("")
	if p.System() != DefaultSystemPrompt {
		t.Fatal("expected default prompt")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	missing := NewPromptSource(filepath.Join(t.TempDir(), "missing.txt"))
	defer missing.Close()
	if missing.System() != DefaultSystemPrompt {
		t.Fatal("missing file should serve default prompt")
	}
}

func TestPromptSourceReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("primera versión"), 0o644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	p := NewPromptSource(path)
	defer p.Close()
	if got := p.System(); got != "primera versión" {
		t.Fatalf("unexpected prompt: %q", got)
	}

	if err := os.WriteFile(path, []byte("segunda versión"), 0o644); err != nil {
		t.Fatalf("rewrite prompt: %v", err)
	}
	waitFor(t, func() bool { return p.System() == "segunda versión" })

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove prompt: %v", err)
	}
	waitFor(t, func() bool { return p.System() == DefaultSystemPrompt })
}

func TestUserPromptEmbedsDateAndNote(t *testing.T) {
	got := UserPrompt(time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC), "llamar a Bruno")
	want := "Hoy es sábado, 17 de octubre de 2026."
	if got[:len(want)] != want {
		t.Fatalf("unexpected prompt head: %q", got)
	}
	if got[len(got)-len("llamar a Bruno"):] != "llamar a Bruno" {
		t.Fatalf("note not appended: %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
