package roster

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSeedsDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	members, err := s.Members(ctx)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != len(DefaultMembers) {
		t.Fatalf("expected %d members, got %d", len(DefaultMembers), len(members))
	}
	for i, m := range members {
		if m != DefaultMembers[i] {
			t.Fatalf("member %d: got %+v want %+v", i, m, DefaultMembers[i])
		}
	}
	theme, err := s.Theme(ctx)
	if err != nil || theme != ThemeDark {
		t.Fatalf("expected dark theme, got %q (%v)", theme, err)
	}
}

func TestSeedRunsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Remove(ctx, "vladimir"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_ = s.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	members, err := reopened.Members(ctx)
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(members) != len(DefaultMembers)-1 {
		t.Fatalf("removed member came back: %d members", len(members))
	}
}

func TestAddUpdateRemoveMember(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.UnixMilli(1760700000000) }

	ana, err := s.Add(ctx, "Ana", "bg-red-500")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ana.ID != "1760700000000" {
		t.Fatalf("unexpected id %q", ana.ID)
	}
	second, err := s.Add(ctx, "Bruno", "bg-teal-500")
	if err != nil {
		t.Fatalf("Add second: %v", err)
	}
	if second.ID != "1760700000001" {
		t.Fatalf("expected bumped id, got %q", second.ID)
	}

	members, _ := s.Members(ctx)
	if len(members) != 8 || members[6].Name != "Ana" || members[7].Name != "Bruno" {
		t.Fatalf("unexpected order: %+v", members)
	}

	color := "bg-yellow-500"
	updated, ok, err := s.Update(ctx, ana.ID, MemberPatch{Color: &color})
	if err != nil || !ok {
		t.Fatalf("Update: ok=%v err=%v", ok, err)
	}
	if updated.Name != "Ana" || updated.Color != color {
		t.Fatalf("unexpected merge: %+v", updated)
	}

	if _, ok, err := s.Update(ctx, "missing", MemberPatch{Color: &color}); err != nil || ok {
		t.Fatalf("Update of missing member: ok=%v err=%v", ok, err)
	}

	removed, err := s.Remove(ctx, ana.ID)
	if err != nil || !removed {
		t.Fatalf("Remove: removed=%v err=%v", removed, err)
	}
	removed, err = s.Remove(ctx, ana.ID)
	if err != nil || removed {
		t.Fatalf("second Remove should be a no-op: removed=%v err=%v", removed, err)
	}
	members, _ = s.Members(ctx)
	if len(members) != 7 || members[6].Name != "Bruno" {
		t.Fatalf("unexpected members after remove: %+v", members)
	}
}

func TestThemePreference(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	next, err := s.ToggleTheme(ctx)
	if err != nil || next != ThemeLight {
		t.Fatalf("ToggleTheme: %q %v", next, err)
	}
	next, err = s.ToggleTheme(ctx)
	if err != nil || next != ThemeDark {
		t.Fatalf("ToggleTheme back: %q %v", next, err)
	}
	if err := s.SetTheme(ctx, "sepia"); err == nil {
		t.Fatal("expected error for unknown theme")
	}
	if err := s.SetTheme(ctx, ThemeLight); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if theme, _ := s.Theme(ctx); theme != ThemeLight {
		t.Fatalf("expected light, got %q", theme)
	}
}

func TestOpenAIAPIKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	key, err := s.OpenAIAPIKey(ctx)
	if err != nil || key != "" {
		t.Fatalf("expected no key, got %q (%v)", key, err)
	}
	if err := s.SetOpenAIAPIKey(ctx, "sk-test"); err != nil {
		t.Fatalf("SetOpenAIAPIKey: %v", err)
	}
	if key, _ := s.OpenAIAPIKey(ctx); key != "sk-test" {
		t.Fatalf("unexpected key %q", key)
	}
}
