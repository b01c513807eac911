package site

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedCatalog(t *testing.T) {
	c := Get()

	if len(c.ConfirmButton) == 0 {
		t.Fatal("embedded catalog has no confirm button phrases")
	}
	if c.FormFields.FirstName != "client.firstName" {
		t.Errorf("first name field = %q, want client.firstName", c.FormFields.FirstName)
	}
	if c.ConfirmationURLMarker != "/confirmation/" {
		t.Errorf("confirmation marker = %q", c.ConfirmationURLMarker)
	}
}

func TestDayKindOf(t *testing.T) {
	c := Get()

	tests := []struct {
		label string
		want  DayKind
	}{
		{"hoy", DayToday},
		{"HOY", DayToday},
		{"  Hoy ", DayToday},
		{"mañana", DayTomorrow},
		{"manana", DayTomorrow},
		{"esta semana", DayThisWeek},
		{"próxima semana", DayNextWeek},
		{"viernes 15", DayUnknown},
		{"", DayUnknown},
	}
	for _, tt := range tests {
		if got := c.DayKindOf(tt.label); got != tt.want {
			t.Errorf("DayKindOf(%q) = %v, want %v", tt.label, got, tt.want)
		}
	}
}

func TestPhraseMatching(t *testing.T) {
	c := Get()

	if !c.IsConfirmButton("CONFIRMAR CITA") {
		t.Error("confirm button label should match case-insensitively")
	}
	if c.IsConfirmButton("Cancelar") {
		t.Error("unrelated button text should not match")
	}

	if !c.IsConfirmedPhrase("¡Listo! Tu cita ha sido confirmada para el viernes.") {
		t.Error("confirmed phrase should match inside a sentence")
	}

	if got := c.BotPhrase("Se detectó actividad irregular"); got == "" {
		t.Error("bot sentinel should match the irregular activity alert")
	}
	if got := c.BotPhrase("todo bien"); got != "" {
		t.Errorf("BotPhrase matched %q on benign text", got)
	}
}

func TestManagerOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.yaml")
	override := `
confirm_button:
  - "book now"
day_labels:
  today:
    - "today"
`
	if err := os.WriteFile(path, []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	c := m.Current()
	if !c.IsConfirmButton("Book Now") {
		t.Error("override confirm button should be active")
	}
	if c.DayKindOf("today") != DayToday {
		t.Error("override day label should be active")
	}
	// Fields the override does not name keep embedded defaults.
	if c.FormFields.Email != "client.email" {
		t.Errorf("email field = %q, want embedded default", c.FormFields.Email)
	}
	if got := c.BotPhrase("actividad irregular"); got == "" {
		t.Error("bot phrases should keep embedded defaults")
	}

	if stats := m.Stats(); stats.ReloadCount != 1 {
		t.Errorf("reload count = %d, want 1", stats.ReloadCount)
	}
}

func TestManagerMissingFileFallsBack(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if !m.Current().IsConfirmButton("confirmar cita") {
		t.Error("missing override should fall back to embedded defaults")
	}
	if m.Stats().LastError == nil {
		t.Error("failed load should be recorded in stats")
	}
}
