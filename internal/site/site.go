// Package site provides the site-language phrase and selector catalog for
// the upstream scheduling pages: day labels, form field names, the
// confirm-appointment button text, and the confirmation and bot-detection
// sentinels. Defaults are compiled in; an external YAML file can override
// them at runtime.
package site

import (
	"embed"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed site.yaml
var defaultCatalogFS embed.FS

// DayKind classifies a relative day label on the calendar page.
type DayKind int

// Relative day label kinds.
const (
	DayUnknown DayKind = iota
	DayToday
	DayTomorrow
	DayThisWeek
	DayNextWeek
)

// DayLabels lists the site-language spellings of each relative day label.
type DayLabels struct {
	Today    []string `yaml:"today"`
	Tomorrow []string `yaml:"tomorrow"`
	ThisWeek []string `yaml:"this_week"`
	NextWeek []string `yaml:"next_week"`
}

// FormFields holds the DOM input names of the booking form.
type FormFields struct {
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	Phone     string `yaml:"phone"`
	Email     string `yaml:"email"`
}

// PageSelectors holds the CSS selectors used to extract calendar structure.
type PageSelectors struct {
	TimeButtons string `yaml:"time_buttons"`
	DayLabels   string `yaml:"day_labels"`
	Alert       string `yaml:"alert"`
}

// Catalog contains all site-language phrases and selectors.
type Catalog struct {
	DayLabels          DayLabels     `yaml:"day_labels"`
	ConfirmButton      []string      `yaml:"confirm_button"`
	ConfirmedPhrases   []string      `yaml:"confirmed_phrases"`
	BotDetectedPhrases []string      `yaml:"bot_detected_phrases"`
	FormFields         FormFields    `yaml:"form_fields"`
	Selectors          PageSelectors `yaml:"selectors"`

	// ConfirmationURLMarker is the path segment that proves a booking:
	// the confirmation page URL contains /confirmation/<id>/.
	ConfirmationURLMarker string `yaml:"confirmation_url_marker"`
}

var (
	instance *Catalog
	once     sync.Once
)

// Get returns the singleton embedded Catalog.
func Get() *Catalog {
	once.Do(func() {
		c, err := load()
		if err != nil {
			log.Error().Err(err).Msg("Failed to load embedded site catalog, using hardcoded defaults")
			c = defaultCatalog()
		}
		instance = c
	})
	return instance
}

func load() (*Catalog, error) {
	data, err := defaultCatalogFS.ReadFile("site.yaml")
	if err != nil {
		return nil, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	log.Debug().
		Int("confirm_button_phrases", len(c.ConfirmButton)).
		Int("bot_detected_phrases", len(c.BotDetectedPhrases)).
		Msg("Site catalog loaded")
	return &c, nil
}

// defaultCatalog returns hardcoded fallback phrases for the deployed
// (Spanish-language) site. Kept in sync with site.yaml.
func defaultCatalog() *Catalog {
	return &Catalog{
		DayLabels: DayLabels{
			Today:    []string{"hoy"},
			Tomorrow: []string{"mañana", "manana"},
			ThisWeek: []string{"esta semana"},
			NextWeek: []string{"próxima semana", "proxima semana"},
		},
		ConfirmButton:      []string{"confirmar cita"},
		ConfirmedPhrases:   []string{"cita confirmada", "tu cita ha sido confirmada"},
		BotDetectedPhrases: []string{"actividad irregular", "se detectó", "se detecto"},
		FormFields: FormFields{
			FirstName: "client.firstName",
			LastName:  "client.lastName",
			Phone:     "client.phone",
			Email:     "client.email",
		},
		Selectors: PageSelectors{
			TimeButtons: ".choose-time button, .time-selection",
			DayLabels:   ".choose-time .day-label, .date-secondary",
			Alert:       "[role='alert'], [role='alertdialog']",
		},
		ConfirmationURLMarker: "/confirmation/",
	}
}

// normalize lowercases and trims a phrase for comparison.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DayKindOf classifies a day label. Unknown labels return DayUnknown and
// pass through the availability parser unchanged.
func (c *Catalog) DayKindOf(label string) DayKind {
	n := normalize(label)
	for _, l := range c.DayLabels.Today {
		if n == normalize(l) {
			return DayToday
		}
	}
	for _, l := range c.DayLabels.Tomorrow {
		if n == normalize(l) {
			return DayTomorrow
		}
	}
	for _, l := range c.DayLabels.ThisWeek {
		if n == normalize(l) {
			return DayThisWeek
		}
	}
	for _, l := range c.DayLabels.NextWeek {
		if n == normalize(l) {
			return DayNextWeek
		}
	}
	return DayUnknown
}

// IsConfirmButton reports whether button text matches the site's
// confirm-appointment label.
func (c *Catalog) IsConfirmButton(text string) bool {
	return containsAny(text, c.ConfirmButton)
}

// IsConfirmedPhrase reports whether page text contains the localized
// booking-confirmed phrase.
func (c *Catalog) IsConfirmedPhrase(text string) bool {
	return containsAny(text, c.ConfirmedPhrases)
}

// BotPhrase returns the first bot-detection sentinel found in text,
// or "" if none matches.
func (c *Catalog) BotPhrase(text string) string {
	n := normalize(text)
	for _, p := range c.BotDetectedPhrases {
		if strings.Contains(n, normalize(p)) {
			return p
		}
	}
	return ""
}

func containsAny(text string, phrases []string) bool {
	n := normalize(text)
	for _, p := range phrases {
		if strings.Contains(n, normalize(p)) {
			return true
		}
	}
	return false
}

// merge overlays non-empty fields of an override catalog onto a base.
// Empty override fields keep the base values, so a partial YAML file only
// replaces what it names.
func merge(base, override *Catalog) *Catalog {
	out := *base
	if len(override.DayLabels.Today) > 0 {
		out.DayLabels.Today = override.DayLabels.Today
	}
	if len(override.DayLabels.Tomorrow) > 0 {
		out.DayLabels.Tomorrow = override.DayLabels.Tomorrow
	}
	if len(override.DayLabels.ThisWeek) > 0 {
		out.DayLabels.ThisWeek = override.DayLabels.ThisWeek
	}
	if len(override.DayLabels.NextWeek) > 0 {
		out.DayLabels.NextWeek = override.DayLabels.NextWeek
	}
	if len(override.ConfirmButton) > 0 {
		out.ConfirmButton = override.ConfirmButton
	}
	if len(override.ConfirmedPhrases) > 0 {
		out.ConfirmedPhrases = override.ConfirmedPhrases
	}
	if len(override.BotDetectedPhrases) > 0 {
		out.BotDetectedPhrases = override.BotDetectedPhrases
	}
	if override.FormFields.FirstName != "" {
		out.FormFields.FirstName = override.FormFields.FirstName
	}
	if override.FormFields.LastName != "" {
		out.FormFields.LastName = override.FormFields.LastName
	}
	if override.FormFields.Phone != "" {
		out.FormFields.Phone = override.FormFields.Phone
	}
	if override.FormFields.Email != "" {
		out.FormFields.Email = override.FormFields.Email
	}
	if override.Selectors.TimeButtons != "" {
		out.Selectors.TimeButtons = override.Selectors.TimeButtons
	}
	if override.Selectors.DayLabels != "" {
		out.Selectors.DayLabels = override.Selectors.DayLabels
	}
	if override.Selectors.Alert != "" {
		out.Selectors.Alert = override.Selectors.Alert
	}
	if override.ConfirmationURLMarker != "" {
		out.ConfirmationURLMarker = override.ConfirmationURLMarker
	}
	return &out
}
