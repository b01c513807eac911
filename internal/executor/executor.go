// Package executor performs one booking attempt on a court's page: find
// the time-slot button, walk the form like a person would, submit, and
// wait for the confirmation. Every failure is classified so the queue
// and the user see what actually went wrong.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/availability"
	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/humanize"
	"github.com/pistabot/pistabot/internal/site"
	"github.com/pistabot/pistabot/internal/types"
)

// CatalogSource yields the current site catalog; the hot-reloading
// manager satisfies it.
type CatalogSource interface {
	Current() *site.Catalog
}

// Result is the outcome of one attempt.
type Result struct {
	Court          int
	ConfirmationID string
	Duration       time.Duration
	Err            error
}

// Executor drives booking attempts. It is stateless across attempts;
// everything per-attempt lives on the stack.
type Executor struct {
	catalogs CatalogSource
	cfg      *config.Config
	now      func() time.Time
}

// New creates an executor.
func New(catalogs CatalogSource, cfg *config.Config) *Executor {
	return &Executor{catalogs: catalogs, cfg: cfg, now: time.Now}
}

// confirmationID captures the opaque token from /confirmation/<id>/ URLs.
var confirmationID = regexp.MustCompile(`/confirmation/([^/?#]+)`)

// ExtractConfirmationID pulls the confirmation token out of a URL or
// document text.
func ExtractConfirmationID(s string) (string, bool) {
	m := confirmationID.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Execute runs one full booking attempt for the request on the given
// court page. It returns the confirmation id on success and a classified
// AttemptError on failure. The page is expected to already sit on the
// court's calendar.
func (e *Executor) Execute(ctx context.Context, page *rod.Page, req *types.Request, court types.Court) Result {
	start := e.now()
	confirmation, err := e.attempt(ctx, page, req, court)
	res := Result{
		Court:          court.Number,
		ConfirmationID: confirmation,
		Duration:       e.now().Sub(start),
		Err:            err,
	}

	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err).Str("failure_kind", string(types.ClassifyAttemptError(err)))
	}
	evt.
		Str("request_id", req.ID).
		Int("court", court.Number).
		Str("slot", req.SlotKey()).
		Dur("duration", res.Duration).
		Bool("confirmed", err == nil).
		Msg("Booking attempt finished")
	return res
}

func (e *Executor) attempt(ctx context.Context, page *rod.Page, req *types.Request, court types.Court) (string, error) {
	catalog := e.catalogs.Current()
	profile := humanize.ForAttempt(e.cfg.SpeedMultiplier, e.cfg.ExperiencedMode)
	page = page.Context(ctx)

	mouse := humanize.NewMouse(page, profile)
	typist := humanize.NewTypist(page, profile)

	// A burst of activity the instant the page settles is its own tell.
	if !profile.Wait(ctx, 1.0, 2.0) {
		return "", types.NewInternalAttemptError(court.Number, types.ErrContextCanceled)
	}
	if profile.PrepMoves {
		if err := mouse.PrepMoves(ctx); err != nil {
			return "", types.NewInternalAttemptError(court.Number, err)
		}
	}

	// FIND_SLOT
	button, err := e.findTimeButton(ctx, page, catalog, req, court.Number)
	if err != nil {
		return "", err
	}
	if err := mouse.ClickElement(ctx, button); err != nil {
		return "", types.NewInternalAttemptError(court.Number, err)
	}

	// AWAIT_FORM
	if !profile.Wait(ctx, 2.0, 3.0) {
		return "", types.NewInternalAttemptError(court.Number, types.ErrContextCanceled)
	}
	fields, err := e.awaitForm(ctx, page, catalog)
	if err != nil {
		return "", types.NewFormLoadTimeoutError(court.Number, err)
	}

	// FILL_FIELDS: first name, last name, phone, email. The phone field
	// goes in clean; a corrected typo in a number reads as odd.
	fills := []struct {
		el            *rod.Element
		value         string
		allowMistakes bool
	}{
		{fields.firstName, req.Contact.FirstName, true},
		{fields.lastName, req.Contact.LastName, true},
		{fields.phone, req.Contact.Phone, false},
		{fields.email, req.Contact.Email, true},
	}
	for _, f := range fills {
		if err := mouse.ClickElement(ctx, f.el); err != nil {
			return "", types.NewInternalAttemptError(court.Number, err)
		}
		if err := typist.Type(ctx, f.el, f.value, f.allowMistakes); err != nil {
			return "", types.NewInternalAttemptError(court.Number, err)
		}
	}

	// REVIEW
	if err := mouse.ReviewMove(ctx); err != nil {
		return "", types.NewInternalAttemptError(court.Number, err)
	}

	// SUBMIT
	submit, err := e.findSubmitButton(ctx, page, catalog)
	if err != nil {
		return "", types.NewSubmitNotFoundError(court.Number)
	}
	if err := mouse.ClickElement(ctx, submit); err != nil {
		return "", types.NewInternalAttemptError(court.Number, err)
	}
	if !profile.Wait(ctx, 3.0, 8.0) {
		return "", types.NewInternalAttemptError(court.Number, types.ErrContextCanceled)
	}

	// AWAIT_RESPONSE
	return e.awaitConfirmation(ctx, page, catalog, court.Number)
}

// findTimeButton locates the DOM button for the request's slot. The flat
// button list is grouped into days and the target day resolved against
// the site's relative labels, so two days offering the same clock time
// never collide.
func (e *Executor) findTimeButton(ctx context.Context, page *rod.Page, catalog *site.Catalog, req *types.Request, court int) (*rod.Element, error) {
	p := page.Context(ctx)

	extract, err := availability.ExtractCalendar(p, catalog.Selectors)
	if err != nil {
		return nil, types.NewInternalAttemptError(court, err)
	}

	idx, ok := availability.Locate(catalog, extract, req.Date, req.Time, e.now().In(e.cfg.Location))
	if !ok {
		return nil, types.NewSlotNotFoundError(court, req.Time)
	}

	elements, err := p.Elements(catalog.Selectors.TimeButtons)
	if err != nil || idx >= len(elements) {
		return nil, types.NewSlotNotFoundError(court, req.Time)
	}
	return elements[idx], nil
}

// formFields holds the four located form inputs.
type formFields struct {
	firstName *rod.Element
	lastName  *rod.Element
	phone     *rod.Element
	email     *rod.Element
}

// awaitForm waits for the booking form to render, keyed on the first
// name input, then locates the remaining fields.
func (e *Executor) awaitForm(ctx context.Context, page *rod.Page, catalog *site.Catalog) (*formFields, error) {
	formCtx, cancel := context.WithTimeout(ctx, e.cfg.FormLoadTimeout)
	defer cancel()
	p := page.Context(formCtx)

	first, err := p.Element(inputSelector(catalog.FormFields.FirstName))
	if err != nil {
		return nil, fmt.Errorf("first name field never appeared: %w", err)
	}

	fields := &formFields{firstName: first}
	if fields.lastName, err = p.Element(inputSelector(catalog.FormFields.LastName)); err != nil {
		return nil, fmt.Errorf("last name field missing: %w", err)
	}
	if fields.phone, err = p.Element(inputSelector(catalog.FormFields.Phone)); err != nil {
		return nil, fmt.Errorf("phone field missing: %w", err)
	}
	if fields.email, err = p.Element(inputSelector(catalog.FormFields.Email)); err != nil {
		return nil, fmt.Errorf("email field missing: %w", err)
	}
	return fields, nil
}

func inputSelector(name string) string {
	return fmt.Sprintf(`input[name=%q], textarea[name=%q]`, name, name)
}

// findSubmitButton scans the page's buttons for the confirm-appointment
// label.
func (e *Executor) findSubmitButton(ctx context.Context, page *rod.Page, catalog *site.Catalog) (*rod.Element, error) {
	buttons, err := page.Context(ctx).Elements(`button, input[type="submit"]`)
	if err != nil {
		return nil, err
	}
	for _, b := range buttons {
		text, err := b.Text()
		if err != nil {
			continue
		}
		if catalog.IsConfirmButton(text) {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no button matches the confirm label")
}

// awaitConfirmation polls for the booking outcome: the confirmation URL
// or phrase, or the bot-detection sentinel.
func (e *Executor) awaitConfirmation(ctx context.Context, page *rod.Page, catalog *site.Catalog, court int) (string, error) {
	deadline := e.now().Add(e.cfg.ConfirmationTimeout)

	for {
		select {
		case <-ctx.Done():
			return "", types.NewConfirmationTimeoutError(court, ctx.Err())
		default:
		}

		if info, err := page.Info(); err == nil {
			if id, done, err := resolveOutcome(catalog, court, info.URL, ""); done {
				return id, err
			}
		}

		if phrase := e.alertBotPhrase(page, catalog); phrase != "" {
			return "", types.NewBotDetectedError(court, phrase)
		}

		if text, err := pageText(page); err == nil {
			if id, done, err := resolveOutcome(catalog, court, "", text); done {
				return id, err
			}
		}

		if e.now().After(deadline) {
			return "", types.NewConfirmationTimeoutError(court, nil)
		}
		if !humanize.SleepWithContext(ctx, 250*time.Millisecond) {
			return "", types.NewConfirmationTimeoutError(court, ctx.Err())
		}
	}
}

// resolveOutcome classifies the current URL and visible page text into a
// booking outcome. done stays false while neither a confirmation nor a
// bot-detection sentinel has shown up yet.
func resolveOutcome(catalog *site.Catalog, court int, url, text string) (id string, done bool, err error) {
	if id, ok := ExtractConfirmationID(url); ok {
		return id, true, nil
	}
	if text == "" {
		return "", false, nil
	}
	if catalog.IsConfirmedPhrase(text) {
		if id, ok := ExtractConfirmationID(text); ok {
			return id, true, nil
		}
		// The phrase alone proves the booking; the token just could not
		// be captured.
		return "confirmed", true, nil
	}
	if phrase := catalog.BotPhrase(text); phrase != "" {
		return "", true, types.NewBotDetectedError(court, phrase)
	}
	return "", false, nil
}

// alertBotPhrase checks elements with an alert role for the site's
// irregular-activity wording.
func (e *Executor) alertBotPhrase(page *rod.Page, catalog *site.Catalog) string {
	result, err := proto.RuntimeEvaluate{
		Expression: fmt.Sprintf(`(function() {
			var parts = [];
			try {
				document.querySelectorAll(%q).forEach(function(el) {
					parts.push(el.textContent || '');
				});
			} catch(e) {}
			return parts.join(' ');
		})()`, catalog.Selectors.Alert),
		ReturnByValue: true,
	}.Call(page)
	if err != nil || result.Result.Type != proto.RuntimeRemoteObjectTypeString {
		return ""
	}
	text := strings.TrimSpace(result.Result.Value.Str())
	if text == "" {
		return ""
	}
	return catalog.BotPhrase(text)
}

// pageText returns the document's visible text.
func pageText(page *rod.Page) (string, error) {
	result, err := proto.RuntimeEvaluate{
		Expression:    `document.body ? document.body.innerText : ''`,
		ReturnByValue: true,
	}.Call(page)
	if err != nil {
		return "", err
	}
	if result.Result.Type != proto.RuntimeRemoteObjectTypeString {
		return "", fmt.Errorf("unexpected result type %q", result.Result.Type)
	}
	return result.Result.Value.Str(), nil
}
