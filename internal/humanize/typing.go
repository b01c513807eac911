package humanize

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/rs/zerolog/log"
)

// Typist types text into form fields character by character with the
// profile's keystroke delays, occasional wrong-letter-then-backspace
// mistakes, and thinking pauses.
type Typist struct {
	page    *rod.Page
	profile Profile
}

// NewTypist creates a typist for the given page.
func NewTypist(page *rod.Page, profile Profile) *Typist {
	return &Typist{page: page, profile: profile}
}

// Type focuses the element and types text into it. When allowMistakes is
// false (the phone field, experienced profiles) the text goes in cleanly
// with only the keystroke delays.
func (t *Typist) Type(ctx context.Context, el *rod.Element, text string, allowMistakes bool) error {
	if err := el.Focus(); err != nil {
		return err
	}

	for _, r := range text {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if allowMistakes && t.profile.ShouldTypo() {
			if err := t.typo(ctx, r); err != nil {
				return err
			}
		}

		if err := t.page.InsertText(string(r)); err != nil {
			return err
		}
		if !sleepWithContext(ctx, t.profile.KeystrokeDelay()) {
			return ctx.Err()
		}

		if t.profile.ShouldThink() {
			if !t.profile.ThinkingPause(ctx) {
				return ctx.Err()
			}
		}
	}

	return nil
}

// typo types a wrong neighbouring key, pauses as if noticing, and
// backspaces it.
func (t *Typist) typo(ctx context.Context, intended rune) error {
	wrong := neighbourKey(intended)
	if err := t.page.InsertText(string(wrong)); err != nil {
		return err
	}
	if !sleepWithContext(ctx, t.profile.KeystrokeDelay()) {
		return ctx.Err()
	}
	// Noticing the mistake takes a moment.
	if !t.profile.Wait(ctx, 0.1, 0.3) {
		return ctx.Err()
	}
	if err := t.page.Keyboard.Type(input.Backspace); err != nil {
		return err
	}
	if !sleepWithContext(ctx, t.profile.KeystrokeDelay()) {
		return ctx.Err()
	}

	log.Debug().Str("intended", string(intended)).Str("typed", string(wrong)).Msg("Simulated typo")
	return nil
}

// qwertyNeighbours maps each lowercase letter to keys adjacent on a
// QWERTY layout. Mistyped characters come from here so the mistakes look
// mechanically plausible.
var qwertyNeighbours = map[rune]string{
	'a': "qwsz", 'b': "vghn", 'c': "xdfv", 'd': "serfcx", 'e': "wsdr",
	'f': "drtgvc", 'g': "ftyhbv", 'h': "gyujnb", 'i': "ujko", 'j': "huikmn",
	'k': "jiolm", 'l': "kop", 'm': "njk", 'n': "bhjm", 'o': "iklp",
	'p': "ol", 'q': "wa", 'r': "edft", 's': "awedxz", 't': "rfgy",
	'u': "yhji", 'v': "cfgb", 'w': "qase", 'x': "zsdc", 'y': "tghu",
	'z': "asx",
}

// neighbourKey returns a plausible mistyped key for the intended rune.
func neighbourKey(intended rune) rune {
	lower := intended
	if lower >= 'A' && lower <= 'Z' {
		lower = lower - 'A' + 'a'
	}
	if ns, ok := qwertyNeighbours[lower]; ok {
		return rune(ns[int(intended)%len(ns)])
	}
	if lower >= '0' && lower <= '8' {
		return lower + 1
	}
	return 'x'
}
