package humanize

import (
	"context"
	"math/rand"
	"time"
)

// Profile is the interaction envelope for one booking attempt. All
// deliberate waits scale inversely with SpeedMultiplier and are floored
// at MinWait.
type Profile struct {
	Name string

	// SpeedMultiplier divides every delay. 2.5 is the proven-safe
	// baseline; 5.0 is used for repeat users whose history lowers the
	// detection risk.
	SpeedMultiplier float64

	// TypoChance is the per-character probability of typing a wrong
	// letter and backspacing it. Zero disables mistakes entirely.
	TypoChance float64

	// ThinkChance is the per-character probability of a thinking pause,
	// divided by SpeedMultiplier at draw time.
	ThinkChance float64

	// PrepMoves enables the preparatory mouse motions before the attempt
	// approaches its target.
	PrepMoves bool
}

// Normal returns the full-affectation profile: baseline speed, typos,
// thinking pauses, preparatory mouse movement.
func Normal() Profile {
	return Profile{
		Name:            "normal",
		SpeedMultiplier: 2.5,
		TypoChance:      0.10,
		ThinkChance:     0.20,
		PrepMoves:       true,
	}
}

// Experienced returns the minimal-affectation profile for repeat users:
// double speed, no typos, no preparatory moves.
func Experienced() Profile {
	return Profile{
		Name:            "experienced",
		SpeedMultiplier: 5.0,
		TypoChance:      0,
		ThinkChance:     0.20,
		PrepMoves:       false,
	}
}

// ForAttempt selects a profile from configuration. A non-default
// multiplier overrides the preset's baseline.
func ForAttempt(speedMultiplier float64, experienced bool) Profile {
	p := Normal()
	if experienced {
		p = Experienced()
	}
	if speedMultiplier > 0 && speedMultiplier != 2.5 {
		p.SpeedMultiplier = speedMultiplier
	}
	return p
}

// Scale divides a duration by the speed multiplier, flooring at MinWait.
func (p Profile) Scale(d time.Duration) time.Duration {
	m := p.SpeedMultiplier
	if m <= 0 {
		m = 1
	}
	scaled := time.Duration(float64(d) / m)
	if scaled < MinWait {
		return MinWait
	}
	return scaled
}

// Wait sleeps a uniform draw from [minSec, maxSec] seconds, scaled by the
// profile. Returns false if the context was canceled.
func (p Profile) Wait(ctx context.Context, minSec, maxSec float64) bool {
	return sleepWithContext(ctx, p.Scale(UniformSeconds(minSec, maxSec)))
}

// KeystrokeDelay returns the per-character typing delay: a uniform draw
// from 90-220ms divided by the speed multiplier.
func (p Profile) KeystrokeDelay() time.Duration {
	return p.Scale(RandomDuration(90, 220))
}

// ShouldTypo draws whether the next character gets a typo-and-backspace.
func (p Profile) ShouldTypo() bool {
	return p.TypoChance > 0 && rand.Float64() < p.TypoChance
}

// ShouldThink draws whether the next character gets a thinking pause.
// The chance shrinks with the speed multiplier so faster profiles
// hesitate less often.
func (p Profile) ShouldThink() bool {
	m := p.SpeedMultiplier
	if m <= 0 {
		m = 1
	}
	return rand.Float64() < p.ThinkChance/m
}

// ThinkingPause sleeps a thinking-length pause (0.3-1.2s scaled).
// Returns false if the context was canceled.
func (p Profile) ThinkingPause(ctx context.Context) bool {
	return p.Wait(ctx, 0.3, 1.2)
}
