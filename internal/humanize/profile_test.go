package humanize

import (
	"context"
	"testing"
	"time"
)

func TestProfilePresets(t *testing.T) {
	normal := Normal()
	if normal.SpeedMultiplier != 2.5 {
		t.Errorf("normal multiplier = %v, want 2.5", normal.SpeedMultiplier)
	}
	if normal.TypoChance != 0.10 {
		t.Errorf("normal typo chance = %v, want 0.10", normal.TypoChance)
	}
	if !normal.PrepMoves {
		t.Error("normal profile should do preparatory moves")
	}

	exp := Experienced()
	if exp.SpeedMultiplier != 5.0 {
		t.Errorf("experienced multiplier = %v, want 5.0", exp.SpeedMultiplier)
	}
	if exp.TypoChance != 0 {
		t.Error("experienced profile must not make typos")
	}
	if exp.PrepMoves {
		t.Error("experienced profile skips preparatory moves")
	}
}

func TestForAttempt(t *testing.T) {
	p := ForAttempt(0, false)
	if p.Name != "normal" || p.SpeedMultiplier != 2.5 {
		t.Errorf("default attempt profile = %+v", p)
	}

	p = ForAttempt(0, true)
	if p.Name != "experienced" {
		t.Errorf("experienced attempt profile = %+v", p)
	}

	p = ForAttempt(4.0, false)
	if p.SpeedMultiplier != 4.0 {
		t.Errorf("override multiplier = %v, want 4.0", p.SpeedMultiplier)
	}
	if p.TypoChance != 0.10 {
		t.Error("override multiplier must keep the preset's affectations")
	}
}

func TestScaleFloor(t *testing.T) {
	// Every wait keeps a meaningful floor no matter how aggressive the
	// multiplier gets.
	p := Profile{SpeedMultiplier: 1e9}
	for _, d := range []time.Duration{time.Millisecond, time.Second, time.Minute} {
		if got := p.Scale(d); got < MinWait {
			t.Errorf("Scale(%v) = %v, below floor %v", d, got, MinWait)
		}
	}

	// Sane multipliers scale proportionally.
	p = Profile{SpeedMultiplier: 2.0}
	if got := p.Scale(time.Second); got != 500*time.Millisecond {
		t.Errorf("Scale(1s) with x2 = %v, want 500ms", got)
	}

	// Zero multiplier must not divide by zero.
	p = Profile{}
	if got := p.Scale(time.Second); got != time.Second {
		t.Errorf("Scale(1s) with zero multiplier = %v, want 1s", got)
	}
}

func TestKeystrokeDelayRange(t *testing.T) {
	p := Normal()
	lo := p.Scale(90 * time.Millisecond)
	hi := p.Scale(220 * time.Millisecond)
	for i := 0; i < 200; i++ {
		d := p.KeystrokeDelay()
		if d < lo || d > hi {
			t.Fatalf("KeystrokeDelay() = %v, want within [%v, %v]", d, lo, hi)
		}
	}
}

func TestShouldTypo(t *testing.T) {
	exp := Experienced()
	for i := 0; i < 1000; i++ {
		if exp.ShouldTypo() {
			t.Fatal("experienced profile drew a typo")
		}
	}

	normal := Normal()
	hits := 0
	for i := 0; i < 5000; i++ {
		if normal.ShouldTypo() {
			hits++
		}
	}
	// 10% chance; accept a generous band around it.
	if hits < 300 || hits > 750 {
		t.Errorf("typo rate %d/5000, want roughly 10%%", hits)
	}
}

func TestUniformSeconds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := UniformSeconds(1.0, 2.0)
		if d < time.Second || d > 2*time.Second {
			t.Fatalf("UniformSeconds(1,2) = %v out of range", d)
		}
	}
	if d := UniformSeconds(3.0, 3.0); d != 3*time.Second {
		t.Errorf("degenerate range = %v, want 3s", d)
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Normal()
	start := time.Now()
	if p.Wait(ctx, 1.0, 2.0) {
		t.Error("Wait should report cancellation")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Wait did not return promptly on cancel: %v", elapsed)
	}
}

func TestNeighbourKey(t *testing.T) {
	for _, r := range "abcdefghijklmnopqrstuvwxyz" {
		wrong := neighbourKey(r)
		if wrong == r {
			t.Errorf("neighbourKey(%q) returned the same rune", r)
		}
	}
	if neighbourKey('3') != '4' {
		t.Errorf("digit neighbour = %q, want '4'", neighbourKey('3'))
	}
}

func TestRandomDuration(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := RandomDuration(100, 500)
		if d < 100*time.Millisecond || d > 500*time.Millisecond {
			t.Fatalf("RandomDuration(100, 500) = %v out of range", d)
		}
	}
	if d := RandomDuration(500, 100); d != 500*time.Millisecond {
		t.Errorf("inverted range = %v, want min", d)
	}
}
