package types

import (
	"errors"
	"testing"
	"time"
)

func TestTierRank(t *testing.T) {
	tests := []struct {
		tier Tier
		rank int
	}{
		{TierAdmin, 0},
		{TierVIP, 1},
		{TierRegular, 2},
		{Tier("guest"), 3},
	}
	for _, tt := range tests {
		if got := tt.tier.Rank(); got != tt.rank {
			t.Errorf("Rank(%q) = %d, want %d", tt.tier, got, tt.rank)
		}
	}
	if !(TierAdmin.Rank() < TierVIP.Rank() && TierVIP.Rank() < TierRegular.Rank()) {
		t.Error("tier ordering must be admin < vip < regular")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateConfirmed, StateFailed, StateCancelled, StateExpired}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	live := []State{StatePending, StateDispatching, StateExecuting}
	for _, s := range live {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestRequestTargetTime(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	r := &Request{Date: "2025-08-15", Time: "10:00"}
	target, err := r.TargetTime(loc)
	if err != nil {
		t.Fatalf("TargetTime: %v", err)
	}
	if target.Hour() != 10 || target.Day() != 15 || target.Month() != time.August {
		t.Errorf("unexpected target time %v", target)
	}

	open, err := r.WindowOpen(48*time.Hour, loc)
	if err != nil {
		t.Fatalf("WindowOpen: %v", err)
	}
	want := time.Date(2025, 8, 13, 10, 0, 0, 0, loc)
	if !open.Equal(want) {
		t.Errorf("WindowOpen = %v, want %v", open, want)
	}
}

func TestRequestValidate(t *testing.T) {
	loc := time.UTC
	courts := []Court{{Number: 1}, {Number: 2}, {Number: 3}}

	base := func() *Request {
		return &Request{
			UserID:           "u1",
			Tier:             TierRegular,
			Date:             "2025-08-15",
			Time:             "10:00",
			CourtPreferences: []int{2, 1},
		}
	}

	if err := base().Validate(courts, loc); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing user", func(r *Request) { r.UserID = "" }},
		{"bad tier", func(r *Request) { r.Tier = "gold" }},
		{"bad date", func(r *Request) { r.Date = "15-08-2025" }},
		{"bad time", func(r *Request) { r.Time = "25:99" }},
		{"empty preferences", func(r *Request) { r.CourtPreferences = nil }},
		{"duplicate preference", func(r *Request) { r.CourtPreferences = []int{1, 1} }},
		{"unknown court", func(r *Request) { r.CourtPreferences = []int{9} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base()
			tt.mutate(r)
			err := r.Validate(courts, loc)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("error should wrap ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestRequestClone(t *testing.T) {
	r := &Request{ID: "a", CourtPreferences: []int{1, 2}}
	cp := r.Clone()
	cp.CourtPreferences[0] = 9
	if r.CourtPreferences[0] != 1 {
		t.Error("Clone must not share the preference slice")
	}
}

func TestAttemptErrorClassification(t *testing.T) {
	bot := NewBotDetectedError(2, "Se detectó actividad irregular")
	if !bot.TerminalForWindow() {
		t.Error("bot_detected must be terminal for the window")
	}
	if ClassifyAttemptError(bot) != FailBotDetected {
		t.Errorf("classification = %v, want bot_detected", ClassifyAttemptError(bot))
	}

	slot := NewSlotNotFoundError(1, "10:00")
	if slot.TerminalForWindow() {
		t.Error("time_slot_not_found must allow retries")
	}

	wrapped := errors.New("boom")
	internal := NewInternalAttemptError(3, wrapped)
	if !errors.Is(internal, wrapped) {
		t.Error("AttemptError must unwrap to the cause")
	}
	if ClassifyAttemptError(errors.New("plain")) != FailInternal {
		t.Error("plain errors classify as internal_error")
	}
}
