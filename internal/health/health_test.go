package health

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/pistabot/pistabot/internal/types"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		checks []bool
		want   Status
	}{
		{"all pass", []bool{true, true, true, true}, StatusHealthy},
		{"one miss", []bool{true, true, true, false}, StatusDegraded},
		{"two miss", []bool{true, true, false, false}, StatusCritical},
		{"one pass", []bool{true, false, false, false}, StatusCritical},
		{"all fail", []bool{false, false, false, false}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusOf(tt.checks...); got != tt.want {
				t.Errorf("statusOf(%v) = %q, want %q", tt.checks, got, tt.want)
			}
		})
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		healthy, total int
		want           Status
	}{
		{4, 4, StatusHealthy},
		{3, 4, StatusDegraded},
		{2, 4, StatusDegraded},
		{1, 4, StatusCritical},
		{0, 4, StatusFailed},
		{0, 0, StatusFailed},
	}
	for _, tt := range tests {
		if got := aggregateStatus(tt.healthy, tt.total); got != tt.want {
			t.Errorf("aggregateStatus(%d, %d) = %q, want %q", tt.healthy, tt.total, got, tt.want)
		}
	}
}

func TestFailedCourts(t *testing.T) {
	p := PoolHealth{Courts: []CourtHealth{
		{Court: 1, Status: StatusHealthy},
		{Court: 2, Status: StatusCritical},
		{Court: 3, Status: StatusDegraded},
		{Court: 4, Status: StatusFailed},
	}}
	got := p.FailedCourts()
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("FailedCourts = %v, want [2 4]", got)
	}
}

// fakePager hands out per-court acquisition errors; no pages involved.
type fakePager struct {
	courts []types.Court
	errs   map[int]error
}

func (f *fakePager) Courts() []types.Court { return f.courts }

func (f *fakePager) PageFor(court int) (*rod.Page, func(), error) {
	return nil, nil, f.errs[court]
}

func TestCheckPoolCountsQuarantinedCourts(t *testing.T) {
	// A quarantined court cannot hand out a page, but it must still show
	// up in the results as failed so recovery gets a chance at it.
	pager := &fakePager{
		courts: []types.Court{{Number: 1}, {Number: 2}},
		errs: map[int]error{
			1: fmt.Errorf("%w: court 1", types.ErrCourtBusy),
			2: fmt.Errorf("%w: court 2 is quarantined", types.ErrCourtUnavailable),
		},
	}

	ph := CheckPool(context.Background(), pager, time.Second)
	if ph.Total != 2 {
		t.Fatalf("total = %d, want 2", ph.Total)
	}
	if ph.Healthy != 1 {
		t.Errorf("healthy = %d, want 1 (the busy court)", ph.Healthy)
	}
	if ph.Status == StatusHealthy {
		t.Error("pool with a quarantined court reported healthy")
	}
	failed := ph.FailedCourts()
	if len(failed) != 1 || failed[0] != 2 {
		t.Errorf("failed courts = %v, want [2]", failed)
	}
}

// fakePool scripts which strategies succeed.
type fakePool struct {
	recreateErr map[int]error
	restartErr  error

	recreated []int
	restarts  int
}

func (f *fakePool) RecreateCourt(_ context.Context, court int) error {
	f.recreated = append(f.recreated, court)
	if err, ok := f.recreateErr[court]; ok {
		return err
	}
	return nil
}

func (f *fakePool) RestartAll(_ context.Context) error {
	f.restarts++
	return f.restartErr
}

func (f *fakePool) AvailableCourts() []int { return nil }

func TestRecoverSingleCourt(t *testing.T) {
	pool := &fakePool{}
	r := NewRecovery(pool, nil)

	if err := r.Recover(context.Background(), []int{2}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(pool.recreated) != 1 || pool.recreated[0] != 2 {
		t.Errorf("recreated = %v, want [2]", pool.recreated)
	}
	if pool.restarts != 0 {
		t.Errorf("restarts = %d, want 0", pool.restarts)
	}

	attempts := r.Attempts()
	if len(attempts) != 1 || attempts[0].Strategy != StrategySingleRecreate || !attempts[0].Success {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestRecoverEscalatesToParallel(t *testing.T) {
	// Two failed courts skip the single rung; parallel succeeds.
	pool := &fakePool{}
	r := NewRecovery(pool, nil)

	if err := r.Recover(context.Background(), []int{1, 3}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(pool.recreated) != 2 {
		t.Errorf("recreated = %v, want both courts", pool.recreated)
	}

	attempts := r.Attempts()
	if len(attempts) != 2 {
		t.Fatalf("attempts = %d, want 2 (skipped single, parallel ok)", len(attempts))
	}
	if attempts[0].Strategy != StrategySingleRecreate || attempts[0].Success {
		t.Errorf("first attempt = %+v", attempts[0])
	}
	if attempts[1].Strategy != StrategyParallelRecreate || !attempts[1].Success {
		t.Errorf("second attempt = %+v", attempts[1])
	}
}

func TestRecoverEscalatesToRestart(t *testing.T) {
	pool := &fakePool{
		recreateErr: map[int]error{1: errors.New("browser wedged")},
	}
	r := NewRecovery(pool, nil)

	if err := r.Recover(context.Background(), []int{1}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if pool.restarts != 1 {
		t.Errorf("restarts = %d, want 1", pool.restarts)
	}

	attempts := r.Attempts()
	if len(attempts) != 3 || attempts[2].Strategy != StrategyFullRestart || !attempts[2].Success {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestRecoverReachesEmergencyFallback(t *testing.T) {
	pool := &fakePool{
		recreateErr: map[int]error{1: errors.New("wedged")},
		restartErr:  errors.New("restart failed"),
	}
	activated := false
	r := NewRecovery(pool, func(context.Context) error {
		activated = true
		return nil
	})

	if err := r.Recover(context.Background(), []int{1}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !activated {
		t.Error("emergency fallback was not activated")
	}
}

func TestRecoverExhausted(t *testing.T) {
	pool := &fakePool{
		recreateErr: map[int]error{1: errors.New("wedged")},
		restartErr:  errors.New("restart failed"),
	}
	r := NewRecovery(pool, nil)

	if err := r.Recover(context.Background(), []int{1}); err == nil {
		t.Fatal("Recover should fail when every strategy fails")
	}
	attempts := r.Attempts()
	if len(attempts) != 4 {
		t.Errorf("attempts = %d, want 4", len(attempts))
	}
	for _, a := range attempts {
		if a.Success {
			t.Errorf("attempt %q recorded success", a.Strategy)
		}
	}
}

func TestRecoverNothingToDo(t *testing.T) {
	pool := &fakePool{}
	r := NewRecovery(pool, nil)
	if err := r.Recover(context.Background(), nil); err != nil {
		t.Errorf("Recover with no failed courts = %v", err)
	}
	if len(r.Attempts()) != 0 {
		t.Error("no attempts should be recorded")
	}
}

func TestRecoverRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := &fakePool{recreateErr: map[int]error{1: errors.New("wedged")}}
	r := NewRecovery(pool, nil)

	start := time.Now()
	err := r.Recover(ctx, []int{1, 2})
	if err == nil {
		t.Fatal("Recover with cancelled context should error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancelled recovery took too long")
	}
}
