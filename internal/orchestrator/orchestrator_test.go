package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/pistabot/pistabot/internal/allocator"
	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/executor"
	"github.com/pistabot/pistabot/internal/notify"
	"github.com/pistabot/pistabot/internal/types"
)

type fakePool struct {
	mu       sync.Mutex
	courts   []int
	acquired []int
	critical int
}

func (f *fakePool) PageFor(court int) (*rod.Page, func(), error) {
	f.mu.Lock()
	f.acquired = append(f.acquired, court)
	f.mu.Unlock()
	return nil, func() {}, nil
}

func (f *fakePool) AvailableCourts() []int { return f.courts }
func (f *fakePool) BeginCritical()         { f.mu.Lock(); f.critical++; f.mu.Unlock() }
func (f *fakePool) EndCritical()           { f.mu.Lock(); f.critical--; f.mu.Unlock() }

// fakeExec scripts per-court results.
type fakeExec struct {
	mu      sync.Mutex
	results map[int]executor.Result
	ran     []string
}

func (f *fakeExec) Execute(_ context.Context, _ *rod.Page, req *types.Request, court types.Court) executor.Result {
	f.mu.Lock()
	f.ran = append(f.ran, req.ID)
	f.mu.Unlock()
	if res, ok := f.results[court.Number]; ok {
		res.Court = court.Number
		return res
	}
	return executor.Result{Court: court.Number, ConfirmationID: "ok-" + req.ID}
}

type fakeQueue struct {
	mu        sync.Mutex
	executing map[string]bool
	confirmed map[string]string
	failed    map[string]error
	states    map[string]types.State
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		executing: map[string]bool{},
		confirmed: map[string]string{},
		failed:    map[string]error{},
		states:    map[string]types.State{},
	}
}

func (f *fakeQueue) MarkDispatching(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = types.StateDispatching
	return nil
}

func (f *fakeQueue) MarkExecuting(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executing[id] = true
	f.states[id] = types.StateExecuting
	return nil
}

func (f *fakeQueue) MarkConfirmed(id, confirmationID string, court int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[id] = confirmationID
	f.states[id] = types.StateConfirmed
	return nil
}

func (f *fakeQueue) MarkFailed(id string, attemptErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = attemptErr
	f.states[id] = types.StatePending
	return nil
}

func (f *fakeQueue) Get(id string) (*types.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Request{ID: id, State: f.states[id]}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_, _ string, payload notify.Payload) {
	r.mu.Lock()
	r.events = append(r.events, payload.Event)
	r.mu.Unlock()
}

func (r *recordingNotifier) count(e notify.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.events {
		if got == e {
			n++
		}
	}
	return n
}

func testConfig(courts ...int) *config.Config {
	cfg := &config.Config{AttemptTimeout: 5 * time.Second}
	for _, n := range courts {
		cfg.Courts = append(cfg.Courts, types.Court{Number: n, CalendarURL: "https://x.example/schedule/a"})
	}
	return cfg
}

func planFor(reqs []*types.Request, courts []int) allocator.Plan {
	return allocator.Build(reqs, courts)
}

func req(id string, prefs ...int) *types.Request {
	return &types.Request{
		ID:               id,
		UserID:           "user-" + id,
		Date:             "2025-08-15",
		Time:             "10:00",
		CourtPreferences: prefs,
		Tier:             types.TierRegular,
		CreatedAt:        time.Now(),
	}
}

func TestDispatchConfirmsAllAttempts(t *testing.T) {
	pool := &fakePool{courts: []int{1, 2}}
	exec := &fakeExec{}
	q := newFakeQueue()
	n := &recordingNotifier{}
	o := New(pool, exec, q, n, testConfig(1, 2))

	a := req("a", 1)
	b := req("b", 2)
	o.Dispatch(context.Background(), planFor([]*types.Request{a, b}, []int{1, 2}))

	if len(q.confirmed) != 2 {
		t.Fatalf("confirmed = %v, want both", q.confirmed)
	}
	if q.confirmed["a"] == "" || q.confirmed["b"] == "" {
		t.Errorf("confirmation ids missing: %v", q.confirmed)
	}
	if got := n.count(notify.EventConfirmed); got != 2 {
		t.Errorf("confirmed notifications = %d, want 2", got)
	}
	if got := n.count(notify.EventDispatched); got != 2 {
		t.Errorf("dispatched notifications = %d, want 2", got)
	}
	if pool.critical != 0 {
		t.Errorf("critical counter = %d after dispatch, want 0", pool.critical)
	}
}

func TestDispatchFailureSchedulesFallback(t *testing.T) {
	// Court 1 fails its attempt; the waitlisted request gets the freed
	// court in a fallback wave.
	pool := &fakePool{courts: []int{1}}
	exec := &fakeExec{results: map[int]executor.Result{
		1: {Err: types.NewSlotNotFoundError(1, "10:00")},
	}}
	q := newFakeQueue()
	n := &recordingNotifier{}
	o := New(pool, exec, q, n, testConfig(1))

	first := req("first", 1)
	second := req("second", 1)
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	plan := planFor([]*types.Request{first, second}, []int{1})
	if len(plan.Waitlist) != 1 {
		t.Fatalf("plan waitlist = %d, want 1", len(plan.Waitlist))
	}

	o.Dispatch(context.Background(), plan)

	// Both requests ran: the loser of the first wave and the waitlisted
	// fallback. The fallback's court-1 attempt also fails per script.
	if len(exec.ran) != 2 {
		t.Fatalf("attempts run = %v, want 2", exec.ran)
	}
	if _, ok := q.failed["first"]; !ok {
		t.Error("first request not marked failed")
	}
	if _, ok := q.failed["second"]; !ok {
		t.Error("fallback request not marked failed")
	}
}

func TestDispatchNoFallbackWhenCourtsReserved(t *testing.T) {
	// The only court succeeds; the waitlist stays where it is.
	pool := &fakePool{courts: []int{1}}
	exec := &fakeExec{}
	q := newFakeQueue()
	o := New(pool, exec, q, &recordingNotifier{}, testConfig(1))

	first := req("first", 1)
	second := req("second", 1)
	second.CreatedAt = first.CreatedAt.Add(time.Second)

	o.Dispatch(context.Background(), planFor([]*types.Request{first, second}, []int{1}))

	if len(exec.ran) != 1 {
		t.Errorf("attempts run = %v, want only the confirmed one", exec.ran)
	}
	if _, ok := q.confirmed["first"]; !ok {
		t.Error("first request not confirmed")
	}
	if _, ok := q.failed["second"]; ok {
		t.Error("waitlisted request should not have been attempted")
	}
}

func TestDispatchEmptyPlan(t *testing.T) {
	pool := &fakePool{}
	o := New(pool, &fakeExec{}, newFakeQueue(), &recordingNotifier{}, testConfig())
	o.Dispatch(context.Background(), allocator.Plan{})
	if pool.critical != 0 {
		t.Errorf("critical counter = %d, want 0", pool.critical)
	}
}
