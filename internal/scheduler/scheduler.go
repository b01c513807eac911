// Package scheduler turns queued requests into precisely timed
// dispatches. A coarse tick polls the queue; for each upcoming booking
// window it arms a single high-precision wake that refreshes the target
// pages just before the window opens and fires the orchestrator at the
// exact moment.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/allocator"
	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/metrics"
	"github.com/pistabot/pistabot/internal/types"
)

// preWindowMargin is how far before window open the final page refresh
// starts. The upstream site surfaces new slots roughly 1.4s before the
// nominal minute and a refresh costs roughly 1.0s, so refreshing 2.0s
// early has the calendar current the moment the window opens.
const preWindowMargin = 2 * time.Second

// Dispatcher receives the allocation plan at the window moment.
type Dispatcher interface {
	Dispatch(ctx context.Context, plan allocator.Plan)
}

// Pool is the pool surface the scheduler needs for pre-window refreshes.
type Pool interface {
	AvailableCourts() []int
	RefreshCourt(ctx context.Context, court int) error
	CriticalInProgress() bool
}

// Queue is the queue surface the scheduler polls.
type Queue interface {
	SelectEligible() []*types.Request
	MarkDispatching(id string) error
	RevertDispatching() error
}

// Scheduler runs the tick loop.
type Scheduler struct {
	queue      Queue
	pool       Pool
	dispatcher Dispatcher
	cfg        *config.Config
	now        func() time.Time

	mu    sync.Mutex
	armed map[string]bool

	wg sync.WaitGroup
}

// New creates a scheduler.
func New(queue Queue, pool Pool, dispatcher Dispatcher, cfg *config.Config) *Scheduler {
	return &Scheduler{
		queue:      queue,
		pool:       pool,
		dispatcher: dispatcher,
		cfg:        cfg,
		now:        time.Now,
		armed:      make(map[string]bool),
	}
}

// Run loops until the context is cancelled. Shutdown waits for armed
// wakes to unwind and reverts any request stranded mid-dispatch.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("tick", s.cfg.CheckInterval).
		Dur("pre_window_margin", preWindowMargin).
		Msg("Scheduler started")

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if err := s.queue.RevertDispatching(); err != nil {
				log.Error().Err(err).Msg("Failed to revert dispatching requests on shutdown")
			}
			log.Info().Msg("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick polls the queue and routes each slot group: windows already open
// dispatch immediately, imminent windows arm a precise wake.
func (s *Scheduler) tick(ctx context.Context) {
	eligible := s.queue.SelectEligible()
	if len(eligible) == 0 {
		return
	}

	now := s.now()
	for slot, group := range groupBySlot(eligible) {
		open, err := group[0].WindowOpen(s.cfg.BookingWindow, s.cfg.Location)
		if err != nil {
			continue
		}

		if !now.Before(open) {
			// Window already open: the retry path. No precision needed.
			s.dispatchGroup(ctx, group, nil)
			continue
		}

		if open.Sub(now) <= s.cfg.DispatchLead {
			s.armWindow(ctx, slot, group, open)
		}
	}
}

// armWindow reserves the precise wake for one slot group. Exactly one
// wake per slot may be armed at a time.
func (s *Scheduler) armWindow(ctx context.Context, slot string, group []*types.Request, open time.Time) {
	s.mu.Lock()
	if s.armed[slot] {
		s.mu.Unlock()
		return
	}
	s.armed[slot] = true
	s.mu.Unlock()

	log.Info().
		Str("slot", slot).
		Time("window_open", open).
		Int("requests", len(group)).
		Msg("Booking window armed")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.armed, slot)
			s.mu.Unlock()
		}()

		// Final page refresh, timed so the calendar is current the
		// moment slots appear.
		if !sleepUntil(ctx, open.Add(-preWindowMargin), s.now) {
			return
		}
		s.refreshCourts(ctx, targetCourts(group, s.pool.AvailableCourts()))

		if !sleepUntil(ctx, open, s.now) {
			return
		}
		current, late := s.repoll(slot, group)
		s.dispatchGroup(ctx, current, late)
	}()
}

// repoll re-reads the queue at the window moment. Requests that left the
// queue since arming drop out; arrivals since arming come back as late
// entries so the allocation can fold them in.
func (s *Scheduler) repoll(slot string, armed []*types.Request) (current, late []*types.Request) {
	known := make(map[string]bool, len(armed))
	for _, r := range armed {
		known[r.ID] = true
	}
	for _, r := range groupBySlot(s.queue.SelectEligible())[slot] {
		if known[r.ID] {
			current = append(current, r)
		} else {
			late = append(late, r)
		}
	}
	return current, late
}

// dispatchGroup builds the allocation plan, folds in requests that
// arrived after the wake was armed, and hands the plan to the
// orchestrator, transitioning each planned request to dispatching first.
func (s *Scheduler) dispatchGroup(ctx context.Context, group, late []*types.Request) {
	courts := s.pool.AvailableCourts()
	sort.Ints(courts)
	plan := allocator.Build(group, courts)
	if len(late) > 0 {
		plan = allocator.Rebuild(plan, late, courts)
	}
	if len(plan.Confirmed) == 0 && len(plan.Waitlist) == 0 {
		return
	}

	// Waitlisted requests stay pending; the orchestrator transitions
	// them only if a fallback attempt actually launches.
	dispatchable := plan.Confirmed[:0:0]
	for _, a := range plan.Confirmed {
		if err := s.queue.MarkDispatching(a.Request.ID); err != nil {
			log.Warn().Err(err).Str("request_id", a.Request.ID).Msg("Request skipped dispatch")
			continue
		}
		dispatchable = append(dispatchable, a)
	}
	plan.Confirmed = dispatchable

	s.dispatcher.Dispatch(ctx, plan)
	s.updateQueueMetrics()
}

// refreshCourts refreshes the courts a group will target, one final time
// before the window.
func (s *Scheduler) refreshCourts(ctx context.Context, courts []int) {
	for _, court := range courts {
		if err := s.pool.RefreshCourt(ctx, court); err != nil {
			log.Warn().Err(err).Int("court", court).Msg("Pre-window refresh failed")
		}
	}
	metrics.PagesRefreshed.Add(float64(len(courts)))
}

func (s *Scheduler) updateQueueMetrics() {
	// States worth graphing; terminal counts grow unboundedly and are
	// visible in logs instead.
	type lister interface {
		ListByState(state types.State) []*types.Request
	}
	l, ok := s.queue.(lister)
	if !ok {
		return
	}
	for _, st := range []types.State{types.StatePending, types.StateDispatching, types.StateExecuting} {
		metrics.UpdateQueueMetrics(string(st), len(l.ListByState(st)))
	}
}

// groupBySlot buckets requests by their (date, time) key.
func groupBySlot(requests []*types.Request) map[string][]*types.Request {
	groups := make(map[string][]*types.Request)
	for _, r := range requests {
		key := r.SlotKey()
		groups[key] = append(groups[key], r)
	}
	return groups
}

// targetCourts returns the union of the group's preferred courts that
// are actually available, sorted. An empty preference union falls back
// to every available court.
func targetCourts(group []*types.Request, available []int) []int {
	avail := make(map[int]bool, len(available))
	for _, n := range available {
		avail[n] = true
	}

	seen := make(map[int]bool)
	var out []int
	for _, r := range group {
		for _, n := range r.CourtPreferences {
			if avail[n] && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, available...)
	}
	sort.Ints(out)
	return out
}

// sleepUntil sleeps until the target moment or context cancellation.
// Returns false when cancelled. Short oversleeps are corrected by
// re-checking the clock.
func sleepUntil(ctx context.Context, target time.Time, now func() time.Time) bool {
	for {
		d := target.Sub(now())
		if d <= 0 {
			return true
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
