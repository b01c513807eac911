// Package orchestrator races the booking attempts of one allocation plan
// across the court pool and reconciles the outcomes into the queue.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pistabot/pistabot/internal/allocator"
	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/executor"
	"github.com/pistabot/pistabot/internal/metrics"
	"github.com/pistabot/pistabot/internal/notify"
	"github.com/pistabot/pistabot/internal/types"
)

// CourtPool is the pool surface the orchestrator needs.
type CourtPool interface {
	PageFor(court int) (*rod.Page, func(), error)
	AvailableCourts() []int
	BeginCritical()
	EndCritical()
}

// PageExecutor performs one booking attempt on a page.
type PageExecutor interface {
	Execute(ctx context.Context, page *rod.Page, req *types.Request, court types.Court) executor.Result
}

// RequestQueue is the queue surface the orchestrator needs.
type RequestQueue interface {
	MarkDispatching(id string) error
	MarkExecuting(id string) error
	MarkConfirmed(id, confirmationID string, court int) error
	MarkFailed(id string, attemptErr error) error
	Get(id string) (*types.Request, error)
}

// Orchestrator dispatches allocation plans.
type Orchestrator struct {
	pool     CourtPool
	exec     PageExecutor
	queue    RequestQueue
	notifier notify.Notifier
	cfg      *config.Config
}

// New creates an orchestrator.
func New(pool CourtPool, exec PageExecutor, queue RequestQueue, notifier notify.Notifier, cfg *config.Config) *Orchestrator {
	return &Orchestrator{pool: pool, exec: exec, queue: queue, notifier: notifier, cfg: cfg}
}

// outcome pairs an assignment with its attempt result.
type outcome struct {
	assignment allocator.Assignment
	result     executor.Result
}

// Dispatch runs every confirmed attempt of the plan concurrently and, if
// failures leave courts unreserved, offers those courts to the waitlist
// in priority order. Racing is deliberate: no attempt waits for another's
// success.
func (o *Orchestrator) Dispatch(ctx context.Context, plan allocator.Plan) {
	if len(plan.Confirmed) == 0 && len(plan.Waitlist) == 0 {
		return
	}

	o.pool.BeginCritical()
	defer o.pool.EndCritical()
	metrics.DispatchesTotal.Inc()

	log.Info().
		Str("slot", plan.SlotKey).
		Int("attempts", len(plan.Confirmed)).
		Int("waitlisted", len(plan.Waitlist)).
		Msg("Dispatching allocation plan")

	outcomes := o.runWave(ctx, plan.Confirmed)

	// Courts that failed without reserving anything are still free for
	// the waitlist.
	taken := make(map[int]bool)
	for _, out := range outcomes {
		if out.result.Err == nil {
			taken[out.assignment.Court] = true
		}
	}

	if len(plan.Waitlist) == 0 {
		return
	}
	free := o.freeCourts(taken)
	if len(free) == 0 {
		return
	}

	var fallback []allocator.Assignment
	for _, r := range plan.Waitlist {
		if len(free) == 0 {
			break
		}
		options := allocator.Fallbacks(r, free, taken)
		if len(options) == 0 {
			continue
		}
		if err := o.queue.MarkDispatching(r.ID); err != nil {
			log.Warn().Err(err).Str("request_id", r.ID).Msg("Waitlisted request not dispatchable for fallback")
			continue
		}
		court := options[0]
		taken[court] = true
		free = remove(free, court)
		fallback = append(fallback, allocator.Assignment{Request: r, Court: court})
	}
	if len(fallback) == 0 {
		return
	}

	log.Info().
		Str("slot", plan.SlotKey).
		Int("attempts", len(fallback)).
		Msg("Dispatching fallback wave for waitlisted requests")
	o.runWave(ctx, fallback)
}

// runWave executes one batch of assignments concurrently and returns the
// outcomes.
func (o *Orchestrator) runWave(ctx context.Context, assignments []allocator.Assignment) []outcome {
	var (
		mu       sync.Mutex
		outcomes []outcome
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range assignments {
		a := a
		g.Go(func() error {
			res := o.attempt(gctx, a)
			mu.Lock()
			outcomes = append(outcomes, outcome{assignment: a, result: res})
			mu.Unlock()
			// Attempt failures are recorded in the queue, never
			// propagated: one loss must not cancel the race.
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// attempt runs a single booking attempt end to end: queue transition,
// page acquisition, execution, and outcome reconciliation.
func (o *Orchestrator) attempt(ctx context.Context, a allocator.Assignment) executor.Result {
	req := a.Request
	court := o.courtFor(a.Court)

	if err := o.queue.MarkExecuting(req.ID); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("Request not executable, skipping attempt")
		return executor.Result{Court: a.Court, Err: err}
	}

	o.notifier.Notify(req.UserID,
		fmt.Sprintf("Attempting to book court %d for %s", a.Court, req.SlotKey()),
		notify.Payload{Event: notify.EventDispatched, RequestID: req.ID, Slot: req.SlotKey(), Court: a.Court})

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	page, release, err := o.pool.PageFor(a.Court)
	if err != nil {
		res := executor.Result{Court: a.Court, Err: types.NewInternalAttemptError(a.Court, err)}
		o.reconcile(req, res)
		return res
	}
	defer release()

	res := o.exec.Execute(attemptCtx, page, req, court)
	o.reconcile(req, res)
	return res
}

// reconcile writes the attempt outcome back to the queue and notifies
// the user.
func (o *Orchestrator) reconcile(req *types.Request, res executor.Result) {
	if res.Err == nil {
		metrics.RecordAttempt("confirmed", res.Duration)
		if err := o.queue.MarkConfirmed(req.ID, res.ConfirmationID, res.Court); err != nil {
			log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to record confirmation")
		}
		o.notifier.Notify(req.UserID,
			fmt.Sprintf("Court %d booked for %s (confirmation %s)", res.Court, req.SlotKey(), res.ConfirmationID),
			notify.Payload{
				Event: notify.EventConfirmed, RequestID: req.ID, Slot: req.SlotKey(),
				Court: res.Court, ConfirmationID: res.ConfirmationID,
			})
		return
	}

	metrics.RecordAttempt(string(types.ClassifyAttemptError(res.Err)), res.Duration)
	if err := o.queue.MarkFailed(req.ID, res.Err); err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to record attempt failure")
	}

	event := notify.EventFailed
	if after, err := o.queue.Get(req.ID); err == nil && after.State == types.StateExpired {
		event = notify.EventExpired
	}
	o.notifier.Notify(req.UserID,
		notify.Truncate(fmt.Sprintf("Booking court %d for %s failed: %s", res.Court, req.SlotKey(), res.Err.Error())),
		notify.Payload{Event: event, RequestID: req.ID, Slot: req.SlotKey(), Court: res.Court})
}

// freeCourts returns the healthy courts not in taken, preserving no
// particular order; Fallbacks sorts per-request.
func (o *Orchestrator) freeCourts(taken map[int]bool) []int {
	var out []int
	for _, n := range o.pool.AvailableCourts() {
		if !taken[n] {
			out = append(out, n)
		}
	}
	return out
}

// courtFor resolves the configured court record, falling back to a bare
// number when configuration has drifted.
func (o *Orchestrator) courtFor(number int) types.Court {
	if c, ok := o.cfg.CourtByNumber(number); ok {
		return c
	}
	return types.Court{Number: number}
}

func remove(list []int, n int) []int {
	out := list[:0:0]
	for _, v := range list {
		if v != n {
			out = append(out, v)
		}
	}
	return out
}

// AttemptTimeout exposes the per-attempt bound for callers sizing their
// own deadlines.
func (o *Orchestrator) AttemptTimeout() time.Duration {
	return o.cfg.AttemptTimeout
}
