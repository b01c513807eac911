package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/types"
)

// Store abstracts queue persistence so tests can swap the file store for
// an in-memory one.
type Store interface {
	Load() ([]*types.Request, error)
	Save([]*types.Request) error
}

// Options configures the queue's eligibility window and retry ceiling.
type Options struct {
	BookingWindow    time.Duration
	DispatchLead     time.Duration
	RetryTail        time.Duration
	MaxRetryAttempts int
	Location         *time.Location

	// Now is the clock source. Tests inject a fixed clock; production
	// leaves it nil and gets time.Now.
	Now func() time.Time
}

// Queue is the ordered, persistent collection of reservation requests.
// State transitions are serialised per-request by a per-id mutex;
// persistence is serialised globally by the persist mutex, held from
// snapshot through write.
type Queue struct {
	mu       sync.RWMutex
	requests map[string]*types.Request
	order    []string
	locks    map[string]*sync.Mutex

	// persist pairs each snapshot with its write so a slow Save can
	// never land after a newer one and resurrect stale state on disk.
	// Lock order: per-id mutex, then persist, then mu.
	persist sync.Mutex

	store Store
	opts  Options
}

// New creates a queue, restoring all non-terminal requests from the store.
// Requests found stranded in dispatching or executing revert to pending.
func New(store Store, opts Options) (*Queue, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	q := &Queue{
		requests: make(map[string]*types.Request),
		locks:    make(map[string]*sync.Mutex),
		store:    store,
		opts:     opts,
	}

	restored, err := store.Load()
	if err != nil {
		return nil, err
	}
	recovered := 0
	for _, r := range restored {
		if r.ID == "" {
			continue
		}
		if r.State == types.StateDispatching || r.State == types.StateExecuting {
			r.State = types.StatePending
			recovered++
		}
		q.requests[r.ID] = r
		q.order = append(q.order, r.ID)
		q.locks[r.ID] = &sync.Mutex{}
	}
	if recovered > 0 {
		log.Warn().Int("count", recovered).Msg("Recovered in-flight requests to pending after restart")
	}
	return q, nil
}

// Add inserts a new request in pending state and persists. A missing ID
// gets a generated UUID; a missing CreatedAt gets the current time.
func (q *Queue) Add(r *types.Request) (string, error) {
	if r == nil {
		return "", fmt.Errorf("%w: nil request", types.ErrInvalidRequest)
	}

	cp := r.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.State = types.StatePending
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = q.opts.Now()
	}

	q.persist.Lock()
	defer q.persist.Unlock()

	q.mu.Lock()
	if _, exists := q.requests[cp.ID]; exists {
		q.mu.Unlock()
		return "", fmt.Errorf("%w: duplicate id %s", types.ErrInvalidRequest, cp.ID)
	}
	q.requests[cp.ID] = cp
	q.order = append(q.order, cp.ID)
	q.locks[cp.ID] = &sync.Mutex{}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if err := q.store.Save(snapshot); err != nil {
		return "", err
	}

	log.Info().
		Str("request_id", cp.ID).
		Str("user_id", cp.UserID).
		Str("slot", cp.SlotKey()).
		Str("tier", string(cp.Tier)).
		Msg("Request queued")
	return cp.ID, nil
}

// Get returns a copy of the request.
func (q *Queue) Get(id string) (*types.Request, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.requests[id]
	if !ok {
		return nil, types.ErrRequestNotFound
	}
	return r.Clone(), nil
}

// transition runs fn against the live request under its per-id mutex and
// the queue lock, then persists the whole queue if fn succeeded.
func (q *Queue) transition(id string, fn func(r *types.Request) error) error {
	q.mu.RLock()
	lock, ok := q.locks[id]
	q.mu.RUnlock()
	if !ok {
		return types.ErrRequestNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	q.persist.Lock()
	defer q.persist.Unlock()

	q.mu.Lock()
	r, ok := q.requests[id]
	if !ok {
		q.mu.Unlock()
		return types.ErrRequestNotFound
	}
	if err := fn(r); err != nil {
		q.mu.Unlock()
		return err
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	return q.store.Save(snapshot)
}

// MarkDispatching moves a pending request into dispatching.
func (q *Queue) MarkDispatching(id string) error {
	return q.transition(id, func(r *types.Request) error {
		if r.State.Terminal() {
			return types.ErrTerminalState
		}
		if r.State != types.StatePending {
			return fmt.Errorf("cannot dispatch request in state %q", r.State)
		}
		r.State = types.StateDispatching
		log.Debug().Str("request_id", id).Msg("Request dispatching")
		return nil
	})
}

// MarkExecuting moves a request into executing. Fails atomically if any
// other request for the same user and slot is already executing.
func (q *Queue) MarkExecuting(id string) error {
	return q.transition(id, func(r *types.Request) error {
		if r.State.Terminal() {
			return types.ErrTerminalState
		}
		if r.State != types.StateDispatching {
			return fmt.Errorf("cannot execute request in state %q", r.State)
		}
		for _, other := range q.requests {
			if other.ID != id && other.State == types.StateExecuting &&
				other.UserID == r.UserID && other.SlotKey() == r.SlotKey() {
				return types.ErrAlreadyExecuting
			}
		}
		r.State = types.StateExecuting
		log.Debug().Str("request_id", id).Msg("Request executing")
		return nil
	})
}

// MarkConfirmed records a successful booking. Confirming twice with the
// same id is idempotent; a different confirmation id is an error.
func (q *Queue) MarkConfirmed(id, confirmationID string, court int) error {
	if confirmationID == "" {
		return fmt.Errorf("%w: empty confirmation id", types.ErrConfirmationMismatch)
	}
	return q.transition(id, func(r *types.Request) error {
		if r.State == types.StateConfirmed {
			if r.ConfirmationID == confirmationID {
				return nil
			}
			return types.ErrConfirmationMismatch
		}
		if r.State.Terminal() {
			return types.ErrTerminalState
		}
		r.State = types.StateConfirmed
		r.ConfirmationID = confirmationID
		r.ReservedCourt = court
		r.LastError = ""
		log.Info().
			Str("request_id", id).
			Str("confirmation_id", confirmationID).
			Int("court", court).
			Msg("Request confirmed")
		return nil
	})
}

// MarkFailed records an attempt failure. The request returns to pending
// with a retry delay from the ladder, becomes failed when the failure is
// terminal for this window, or expired when the retry ceiling is reached.
func (q *Queue) MarkFailed(id string, attemptErr error) error {
	return q.transition(id, func(r *types.Request) error {
		if r.State.Terminal() {
			return types.ErrTerminalState
		}

		r.Attempts++
		if attemptErr != nil {
			r.LastError = attemptErr.Error()
		}

		var ae *types.AttemptError
		if errors.As(attemptErr, &ae) && ae.TerminalForWindow() {
			r.State = types.StateFailed
			r.NextAttemptAt = time.Time{}
			log.Warn().
				Str("request_id", id).
				Int("attempts", r.Attempts).
				Str("error", r.LastError).
				Msg("Request failed for this window, no further retries")
			return nil
		}

		if r.Attempts >= q.opts.MaxRetryAttempts {
			r.State = types.StateExpired
			r.NextAttemptAt = time.Time{}
			log.Warn().
				Str("request_id", id).
				Int("attempts", r.Attempts).
				Str("error", r.LastError).
				Msg("Request expired at the retry ceiling")
			return nil
		}

		now := q.opts.Now()
		sinceOpen := time.Duration(0)
		if open, err := r.WindowOpen(q.opts.BookingWindow, q.opts.Location); err == nil {
			sinceOpen = now.Sub(open)
		}
		delay := RetryDelay(sinceOpen, r.Attempts)
		r.State = types.StatePending
		r.NextAttemptAt = now.Add(delay)

		log.Info().
			Str("request_id", id).
			Int("attempts", r.Attempts).
			Dur("retry_in", delay).
			Str("error", r.LastError).
			Msg("Request failed, retry scheduled")
		return nil
	})
}

// Cancel moves a request to cancelled. Terminal requests cannot be
// cancelled.
func (q *Queue) Cancel(id string) error {
	return q.transition(id, func(r *types.Request) error {
		if r.State.Terminal() {
			return types.ErrTerminalState
		}
		r.State = types.StateCancelled
		log.Info().Str("request_id", id).Msg("Request cancelled")
		return nil
	})
}

// RevertDispatching returns every dispatching request to pending. The
// scheduler calls this during shutdown so no request is stranded.
func (q *Queue) RevertDispatching() error {
	q.persist.Lock()
	defer q.persist.Unlock()

	q.mu.Lock()
	reverted := 0
	for _, r := range q.requests {
		if r.State == types.StateDispatching {
			r.State = types.StatePending
			reverted++
		}
	}
	snapshot := q.snapshotLocked()
	q.mu.Unlock()

	if reverted == 0 {
		return nil
	}
	log.Info().Int("count", reverted).Msg("Reverted dispatching requests to pending")
	return q.store.Save(snapshot)
}

// ListByState returns copies of all requests in the given state, in
// insertion order.
func (q *Queue) ListByState(state types.State) []*types.Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*types.Request
	for _, id := range q.order {
		if r := q.requests[id]; r != nil && r.State == state {
			out = append(out, r.Clone())
		}
	}
	return out
}

// ListForUser returns copies of all requests belonging to the user, in
// insertion order.
func (q *Queue) ListForUser(userID string) []*types.Request {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []*types.Request
	for _, id := range q.order {
		if r := q.requests[id]; r != nil && r.UserID == userID {
			out = append(out, r.Clone())
		}
	}
	return out
}

// SelectEligible returns copies of requests ready for dispatch: pending,
// below the retry ceiling, past any backoff, and inside the window
// [window_open - dispatch_lead, window_open + retry_tail].
func (q *Queue) SelectEligible() []*types.Request {
	now := q.opts.Now()

	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*types.Request
	for _, id := range q.order {
		r := q.requests[id]
		if r == nil || r.State != types.StatePending {
			continue
		}
		if r.Attempts >= q.opts.MaxRetryAttempts {
			continue
		}
		if !r.NextAttemptAt.IsZero() && now.Before(r.NextAttemptAt) {
			continue
		}
		open, err := r.WindowOpen(q.opts.BookingWindow, q.opts.Location)
		if err != nil {
			continue
		}
		if now.Before(open.Add(-q.opts.DispatchLead)) || now.After(open.Add(q.opts.RetryTail)) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Len returns the total number of requests, terminal states included.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.requests)
}

// snapshotLocked clones the full request list in insertion order. Caller
// holds q.mu.
func (q *Queue) snapshotLocked() []*types.Request {
	out := make([]*types.Request, 0, len(q.order))
	for _, id := range q.order {
		if r := q.requests[id]; r != nil {
			out = append(out, r.Clone())
		}
	}
	return out
}

// RetryDelay returns how long to wait before the next attempt, given how
// far past window open the failure happened. Early failures retry on a
// fast 30/60/120s ladder while contention is still being decided; later
// ones back off to 5 then 15 minute sweeps.
func RetryDelay(sinceOpen time.Duration, attempt int) time.Duration {
	if sinceOpen <= 5*time.Minute {
		switch {
		case attempt <= 1:
			return 30 * time.Second
		case attempt == 2:
			return time.Minute
		default:
			return 2 * time.Minute
		}
	}
	if sinceOpen <= 30*time.Minute {
		return 5 * time.Minute
	}
	return 15 * time.Minute
}
