// Package types provides the shared domain model, interfaces, and errors
// for the reservation system.
package types

import (
	"fmt"
	"time"
)

// Tier is a user priority class. Lower rank wins.
type Tier string

// Known priority tiers.
const (
	TierAdmin   Tier = "admin"
	TierVIP     Tier = "vip"
	TierRegular Tier = "regular"
)

// Rank returns the numeric priority of the tier (admin=0 < vip=1 < regular=2).
// Unknown tiers rank below regular so a typo never outranks a real member.
func (t Tier) Rank() int {
	switch t {
	case TierAdmin:
		return 0
	case TierVIP:
		return 1
	case TierRegular:
		return 2
	default:
		return 3
	}
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t == TierAdmin || t == TierVIP || t == TierRegular
}

// State is the lifecycle state of a reservation request.
type State string

// Lifecycle states. pending -> dispatching -> executing -> terminal.
const (
	StatePending     State = "pending"
	StateDispatching State = "dispatching"
	StateExecuting   State = "executing"
	StateConfirmed   State = "confirmed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
	StateExpired     State = "expired"
)

// Terminal reports whether no further transitions are allowed from the state.
// failed and expired requests may be re-queued by the embedder with a fresh
// target but never transition in place.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// Contact is the snapshot of user fields needed to fill the booking form.
type Contact struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Court is a configured physical court with its dedicated scheduling URL.
// The set of courts is static for the lifetime of the process.
type Court struct {
	Number      int    `json:"number" yaml:"number"`
	CalendarURL string `json:"calendarUrl" yaml:"url"`
}

// Request is the unit of work: one member asking for one (date, time) slot.
type Request struct {
	ID      string  `json:"id"`
	UserID  string  `json:"userId"`
	Contact Contact `json:"contact"`

	// Target slot. Date is YYYY-MM-DD, Time is HH:MM in the site timezone.
	Date             string `json:"date"`
	Time             string `json:"time"`
	CourtPreferences []int  `json:"courtPreferences"`

	Tier  Tier  `json:"tier"`
	State State `json:"state"`

	CreatedAt      time.Time `json:"createdAt"`
	Attempts       int       `json:"attempts"`
	LastError      string    `json:"lastError,omitempty"`
	ConfirmationID string    `json:"confirmationId,omitempty"`
	ReservedCourt  int       `json:"reservedCourt,omitempty"`

	// NextAttemptAt gates retry scheduling. Zero means no backoff applies.
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

// SlotKey identifies the (date, time) group a request belongs to.
func (r *Request) SlotKey() string {
	return r.Date + " " + r.Time
}

// TargetTime returns the request's target datetime in the given location.
func (r *Request) TargetTime(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", r.Date+" "+r.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid target %q %q: %w", r.Date, r.Time, err)
	}
	return t, nil
}

// WindowOpen returns the moment the slot becomes reservable: the target
// datetime minus the provider's booking window.
func (r *Request) WindowOpen(bookingWindow time.Duration, loc *time.Location) (time.Time, error) {
	target, err := r.TargetTime(loc)
	if err != nil {
		return time.Time{}, err
	}
	return target.Add(-bookingWindow), nil
}

// Validate checks the request's structural invariants. The target must
// parse, preferences must be non-empty without duplicates, and every
// preferred court must exist in the configured set.
func (r *Request) Validate(courts []Court, loc *time.Location) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidRequest, r.Tier)
	}
	if _, err := r.TargetTime(loc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(r.CourtPreferences) == 0 {
		return fmt.Errorf("%w: empty court preference list", ErrInvalidRequest)
	}
	seen := make(map[int]bool, len(r.CourtPreferences))
	for _, n := range r.CourtPreferences {
		if seen[n] {
			return fmt.Errorf("%w: duplicate court %d in preferences", ErrInvalidRequest, n)
		}
		seen[n] = true
		if !courtExists(courts, n) {
			return fmt.Errorf("%w: court %d is not configured", ErrInvalidRequest, n)
		}
	}
	return nil
}

func courtExists(courts []Court, number int) bool {
	for _, c := range courts {
		if c.Number == number {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the request. The queue hands out clones so
// callers can never mutate queue-owned state directly.
func (r *Request) Clone() *Request {
	cp := *r
	cp.CourtPreferences = append([]int(nil), r.CourtPreferences...)
	return &cp
}
