package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pistabot/pistabot/internal/metrics"
)

// recreateStagger spaces parallel court recreations so the site never
// sees a burst of simultaneous fresh sessions.
const recreateStagger = 1500 * time.Millisecond

// Strategy names a recovery escalation rung.
type Strategy string

// Recovery strategies, mildest first.
const (
	StrategySingleRecreate   Strategy = "single_recreate"
	StrategyParallelRecreate Strategy = "parallel_recreate"
	StrategyFullRestart      Strategy = "full_restart"
	StrategyEmergency        Strategy = "emergency_fallback"
)

// PoolController is the command surface recovery needs from the pool.
type PoolController interface {
	RecreateCourt(ctx context.Context, court int) error
	RestartAll(ctx context.Context) error
	AvailableCourts() []int
}

// Attempt records one recovery try for later inspection.
type Attempt struct {
	Strategy Strategy
	Courts   []int
	Started  time.Time
	Duration time.Duration
	Success  bool
	Error    string
}

// Recovery escalates through the strategy ladder until one rung brings
// enough of the pool back.
type Recovery struct {
	pool PoolController

	// activateFallback switches the system to the single-browser
	// emergency mode. Non-nil only when a fallback is configured.
	activateFallback func(ctx context.Context) error

	mu       sync.Mutex
	attempts []Attempt
}

// NewRecovery creates a recovery service over the pool. activateFallback
// may be nil when no emergency mode is available.
func NewRecovery(pool PoolController, activateFallback func(ctx context.Context) error) *Recovery {
	return &Recovery{pool: pool, activateFallback: activateFallback}
}

// Recover walks the escalation ladder for the given failed courts and
// returns nil as soon as one strategy succeeds.
func (r *Recovery) Recover(ctx context.Context, failedCourts []int) error {
	if len(failedCourts) == 0 {
		return nil
	}

	log.Warn().Ints("courts", failedCourts).Msg("Recovery started")

	strategies := []func(context.Context, []int) error{
		r.singleRecreate,
		r.parallelRecreate,
		r.fullRestart,
		r.emergencyFallback,
	}
	names := []Strategy{StrategySingleRecreate, StrategyParallelRecreate, StrategyFullRestart, StrategyEmergency}

	var lastErr error
	for i, strategy := range strategies {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		start := time.Now()
		err := strategy(ctx, failedCourts)
		metrics.RecordRecovery(string(names[i]), err == nil)
		r.record(Attempt{
			Strategy: names[i],
			Courts:   append([]int(nil), failedCourts...),
			Started:  start,
			Duration: time.Since(start),
			Success:  err == nil,
			Error:    errString(err),
		})

		if err == nil {
			log.Info().
				Str("strategy", string(names[i])).
				Dur("duration", time.Since(start)).
				Msg("Recovery succeeded")
			return nil
		}
		lastErr = err
		log.Warn().
			Err(err).
			Str("strategy", string(names[i])).
			Msg("Recovery strategy failed, escalating")
	}
	return fmt.Errorf("all recovery strategies exhausted: %w", lastErr)
}

// singleRecreate handles the one-court case; more than one failed court
// skips straight to the parallel rung.
func (r *Recovery) singleRecreate(ctx context.Context, courts []int) error {
	if len(courts) != 1 {
		return fmt.Errorf("%d courts failed, single recreate not applicable", len(courts))
	}
	return r.pool.RecreateCourt(ctx, courts[0])
}

// parallelRecreate rebuilds every failed court concurrently with
// staggered starts.
func (r *Recovery) parallelRecreate(ctx context.Context, courts []int) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, court := range courts {
		i, court := i, court
		g.Go(func() error {
			delay := time.Duration(i) * recreateStagger
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-time.After(delay):
			}
			return r.pool.RecreateCourt(gctx, court)
		})
	}
	return g.Wait()
}

func (r *Recovery) fullRestart(ctx context.Context, _ []int) error {
	return r.pool.RestartAll(ctx)
}

func (r *Recovery) emergencyFallback(ctx context.Context, _ []int) error {
	if r.activateFallback == nil {
		return fmt.Errorf("no emergency fallback configured")
	}
	return r.activateFallback(ctx)
}

// record appends to the retained attempt history.
func (r *Recovery) record(a Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

// Attempts returns a copy of the recovery history.
func (r *Recovery) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Attempt(nil), r.attempts...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
