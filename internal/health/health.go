// Package health checks court pages and escalates recovery when they
// fail. Checks are read-only probes; recovery is the command side that
// recreates browsers, restarts the pool, or falls back to a minimal
// single-browser mode.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/types"
)

// Status grades a court or pool health check.
type Status string

// Health statuses, best to worst.
const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
	StatusFailed   Status = "failed"
)

// CourtHealth is the result of one per-court check.
type CourtHealth struct {
	Court            int
	Status           Status
	PageAccessible   bool
	ScriptExecutable bool
	NetworkReachable bool
	DOMQueryable     bool
	ResponseTime     time.Duration
	CheckedAt        time.Time
}

// PoolHealth aggregates the per-court results.
type PoolHealth struct {
	Status  Status
	Courts  []CourtHealth
	Healthy int
	Total   int
}

// CourtPager is the slice of the pool the checker needs: a page per
// court, without taking part in attempt locking. Courts lists every
// configured court regardless of health, so quarantined courts stay
// visible to the checker and get a shot at recovery.
type CourtPager interface {
	PageFor(court int) (*rod.Page, func(), error)
	Courts() []types.Court
}

// CheckCourt probes one court's page: info endpoint, script evaluation,
// network state, and DOM query, each within the shared timeout.
func CheckCourt(ctx context.Context, page *rod.Page, court int, timeout time.Duration) CourtHealth {
	h := CourtHealth{Court: court, CheckedAt: time.Now()}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := page.Context(checkCtx)

	start := time.Now()

	if _, err := p.Info(); err == nil {
		h.PageAccessible = true
	}

	if res, err := (proto.RuntimeEvaluate{
		Expression:    `1 + 1`,
		ReturnByValue: true,
	}).Call(p); err == nil && res.ExceptionDetails == nil && res.Result.Value.Int() == 2 {
		h.ScriptExecutable = true
	}

	if res, err := (proto.RuntimeEvaluate{
		Expression:    `navigator.onLine === true`,
		ReturnByValue: true,
	}).Call(p); err == nil && res.Result.Value.Bool() {
		h.NetworkReachable = true
	}

	if res, err := (proto.RuntimeEvaluate{
		Expression:    `document.querySelector('body') !== null`,
		ReturnByValue: true,
	}).Call(p); err == nil && res.Result.Value.Bool() {
		h.DOMQueryable = true
	}

	h.ResponseTime = time.Since(start)
	h.Status = statusOf(h.PageAccessible, h.ScriptExecutable, h.NetworkReachable, h.DOMQueryable)

	log.Debug().
		Int("court", court).
		Str("status", string(h.Status)).
		Bool("page", h.PageAccessible).
		Bool("script", h.ScriptExecutable).
		Bool("network", h.NetworkReachable).
		Bool("dom", h.DOMQueryable).
		Dur("response_time", h.ResponseTime).
		Msg("Court health checked")
	return h
}

// statusOf grades a check by how many probes passed.
func statusOf(checks ...bool) Status {
	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}
	switch {
	case passed == len(checks):
		return StatusHealthy
	case passed >= len(checks)-1:
		return StatusDegraded
	case passed > 0:
		return StatusCritical
	default:
		return StatusFailed
	}
}

// CheckPool checks every configured court, quarantined ones included,
// and aggregates. A court whose page cannot even be acquired counts as
// failed. Courts busy with an attempt are presumed healthy and skipped;
// an attempt in flight is better evidence than any probe.
func CheckPool(ctx context.Context, pager CourtPager, timeout time.Duration) PoolHealth {
	courts := pager.Courts()
	out := PoolHealth{Total: len(courts)}

	for _, court := range courts {
		page, release, err := pager.PageFor(court.Number)
		if err != nil {
			status := StatusFailed
			if errors.Is(err, types.ErrCourtBusy) {
				// An attempt in flight is better evidence than any probe.
				status = StatusHealthy
				out.Healthy++
			}
			out.Courts = append(out.Courts, CourtHealth{
				Court:     court.Number,
				Status:    status,
				CheckedAt: time.Now(),
			})
			continue
		}
		h := CheckCourt(ctx, page, court.Number, timeout)
		release()
		out.Courts = append(out.Courts, h)
		if h.Status == StatusHealthy || h.Status == StatusDegraded {
			out.Healthy++
		}
	}

	out.Status = aggregateStatus(out.Healthy, out.Total)
	return out
}

// aggregateStatus grades the pool by the share of usable courts.
func aggregateStatus(healthy, total int) Status {
	switch {
	case total == 0 || healthy == 0:
		return StatusFailed
	case healthy == total:
		return StatusHealthy
	case healthy*2 >= total:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// FailedCourts extracts the court numbers whose check came back critical
// or failed.
func (p PoolHealth) FailedCourts() []int {
	var out []int
	for _, c := range p.Courts {
		if c.Status == StatusCritical || c.Status == StatusFailed {
			out = append(out, c.Court)
		}
	}
	return out
}
