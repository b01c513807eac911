package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pistabot/pistabot/internal/types"
)

// RefreshCourt re-navigates one court's page to its calendar, carrying
// the session cookies and localStorage across so the site sees the same
// visitor. A court busy with an attempt is skipped, not blocked on.
func (p *Pool) RefreshCourt(ctx context.Context, court int) error {
	if p.closed.Load() {
		return types.ErrPoolClosed
	}

	p.mu.Lock()
	entry, ok := p.entries[court]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: court %d is not configured", types.ErrCourtUnavailable, court)
	}

	if !entry.mu.TryLock() {
		log.Debug().Int("court", court).Msg("Refresh skipped, attempt in progress")
		return nil
	}
	defer entry.mu.Unlock()

	if entry.page == nil {
		return fmt.Errorf("%w: court %d has no page", types.ErrCourtUnavailable, court)
	}

	start := time.Now()
	state := snapshotSession(entry.page)

	page := entry.page.Context(ctx)
	if err := page.Navigate(entry.court.CalendarURL); err != nil {
		p.stats.Errors.Add(1)
		entry.healthy.Store(false)
		return fmt.Errorf("court %d refresh navigation failed: %w", court, err)
	}
	if err := page.WaitLoad(); err != nil {
		p.stats.Errors.Add(1)
		entry.healthy.Store(false)
		return fmt.Errorf("court %d refresh load failed: %w", court, err)
	}

	restoreSession(page, state)
	entry.refreshes.Add(1)
	entry.healthy.Store(true)
	p.stats.Refreshed.Add(1)

	log.Debug().
		Int("court", court).
		Dur("duration", time.Since(start)).
		Msg("Court page refreshed")
	return nil
}

// RefreshAll refreshes every configured court concurrently. A single
// court's failure never blocks the others; errors are logged and the
// failing court is quarantined by RefreshCourt itself.
func (p *Pool) RefreshAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, court := range p.courtNumbers() {
		court := court
		g.Go(func() error {
			if err := p.RefreshCourt(gctx, court); err != nil {
				log.Warn().Err(err).Int("court", court).Msg("Court refresh failed")
			}
			return nil
		})
	}
	g.Wait()
}

// RecreateCourt tears down a court's browser completely and builds a
// fresh one on the calendar, restoring the previous session state when
// one could be captured.
func (p *Pool) RecreateCourt(ctx context.Context, court int) error {
	if p.closed.Load() {
		return types.ErrPoolClosed
	}

	p.mu.Lock()
	entry, ok := p.entries[court]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: court %d is not configured", types.ErrCourtUnavailable, court)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var state *sessionState
	if entry.page != nil {
		state = snapshotSession(entry.page)
	}
	if entry.browser != nil {
		closeBrowser(entry.browser)
		entry.browser = nil
		entry.page = nil
	}
	entry.healthy.Store(false)

	browser, err := p.spawnBrowser()
	if err != nil {
		p.stats.Errors.Add(1)
		return fmt.Errorf("court %d browser relaunch failed: %w", court, err)
	}

	page, err := p.openCalendarPage(browser, entry.court)
	if err != nil {
		closeBrowser(browser)
		p.stats.Errors.Add(1)
		return err
	}

	restoreSession(page.Context(ctx), state)

	entry.browser = browser
	entry.page = page
	entry.createdAt = time.Now()
	entry.healthy.Store(true)
	p.stats.Recreated.Add(1)

	log.Info().Int("court", court).Msg("Court browser recreated")
	return nil
}

// RestartAll closes every browser, waits briefly for the processes to
// die, and re-initialises the pool from scratch.
func (p *Pool) RestartAll(ctx context.Context) error {
	if p.closed.Load() {
		return types.ErrPoolClosed
	}
	log.Warn().Msg("Full pool restart requested")

	p.mu.Lock()
	entries := make([]*courtEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.browser != nil {
			closeBrowser(e.browser)
			e.browser = nil
			e.page = nil
		}
		e.healthy.Store(false)
		e.mu.Unlock()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, e := range entries {
		e := e
		g.Go(func() error {
			if err := p.initCourt(gctx, e); err != nil {
				p.stats.Errors.Add(1)
				log.Error().Err(err).Int("court", e.court.Number).Msg("Court failed to come back after restart")
			}
			return nil
		})
	}
	g.Wait()

	readiness := p.Readiness()
	if readiness == NotReady {
		return fmt.Errorf("%w: pool restart brought no court back", types.ErrPoolNotReady)
	}
	log.Info().Str("readiness", string(readiness)).Msg("Pool restart completed")
	return nil
}

func (p *Pool) courtNumbers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.entries))
	for n := range p.entries {
		out = append(out, n)
	}
	return out
}

// snapshotSession captures the cookies and localStorage of a page.
// Failures degrade to a partial or nil snapshot; the refresh proceeds
// with whatever was captured.
func snapshotSession(page *rod.Page) *sessionState {
	state := &sessionState{}

	cookies, err := page.Cookies(nil)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to snapshot cookies")
	} else {
		state.cookies = cookies
	}

	result, err := proto.RuntimeEvaluate{
		Expression: `(function() {
			var data = {};
			try {
				for (var i = 0; i < localStorage.length; i++) {
					var key = localStorage.key(i);
					data[key] = localStorage.getItem(key);
				}
			} catch(e) {}
			return JSON.stringify(data);
		})()`,
		ReturnByValue: true,
	}.Call(page)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to snapshot localStorage")
		return state
	}
	if result.Result.Type == proto.RuntimeRemoteObjectTypeString {
		var data map[string]string
		if err := json.Unmarshal([]byte(result.Result.Value.Str()), &data); err == nil && len(data) > 0 {
			state.localStorage = data
		}
	}
	return state
}

// restoreSession writes a captured session back onto a freshly loaded
// page. Best effort; a failed restore only costs the site treating the
// visitor as new.
func restoreSession(page *rod.Page, state *sessionState) {
	if state == nil {
		return
	}

	if len(state.cookies) > 0 {
		if err := page.SetCookies(proto.CookiesToParams(state.cookies)); err != nil {
			log.Debug().Err(err).Msg("Failed to restore cookies")
		}
	}

	if len(state.localStorage) > 0 {
		script := localStorageRestoreScript(state.localStorage)
		if _, err := (proto.RuntimeEvaluate{Expression: script}).Call(page); err != nil {
			log.Debug().Err(err).Msg("Failed to restore localStorage")
		}
	}
}

// localStorageRestoreScript builds the script that writes captured
// localStorage entries back into a freshly loaded page.
func localStorageRestoreScript(data map[string]string) string {
	payload, _ := json.Marshal(data)
	return fmt.Sprintf(`(function() {
		try {
			var data = %s;
			for (var key in data) {
				localStorage.setItem(key, data[key]);
			}
		} catch(e) {}
	})()`, string(payload))
}
