// Package browser maintains one warm browser per configured court, each
// parked on that court's scheduling calendar for the lifetime of the
// process. Keeping pages navigated and sessions warm is what lets a
// dispatch start interacting within milliseconds of the window opening.
//
// Lock ordering: the pool-wide mutex is acquired before any per-court
// lock. Never hold the pool mutex across slow browser I/O.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/metrics"
	"github.com/pistabot/pistabot/internal/types"
	"github.com/pistabot/pistabot/pkg/version"
)

// Readiness summarises how much of the pool is usable.
type Readiness string

// Pool readiness levels.
const (
	Ready          Readiness = "ready"
	PartiallyReady Readiness = "partially_ready"
	NotReady       Readiness = "not_ready"
)

// courtEntry is the per-court browser, page, and attempt lock.
type courtEntry struct {
	court   types.Court
	browser *rod.Browser
	page    *rod.Page

	// mu is held for the full duration of one booking attempt. PageFor
	// try-locks it so a busy court fails fast instead of queueing.
	mu sync.Mutex

	healthy   atomic.Bool
	createdAt time.Time
	refreshes atomic.Int64
	attempts  atomic.Int64
}

// PoolStats counts pool activity for inspection and metrics.
type PoolStats struct {
	Acquired  atomic.Int64
	Refreshed atomic.Int64
	Recreated atomic.Int64
	Errors    atomic.Int64
}

// Pool owns the per-court browsers.
type Pool struct {
	mu      sync.Mutex
	entries map[int]*courtEntry
	config  *config.Config
	closed  atomic.Bool

	// criticalOps counts in-flight dispatches. Maintenance refreshes are
	// declined while it is non-zero.
	criticalOps atomic.Int32

	stopCh chan struct{}
	wg     sync.WaitGroup

	stats PoolStats
}

// NewPool launches one browser per configured court and navigates each to
// its calendar. Individual court failures leave the pool partially ready
// rather than failing startup; the recovery pipeline restores them later.
// Only a pool with zero usable courts is an initialisation error.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	log.Info().
		Int("courts", len(cfg.Courts)).
		Bool("headless", cfg.Headless).
		Str("browser_path", cfg.BrowserPath).
		Msg("Initializing court browser pool")

	pool := &Pool{
		entries: make(map[int]*courtEntry, len(cfg.Courts)),
		config:  cfg,
		stopCh:  make(chan struct{}),
	}

	for _, court := range cfg.Courts {
		pool.entries[court.Number] = &courtEntry{court: court}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, entry := range pool.entries {
		entry := entry
		g.Go(func() error {
			if err := pool.initCourt(gctx, entry); err != nil {
				pool.stats.Errors.Add(1)
				log.Error().Err(err).Int("court", entry.court.Number).Msg("Court browser failed to initialize")
			}
			// Partial readiness is acceptable; never fail the group.
			return nil
		})
	}
	g.Wait()

	if len(pool.AvailableCourts()) == 0 {
		pool.Close()
		return nil, fmt.Errorf("%w: no court browser could be initialized", types.ErrPoolNotReady)
	}

	pool.wg.Add(1)
	go func() {
		defer pool.wg.Done()
		pool.maintenanceRoutine()
	}()

	log.Info().
		Str("readiness", string(pool.Readiness())).
		Ints("courts", pool.AvailableCourts()).
		Msg("Court browser pool initialized")
	return pool, nil
}

// initCourt launches the browser for one court and parks a stealth page
// on its calendar.
func (p *Pool) initCourt(ctx context.Context, entry *courtEntry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	browser, err := p.spawnBrowser()
	if err != nil {
		return err
	}

	page, err := p.openCalendarPage(browser, entry.court)
	if err != nil {
		closeBrowser(browser)
		return err
	}

	entry.mu.Lock()
	entry.browser = browser
	entry.page = page
	entry.createdAt = time.Now()
	entry.healthy.Store(true)
	entry.mu.Unlock()

	log.Debug().Int("court", entry.court.Number).Msg("Court browser ready on calendar")
	return nil
}

// createLauncher builds the Chrome launch configuration. The flag set
// suppresses the automation tells that survive CDP control: the
// AutomationControlled blink feature, the enable-automation switch, and
// the empty-WebGL fingerprint of a GPU-less environment.
func (p *Pool) createLauncher() *launcher.Launcher {
	l := launcher.New()

	if p.config.BrowserPath != "" {
		l = l.Bin(p.config.BrowserPath)
	}

	if p.config.Headless {
		l = l.Set("headless", "new")
	} else {
		// Headed under a virtual display. Rod defaults to headless, so it
		// must be disabled explicitly.
		l = l.Headless(false)
	}

	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage")

	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("disable-features", "Translate,TranslateUI,BlinkGenPropertyTrees,WebRtcHideLocalIpsWithMdns")
	l = l.Set("enable-features", "NetworkService,NetworkServiceInProcess")
	l = l.Set("force-webrtc-ip-handling-policy", "disable_non_proxied_udp")

	// SwiftShader keeps WebGL returning realistic values on any host.
	l = l.Set("use-gl", "swiftshader").
		Set("use-angle", "swiftshader").
		Set("enable-unsafe-swiftshader").
		Set("enable-webgl").
		Set("enable-webgl2")

	// Site language is Spanish; the accept header should agree.
	l = l.Set("accept-lang", "es-ES,es;q=0.9,en;q=0.5")

	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-infobars").
		Set("disable-search-engine-choice-screen")

	l = l.Set("window-size", "1920,1080")

	l = l.Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("no-zygote").
		Set("safebrowsing-disable-auto-update")

	l = l.Set("js-flags", "--max-old-space-size=256").
		Set("disable-ipc-flooding-protection").
		Set("disable-renderer-backgrounding")

	l = l.Set("disable-gpu-sandbox")
	if isARM() {
		// --disable-gpu breaks SwiftShader on ARM; compositing alone is safe.
		l = l.Set("disable-gpu-compositing")
	}

	return l
}

// spawnBrowser launches and connects a fresh browser process. Launchers
// are single-use, so each call builds a new one.
func (p *Pool) spawnBrowser() (*rod.Browser, error) {
	url, err := p.createLauncher().Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return browser, nil
}

// openCalendarPage creates a stealth-patched page and navigates it to the
// court's calendar.
func (p *Pool) openCalendarPage(browser *rod.Browser, court types.Court) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      version.UserAgent,
		AcceptLanguage: "es-ES,es;q=0.9,en;q=0.5",
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to set user agent for court %d: %w", court.Number, err)
	}

	if err := page.Navigate(court.CalendarURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to navigate court %d calendar: %w", court.Number, err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("court %d calendar did not finish loading: %w", court.Number, err)
	}
	return page, nil
}

// PageFor hands out the court's dedicated page for one attempt. The call
// never blocks: a busy court returns ErrCourtBusy immediately. The
// returned release function must be called when the attempt finishes.
func (p *Pool) PageFor(court int) (*rod.Page, func(), error) {
	if p.closed.Load() {
		return nil, nil, types.ErrPoolClosed
	}

	p.mu.Lock()
	entry, ok := p.entries[court]
	p.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: court %d is not configured", types.ErrCourtUnavailable, court)
	}
	if !entry.healthy.Load() {
		return nil, nil, fmt.Errorf("%w: court %d is quarantined", types.ErrCourtUnavailable, court)
	}

	if !entry.mu.TryLock() {
		return nil, nil, fmt.Errorf("%w: court %d", types.ErrCourtBusy, court)
	}
	if entry.page == nil {
		entry.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: court %d has no page", types.ErrCourtUnavailable, court)
	}

	entry.attempts.Add(1)
	p.stats.Acquired.Add(1)
	metrics.PagesAcquired.Inc()

	var once sync.Once
	release := func() {
		once.Do(entry.mu.Unlock)
	}
	return entry.page, release, nil
}

// Readiness reports whether all, some, or none of the courts are usable.
func (p *Pool) Readiness() Readiness {
	p.mu.Lock()
	total := len(p.entries)
	healthy := 0
	for _, e := range p.entries {
		if e.healthy.Load() {
			healthy++
		}
	}
	p.mu.Unlock()
	return readinessOf(total, healthy)
}

// readinessOf maps healthy/total counts onto a readiness level.
func readinessOf(total, healthy int) Readiness {
	switch {
	case total == 0 || healthy == 0:
		return NotReady
	case healthy == total:
		return Ready
	default:
		return PartiallyReady
	}
}

// AvailableCourts returns the numbers of all healthy courts, unordered.
func (p *Pool) AvailableCourts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for n, e := range p.entries {
		if e.healthy.Load() {
			out = append(out, n)
		}
	}
	return out
}

// Courts returns the full configured court list regardless of health.
func (p *Pool) Courts() []types.Court {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Court, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.court)
	}
	return out
}

// BeginCritical marks a dispatch in progress, suppressing maintenance
// refreshes until the matching EndCritical.
func (p *Pool) BeginCritical() {
	p.criticalOps.Add(1)
}

// EndCritical releases one critical-operation hold.
func (p *Pool) EndCritical() {
	if p.criticalOps.Add(-1) < 0 {
		p.criticalOps.Store(0)
		log.Warn().Msg("EndCritical called without matching BeginCritical")
	}
}

// CriticalInProgress reports whether any dispatch is currently active.
func (p *Pool) CriticalInProgress() bool {
	return p.criticalOps.Load() > 0
}

// Quarantine marks a court unusable until recovery restores it. The
// available-courts set shrinks; the court is never silently dropped.
func (p *Pool) Quarantine(court int) {
	p.mu.Lock()
	entry, ok := p.entries[court]
	p.mu.Unlock()
	if !ok {
		return
	}
	if entry.healthy.Swap(false) {
		log.Warn().Int("court", court).Msg("Court quarantined")
	}
}

// maintenanceRoutine refreshes court pages on the configured interval to
// prevent session drift, skipping cycles while a dispatch is active.
func (p *Pool) maintenanceRoutine() {
	interval := p.config.BrowserRefreshInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if p.CriticalInProgress() {
				log.Debug().Msg("Skipping maintenance refresh, dispatch in progress")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			p.RefreshAll(ctx)
			cancel()
		}
	}
}

// Close shuts down every browser and stops background maintenance.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.stopCh)
	p.wg.Wait()

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

	log.Info().Msg("Court browser pool closed")
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() (acquired, refreshed, recreated, errors int64) {
	return p.stats.Acquired.Load(), p.stats.Refreshed.Load(), p.stats.Recreated.Load(), p.stats.Errors.Load()
}

// closeBrowser closes a browser with a bounded wait so a wedged Chrome
// cannot hang shutdown.
func closeBrowser(browser *rod.Browser) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := browser.Close(); err != nil {
			log.Debug().Err(err).Msg("Browser close reported error")
		}
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Browser close timed out")
	}
}

// isARM reports whether the process runs on an ARM architecture.
func isARM() bool {
	return runtime.GOARCH == "arm" || runtime.GOARCH == "arm64"
}

// sessionState is the logical page state preserved across a refresh.
type sessionState struct {
	cookies      []*proto.NetworkCookie
	localStorage map[string]string
}
