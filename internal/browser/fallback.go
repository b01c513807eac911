package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/types"
	"github.com/pistabot/pistabot/pkg/version"
)

// DirectDatetimeURL builds the calendar-bypassing booking URL for a
// specific slot: the court's base path plus
// /datetime/<date>T<time>:00<tz-offset>, keeping the original query.
func DirectDatetimeURL(calendarURL, date, timeStr string, loc *time.Location) (string, error) {
	u, err := url.Parse(calendarURL)
	if err != nil {
		return "", fmt.Errorf("invalid calendar url: %w", err)
	}

	target, err := time.ParseInLocation("2006-01-02 15:04", date+" "+timeStr, loc)
	if err != nil {
		return "", fmt.Errorf("invalid slot %q %q: %w", date, timeStr, err)
	}

	u.Path = strings.TrimRight(u.Path, "/") +
		"/datetime/" + date + "T" + timeStr + ":00" + target.Format("-07:00")
	return u.String(), nil
}

// EmergencyFallback is the last recovery rung: a single browser, one
// booking attempt at a time, navigating straight to the direct datetime
// URL instead of relying on a warm calendar page.
type EmergencyFallback struct {
	mu      sync.Mutex
	browser *rod.Browser
	config  *config.Config
	closed  bool
}

// NewEmergencyFallback launches the single fallback browser.
func NewEmergencyFallback(cfg *config.Config) (*EmergencyFallback, error) {
	pool := &Pool{config: cfg}
	browser, err := pool.spawnBrowser()
	if err != nil {
		return nil, fmt.Errorf("emergency fallback browser failed: %w", err)
	}
	log.Warn().Msg("Emergency fallback browser active")
	return &EmergencyFallback{browser: browser, config: cfg}, nil
}

// OpenDirect navigates a fresh stealth page to the slot's direct
// datetime URL. Only one attempt may hold the fallback browser at a
// time; the release function closes the page and frees it.
func (f *EmergencyFallback) OpenDirect(ctx context.Context, court types.Court, date, timeStr string) (*rod.Page, func(), error) {
	if !f.mu.TryLock() {
		return nil, nil, fmt.Errorf("%w: fallback browser", types.ErrCourtBusy)
	}
	if f.closed {
		f.mu.Unlock()
		return nil, nil, types.ErrPoolClosed
	}

	direct, err := DirectDatetimeURL(court.CalendarURL, date, timeStr, f.config.Location)
	if err != nil {
		f.mu.Unlock()
		return nil, nil, err
	}

	page, err := stealth.Page(f.browser)
	if err != nil {
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("fallback page creation failed: %w", err)
	}
	page = page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      version.UserAgent,
		AcceptLanguage: "es-ES,es;q=0.9,en;q=0.5",
	}); err != nil {
		page.Close()
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("fallback user agent override failed: %w", err)
	}

	if err := page.Navigate(direct); err != nil {
		page.Close()
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("fallback navigation to court %d failed: %w", court.Number, err)
	}
	if err := page.WaitLoad(); err != nil {
		page.Close()
		f.mu.Unlock()
		return nil, nil, fmt.Errorf("fallback page for court %d did not load: %w", court.Number, err)
	}

	log.Info().Int("court", court.Number).Str("slot", date+" "+timeStr).Msg("Fallback page opened on direct datetime URL")

	var once sync.Once
	release := func() {
		once.Do(func() {
			page.Close()
			f.mu.Unlock()
		})
	}
	return page, release, nil
}

// Close shuts the fallback browser down.
func (f *EmergencyFallback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.browser != nil {
		closeBrowser(f.browser)
		f.browser = nil
	}
	return nil
}
