// Package main provides the entry point for pistabot.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/availability"
	"github.com/pistabot/pistabot/internal/browser"
	"github.com/pistabot/pistabot/internal/config"
	"github.com/pistabot/pistabot/internal/executor"
	"github.com/pistabot/pistabot/internal/health"
	"github.com/pistabot/pistabot/internal/metrics"
	"github.com/pistabot/pistabot/internal/notify"
	"github.com/pistabot/pistabot/internal/orchestrator"
	"github.com/pistabot/pistabot/internal/queue"
	"github.com/pistabot/pistabot/internal/scheduler"
	"github.com/pistabot/pistabot/internal/site"
	"github.com/pistabot/pistabot/pkg/version"
)

// healthCheckInterval paces the background pool health loop. Checks are
// cheap page probes; a stale verdict is worse than the probe cost.
const healthCheckInterval = 30 * time.Second

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logging first so validation warnings are visible
	setupLogging(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.LoadCourts(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load court inventory")
	}

	// Print banner
	printBanner()

	// Site catalog (selectors and phrases), optionally hot-reloaded
	catalogs, err := site.NewManager(cfg.SiteCatalogPath, cfg.SiteHotReload)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize site catalog")
	}

	// Persistent request queue
	store, err := queue.NewFileStore(cfg.QueuePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open queue store")
	}
	q, err := queue.New(store, queue.Options{
		BookingWindow:    cfg.BookingWindow,
		DispatchLead:     cfg.DispatchLead,
		RetryTail:        cfg.RetryTail,
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		Location:         cfg.Location,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to restore request queue")
	}
	log.Info().Int("requests", q.Len()).Str("path", cfg.QueuePath).Msg("Request queue restored")

	// Warm browser pool, one calendar page per court
	log.Info().Msg("Initializing browser pool...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := browser.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize browser pool")
	}
	probeCalendars(ctx, pool, catalogs, cfg)

	// Attempt pipeline: executor -> orchestrator -> scheduler
	notifier := notify.Fanout{notify.LogNotifier{}}
	exec := executor.New(catalogs, cfg)
	orch := orchestrator.New(pool, exec, q, notifier, cfg)
	sched := scheduler.New(q, pool, orch, cfg)

	// Recovery ladder; the last rung lazily brings up the single
	// fallback browser.
	var (
		fallbackMu sync.Mutex
		fallback   *browser.EmergencyFallback
	)
	recovery := health.NewRecovery(pool, func(context.Context) error {
		fallbackMu.Lock()
		defer fallbackMu.Unlock()
		if fallback != nil {
			return nil
		}
		fb, err := browser.NewEmergencyFallback(cfg)
		if err != nil {
			return err
		}
		fallback = fb
		return nil
	})

	// Channel to signal shutdown to background tasks
	stopCh := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthLoop(ctx, pool, recovery, cfg, stopCh)
	}()

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metrics.SetBuildInfo(version.Full(), version.GoVersion())
		metrics.UpdatePoolMetrics(len(cfg.Courts), len(pool.AvailableCourts()))

		go metrics.StartRuntimeCollector(10*time.Second, stopCh)

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())

		metricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			log.Info().Int("port", cfg.MetricsPort).Msg("Prometheus metrics server started")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Start the scheduler loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().
			Int("courts", len(cfg.Courts)).
			Str("readiness", string(pool.Readiness())).
			Bool("metrics_enabled", cfg.MetricsEnabled).
			Msg("pistabot is watching the queue")
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Scheduler stopped with error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop the scheduler and background tasks; Run reverts any request
	// stranded mid-dispatch before returning.
	cancel()
	close(stopCh)
	wg.Wait()

	// Shutdown metrics server if running
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Metrics server shutdown error")
		}
		shutdownCancel()
	}

	fallbackMu.Lock()
	if fallback != nil {
		if err := fallback.Close(); err != nil {
			log.Error().Err(err).Msg("Fallback browser close error")
		}
	}
	fallbackMu.Unlock()

	if err := pool.Close(); err != nil {
		log.Error().Err(err).Msg("Browser pool close error")
	}
	if err := catalogs.Close(); err != nil {
		log.Error().Err(err).Msg("Site catalog close error")
	}

	log.Info().Msg("Shutdown complete")
}

// probeCalendars reads each warm calendar once at startup. A court whose
// page loads but yields no parseable calendar is caught here, before the
// first window arms, instead of at the first dispatch.
func probeCalendars(ctx context.Context, pool *browser.Pool, catalogs *site.Manager, cfg *config.Config) {
	now := time.Now().In(cfg.Location)
	for _, court := range pool.AvailableCourts() {
		page, release, err := pool.PageFor(court)
		if err != nil {
			continue
		}
		snapshot, err := availability.Probe(ctx, page, catalogs.Current(), now)
		release()
		if err != nil {
			log.Warn().Err(err).Int("court", court).Msg("Startup calendar probe failed")
			continue
		}
		log.Info().Int("court", court).Int("days_visible", len(snapshot)).Msg("Calendar probe ok")
	}
}

// healthLoop periodically checks the pool and escalates recovery when
// courts fail. It stands down while a dispatch is in flight; recovery
// mid-race would tear down the very pages the attempts are using.
func healthLoop(ctx context.Context, pool *browser.Pool, recovery *health.Recovery, cfg *config.Config, stopCh <-chan struct{}) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		if pool.CriticalInProgress() {
			continue
		}

		ph := health.CheckPool(ctx, pool, cfg.HealthCheckTimeout)
		metrics.UpdatePoolMetrics(len(cfg.Courts), len(pool.AvailableCourts()))

		if ph.Status == health.StatusHealthy {
			continue
		}
		failed := ph.FailedCourts()
		log.Warn().
			Str("status", string(ph.Status)).
			Ints("failed_courts", failed).
			Int("healthy", ph.Healthy).
			Int("total", ph.Total).
			Msg("Pool health degraded, attempting recovery")

		if len(failed) == 0 {
			continue
		}
		if err := recovery.Recover(ctx, failed); err != nil {
			log.Error().Err(err).Msg("Recovery exhausted all strategies")
		}
	}
}

// setupLogging configures zerolog based on the log level.
func setupLogging(level string) {
	// Use console writer for prettier output
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	})

	switch level {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// printBanner prints the startup banner.
func printBanner() {
	banner := `
        _     _        _           _
  _ __ (_)___| |_ __ _| |__   ___ | |_
 | '_ \| / __| __/ _' | '_ \ / _ \| __|
 | |_) | \__ \ || (_| | |_) | (_) | |_
 | .__/|_|___/\__\__,_|_.__/ \___/ \__|
 |_|                  court reservations
`
	fmt.Println(banner)
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting pistabot")
}
