// Package config provides application configuration management.
// Scalar settings come from environment variables; the court inventory
// comes from a YAML file because courts carry structure (number + URL).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/pistabot/pistabot/internal/types"
)

// Configuration upper bounds to prevent nonsense deployments.
const (
	maxCourts           = 16
	maxRetryCeiling     = 100
	minCheckInterval    = time.Second
	maxCheckInterval    = time.Minute
	minRefreshInterval  = 30 * time.Second
	maxBookingWindow    = 14 * 24 * time.Hour
	minSpeedMultiplier  = 0.5
	maxSpeedMultiplier  = 25.0
	defaultBookingHours = 48
)

// Config holds all application configuration.
type Config struct {
	// Booking window and scheduler timing
	BookingWindow    time.Duration // target datetime minus this = window open
	CheckInterval    time.Duration // scheduler tick
	DispatchLead     time.Duration // how far before window open a request is eligible
	RetryTail        time.Duration // how long past window open retries continue
	MaxRetryAttempts int

	// Browser settings
	Headless               bool
	BrowserPath            string
	BrowserRefreshInterval time.Duration

	// Courts
	CourtsFile string
	Courts     []types.Court

	// Site catalog
	SiteCatalogPath string
	SiteHotReload   bool

	// Attempt behaviour
	SpeedMultiplier float64
	ExperiencedMode bool

	// Timeouts
	AttemptTimeout      time.Duration
	FormLoadTimeout     time.Duration
	ConfirmationTimeout time.Duration
	HealthCheckTimeout  time.Duration

	// Queue persistence
	QueuePath string

	// Timezone for date arithmetic (the site's local zone)
	Timezone string
	Location *time.Location

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
// Courts are loaded separately via LoadCourts.
func Load() *Config {
	return &Config{
		BookingWindow:    time.Duration(getEnvInt("BOOKING_WINDOW_HOURS", defaultBookingHours)) * time.Hour,
		CheckInterval:    getEnvDuration("CHECK_INTERVAL", 5*time.Second),
		DispatchLead:     getEnvDuration("DISPATCH_LEAD", 60*time.Second),
		RetryTail:        getEnvDuration("RETRY_TAIL", 2*time.Hour),
		MaxRetryAttempts: getEnvInt("MAX_RETRY_ATTEMPTS", 10),

		Headless:               getEnvBool("HEADLESS", true),
		BrowserPath:            getEnvString("BROWSER_PATH", ""),
		BrowserRefreshInterval: getEnvDuration("BROWSER_REFRESH_INTERVAL", 5*time.Minute),

		CourtsFile: getEnvString("COURTS_FILE", "courts.yaml"),

		SiteCatalogPath: getEnvString("SITE_CATALOG_PATH", ""),
		SiteHotReload:   getEnvBool("SITE_HOT_RELOAD", false),

		SpeedMultiplier: getEnvFloat("SPEED_MULTIPLIER", 2.5),
		ExperiencedMode: getEnvBool("EXPERIENCED_MODE", false),

		AttemptTimeout:      getEnvDuration("ATTEMPT_TIMEOUT", 60*time.Second),
		FormLoadTimeout:     getEnvDuration("FORM_LOAD_TIMEOUT", 10*time.Second),
		ConfirmationTimeout: getEnvDuration("CONFIRMATION_TIMEOUT", 8*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),

		QueuePath: getEnvString("QUEUE_PATH", "reservations.json"),

		Timezone: getEnvString("TIMEZONE", "Europe/Madrid"),

		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}
}

// courtsFile mirrors the YAML court inventory document.
type courtsFile struct {
	Courts []types.Court `yaml:"courts"`
}

// LoadCourts reads the court inventory from the configured YAML file.
func (c *Config) LoadCourts() error {
	data, err := os.ReadFile(c.CourtsFile)
	if err != nil {
		return fmt.Errorf("read courts file: %w", err)
	}
	var doc courtsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse courts file: %w", err)
	}
	if len(doc.Courts) == 0 {
		return fmt.Errorf("courts file %s lists no courts", c.CourtsFile)
	}
	seen := make(map[int]bool, len(doc.Courts))
	for _, court := range doc.Courts {
		if court.Number <= 0 {
			return fmt.Errorf("court number %d is not positive", court.Number)
		}
		if seen[court.Number] {
			return fmt.Errorf("duplicate court number %d", court.Number)
		}
		seen[court.Number] = true
		if err := validateCourtURL(court.CalendarURL); err != nil {
			return fmt.Errorf("court %d: %w", court.Number, err)
		}
	}
	c.Courts = doc.Courts
	log.Info().Int("courts", len(doc.Courts)).Str("file", c.CourtsFile).Msg("Court inventory loaded")
	return nil
}

// validateCourtURL rejects URLs that cannot be a scheduling calendar.
func validateCourtURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("missing calendar URL")
	}
	if !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("calendar URL must use https: %s", raw)
	}
	if !strings.Contains(raw, "/schedule/") {
		return fmt.Errorf("calendar URL does not look like a scheduling page: %s", raw)
	}
	return nil
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults rather than failing;
// a misconfigured booker that runs beats one that refuses to start at 07:59.
func (c *Config) Validate() error {
	if c.BookingWindow < time.Hour {
		log.Warn().Dur("window", c.BookingWindow).Msg("Booking window too short, using 48h")
		c.BookingWindow = defaultBookingHours * time.Hour
	} else if c.BookingWindow > maxBookingWindow {
		log.Warn().Dur("window", c.BookingWindow).Msg("Booking window too long, capping at 14 days")
		c.BookingWindow = maxBookingWindow
	}

	if c.CheckInterval < minCheckInterval {
		log.Warn().Dur("interval", c.CheckInterval).Msg("Check interval too short, using minimum")
		c.CheckInterval = minCheckInterval
	} else if c.CheckInterval > maxCheckInterval {
		log.Warn().Dur("interval", c.CheckInterval).Msg("Check interval too long, capping")
		c.CheckInterval = maxCheckInterval
	}

	if c.DispatchLead < c.CheckInterval {
		log.Warn().
			Dur("lead", c.DispatchLead).
			Dur("tick", c.CheckInterval).
			Msg("Dispatch lead shorter than the tick, windows could be missed; raising to 2 ticks")
		c.DispatchLead = 2 * c.CheckInterval
	}

	if c.MaxRetryAttempts < 1 {
		log.Warn().Int("attempts", c.MaxRetryAttempts).Msg("Invalid retry ceiling, using 10")
		c.MaxRetryAttempts = 10
	} else if c.MaxRetryAttempts > maxRetryCeiling {
		log.Warn().Int("attempts", c.MaxRetryAttempts).Msg("Retry ceiling too high, capping")
		c.MaxRetryAttempts = maxRetryCeiling
	}

	if c.BrowserRefreshInterval < minRefreshInterval {
		log.Warn().
			Dur("interval", c.BrowserRefreshInterval).
			Msg("Browser refresh interval too short, using minimum")
		c.BrowserRefreshInterval = minRefreshInterval
	}

	if c.SpeedMultiplier < minSpeedMultiplier {
		log.Warn().Float64("multiplier", c.SpeedMultiplier).Msg("Speed multiplier too low, clamping")
		c.SpeedMultiplier = minSpeedMultiplier
	} else if c.SpeedMultiplier > maxSpeedMultiplier {
		log.Warn().Float64("multiplier", c.SpeedMultiplier).Msg("Speed multiplier too high, clamping")
		c.SpeedMultiplier = maxSpeedMultiplier
	}

	if c.AttemptTimeout < 10*time.Second {
		log.Warn().Dur("timeout", c.AttemptTimeout).Msg("Attempt timeout too short, using 60s")
		c.AttemptTimeout = 60 * time.Second
	}
	if c.FormLoadTimeout < time.Second {
		log.Warn().Dur("timeout", c.FormLoadTimeout).Msg("Form load timeout too short, using 10s")
		c.FormLoadTimeout = 10 * time.Second
	}
	if c.ConfirmationTimeout < time.Second {
		log.Warn().Dur("timeout", c.ConfirmationTimeout).Msg("Confirmation timeout too short, using 8s")
		c.ConfirmationTimeout = 8 * time.Second
	}
	if c.HealthCheckTimeout < time.Second {
		log.Warn().Dur("timeout", c.HealthCheckTimeout).Msg("Health check timeout too short, using 5s")
		c.HealthCheckTimeout = 5 * time.Second
	}

	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().Str("path", c.BrowserPath).Msg("BrowserPath contains path traversal sequence, ignoring")
		c.BrowserPath = ""
	}

	if len(c.Courts) > maxCourts {
		return fmt.Errorf("%d courts configured, maximum is %d", len(c.Courts), maxCourts)
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Str("timezone", c.Timezone).Err(err).Msg("Unknown timezone, using UTC")
		loc = time.UTC
	}
	c.Location = loc

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		log.Warn().Int("port", c.MetricsPort).Msg("Invalid metrics port, using 9090")
		c.MetricsPort = 9090
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	return nil
}

// CourtNumbers returns the configured court numbers in file order.
func (c *Config) CourtNumbers() []int {
	nums := make([]int, 0, len(c.Courts))
	for _, court := range c.Courts {
		nums = append(nums, court.Number)
	}
	return nums
}

// CourtByNumber returns the configured court with the given number.
func (c *Config) CourtByNumber(number int) (types.Court, bool) {
	for _, court := range c.Courts {
		if court.Number == number {
			return court, true
		}
	}
	return types.Court{}, false
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid float in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
	return defaultValue
}
