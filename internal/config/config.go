// Package config provides configuration management for the pimbl service.
//
// Configuration is read from PIMBL_-prefixed environment variables, with an
// optional .env file in the working directory loaded first. It is loaded
// once at startup and is immutable afterwards.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (highest priority)
//  2. .env file in the working directory
//  3. Hard-coded defaults (lowest priority)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Submission modes. The mode is fixed per deployment.
const (
	// ModeSync runs the workflow inside the HTTP request and returns its outcome.
	ModeSync = "sync"
	// ModeAsync acknowledges after validation; outcomes go to logs and Telegram only.
	ModeAsync = "async"
)

// Geocoder providers.
const (
	GeocoderMapsCo   = "mapsco"
	GeocoderGeoNames = "geonames"
)

const envPrefix = "PIMBL_"

// Config holds all application configuration.
type Config struct {
	// HTTP front door
	Port      string // Listening port
	UploadDir string // Where multipart photos are persisted for the browser to pick up

	// Browser
	ChromePath string // Chrome/Chromium executable, empty = chromedp lookup
	Headless   bool

	// Geocoding
	Geocoder         string // mapsco or geonames
	MapsCoAPIKey     string
	GeoNamesUsername string

	// CAPTCHA solving (required)
	TwoCaptchaAPIKey    string
	CaptchaPollInterval time.Duration
	CaptchaMaxPolls     int

	// Workflow behaviour
	NoSubmit           bool          // Dry-run: stop at the review page
	Linger             bool          // Keep browser sessions open after completion
	SubmitMode         string        // sync or async
	Workers            int           // Detached-mode worker count
	QueueSize          int           // Detached-mode queue depth
	SubmissionTimeout  time.Duration // Upper bound for one end-to-end submission
	ShutdownTimeout    time.Duration // Hard deadline for browser teardown
	AddressAttempts    int           // Autocomplete retry budget
	AddressBaseTimeout time.Duration // First suggestion-click timeout, doubled per attempt
	Timezone           *time.Location

	// Portal sign-in (optional)
	PortalEmail    string
	PortalPassword string

	// Telegram (optional)
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// LoadConfig loads configuration from the environment with defaults and
// validates it. A missing 2captcha key is a startup-fatal error.
func LoadConfig() (*Config, error) {
	// Optional; a missing .env is normal in containers.
	_ = godotenv.Load()

	headless := getEnvBool("HEADLESS", true)

	// Headed runs are used for debugging on slow desktops, where the
	// autocomplete needs one more attempt.
	defaultAttempts := 4
	if !headless {
		defaultAttempts = 5
	}

	tzName := getEnvOrDefault("TIMEZONE", "America/New_York")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid %sTIMEZONE %q: %w", envPrefix, tzName, err)
	}

	cfg := &Config{
		Port:      getEnvOrDefault("PORT", "4000"),
		UploadDir: getEnvOrDefault("UPLOAD_DIR", "uploads"),

		ChromePath: getEnvOrDefault("CHROME_PATH", ""),
		Headless:   headless,

		Geocoder:         strings.ToLower(getEnvOrDefault("GEOCODER", GeocoderMapsCo)),
		MapsCoAPIKey:     getEnvOrDefault("MAPSCO_API_KEY", ""),
		GeoNamesUsername: getEnvOrDefault("GEONAMES_USERNAME", ""),

		TwoCaptchaAPIKey:    getEnvOrDefault("TWOCAPTCHA_API_KEY", ""),
		CaptchaPollInterval: getEnvDuration("CAPTCHA_POLL_INTERVAL", time.Second),
		CaptchaMaxPolls:     getEnvInt("CAPTCHA_MAX_POLLS", 300),

		NoSubmit:           getEnvBool("NO_SUBMIT", false),
		Linger:             getEnvBool("LINGER", false),
		SubmitMode:         strings.ToLower(getEnvOrDefault("SUBMIT_MODE", ModeSync)),
		Workers:            getEnvInt("WORKERS", 2),
		QueueSize:          getEnvInt("QUEUE_SIZE", 16),
		SubmissionTimeout:  getEnvDuration("SUBMISSION_TIMEOUT", 10*time.Minute),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		AddressAttempts:    getEnvInt("ADDRESS_ATTEMPTS", defaultAttempts),
		AddressBaseTimeout: getEnvDuration("ADDRESS_BASE_TIMEOUT", 250*time.Millisecond),
		Timezone:           loc,

		PortalEmail:    getEnvOrDefault("PORTAL_EMAIL", ""),
		PortalPassword: getEnvOrDefault("PORTAL_PASSWORD", ""),

		TelegramBotToken: getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnvOrDefault("TELEGRAM_CHAT_ID", ""),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),
		LogFile:   getEnvOrDefault("LOG_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and values are sensible.
func (c *Config) Validate() error {
	if c.TwoCaptchaAPIKey == "" {
		return fmt.Errorf("%sTWOCAPTCHA_API_KEY environment variable is required", envPrefix)
	}
	if c.Port == "" {
		return fmt.Errorf("%sPORT cannot be empty", envPrefix)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("%sUPLOAD_DIR cannot be empty", envPrefix)
	}

	switch c.SubmitMode {
	case ModeSync, ModeAsync:
	default:
		return fmt.Errorf("%sSUBMIT_MODE must be %q or %q, got %q", envPrefix, ModeSync, ModeAsync, c.SubmitMode)
	}

	switch c.Geocoder {
	case GeocoderMapsCo, GeocoderGeoNames:
	default:
		return fmt.Errorf("%sGEOCODER must be %q or %q, got %q", envPrefix, GeocoderMapsCo, GeocoderGeoNames, c.Geocoder)
	}

	if c.AddressAttempts < 1 {
		return fmt.Errorf("%sADDRESS_ATTEMPTS must be at least 1, got %d", envPrefix, c.AddressAttempts)
	}
	if c.AddressBaseTimeout < 50*time.Millisecond || c.AddressBaseTimeout > 500*time.Millisecond {
		return fmt.Errorf("%sADDRESS_BASE_TIMEOUT must be between 50ms and 500ms, got %s", envPrefix, c.AddressBaseTimeout)
	}
	if c.CaptchaMaxPolls < 1 {
		return fmt.Errorf("%sCAPTCHA_MAX_POLLS must be at least 1, got %d", envPrefix, c.CaptchaMaxPolls)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%sWORKERS must be at least 1, got %d", envPrefix, c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%sQUEUE_SIZE must be at least 1, got %d", envPrefix, c.QueueSize)
	}

	return nil
}

// PortalLoginEnabled reports whether sign-in credentials were configured.
func (c *Config) PortalLoginEnabled() bool {
	return c.PortalEmail != "" && c.PortalPassword != ""
}

// Helper functions for environment variable parsing. Keys are given without
// the PIMBL_ prefix.

// getEnvOrDefault returns the environment variable value or a default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an integer or a default if not set/invalid
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool treats any non-empty value other than a parseable false
// ("0", "false", ...) as true.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return true
}

// getEnvDuration returns the environment variable as a duration or a default if not set/invalid.
//
// Accepts standard Go duration strings like "250ms", "10s", "1m30s"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(envPrefix + key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
