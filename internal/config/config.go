// Package config provides environment configuration for the assistant
// binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Auth
	JWTSecret string

	// NLU
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	NLUModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Conversations
	ConversationTTL    time.Duration
	CompletedRetention time.Duration
	SweepInterval      time.Duration

	// Scheduling
	Timezone          string
	WorkDayStartHour  int
	WorkDayEndHour    int
	SlotBufferMinutes int

	// Google Calendar
	GoogleClientID     string
	GoogleClientSecret string
	GoogleTokenFile    string
	GoogleCalendarIDs  []string

	// CalDAV
	CalDAVEndpoint     string
	CalDAVUsername     string
	CalDAVPassword     string
	CalDAVCalendarPath string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Env: getEnv("ENV", "production"),

		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		NLUModel:        getEnv("NLU_MODEL", ""),

		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		ConversationTTL:    getDurationEnv("CONVERSATION_TTL", 30*time.Minute),
		CompletedRetention: getDurationEnv("COMPLETED_RETENTION", 5*time.Minute),
		SweepInterval:      getDurationEnv("SWEEP_INTERVAL", time.Minute),

		Timezone:          getEnv("TIMEZONE", "UTC"),
		WorkDayStartHour:  getIntEnv("WORK_DAY_START_HOUR", 9),
		WorkDayEndHour:    getIntEnv("WORK_DAY_END_HOUR", 17),
		SlotBufferMinutes: getIntEnv("SLOT_BUFFER_MINUTES", 15),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleTokenFile:    getEnv("GOOGLE_TOKEN_FILE", "token.json"),
		GoogleCalendarIDs:  getListEnv("GOOGLE_CALENDAR_IDS", []string{"primary"}),

		CalDAVEndpoint:     getEnv("CALDAV_ENDPOINT", ""),
		CalDAVUsername:     getEnv("CALDAV_USERNAME", ""),
		CalDAVPassword:     getEnv("CALDAV_PASSWORD", ""),
		CalDAVCalendarPath: getEnv("CALDAV_CALENDAR_PATH", ""),
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GoogleEnabled reports whether Google Calendar credentials are configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// CalDAVEnabled reports whether a CalDAV server is configured.
func (c *Config) CalDAVEnabled() bool {
	return c.CalDAVEndpoint != ""
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.WorkDayStartHour < 0 || c.WorkDayEndHour > 24 || c.WorkDayStartHour >= c.WorkDayEndHour {
		errs = append(errs, fmt.Errorf("invalid work day %d-%d", c.WorkDayStartHour, c.WorkDayEndHour))
	}
	if c.ConversationTTL <= 0 {
		errs = append(errs, errors.New("CONVERSATION_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.SlotBufferMinutes < 0 {
		errs = append(errs, errors.New("SLOT_BUFFER_MINUTES must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated value, dropping empty items.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
