// Package app assembles the components shared by the assistant binaries
// from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/khanflow/voice-assistant/internal/calendar"
	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/config"
	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/pkg/logger"
)

// Calendars holds the configured calendar backends.
type Calendars struct {
	Providers []conflict.CalendarProvider
	Google    *gcal.Service
	CalDAV    *calendar.CalDAVProvider
}

// NewLogger builds the process logger. ENV=development selects the console
// encoder.
func NewLogger(env, level string) (*logger.Logger, error) {
	if env == "development" {
		return logger.NewDevelopment()
	}
	return logger.New(level)
}

// OpenCalendars connects every calendar backend that has credentials. A
// backend that fails to connect is logged and skipped.
func OpenCalendars(ctx context.Context, cfg *config.Config, loc *time.Location, log *logger.Logger) Calendars {
	var cals Calendars

	if cfg.GoogleEnabled() {
		service, err := calendar.NewGoogleService(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleTokenFile)
		if err != nil {
			log.Warn("google calendar disabled", zap.Error(err))
		} else {
			cals.Google = service
			cals.Providers = append(cals.Providers, calendar.NewGoogleProvider(service, cfg.GoogleCalendarIDs, loc, log))
		}
	}

	if cfg.CalDAVEnabled() {
		p, err := calendar.NewCalDAVProvider(ctx, nil, calendar.CalDAVConfig{
			Endpoint:     cfg.CalDAVEndpoint,
			Username:     cfg.CalDAVUsername,
			Password:     cfg.CalDAVPassword,
			CalendarPath: cfg.CalDAVCalendarPath,
			Primary:      !cfg.GoogleEnabled(),
		}, loc, log)
		if err != nil {
			log.Warn("caldav calendar disabled", zap.Error(err))
		} else {
			cals.CalDAV = p
			cals.Providers = append(cals.Providers, p)
		}
	}

	if len(cals.Providers) == 0 {
		log.Warn("no calendar providers configured, conflict checks will always pass")
	}
	return cals
}

// EngineOptions maps configuration onto conflict engine options.
func EngineOptions(cfg *config.Config, loc *time.Location, clk clock.Clock) conflict.Options {
	opts := conflict.DefaultOptions()
	opts.Location = loc
	opts.WorkDayStartHour = cfg.WorkDayStartHour
	opts.WorkDayEndHour = cfg.WorkDayEndHour
	opts.Slots.BufferMinutes = cfg.SlotBufferMinutes
	opts.Clock = clk
	return opts
}

// Location resolves and validates the configured zone.
func Location(cfg *config.Config) (*time.Location, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg.Location()
}
