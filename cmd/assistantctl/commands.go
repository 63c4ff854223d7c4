package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/khanflow/voice-assistant/internal/app"
	"github.com/khanflow/voice-assistant/internal/calendar"
	"github.com/khanflow/voice-assistant/internal/clock"
	"github.com/khanflow/voice-assistant/internal/config"
	"github.com/khanflow/voice-assistant/internal/conflict"
	"github.com/khanflow/voice-assistant/internal/conversation"
	"github.com/khanflow/voice-assistant/internal/middleware"
	"github.com/khanflow/voice-assistant/internal/model"
)

// timeLayout is the local time format accepted by --at, --start and --end.
const timeLayout = "2006-01-02T15:04"

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize a Google account and store its token.",
		Action: func(c *cli.Context) error {
			cfg := config.Load()
			if !cfg.GoogleEnabled() {
				return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set")
			}
			oc := calendar.OAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret)

			fmt.Fprintf(c.App.Writer, "Open this link and paste the authorization code:\n%s\n", oc.AuthCodeURL("state-token", oauth2.AccessTypeOffline))
			fmt.Fprint(c.App.Writer, "Authorization code: ")
			code, _ := bufio.NewReader(os.Stdin).ReadString('\n')

			token, err := oc.Exchange(c.Context, strings.TrimSpace(code))
			if err != nil {
				return fmt.Errorf("unable to exchange authorization code: %w", err)
			}
			if err := calendar.SaveToken(cfg.GoogleTokenFile, token); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Saved token to %s\n", cfg.GoogleTokenFile)
			return nil
		},
	}
}

func slotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "slots",
		Usage: "Print ranked open slots near a preferred time.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "at", Usage: "preferred start, " + timeLayout, Required: true},
			&cli.IntFlag{Name: "duration", Value: 30, Usage: "slot length in minutes"},
			&cli.StringFlag{Name: "prefer", Usage: "morning, afternoon or evening"},
			&cli.IntFlag{Name: "max", Value: 5, Usage: "number of suggestions"},
			&cli.BoolFlag{Name: "any-hour", Usage: "do not restrict to working hours"},
			&cli.BoolFlag{Name: "same-day", Usage: "only search the preferred day"},
			&cli.BoolFlag{Name: "all-calendars", Usage: "avoid events on secondary calendars too"},
			&cli.StringFlag{Name: "user", Value: "cli", Usage: "user id passed to providers"},
		},
		Action: func(c *cli.Context) error {
			engine, loc, err := openEngine(c.Context)
			if err != nil {
				return err
			}
			at, err := time.ParseInLocation(timeLayout, c.String("at"), loc)
			if err != nil {
				return fmt.Errorf("invalid --at: %w", err)
			}

			prefer := conflict.TimeOfDay(c.String("prefer"))
			switch prefer {
			case "", conflict.Morning, conflict.Afternoon, conflict.Evening:
			default:
				return fmt.Errorf("invalid --prefer %q", prefer)
			}

			opts := conflict.DefaultSlotOptions()
			opts.MaxSuggestions = c.Int("max")
			opts.PreferredTimeOfDay = prefer
			opts.WorkHoursOnly = !c.Bool("any-hour")
			opts.SameDayOnly = c.Bool("same-day")
			opts.IncludeAllCalendars = c.Bool("all-calendars")

			slots, err := engine.FindAlternativeSlots(c.Context, c.String("user"), c.Int("duration"), at, opts)
			if err != nil {
				return err
			}
			printSlots(c.App.Writer, slots, loc)
			return nil
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Check a window for calendar conflicts.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: timeLayout, Required: true},
			&cli.StringFlag{Name: "end", Usage: timeLayout, Required: true},
			&cli.StringFlag{Name: "title", Usage: "title used in the conflict message"},
			&cli.BoolFlag{Name: "all-calendars", Usage: "include secondary calendars"},
			&cli.StringFlag{Name: "user", Value: "cli", Usage: "user id passed to providers"},
		},
		Action: func(c *cli.Context) error {
			engine, loc, err := openEngine(c.Context)
			if err != nil {
				return err
			}
			start, err := time.ParseInLocation(timeLayout, c.String("start"), loc)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.ParseInLocation(timeLayout, c.String("end"), loc)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			if !end.After(start) {
				return errors.New("--end must be after --start")
			}

			found, err := engine.CheckConflicts(c.Context, c.String("user"), start, end, conflict.CheckOptions{
				Title:               c.String("title"),
				IncludeAllCalendars: c.Bool("all-calendars"),
			})
			printCheck(c.App.Writer, found, err, loc)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print conversation counts from a running server.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"ASSISTANT_URL"}},
			&cli.StringFlag{Name: "token", Usage: "bearer token with the admin scope", EnvVars: []string{"ASSISTANT_TOKEN"}},
		},
		Action: func(c *cli.Context) error {
			stats, err := fetchStats(c.Context, http.DefaultClient, c.String("server"), c.String("token"))
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "total=%d active=%d waiting=%d completed=%d abandoned_total=%d\n",
				stats.Total, stats.Active, stats.WaitingForUser, stats.Completed, stats.Abandoned)
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Mint a bearer token signed with JWT_SECRET.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.BoolFlag{Name: "admin", Usage: "grant the admin scope"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour},
		},
		Action: func(c *cli.Context) error {
			token, err := mintToken(config.Load().JWTSecret, c.String("user"), c.Bool("admin"), c.Duration("ttl"), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func openEngine(ctx context.Context) (*conflict.Engine, *time.Location, error) {
	cfg := config.Load()
	loc, err := app.Location(cfg)
	if err != nil {
		return nil, nil, err
	}
	log, err := app.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log = log.Named("assistantctl")
	cals := app.OpenCalendars(ctx, cfg, loc, log)
	return conflict.NewEngine(cals.Providers, app.EngineOptions(cfg, loc, clock.Real{}), log), loc, nil
}

func printSlots(w io.Writer, slots []model.TimeSlot, loc *time.Location) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "no open slots")
		return
	}
	for i, s := range slots {
		fmt.Fprintf(w, "%d) %s - %s  score=%.0f  %s\n", i+1,
			s.Start.In(loc).Format("Mon Jan 2 15:04"), s.End.In(loc).Format("15:04"), s.Score, s.Reason)
	}
}

func printCheck(w io.Writer, found *model.Conflict, err error, loc *time.Location) {
	var failed *conflict.CheckFailedError
	switch {
	case errors.As(err, &failed):
		fmt.Fprintln(w, "check failed")
		for _, f := range failed.Failures {
			fmt.Fprintf(w, "  %s: %v\n", f.Provider, f.Err)
		}
		return
	case err != nil:
		fmt.Fprintf(w, "check failed: %v\n", err)
		return
	case found == nil:
		fmt.Fprintln(w, "no conflict")
		return
	}

	fmt.Fprintf(w, "%s (%s)\n%s\n", found.Type, found.Severity, found.Message)
	for _, ev := range found.Events {
		fmt.Fprintf(w, "  busy: %s %s - %s\n", ev.Title,
			ev.Start.In(loc).Format("Mon Jan 2 15:04"), ev.End.In(loc).Format("15:04"))
	}
	if len(found.Alternatives) > 0 {
		fmt.Fprintln(w, "alternatives:")
		printSlots(w, found.Alternatives, loc)
	}
}

func fetchStats(ctx context.Context, client *http.Client, server, token string) (*conversation.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(server, "/")+"/api/v1/stats", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var stats conversation.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("invalid stats response: %w", err)
	}
	return &stats, nil
}

func mintToken(secret, userID string, admin bool, ttl time.Duration, now time.Time) (string, error) {
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if admin {
		claims.Scopes = []string{middleware.ScopeAdmin}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
