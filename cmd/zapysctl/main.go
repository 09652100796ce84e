package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"zapys/internal/booking"
	"zapys/internal/config"
	"zapys/internal/database"
	"zapys/internal/domain"
	"zapys/internal/google"
	"zapys/internal/models"
	"zapys/internal/worker"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	configPath string
	offline    bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "zapysctl",
		Short:         "Operator tools for the appointment bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfig, "path to config.yaml")
	root.PersistentFlags().BoolVar(&a.offline, "offline", false, "use only the local database, never the remote calendar")

	root.AddCommand(newSlotsCmd(a))
	root.AddCommand(newReservationsCmd(a))
	root.AddCommand(newCancelCmd(a))
	root.AddCommand(newSyncFailedCmd(a))
	return root
}

// env is everything a command needs, opened from the config file.
type env struct {
	cfg    *config.Config
	db     *database.DB
	engine *booking.Engine
	logger zerolog.Logger
}

func (a *app) open(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		return nil, err
	}

	rules, err := booking.RulesFromConfig(cfg.Booking)
	if err != nil {
		db.Close()
		return nil, err
	}

	cal, err := a.calendar(cmd.Context(), cfg, db, rules.Location)
	if err != nil {
		db.Close()
		return nil, err
	}
	engine := booking.NewEngine(rules, booking.Deps{
		Calendar: cal,
		Pool:     worker.NewPool(cfg.Booking.RemoteWorkers, cfg.Booking.RemoteTimeout()),
		Store:    db,
		Logger:   &logger,
	})
	if _, err := engine.Warm(cmd.Context()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	return &env{cfg: cfg, db: db, engine: engine, logger: logger}, nil
}

func (e *env) Close() error { return e.db.Close() }

func (a *app) calendar(ctx context.Context, cfg *config.Config, db *database.DB, loc *time.Location) (domain.Calendar, error) {
	if a.offline || cfg.Google.CredentialsFile == "" || cfg.Google.CalendarID == "" {
		return &storeCalendar{db: db, loc: loc}, nil
	}
	return google.NewCalendarService(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID, loc)
}

// storeCalendar answers calendar reads from the local reservations table.
// Writes are refused.
type storeCalendar struct {
	db  *database.DB
	loc *time.Location
}

var errOffline = fmt.Errorf("remote calendar is not available offline")

func (c *storeCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]models.BusyInterval, error) {
	list, err := c.db.ListReservationsBetween(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]models.BusyInterval, 0, len(list))
	for _, r := range list {
		out = append(out, models.BusyInterval{
			EventID: r.EventID,
			Start:   r.Start.In(c.loc),
			OwnerID: r.UserID,
		})
	}
	return out, nil
}

func (c *storeCalendar) InsertEvent(context.Context, models.EventInput) (string, error) {
	return "", errOffline
}

func (c *storeCalendar) UpdateEvent(context.Context, string, models.EventInput) error {
	return errOffline
}

// DeleteEvent is a no-op: the row itself is removed by the engine.
func (c *storeCalendar) DeleteEvent(context.Context, string) error { return nil }
