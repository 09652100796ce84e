package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"zapys/internal/api"
	"zapys/internal/booking"
	"zapys/internal/bot"
	"zapys/internal/config"
	"zapys/internal/conversation"
	"zapys/internal/database"
	"zapys/internal/domain"
	"zapys/internal/events"
	"zapys/internal/google"
	"zapys/internal/logging"
	"zapys/internal/metrics"
	"zapys/internal/reminder"
	"zapys/internal/repository"
	"zapys/internal/service"
	"zapys/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Database initialization failed")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rules, err := booking.RulesFromConfig(cfg.Booking)
	if err != nil {
		return err
	}

	redisClient, sessions := initSessions(ctx, cfg, m, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Telegram BotAPI init failed")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug
	tgService := service.NewTelegramService(bot.NewSender(botAPI))

	notifier := service.NewNotifier(tgService, cfg.Operators, cfg.Bot.NotifyQueueSize, cfg.Bot.SendRPS, m, &logger)

	calendarSvc, sheetsSvc := initGoogle(ctx, cfg, rules, &logger)

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	var syncWorker domain.SyncWorker
	if sheetsSvc != nil {
		sw := worker.NewSheetsWorker(db, sheetsSvc, redisClient, worker.RetryPolicyFromConfig(cfg.Sync), &logger)
		goRun(func() { sw.Start(ctx) })
		syncWorker = sw
	}

	eventBus := events.NewEventBus()
	eventBus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})
	service.NewReservationSubscribers(notifier, syncWorker, rules.Location, &logger).Register(eventBus)

	pool := worker.NewPool(cfg.Booking.RemoteWorkers, cfg.Booking.RemoteTimeout())
	deps := booking.Deps{
		Pool:     pool,
		Store:    db,
		Events:   eventBus,
		Notifier: notifier,
		Metrics:  m,
		Logger:   &logger,
	}
	if calendarSvc != nil {
		deps.Calendar = calendarSvc
	}
	deps.Cache = booking.NewCache(deps.Calendar, pool, booking.CacheOptions{
		TTL:      cfg.Booking.CacheTTL(),
		Location: rules.Location,
		Metrics:  m,
		Logger:   &logger,
	})
	engine := booking.NewEngine(rules, deps)

	if n, err := engine.Warm(ctx); err != nil {
		logger.Error().Err(err).Msg("Ledger warm-up failed")
	} else {
		logger.Info().Int("reservations", n).Msg("Ledger warmed up")
	}

	goRun(func() { notifier.Run(ctx) })
	goRun(func() { pruneLedger(ctx, engine, &logger) })

	if cfg.Reminders.Enabled {
		scheduler := reminder.NewScheduler(engine, notifier, cfg.Reminders.LeadMinutes, cfg.Reminders.Interval(), m, &logger)
		goRun(func() { scheduler.Run(ctx) })
	}

	if cfg.Monitoring.PrometheusEnabled {
		metricsSrv := startMetricsServer(cfg.Monitoring.PrometheusPort, reg, &logger)
		defer shutdownHTTP(metricsSrv)
	}

	if cfg.API.Enabled {
		apiServer := api.NewHTTPServer(cfg.API, engine, engine.Cache().Connected, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	machine := conversation.NewMachine(engine, sessions, &logger)
	telegramBot, err := bot.NewBot(tgService, machine, sessions, cfg.Bot, m, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Bot init failed")
		return err
	}

	logger.Info().Msg("Bot started")
	telegramBot.Start(ctx)
	telegramBot.Stop()

	stop()
	wg.Wait()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	return cfg, *baseLogger, closer, nil
}

// initSessions prefers redis and falls back to process memory when redis is
// not configured or goes away.
func initSessions(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zerolog.Logger) (*redis.Client, *service.SessionService) {
	ttl := cfg.Booking.SessionTTL()
	memory := repository.NewMemorySessionRepository(ttl)
	go memory.StartReaper(ctx, time.Minute)

	var repo domain.SessionRepository = memory
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, redisClient); err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, sessions start in memory")
		}
		primary := repository.NewRedisSessionRepository(redisClient, ttl)
		repo = repository.NewFailoverSessionRepository(primary, memory, logger, m)
	}
	return redisClient, service.NewSessionService(repo, ttl, logger)
}

// initGoogle connects the calendar and the spreadsheet log. Either may be
// nil: without a calendar every booking fails closed, without a sheet the log
// is skipped.
func initGoogle(ctx context.Context, cfg *config.Config, rules booking.Rules, logger *zerolog.Logger) (*google.CalendarService, *google.SheetsService) {
	g := cfg.Google
	if g.CredentialsFile == "" {
		logger.Warn().Msg("google.credentials_file is empty, calendar and sheets disabled")
		return nil, nil
	}

	var cal *google.CalendarService
	if g.CalendarID != "" {
		c, err := google.NewCalendarService(ctx, g.CredentialsFile, g.CalendarID, rules.Location)
		if err != nil {
			logger.Error().Err(err).Msg("Google Calendar init failed")
		} else {
			cal = c
			logger.Info().Str("calendar_id", g.CalendarID).Msg("Google Calendar connected")
		}
	}

	var sheets *google.SheetsService
	if g.SpreadsheetID != "" {
		s, err := google.NewSheetsService(ctx, g.CredentialsFile, g.SpreadsheetID, g.SheetName, rules.Location)
		if err != nil {
			logger.Warn().Err(err).Msg("Google Sheets init failed")
		} else {
			sheets = s
			logger.Info().Str("sheet", g.SheetName).Msg("Google Sheets connected")
		}
	}
	return cal, sheets
}

func pruneLedger(ctx context.Context, engine *booking.Engine, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := engine.Prune(); n > 0 {
				logger.Debug().Int("entries", n).Msg("ledger pruned")
			}
		}
	}
}

func startMetricsServer(port int, reg *prometheus.Registry, logger *zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return srv
}

func shutdownHTTP(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
