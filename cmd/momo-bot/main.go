package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "momobot/internal/api/http"
	"momobot/internal/bot"
	"momobot/internal/config"
	"momobot/internal/momo"
	"momobot/internal/momo/providers"
	"momobot/internal/query"
	"momobot/internal/refresh"
	"momobot/internal/scheduler"
	"momobot/internal/store"
)

func main() {
	// Missing BOT_TOKEN fails here, before anything else starts.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store at %s: %v", cfg.DBPath, err)
	}
	defer db.Close()

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	fetcher := providers.NewISCIIIProvider(httpClient, cfg.MoMoURL, providers.BackoffConfig{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.BackoffInitial,
		MaxInterval:     cfg.BackoffMax,
	})

	coordinator := refresh.New(fetcher, momo.Normalizer{}, db, refresh.Options{
		Grace:        cfg.GracePeriod,
		HardTimeout:  cfg.RefreshTimeout,
		LookbackDays: cfg.LookbackDays,
	})

	engine := query.NewEngine(db, coordinator, cfg.AnomalyThreshold, cfg.TrendMinDelta)

	// Telegram transport shared by the poller and the daily sender.
	tg := bot.NewClient(cfg.BotToken, httpClient)

	sched := scheduler.New(cfg.Timezone, db, engine, coordinator, tg, cfg.RefreshHour, cfg.RefreshMinute)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	sessions := bot.NewSessions(cfg.SessionTimeout)
	sessions.StartSweeper(ctx, cfg.SessionSweep)

	dispatcher := bot.NewDispatcher(engine, db, sessions, sched, cfg.NotifyHour, cfg.NotifyMinute)
	poller := bot.NewPoller(tg, dispatcher.Handle)
	go poller.Run(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "momo-bot",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "momo-bot",
		})
	})

	httpapi.RegisterRoutes(app, engine)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	log.Println("momo-bot started; waiting for updates")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
