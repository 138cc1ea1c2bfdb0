package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"obrolan/server/internal/bus"
	"obrolan/server/internal/config"
	"obrolan/server/internal/database"
	"obrolan/server/internal/directory"
	"obrolan/server/internal/handlers"
	"obrolan/server/internal/identity"
	"obrolan/server/internal/logging"
	"obrolan/server/internal/media"
	"obrolan/server/internal/messages"
	"obrolan/server/internal/models"
	"obrolan/server/internal/notify"
	"obrolan/server/internal/readstate"
	"obrolan/server/internal/routes"
	"obrolan/server/internal/store"
	"obrolan/server/internal/utils"
	ws "obrolan/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log, closer := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	defer closer.Close()
	utils.SetSecret(cfg.JWTSecret)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Storage and identity
	var (
		repo  store.Repository
		users identity.Provider
	)
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		repo = store.NewPostgres(pool)
		users = identity.NewPostgres(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		static := identity.NewStatic()
		for _, p := range cfg.DevProfiles() {
			profile := models.Profile{ID: p.ID, DisplayName: p.Name, ChatColor: "#3b82f6"}
			if p.Role != "" {
				profile.Roles = []string{p.Role}
			}
			static.Put(profile)
		}
		repo = store.NewMemory(nil)
		users = static
	}

	g, ctx := errgroup.WithContext(ctx)

	// Fan-out: local bus, optionally relayed through redis
	local := bus.New(cfg.BusBuffer, log.With("component", "bus"))
	var pub bus.Publisher = local
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
		relay := bus.NewRedisRelay(client, local, log.With("component", "relay"))
		pub = relay
		g.Go(func() error { return relay.Run(ctx) })
		log.Info("redis relay enabled")
	}

	// Messaging core
	files := media.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL, log.With("component", "media"))
	tracker := readstate.New(repo, pub, log.With("component", "readstate"))
	agg := notify.New(repo, tracker, pub, local, users, log.With("component", "notify"))
	msgs := messages.New(repo, pub, files, log.With("component", "messages"))
	msgs.Observe(agg)

	hub := ws.NewHub(ctx, local, agg, log.With("component", "websocket"))
	g.Go(func() error {
		hub.Run()
		return nil
	})

	h := &handlers.Handler{
		Messages:     msgs,
		Reads:        tracker,
		Notify:       agg,
		Directory:    directory.New(repo, users, log.With("component", "directory")),
		Users:        users,
		Media:        files,
		Hub:          hub,
		HistoryLimit: cfg.HistoryLimit,
		Log:          log,
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:   "Obrolan API v1.0",
		BodyLimit: media.MaxFileSize + 1024*1024,
	})

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
	}))

	// Setup routes
	routes.SetupRoutes(app, h)

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port)
		return app.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
