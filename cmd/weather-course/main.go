package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-course/internal/api/http"
	"github.com/i474232898/weather-course/internal/config"
	"github.com/i474232898/weather-course/internal/course"
	"github.com/i474232898/weather-course/internal/observability"
	"github.com/i474232898/weather-course/internal/recommend"
	"github.com/i474232898/weather-course/internal/scheduler"
	"github.com/i474232898/weather-course/internal/store"
	"github.com/i474232898/weather-course/internal/transport"
	"github.com/i474232898/weather-course/internal/weather"
)

func main() {
	// Load configuration (also loads .env).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	observability.InitTracer(cfg)
	defer observability.ShutdownTracer()

	if cfg.KMAServiceKey == "" || cfg.TourServiceKey == "" {
		log.Printf("WARN: service keys incomplete; /weather-course will answer 400 until KMA_SERVICE_KEY and TOUR_SERVICE_KEY are set")
	}

	// Shared outbound transport for both upstreams.
	tcfg := transport.DefaultConfig()
	tcfg.Timeout = cfg.HTTPTimeout
	tcfg.ProxyURL = cfg.ProxyURL
	tcfg.AllowInsecureFallback = cfg.AllowInsecureFallback
	tcfg.Production = cfg.IsProduction()

	client, err := transport.New(tcfg)
	if err != nil {
		log.Fatalf("failed to build transport: %v", err)
	}
	if client.InsecureEnabled() {
		log.Printf("WARN: insecure plain-http fallback is enabled")
	}

	fetcher := weather.NewFetcher(client, cfg.KMABaseURL, cfg.KMAServiceKey)
	catalog := course.NewCatalog(client, cfg.TourBaseURL, cfg.TourServiceKey, cfg.PageSize)
	collector := course.NewCollector(catalog, course.CollectorConfig{
		Budget:           cfg.CollectBudget,
		SweepConcurrency: cfg.SweepConcurrency,
		RadiusMeters:     cfg.GeoRadiusMeters,
	})

	// In-memory probe history with configured retention.
	memStore := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	service := recommend.NewService(recommend.Config{
		WeatherKey:      cfg.KMAServiceKey,
		CatalogKey:      cfg.TourServiceKey,
		ContentPriority: cfg.ContentPriority,
		DefaultLimit:    cfg.DefaultLimit,
		MaxLimit:        cfg.MaxLimit,
		RadiusMeters:    cfg.GeoRadiusMeters,
	}, fetcher, collector, catalog, memStore)

	// Scheduler that periodically probes both upstreams.
	sched := scheduler.New(cfg.ProbeRegion, cfg.ProbeInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-course",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.RequestTimeout + time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())
	app.Use(httpapi.NoStore())
	app.Use(httpapi.RequestTracing())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-course",
		})
	})

	httpapi.RegisterRoutes(app, service, cfg.RequestTimeout)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()
	log.Printf("INFO: listening on :%s", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
