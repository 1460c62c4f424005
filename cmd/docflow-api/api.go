// Package main provides the docflow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/docflow/docflow/pkg/metrics"
	"github.com/docflow/docflow/pkg/services"
	"github.com/docflow/docflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	engine   *services.Engine
	recorder *metrics.Recorder
	validate *validator.Validate
}

func NewAPI(logger *slog.Logger, engine *services.Engine, recorder *metrics.Recorder) *API {
	return &API{
		logger:   logger,
		engine:   engine,
		recorder: recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			_, healthy := a.engine.HealthCheck(c.Context())

			return healthy
		},
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("docflow API")
	})

	if a.recorder != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.recorder.Handler()))
	}

	handlers.Register(app)

	return app
}

// Start serves until ctx is done.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()
		a.logger.Info("Shutting down API server")

		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down API server", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
