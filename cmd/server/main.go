package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pantry-backend/internal/audit"
	"pantry-backend/internal/auth"
	"pantry-backend/internal/catalog"
	"pantry-backend/internal/config"
	"pantry-backend/internal/conversion"
	"pantry-backend/internal/database"
	"pantry-backend/internal/fridge"
	"pantry-backend/internal/logger"
	"pantry-backend/internal/recipes"
	"pantry-backend/internal/units"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()

	if err := database.Init(cfg); err != nil {
		zl.Fatal("database init failed", zap.Error(err))
	}
	db := database.DB

	ctx := context.Background()
	registry, err := units.Load(ctx, db, zl.Named("units"))
	if err != nil {
		zl.Fatal("load units", zap.Error(err))
	}
	store, err := conversion.LoadStore(ctx, db, registry, zl.Named("conversion"))
	if err != nil {
		zl.Fatal("load conversions", zap.Error(err))
	}

	cat := catalog.NewService(db, registry, store, zl.Named("catalog"))
	ledger := fridge.NewLedger(db, cat.Resolver(), zl.Named("ledger"), cfg.BestEffortNormalize)
	engine := fridge.NewEngine(ledger, zl.Named("consumption"))
	recipeStore := recipes.NewStore(db, registry)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var e *fiber.Error
			if errors.As(err, &e) {
				return c.Status(e.Code).JSON(fiber.Map{
					"error": e.Message,
				})
			}
			zl.Error("unexpected error", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "unexpected server error",
			})
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())

	corsOrigins := strings.Split(cfg.CORSOrigins, ",")
	for i := range corsOrigins {
		corsOrigins[i] = strings.TrimSpace(corsOrigins[i])
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(corsOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")
	api.Use(auth.JWTMiddleware(cfg.JWTSecret))

	catalog.Register(api, cat)
	fridge.Register(api, ledger, engine)
	recipes.Register(api, recipeStore, engine)
	api.Get("/audit-logs", audit.ListAuditLogsHandler(db))

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		zl.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zl.Error("shutdown", zap.Error(err))
		}
	}()

	zl.Info("server listening", zap.String("port", cfg.HTTPPort), zap.String("db", cfg.DatabaseDriver))
	if err := app.Listen(":" + cfg.HTTPPort); err != nil {
		zl.Fatal("listen", zap.Error(err))
	}
}
