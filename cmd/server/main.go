// main.go
//
// Facet - dataset lineage and session coordination service for a
// quantum-crystallography tool-execution backend.
//
// This file is part of facet.
// facet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// facet is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/config"
	"github.com/latticeworks/facet/internal/database"
	"github.com/latticeworks/facet/internal/handlers"
	"github.com/latticeworks/facet/internal/middleware"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"

	_ "github.com/latticeworks/facet/docs/api" // Swagger docs
)

// @title Facet API
// @version 1.0.0
// @description Dataset lineage and session coordination for a crystallography execution backend
// @termsOfService http://swagger.io/terms/

// @license.name AGPL-3.0
// @license.url https://www.gnu.org/licenses/agpl-3.0.html

// @host localhost:3000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name facet_session

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	// Run auto-migrations
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Execution backend client and session coordinator
	bk := backend.NewHTTPClient(cfg.BackendURL, cfg.BackendTimeout)
	coordinator := services.NewCoordinator(db, bk)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    64 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(compress.New())

	// Prometheus metrics
	prometheus := fiberprometheus.New("facet")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// Health probe, unauthenticated for container orchestration
	healthHandler := &handlers.HealthHandler{DB: db, Cfg: cfg}
	app.Get("/healthz", healthHandler.Check)

	// API routes under /api
	api := app.Group("/api")
	api.Use(middleware.VersionMiddleware())

	authUser := middleware.AuthUser(cfg, db)
	globalAccess := middleware.RequireRole(models.RoleGlobalAccess)

	// Create handlers
	authHandler := &handlers.AuthHandler{DB: db, Cfg: cfg}
	datasetHandler := &handlers.DatasetHandler{DB: db, Backend: bk}
	userHandler := &handlers.UserHandler{DB: db}
	groupHandler := &handlers.GroupHandler{DB: db}
	sessionHandler := &handlers.SessionHandler{Coordinator: coordinator}
	appHandler := &handlers.ApplicationHandler{DB: db, Backend: bk}

	// Auth routes
	api.Post("/auth/login", authHandler.Login)
	api.Post("/auth/logout", authHandler.Logout)
	api.Get("/auth/me", authUser, authHandler.Me)

	// Dataset routes
	api.Get("/datasets", authUser, datasetHandler.List)
	api.Post("/datasets", authUser, datasetHandler.Upload)
	api.Get("/datasets/:id", authUser, datasetHandler.Get)
	api.Delete("/datasets/:id", authUser, datasetHandler.Delete)
	api.Get("/datasets/:id/download", authUser, datasetHandler.Download)
	api.Get("/datasets/:id/lineage", authUser, datasetHandler.Lineage)

	// Group routes, mutations need global access
	api.Get("/groups", authUser, groupHandler.List)
	api.Get("/groups/:id", authUser, groupHandler.Get)
	api.Post("/groups", authUser, globalAccess, groupHandler.Create)
	api.Put("/groups/:id", authUser, globalAccess, groupHandler.Update)
	api.Delete("/groups/:id", authUser, globalAccess, groupHandler.Delete)

	// User routes, per-target permission checks live in the handlers
	api.Get("/users", authUser, userHandler.List)
	api.Get("/users/:id", authUser, userHandler.Get)
	api.Post("/users", authUser, middleware.RequireRole(models.RoleGroupManager), userHandler.Create)
	api.Put("/users/:id", authUser, userHandler.Update)
	api.Delete("/users/:id", authUser, middleware.RequireRole(models.RoleGroupManager), userHandler.Delete)

	// Application catalog
	api.Get("/applications", authUser, appHandler.List)
	api.Post("/applications/sync", authUser, globalAccess, appHandler.Sync)

	// Session routes
	api.Get("/sessions", authUser, sessionHandler.List)
	api.Post("/sessions", authUser, sessionHandler.Launch)
	api.Post("/sessions/reconcile", authUser, globalAccess, sessionHandler.Reconcile)
	api.Post("/sessions/:id/end", authUser, sessionHandler.End)
	api.Post("/sessions/:id/kill", authUser, sessionHandler.Kill)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	// Periodic session reconciliation against the backend
	stopReconcile := startReconciler(coordinator)
	defer close(stopReconcile)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Gracefully shutting down...")
		_ = app.Shutdown()
	}()

	// Start server
	port := cfg.Port
	log.Printf("Starting server on port %s", port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Println("Server stopped")
}

// startReconciler sweeps active sessions every few minutes so references to
// sessions the backend dropped do not stay active forever.
func startReconciler(coordinator *services.Coordinator) chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(5 * time.Minute)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				lapsed, err := coordinator.Reconcile(ctx)
				cancel()
				if err != nil {
					log.Printf("Session reconciliation failed: %v", err)
				} else if lapsed > 0 {
					log.Printf("Session reconciliation marked %d sessions lapsed", lapsed)
				}
			}
		}
	}()
	return stop
}

// customErrorHandler handles errors globally
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()
	errorType := "unknown"

	// Check if it's a Fiber error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Errors raised by middleware carry their own code and type
	var custom *types.CustomError
	if errors.As(err, &custom) {
		code = custom.Code
		message = custom.Message
		errorType = custom.Type
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    code,
		"message":   message,
		"ok":        false,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       c.OriginalURL(),
		"type":      errorType,
	})
}
