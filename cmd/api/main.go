package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/beatvault/backend/internal/config"
	"github.com/beatvault/backend/internal/database"
	"github.com/beatvault/backend/internal/handlers"
	"github.com/beatvault/backend/internal/middleware"
	"github.com/beatvault/backend/internal/models"
	"github.com/beatvault/backend/internal/queue"
	"github.com/beatvault/backend/internal/services"
	"github.com/beatvault/backend/internal/storage"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsDir, 0o755); err != nil {
		log.Fatalf("Failed to create artifacts directory: %v", err)
	}

	// Start the archive worker pool
	queueManager := queue.NewManager(database.DB, queue.Options{
		Workers:          cfg.ArchiveWorkers,
		QueueDepth:       cfg.QueueDepth,
		JobTimeout:       cfg.JobTimeout,
		ArtifactTTL:      cfg.ArtifactTTL,
		ArtifactsDir:     cfg.ArtifactsDir,
		CompressionLevel: cfg.ZipCompressionLevel,
		Mirror: storage.MirrorConfig{
			Host:     cfg.MirrorFTPHost,
			Port:     cfg.MirrorFTPPort,
			User:     cfg.MirrorFTPUser,
			Password: cfg.MirrorFTPPassword,
			Path:     cfg.MirrorFTPPath,
		},
	})
	queueManager.Start()

	// Start quota sync service (reconciles entitlements with billing)
	quotaSyncService := services.NewQuotaSyncService(database.DB, cfg.QuotaSyncInterval)
	quotaSyncService.Start()

	// Start artifact reaper (deletes expired zips)
	artifactReaperService := services.NewArtifactReaperService(database.DB, cfg.ArtifactsDir, cfg.ReaperInterval)
	artifactReaperService.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "BeatVault API v1.0",
		ServerHeader: "BeatVault",
		BodyLimit:    10 * 1024 * 1024, // 10MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "beatvault-api",
		})
	})

	// Initialize handlers
	downloadHandler := handlers.NewDownloadHandler(database.DB, queueManager, cfg)
	artifactHandler := handlers.NewArtifactHandler(database.DB, cfg)
	quotaHandler := handlers.NewQuotaHandler(database.DB)

	// Artifact retrieval is token-gated, not session-gated
	app.Get("/download-dir", artifactHandler.Download)

	// API routes
	api := app.Group("/api")
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	api.Post("/downloads", downloadHandler.Submit)
	api.Get("/downloads/jobs/:id", downloadHandler.Status)
	api.Delete("/downloads/jobs/:id", downloadHandler.Cancel)
	api.Get("/accounts/:name/quota", quotaHandler.Get)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down gracefully...")

		quotaSyncService.Stop()
		artifactReaperService.Stop()
		queueManager.Stop()

		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting BeatVault API on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
