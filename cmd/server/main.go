package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/modporter/api/internal/client"
	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/internal/handler"
	"github.com/modporter/api/internal/middleware"
	"github.com/modporter/api/internal/pipeline"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
	"github.com/modporter/api/internal/worker"
	ws "github.com/modporter/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection; without it we fall back to in-memory stores
	// and an inline pipeline runner.
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available, using in-memory stores: %v", err)
		redisAvailable = false
	}

	var asynqClient *asynq.Client
	if redisAvailable {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize R2 storage client (optional)
	var storage client.StorageClient
	r2Client, err := client.NewR2Client(&cfg.R2)
	if err != nil {
		log.Printf("Warning: R2 client init failed: %v", err)
	} else if r2Client.IsConfigured() {
		storage = r2Client
	} else {
		log.Println("R2 not configured, converted packages stay on local disk")
	}

	// Initialize stores
	var jobStore store.JobStore
	var sessionStore store.SessionStore
	var artifactStore store.ArtifactStore
	if redisAvailable {
		jobStore = store.NewRedisJobStore(redisClient)
		sessionStore = store.NewRedisSessionStore(redisClient)
		artifactStore = store.NewRedisArtifactStore(redisClient)
	} else {
		jobStore = store.NewMemoryJobStore()
		sessionStore = store.NewMemorySessionStore()
		artifactStore = store.NewMemoryArtifactStore()
	}

	// Initialize stage executor: the conversion engine service when
	// configured, a local simulator otherwise.
	var executor pipeline.StageExecutor
	engineClient := client.NewEngineClient(&cfg.Engine)
	if engineClient.IsConfigured() {
		executor = engineClient
	} else {
		log.Println("Engine service not configured, using simulated stages")
		executor = pipeline.NewSimulator()
	}

	retry := pipeline.RetryPolicy{
		MaxRetries: cfg.Pipeline.MaxRetries,
		BaseDelay:  time.Duration(cfg.Pipeline.RetryBaseMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Pipeline.RetryMaxMs) * time.Millisecond,
	}
	coordinator := pipeline.NewCoordinator(jobStore, executor, retry)
	coordinator.SetNotifier(hub)

	// Initialize services
	uploadService := service.NewUploadService(sessionStore, artifactStore, storage, &cfg.Upload)
	convertService := service.NewConvertService(jobStore, artifactStore, asynqClient)
	if asynqClient == nil {
		convertService.SetLocalRunner(coordinator)
	}

	// Initialize handlers
	uploadHandler := handler.NewUploadHandler(uploadService, validate, cfg.Upload.MaxChunkBytes)
	convertHandler := handler.NewConvertHandler(convertService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxChunkBytes) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"service": "modporter-api", "status": "ok"})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Upload routes
	upload := api.Group("/upload", rateLimiter.Limit("upload", cfg.RateLimit.Upload))
	upload.Post("/init", uploadHandler.Init)
	upload.Post("/chunk", uploadHandler.Chunk)
	upload.Post("/complete", uploadHandler.Complete)
	upload.Get("/:sessionId/progress", uploadHandler.Progress)
	upload.Delete("/:sessionId", uploadHandler.Cancel)

	// Convert routes
	convert := api.Group("/convert")
	convert.Post("/", rateLimiter.Limit("convert", cfg.RateLimit.Convert), convertHandler.Start)
	convert.Get("/status/:jobId", rateLimiter.Limit("query", cfg.RateLimit.Query), convertHandler.Status)
	convert.Get("/result/:jobId", rateLimiter.Limit("query", cfg.RateLimit.Query), convertHandler.Result)
	convert.Post("/cancel/:jobId", convertHandler.Cancel)
	convert.Get("/jobs", rateLimiter.Limit("query", cfg.RateLimit.Query), convertHandler.List)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server and sweep scheduler
	reaper := worker.NewReaper(uploadService, jobStore, time.Duration(cfg.Pipeline.JobDeadlineMin)*time.Minute)
	if redisAvailable {
		go startWorkerServer(cfg, convertService, coordinator, reaper)
		go startScheduler(cfg)
	} else {
		go runLocalSweeper(ctx, reaper, time.Duration(cfg.Reaper.IntervalSec)*time.Second)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, convertService *service.ConvertService, coordinator *pipeline.Coordinator, reaper *worker.Reaper) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"convert":     8,
				"maintenance": 2,
			},
		},
	)

	convertWorker := worker.NewConvertWorker(convertService, coordinator)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeConvert, convertWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeSweep, reaper.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func startScheduler(cfg *config.Config) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		nil,
	)

	interval := cfg.Reaper.IntervalSec
	if interval < 1 {
		interval = 60
	}
	task := asynq.NewTask(service.TaskTypeSweep, nil)
	if _, err := scheduler.Register("@every "+(time.Duration(interval)*time.Second).String(), task, asynq.Queue("maintenance")); err != nil {
		log.Printf("Failed to register sweep schedule: %v", err)
		return
	}

	if err := scheduler.Run(); err != nil {
		log.Printf("Asynq scheduler error: %v", err)
	}
}

// runLocalSweeper ticks the reaper in-process when there is no queue to
// schedule it through.
func runLocalSweeper(ctx context.Context, reaper *worker.Reaper, interval time.Duration) {
	if interval < time.Second {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reaper.Sweep(ctx, time.Now()); err != nil {
				log.Printf("Maintenance sweep error: %v", err)
			}
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
