package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gymtable/gymtable-backend/internal/config"
	"github.com/gymtable/gymtable-backend/internal/database"
	"github.com/gymtable/gymtable-backend/internal/extractor"
	"github.com/gymtable/gymtable-backend/internal/handler"
	"github.com/gymtable/gymtable-backend/internal/logger"
	"github.com/gymtable/gymtable-backend/internal/router"
	"github.com/gymtable/gymtable-backend/internal/service"
	"github.com/gymtable/gymtable-backend/internal/store"
	"github.com/gymtable/gymtable-backend/internal/validator"
	"github.com/gymtable/gymtable-backend/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log, closeLog, err := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to set up logging:", err)
		os.Exit(1)
	}
	defer closeLog()

	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting GymTable server")

	// ─── Initialize Validator ──────────────────────────────────────────
	if err := validator.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Open Schedule Store ───────────────────────────────────────────
	backend, err := database.OpenBackend(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open schedule store")
	}
	st := store.New(backend, store.WithLogger(log))
	defer st.Close()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	} else {
		log.Warn().Msg("REDIS_URL not set, uploads are stored but not queued for extraction")
	}

	// ─── Initialize Extraction Engine ──────────────────────────────────
	ex, err := extractor.FromConfig(ctx, cfg, log)
	switch {
	case errors.Is(err, extractor.ErrMissingAPIKey):
		log.Warn().Msg("GEMINI_API_KEY not set, extraction is disabled")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to create extraction engine")
	}

	// ─── Initialize Services ──────────────────────────────────────────
	var (
		queue  *service.JobQueue
		locker service.Locker = service.NewLocalLocker()
		events service.EventPublisher
	)
	if rdb != nil {
		queue = service.NewJobQueue(rdb, log)
		locker = service.NewRedisLocker(rdb)
		events = queue
	}

	uploadService := service.NewUploadService(cfg, log)
	scheduleService := service.NewScheduleService(st)
	pipelineService := service.NewPipelineService(cfg, ex, st, locker, events, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Upload:   handler.NewUploadHandler(uploadService, queue, log),
		System:   handler.NewSystemHandler(uploadService, pipelineService, queue, log),
		Class:    handler.NewClassHandler(scheduleService, log),
		Pipeline: handler.NewPipelineHandler(pipelineService, queue, cfg.PipelineTimeout, log),
		WS:       handler.NewWSHandler(rdb, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{}, 2)
	workers := 0

	if queue != nil && ex != nil {
		extractWorker := worker.NewExtractWorker(rdb, queue, pipelineService, locker, 2*cfg.ExtractTimeout, log)
		workers++
		go func() {
			extractWorker.Start(workerCtx)
			workersDone <- struct{}{}
		}()
	}

	if cfg.ScanCron != "" {
		scheduler, err := worker.NewScanScheduler(cfg.ScanCron, pipelineService, cfg.PipelineTimeout, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid SCAN_CRON")
		}
		workers++
		go func() {
			scheduler.Start(workerCtx)
			workersDone <- struct{}{}
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if ip := localIP(); ip != "" {
			log.Info().Str("url", "http://"+ip+":"+cfg.ServerPort).Msg("Open this URL on your phone (same Wi-Fi)")
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for the current job to finish.
	workerCancel()
	waitWorkers(log, workersDone, workers, 10*time.Second)

	log.Info().Msg("Shutdown complete")
}

func waitWorkers(log zerolog.Logger, done <-chan struct{}, n int, timeout time.Duration) {
	deadline := time.After(timeout)
	for range n {
		select {
		case <-done:
		case <-deadline:
			log.Warn().Msg("Workers did not stop in time")
			return
		}
	}
}

// localIP returns the first private IPv4 address of this machine, preferring
// 192.168.x.x, so the phone on the same network knows where to connect.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	fallback := ""
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || !ip.IsPrivate() {
			continue
		}
		if ip[0] == 192 && ip[1] == 168 {
			return ip.String()
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	return fallback
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
