package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvailland/scribe/config"
	"github.com/mvailland/scribe/internal/adapter/engine/whispercpp"
	HTTPAdapter "github.com/mvailland/scribe/internal/adapter/http"
	jsonfilestore "github.com/mvailland/scribe/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/mvailland/scribe/internal/adapter/storage/sqlite"
	"github.com/mvailland/scribe/internal/domain"
	"github.com/mvailland/scribe/internal/infrastructure/logger"
	"github.com/mvailland/scribe/internal/port"
	"github.com/mvailland/scribe/internal/service"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting scribe %s on port %d, store=%s", version, cfg.Port, cfg.StoreBackend)

	for _, dir := range []string{cfg.DataDir, cfg.UploadDir(), cfg.OutputDir(), cfg.ModelDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error.Printf("failed to create %s: %v", dir, err)
			os.Exit(1)
		}
	}

	var store port.JobStore
	switch cfg.StoreBackend {
	case "jsonfile":
		store, err = jsonfilestore.NewStore(cfg.DataDir)
	default:
		store, err = sqlitestore.NewStore(cfg.DataDir)
	}
	if err != nil {
		logger.Error.Printf("failed to create store: %v", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	models, err := service.NewModelManager(cfg.DataDir, cfg.ModelDir, cfg.ModelID, cfg.ComputeType)
	if err != nil {
		logger.Error.Printf("failed to init model manager: %v", err)
		os.Exit(1)
	}

	engine := whispercpp.NewEngine(cfg.WhisperBin, cfg.FFmpegBin, cfg.FFprobeBin)
	reporter := service.NewProgressReporter(store)

	jobSvc := service.NewJobService(
		store,
		models,
		cfg.UploadDir(),
		cfg.MaxUploadSizeMB,
		cfg.QueueDepth,
		cfg.DefaultLanguage,
		domain.Task(cfg.DefaultTask),
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pool := service.NewWorkerPool(
		store,
		engine,
		reporter,
		cfg.ModelDir,
		cfg.OutputDir(),
		cfg.Workers,
		time.Duration(cfg.EngineTimeoutMinutes)*time.Minute,
	)
	pool.Start(workerCtx)
	jobSvc.SetCanceler(pool)

	sweeper := service.NewSweeper(
		store,
		cfg.OutputDir(),
		time.Duration(cfg.RetentionHours)*time.Hour,
		time.Hour,
	)
	go sweeper.Run(workerCtx)

	server := HTTPAdapter.NewServer(jobSvc, models, int64(cfg.MaxUploadSizeMB)*1024*1024, version)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown: the goroutine only stops the listener; the main
	// goroutine then drains in order (HTTP -> workers -> store, the store
	// via its defer) so the process cannot exit under a worker mid-write.
	shutdownDone := make(chan struct{})
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		// Stop accepting new requests
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}
		close(shutdownDone)
	}()

	logger.Info.Printf("server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}
	<-shutdownDone

	// Cancel workers; in-flight engine runs are interrupted and their
	// jobs requeue on next start.
	workerCancel()
	pool.Wait()

	logger.Info.Printf("shutdown complete")
}
