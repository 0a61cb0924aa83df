package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Port                 int
	DataDir              string
	ModelDir             string
	ModelID              string
	ComputeType          string
	DefaultLanguage      string
	DefaultTask          string
	Workers              int
	MaxUploadSizeMB      int
	RetentionHours       int
	QueueDepth           int
	EngineTimeoutMinutes int
	StoreBackend         string
	WhisperBin           string
	FFmpegBin            string
	FFprobeBin           string
}

func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("PORT", "7890"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	workers, err := strconv.Atoi(getEnv("MAX_WORKERS", "2"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_WORKERS: %w", err)
	}
	if workers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be at least 1")
	}

	maxUploadSizeMB, err := strconv.Atoi(getEnv("MAX_UPLOAD_SIZE_MB", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_UPLOAD_SIZE_MB: %w", err)
	}

	retentionHours, err := strconv.Atoi(getEnv("RETENTION_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_HOURS: %w", err)
	}

	// QUEUE_DEPTH of 0 queues without bound; a positive value rejects
	// admission with 503 once that many jobs are waiting.
	queueDepth, err := strconv.Atoi(getEnv("QUEUE_DEPTH", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUEUE_DEPTH: %w", err)
	}
	if queueDepth < 0 {
		return nil, fmt.Errorf("QUEUE_DEPTH must not be negative")
	}

	engineTimeout, err := strconv.Atoi(getEnv("ENGINE_TIMEOUT_MINUTES", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid ENGINE_TIMEOUT_MINUTES: %w", err)
	}

	storeBackend := getEnv("STORE_BACKEND", "sqlite")
	if storeBackend != "sqlite" && storeBackend != "jsonfile" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q (want sqlite or jsonfile)", storeBackend)
	}

	dataDir := getEnv("DATA_DIR", "/data")

	return &Config{
		Port:                 port,
		DataDir:              dataDir,
		ModelDir:             getEnv("MODEL_DIR", filepath.Join(dataDir, "models")),
		ModelID:              getEnv("MODEL_ID", "base"),
		ComputeType:          getEnv("COMPUTE_TYPE", "int8"),
		DefaultLanguage:      getEnv("DEFAULT_LANGUAGE", "ja"),
		DefaultTask:          getEnv("DEFAULT_TASK", "transcribe"),
		Workers:              workers,
		MaxUploadSizeMB:      maxUploadSizeMB,
		RetentionHours:       retentionHours,
		QueueDepth:           queueDepth,
		EngineTimeoutMinutes: engineTimeout,
		StoreBackend:         storeBackend,
		WhisperBin:           getEnv("WHISPER_BIN", "whisper-cli"),
		FFmpegBin:            getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:           getEnv("FFPROBE_BIN", "ffprobe"),
	}, nil
}

func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

func (c *Config) OutputDir() string {
	return filepath.Join(c.DataDir, "outputs")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
