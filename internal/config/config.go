package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/batch-transcriber/pkg/icron"
	"github.com/MimeLyc/batch-transcriber/pkg/log"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
//
// Environment Variables:
// Storage:
// - DATA_ROOT: root of batch, job index and group records (default: data)
//
// Broker:
// - BROKER_DSN: sqlite database file for the work queue (default: <DATA_ROOT>/queue.db)
// - QUEUE_NAME: queue name inside the database (default: transcriptions)
// - BROKER_SUBMIT_TIMEOUT: bound on one enqueue call (default: 5s)
//
// Engine:
// - WHISPER_MODEL: model identifier reported with results (default: small)
// - WHISPER_MODEL_PATH: model file for whisper-cli (default: models/ggml-<model>.bin)
// - WHISPER_VAD_MODEL_PATH: VAD model file, used when a job asks for VAD (optional)
// - WHISPER_COMPUTE_TYPE: (default: int8)
// - WHISPER_DEVICE: (default: cpu)
// - WHISPER_THREADS: (default: 4)
// - WHISPER_BIN: (default: whisper-cli)
// - FFMPEG_BIN: (default: ffmpeg)
// - JOB_TIMEOUT: bound on one transcription, 0 disables (default: 0)
//
// Batches:
// - MAX_BATCH_FILES_DEFAULT: folder scan cap when the request gives none (default: 500)
//
// Processes:
// - HTTP_ADDR: (default: :8000)
// - WORKER_CONCURRENCY: (default: 1)
// - WORKER_POLL_INTERVAL: (default: 1s)
// - WORKER_ID: (default: hostname)
// - STALE_SWEEP_CRON: (default: @every 5m)
// - STALE_AFTER: (default: 2h)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - LOG_FILE: also write logs to this file (optional)
//
// ENV_FILE names a dotenv file loaded before reading the environment
// (default: .env, ignored when absent). Variables already set win.
type Config struct {
	Storage StorageConfig `json:"storage"`
	Broker  BrokerConfig  `json:"broker"`
	Engine  EngineConfig  `json:"engine"`
	Batch   BatchConfig   `json:"batch"`
	HTTP    HTTPConfig    `json:"http"`
	Worker  WorkerConfig  `json:"worker"`
	Monitor MonitorConfig `json:"monitor"`
	Log     LogConfig     `json:"log"`
}

type StorageConfig struct {
	DataRoot string `json:"data_root"`
}

type BrokerConfig struct {
	DSN           string        `json:"dsn"`
	Queue         string        `json:"queue"`
	SubmitTimeout time.Duration `json:"submit_timeout"`
}

type EngineConfig struct {
	Model        string        `json:"model"`
	ModelPath    string        `json:"model_path"`
	VADModelPath string        `json:"vad_model_path"`
	ComputeType  string        `json:"compute_type"`
	Device       string        `json:"device"`
	Threads      int           `json:"threads"`
	WhisperBin   string        `json:"whisper_bin"`
	FFmpegBin    string        `json:"ffmpeg_bin"`
	JobTimeout   time.Duration `json:"job_timeout"`
}

type BatchConfig struct {
	MaxFilesDefault int `json:"max_files_default"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type WorkerConfig struct {
	Concurrency  int           `json:"concurrency"`
	PollInterval time.Duration `json:"poll_interval"`
	ID           string        `json:"id"`
}

type MonitorConfig struct {
	SweepCron  string        `json:"sweep_cron"`
	StaleAfter time.Duration `json:"stale_after"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	dataRoot := getEnvString("DATA_ROOT", "data")
	model := getEnvString("WHISPER_MODEL", "small")
	config := &Config{
		Storage: StorageConfig{
			DataRoot: dataRoot,
		},
		Broker: BrokerConfig{
			DSN:           getEnvString("BROKER_DSN", filepath.Join(dataRoot, "queue.db")),
			Queue:         getEnvString("QUEUE_NAME", "transcriptions"),
			SubmitTimeout: getEnvDuration("BROKER_SUBMIT_TIMEOUT", 5*time.Second),
		},
		Engine: EngineConfig{
			Model:        model,
			ModelPath:    getEnvString("WHISPER_MODEL_PATH", filepath.Join("models", "ggml-"+model+".bin")),
			VADModelPath: getEnvString("WHISPER_VAD_MODEL_PATH", ""),
			ComputeType:  getEnvString("WHISPER_COMPUTE_TYPE", "int8"),
			Device:       getEnvString("WHISPER_DEVICE", "cpu"),
			Threads:      getEnvInt("WHISPER_THREADS", 4),
			WhisperBin:   getEnvString("WHISPER_BIN", "whisper-cli"),
			FFmpegBin:    getEnvString("FFMPEG_BIN", "ffmpeg"),
			JobTimeout:   getEnvDuration("JOB_TIMEOUT", 0),
		},
		Batch: BatchConfig{
			MaxFilesDefault: getEnvInt("MAX_BATCH_FILES_DEFAULT", 500),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8000"),
		},
		Worker: WorkerConfig{
			Concurrency:  getEnvInt("WORKER_CONCURRENCY", 1),
			PollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
			ID:           getEnvString("WORKER_ID", hostname()),
		},
		Monitor: MonitorConfig{
			SweepCron:  getEnvString("STALE_SWEEP_CRON", "@every 5m"),
			StaleAfter: getEnvDuration("STALE_AFTER", 2*time.Hour),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	log.Debug("Config: %+v", *config)
	return config, nil
}

// Validate checks the settings every process needs.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Storage.DataRoot) == "" {
		errs = append(errs, fmt.Errorf("DATA_ROOT is required"))
	}
	if strings.TrimSpace(c.Broker.DSN) == "" {
		errs = append(errs, fmt.Errorf("BROKER_DSN is required"))
	}
	if strings.TrimSpace(c.Broker.Queue) == "" {
		errs = append(errs, fmt.Errorf("QUEUE_NAME is required"))
	}
	if c.Batch.MaxFilesDefault <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BATCH_FILES_DEFAULT must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be positive"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_POLL_INTERVAL must be positive"))
	}
	if c.Monitor.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("STALE_AFTER must be positive"))
	}
	if _, err := icron.Parse(c.Monitor.SweepCron); err != nil {
		errs = append(errs, fmt.Errorf("STALE_SWEEP_CRON: %w", err))
	}
	return errors.Join(errs...)
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "worker"
	}
	return name
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
