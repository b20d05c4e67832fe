package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/image-captioner/internal/caption"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// HTTP Configuration:
// - HTTP_ADDR: listen address (default: :8000)
// - MAX_UPLOAD_MB: multipart body limit in MiB (default: 32)
//
// Storage Configuration:
// - IMAGES_DIR: image store directory (default: images)
// - RESULTS_LOG: append-only results log (default: output.txt)
// - JOBS_DB_PATH: SQLite mirror of the job registry (optional)
// - THUMBNAIL_JPEG_QUALITY: 1-100 (default: 85)
// - MAX_IMAGE_PIXELS: largest accepted width*height (default: 89478485)
//
// Worker Configuration:
// - WORKER_COUNT: processing workers (default: 4)
// - QUEUE_SIZE: buffered tasks before hand-off (default: 256)
//
// Caption Configuration:
// - CAPTION_BACKEND: llm or command (default: llm)
// - CAPTION_API_KEY: API key for the vision endpoint (required for llm)
// - CAPTION_API_URL: endpoint URL (default: https://openrouter.ai/api/v1)
// - CAPTION_MODEL: vision model (default: openai/gpt-4o-mini)
// - CAPTION_PROMPT: instruction sent with every image
// - CAPTION_MAX_TOKENS: caption length limit (default: 60)
// - CAPTION_TIMEOUT: seconds, 0 disables (default: 0)
// - CAPTION_SITE_URL, CAPTION_APP_NAME: OpenRouter attribution headers (optional)
// - CAPTION_COMMAND: executable plus arguments (required for command)
//
// Monitor Configuration:
// - MONITOR_CRON: check schedule, empty disables (default: @every 1m)
// - STALE_AFTER: seconds before a processing job is reported (default: 300)
//
// - LOG_LEVEL: debug, info, warn or error (default: info)
type Config struct {
	HTTP     HTTPConfig    `json:"http"`
	Storage  StorageConfig `json:"storage"`
	Worker   WorkerConfig  `json:"worker"`
	Caption  CaptionConfig `json:"caption"`
	Monitor  MonitorConfig `json:"monitor"`
	LogLevel string        `json:"log_level"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	MaxUploadMB int    `json:"max_upload_mb"`
}

// MaxUploadBytes is the request body limit for uploads.
func (c HTTPConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

type StorageConfig struct {
	ImagesDir        string `json:"images_dir"`
	ResultsLog       string `json:"results_log"`
	JobsDBPath       string `json:"jobs_db_path"`
	ThumbnailQuality int    `json:"thumbnail_jpeg_quality"`
	MaxImagePixels   int    `json:"max_image_pixels"`
}

type WorkerConfig struct {
	Count     int `json:"count"`
	QueueSize int `json:"queue_size"`
}

const (
	BackendLLM     = "llm"
	BackendCommand = "command"
)

type CaptionConfig struct {
	Backend   string `json:"backend"`
	APIKey    string `json:"-"`
	APIURL    string `json:"api_url"`
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Timeout   int    `json:"timeout"`
	SiteURL   string `json:"site_url"`
	AppName   string `json:"app_name"`
	Command   string `json:"command"`
}

// Client returns the settings of the vision endpoint client.
func (c CaptionConfig) Client() *caption.Config {
	return &caption.Config{
		APIKey:    c.APIKey,
		APIURL:    c.APIURL,
		Model:     c.Model,
		Prompt:    c.Prompt,
		MaxTokens: c.MaxTokens,
		Timeout:   c.Timeout,
		SiteURL:   c.SiteURL,
		AppName:   c.AppName,
	}
}

type MonitorConfig struct {
	CronExpr   string        `json:"cron_expr"`
	StaleAfter time.Duration `json:"stale_after"`
}

// Enabled reports whether the periodic monitor runs at all.
func (c MonitorConfig) Enabled() bool {
	return strings.TrimSpace(c.CronExpr) != ""
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8000"),
			MaxUploadMB: getEnvInt("MAX_UPLOAD_MB", 32),
		},
		Storage: StorageConfig{
			ImagesDir:        getEnvString("IMAGES_DIR", "images"),
			ResultsLog:       getEnvString("RESULTS_LOG", "output.txt"),
			JobsDBPath:       getEnvString("JOBS_DB_PATH", ""),
			ThumbnailQuality: getEnvInt("THUMBNAIL_JPEG_QUALITY", 85),
			MaxImagePixels:   getEnvInt("MAX_IMAGE_PIXELS", 89478485),
		},
		Worker: WorkerConfig{
			Count:     getEnvInt("WORKER_COUNT", 4),
			QueueSize: getEnvInt("QUEUE_SIZE", 256),
		},
		Caption: CaptionConfig{
			Backend:   strings.ToLower(getEnvString("CAPTION_BACKEND", BackendLLM)),
			APIKey:    getEnvString("CAPTION_API_KEY", ""),
			APIURL:    getEnvString("CAPTION_API_URL", "https://openrouter.ai/api/v1"),
			Model:     getEnvString("CAPTION_MODEL", "openai/gpt-4o-mini"),
			Prompt:    getEnvString("CAPTION_PROMPT", caption.DefaultPrompt),
			MaxTokens: getEnvInt("CAPTION_MAX_TOKENS", 60),
			Timeout:   getEnvInt("CAPTION_TIMEOUT", 0),
			SiteURL:   getEnvString("CAPTION_SITE_URL", ""),
			AppName:   getEnvString("CAPTION_APP_NAME", ""),
			Command:   getEnvString("CAPTION_COMMAND", ""),
		},
		Monitor: MonitorConfig{
			CronExpr:   getEnvString("MONITOR_CRON", "@every 1m"),
			StaleAfter: getEnvSeconds("STALE_AFTER", 300*time.Second),
		},
		LogLevel: getEnvString("LOG_LEVEL", "info"),
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if strings.TrimSpace(c.Storage.ImagesDir) == "" {
		return fmt.Errorf("IMAGES_DIR is required")
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}
	if c.Worker.QueueSize < 0 {
		return fmt.Errorf("QUEUE_SIZE must not be negative")
	}
	if c.Storage.ThumbnailQuality < 1 || c.Storage.ThumbnailQuality > 100 {
		return fmt.Errorf("THUMBNAIL_JPEG_QUALITY must be between 1 and 100")
	}
	if c.Storage.MaxImagePixels < 1 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive")
	}
	if c.HTTP.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1")
	}

	switch c.Caption.Backend {
	case BackendLLM:
		if err := c.Caption.Client().Validate(); err != nil {
			return fmt.Errorf("caption backend %s: %w", BackendLLM, err)
		}
	case BackendCommand:
		if strings.TrimSpace(c.Caption.Command) == "" {
			return fmt.Errorf("CAPTION_COMMAND is required for the %s backend", BackendCommand)
		}
	default:
		return fmt.Errorf("unknown CAPTION_BACKEND %q", c.Caption.Backend)
	}

	if c.Monitor.Enabled() {
		if _, err := cron.ParseStandard(c.Monitor.CronExpr); err != nil {
			return fmt.Errorf("invalid MONITOR_CRON: %w", err)
		}
	}
	return nil
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

// getEnvSeconds reads a whole number of seconds
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
