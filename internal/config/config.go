package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service settings assembled from an optional .env file, an
// optional YAML config file, and environment variables. Environment variables
// win over file values, file values win over defaults.
type Config struct {
	HTTPPort    string `validate:"required"`
	Environment string
	LogLevel    string

	InboxDir string `validate:"required"`
	WorkDir  string `validate:"required"`
	DBPath   string `validate:"required"`

	WorkerCount   int `validate:"min=1,max=64"`
	JobQueueSize  int `validate:"min=1,max=1024"`
	JobTimeoutSec int `validate:"min=1"`
	BackfillLimit int `validate:"min=1"`

	// OCRThreshold is the minimum direct-extraction text length below which
	// the extractor re-runs the file through rasterization + OCR.
	OCRThreshold int `validate:"min=0"`

	// EmptyBlotterSuccess decides whether a blotter that parses to zero
	// incidents counts as success (true) or failed (false).
	EmptyBlotterSuccess bool

	PDFToTextBin string `validate:"required"`
	PDFToPPMBin  string `validate:"required"`
	TesseractBin string `validate:"required"`

	EnableWatcher      bool
	EnableDangerousOps bool
	StrictConfig       bool

	LLM    LLMConfig
	Digest DigestConfig
}

// LLMConfig selects and tunes the summarization provider.
type LLMConfig struct {
	Provider      string `validate:"oneof=openai anthropic disabled"`
	Model         string
	BaseURL       string
	APIKey        string
	PromptVersion string
	TimeoutSec    int `validate:"min=1"`
}

// DigestConfig controls the daily county digest webhook.
type DigestConfig struct {
	Enabled    bool
	WebhookURL string
	Hour       int `validate:"min=0,max=23"`
}

type fileConfig struct {
	HTTPPort string           `json:"http_port" yaml:"http_port"`
	InboxDir string           `json:"inbox_dir" yaml:"inbox_dir"`
	WorkDir  string           `json:"work_dir" yaml:"work_dir"`
	DBPath   string           `json:"db_path" yaml:"db_path"`
	LLM      llmFileConfig    `json:"llm" yaml:"llm"`
	Digest   digestFileConfig `json:"digest" yaml:"digest"`
}

type llmFileConfig struct {
	Provider      string `json:"provider" yaml:"provider"`
	Model         string `json:"model" yaml:"model"`
	BaseURL       string `json:"base_url" yaml:"base_url"`
	PromptVersion string `json:"prompt_version" yaml:"prompt_version"`
	TimeoutSec    *int   `json:"timeout_sec" yaml:"timeout_sec"`
}

type digestFileConfig struct {
	Enabled    *bool  `json:"enabled" yaml:"enabled"`
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Hour       *int   `json:"hour" yaml:"hour"`
}

const (
	defaultPort          = ":8080"
	defaultInboxDir      = "runtime/inbox"
	defaultWorkDir       = "runtime/work"
	defaultDBFile        = "blotter.db"
	minQueueSize         = 1
	defaultQueueSize     = 100
	maxQueueSize         = 1024
	defaultWorkerCount   = 4
	maxWorkerCount       = 64
	defaultJobTimeoutSec = 120
	defaultOCRThreshold  = 100
	defaultBackfillLimit = 50
	maxBackfillLimit     = 500
	defaultDigestHour    = 7
)

// The model default is left empty here; the summarizer fills in a
// provider-appropriate model when none is configured.
func defaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:      "disabled",
		PromptVersion: "v1",
		TimeoutSec:    45,
	}
}

var validate = validator.New()

// Load reads configuration and applies sane defaults. With STRICT_CONFIG set,
// file and validation problems become hard errors instead of logged warnings.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:         getEnv("ENVIRONMENT", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		WorkerCount:         defaultWorkerCount,
		JobQueueSize:        defaultQueueSize,
		JobTimeoutSec:       defaultJobTimeoutSec,
		BackfillLimit:       defaultBackfillLimit,
		OCRThreshold:        defaultOCRThreshold,
		EmptyBlotterSuccess: parseBoolEnvDefault("EMPTY_BLOTTER_SUCCESS", true),
		PDFToTextBin:        getEnv("PDFTOTEXT_BIN", "pdftotext"),
		PDFToPPMBin:         getEnv("PDFTOPPM_BIN", "pdftoppm"),
		TesseractBin:        getEnv("TESSERACT_BIN", "tesseract"),
		EnableWatcher:       parseBoolEnvDefault("ENABLE_WATCHER", true),
		EnableDangerousOps:  parseBoolEnv("ENABLE_DANGEROUS_OPS"),
		StrictConfig:        parseBoolEnv("STRICT_CONFIG"),
		LLM:                 defaultLLMConfig(),
		Digest:              DigestConfig{Hour: defaultDigestHour},
	}

	configPath := getEnv("CONFIG_PATH", "config.yaml")
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil && !errors.Is(fileErr, os.ErrNotExist) {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.InboxDir = firstNonEmpty(os.Getenv("INBOX_DIR"), fileCfg.InboxDir, defaultInboxDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = filepath.Join(cfg.WorkDir, defaultDBFile)
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), os.Getenv("PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if v := os.Getenv("WORKER_COUNT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Printf("invalid WORKER_COUNT=%q, using default %d", v, defaultWorkerCount)
			n = defaultWorkerCount
		}
		if n > maxWorkerCount {
			log.Printf("WORKER_COUNT capped at %d (was %d)", maxWorkerCount, n)
			n = maxWorkerCount
		}
		cfg.WorkerCount = n
	}

	if v := os.Getenv("JOB_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid JOB_QUEUE_SIZE=%q, using default %d", v, defaultQueueSize)
			n = defaultQueueSize
		}
		if n < minQueueSize {
			log.Printf("JOB_QUEUE_SIZE raised to minimum %d (was %d)", minQueueSize, n)
			n = minQueueSize
		}
		if n > maxQueueSize {
			log.Printf("JOB_QUEUE_SIZE capped at %d (was %d)", maxQueueSize, n)
			n = maxQueueSize
		}
		cfg.JobQueueSize = n
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		log.Printf("JOB_QUEUE_SIZE must be >= WORKER_COUNT; using %d", max(defaultQueueSize, cfg.WorkerCount))
		cfg.JobQueueSize = max(defaultQueueSize, cfg.WorkerCount)
	}

	if v := os.Getenv("JOB_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
		}
		if n <= 0 {
			return cfg, fmt.Errorf("JOB_TIMEOUT_SEC must be positive")
		}
		cfg.JobTimeoutSec = n
	}

	if v, ok, err := parseIntEnv("OCR_THRESHOLD"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid OCR_THRESHOLD: %w", err)
		}
		log.Printf("invalid OCR_THRESHOLD: %v (using default)", err)
	} else if ok && v >= 0 {
		cfg.OCRThreshold = v
	}

	if v, ok, err := parseIntEnv("BACKFILL_LIMIT"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid BACKFILL_LIMIT: %w", err)
		}
		log.Printf("invalid BACKFILL_LIMIT: %v (using default)", err)
	} else if ok && v > 0 {
		if v > maxBackfillLimit {
			log.Printf("BACKFILL_LIMIT capped at %d (was %d)", maxBackfillLimit, v)
			v = maxBackfillLimit
		}
		cfg.BackfillLimit = v
	}

	cfg.LLM = applyLLMOverrides(cfg.LLM, fileCfg.LLM)
	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	cfg.LLM.BaseURL = firstNonEmpty(
		os.Getenv("LLM_BASE_URL"),
		os.Getenv("OPENAI_BASE_URL"),
		cfg.LLM.BaseURL,
	)
	switch cfg.LLM.Provider {
	case "anthropic":
		cfg.LLM.APIKey = firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("LLM_API_KEY"))
	default:
		cfg.LLM.APIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), os.Getenv("LLM_API_KEY"))
	}
	if v, ok, err := parseIntEnv("LLM_TIMEOUT_SEC"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid LLM_TIMEOUT_SEC: %w", err)
		}
		log.Printf("invalid LLM_TIMEOUT_SEC: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.LLM.TimeoutSec = v
	}

	cfg.Digest = applyDigestOverrides(cfg.Digest, fileCfg.Digest)
	if v := strings.TrimSpace(os.Getenv("DIGEST_WEBHOOK_URL")); v != "" {
		cfg.Digest.WebhookURL = v
		cfg.Digest.Enabled = true
	}
	if v := os.Getenv("DIGEST_ENABLED"); strings.TrimSpace(v) != "" {
		cfg.Digest.Enabled = parseBoolEnv("DIGEST_ENABLED")
	}
	if v, ok, err := parseIntEnv("DIGEST_HOUR"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid DIGEST_HOUR: %w", err)
		}
		log.Printf("invalid DIGEST_HOUR: %v (using default)", err)
	} else if ok && v >= 0 && v <= 23 {
		cfg.Digest.Hour = v
	}

	if err := validate.Struct(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config validation failed: %w", err)
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

// Now returns the wall clock normalized the way timestamps are stored.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyLLMOverrides(base LLMConfig, override llmFileConfig) LLMConfig {
	if v := strings.TrimSpace(override.Provider); v != "" {
		base.Provider = strings.ToLower(v)
	}
	if v := strings.TrimSpace(override.Model); v != "" {
		base.Model = v
	}
	if v := strings.TrimSpace(override.BaseURL); v != "" {
		base.BaseURL = v
	}
	if v := strings.TrimSpace(override.PromptVersion); v != "" {
		base.PromptVersion = v
	}
	if override.TimeoutSec != nil && *override.TimeoutSec > 0 {
		base.TimeoutSec = *override.TimeoutSec
	}
	return base
}

func applyDigestOverrides(base DigestConfig, override digestFileConfig) DigestConfig {
	if override.Enabled != nil {
		base.Enabled = *override.Enabled
	}
	if v := strings.TrimSpace(override.WebhookURL); v != "" {
		base.WebhookURL = v
	}
	if override.Hour != nil && *override.Hour >= 0 && *override.Hour <= 23 {
		base.Hour = *override.Hour
	}
	return base
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
