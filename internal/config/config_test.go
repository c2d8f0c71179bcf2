package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBackfillLimitClamp(t *testing.T) {
	t.Setenv("BACKFILL_LIMIT", "9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BackfillLimit != maxBackfillLimit {
		t.Fatalf("expected backfill limit %d, got %d", maxBackfillLimit, cfg.BackfillLimit)
	}
}

func TestQueueSizeRespectsWorkers(t *testing.T) {
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("JOB_QUEUE_SIZE", "4")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("expected worker count 8, got %d", cfg.WorkerCount)
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		t.Fatalf("queue size should be at least workers, got %d", cfg.JobQueueSize)
	}
}

func TestHTTPPortGetsColonPrefix(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.HTTPPort != ":9000" {
		t.Fatalf("expected HTTP_PORT to include colon, got %s", cfg.HTTPPort)
	}
}

func TestEmptyBlotterPolicy(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.EmptyBlotterSuccess {
		t.Fatalf("zero-incident blotters should default to success")
	}

	t.Setenv("EMPTY_BLOTTER_SUCCESS", "false")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.EmptyBlotterSuccess {
		t.Fatalf("EMPTY_BLOTTER_SUCCESS=false should disable the policy")
	}
}

func TestLLMProviderFromEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected anthropic provider, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Fatalf("expected anthropic key to be picked up")
	}
}

func TestFileConfigLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "inbox_dir: /data/inbox\nllm:\n  provider: openai\n  model: file-model\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("LLM_MODEL", "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.InboxDir != "/data/inbox" {
		t.Fatalf("expected inbox dir from file, got %s", cfg.InboxDir)
	}
	if cfg.LLM.Provider != "openai" {
		t.Fatalf("expected provider from file, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "env-model" {
		t.Fatalf("env should win over file, got %s", cfg.LLM.Model)
	}
}

func TestStrictConfigRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml {"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("STRICT_CONFIG", "1")

	if _, err := Load(); err == nil {
		t.Fatalf("expected strict mode to reject malformed config file")
	}
}
