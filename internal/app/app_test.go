package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTPPort:      ":0",
		InboxDir:      filepath.Join(dir, "inbox"),
		WorkDir:       filepath.Join(dir, "work"),
		DBPath:        filepath.Join(dir, "blotter.db"),
		WorkerCount:   1,
		JobQueueSize:  8,
		JobTimeoutSec: 30,
		BackfillLimit: 10,
		PDFToTextBin:  "pdftotext",
		PDFToPPMBin:   "pdftoppm",
		TesseractBin:  "tesseract",
		LLM:           config.LLMConfig{Provider: "disabled", TimeoutSec: 30},
	}
}

func TestNewWiresComponents(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Store().Close()

	for _, dir := range []string{cfg.InboxDir, cfg.WorkDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("runtime dir not created: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/ops/health", nil)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("health status = %d, want 204", w.Code)
	}
}

func TestNewRejectsBadProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.Provider = "watson"
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNextDigestTime(t *testing.T) {
	base := time.Date(2026, 2, 11, 6, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"later today", base, 7, time.Date(2026, 2, 11, 7, 0, 0, 0, time.UTC)},
		{"already passed", base, 5, time.Date(2026, 2, 12, 5, 0, 0, 0, time.UTC)},
		{"exactly now rolls over", time.Date(2026, 2, 11, 7, 0, 0, 0, time.UTC), 7, time.Date(2026, 2, 12, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextDigestTime(tt.now, tt.hour); !got.Equal(tt.want) {
				t.Errorf("nextDigestTime(%v, %d) = %v, want %v", tt.now, tt.hour, got, tt.want)
			}
		})
	}
}
