package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/store"
)

const gallatinFixture = "Gallatin County Sheriff's Office Daily Activity\n\n" +
	"02/11/26 01:00:00 CFS26-020475 GALLATIN RD 911 HANG UP\n" +
	"02/11/26 01:34:33 - Alexander, Logan - Deputies responded to a dropped emergency line.\n" +
	"02/11/26 08:15:00 CFS26-020501 MAIN ST THEFT REPORT\n" +
	"02/11/26 08:40:12 - Walker, Dana - Report of tools missing from a parked work truck.\n"

func outFile(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func readJSON(t *testing.T, f *os.File) map[string]any {
	t.Helper()
	data, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, data)
	}
	return out
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		InboxDir:     filepath.Join(dir, "inbox"),
		WorkDir:      dir,
		DBPath:       filepath.Join(dir, "blotter.db"),
		PDFToTextBin: "pdftotext",
		PDFToPPMBin:  "pdftoppm",
		TesseractBin: "tesseract",
		OCRThreshold: 100,
		LLM:          config.LLMConfig{Provider: "disabled", TimeoutSec: 30},
	}
}

func TestRunUsageErrors(t *testing.T) {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer devnull.Close()

	if code := run(nil, devnull, devnull); code != 2 {
		t.Errorf("no args exit = %d, want 2", code)
	}
	if code := run([]string{"bogus"}, devnull, devnull); code != 2 {
		t.Errorf("unknown command exit = %d, want 2", code)
	}
}

func TestParseCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gcso-daily.txt")
	if err := os.WriteFile(path, []byte(gallatinFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	stdout := outFile(t, "out.json")
	stderr := outFile(t, "err.txt")

	if code := runParse(testConfig(t), zerolog.Nop(), []string{path}, stdout, stderr); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	out := readJSON(t, stdout)
	if out["format"] != "gallatin" || out["county"] != "Gallatin" {
		t.Errorf("format/county = %v/%v", out["format"], out["county"])
	}
	if out["count"].(float64) != 2 {
		t.Errorf("count = %v, want 2", out["count"])
	}
	if got := len(out["records"].([]any)); got != 2 {
		t.Errorf("records = %d, want 2", got)
	}
}

func TestParseCommandMissingFile(t *testing.T) {
	stdout := outFile(t, "out.json")
	stderr := outFile(t, "err.txt")
	if code := runParse(testConfig(t), zerolog.Nop(), []string{"/nonexistent/file.txt"}, stdout, stderr); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}

func TestProcessCommand(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "gcso-daily.txt")
	if err := os.WriteFile(path, []byte(gallatinFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	stdout := outFile(t, "out.json")
	stderr := outFile(t, "err.txt")

	if code := runProcess(cfg, zerolog.Nop(), []string{path, "-county", "Madison"}, stdout, stderr); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	out := readJSON(t, stdout)
	if out["status"] != store.StatusSuccess {
		t.Errorf("status = %v", out["status"])
	}
	if out["incident_count"].(float64) != 2 {
		t.Errorf("incident_count = %v, want 2", out["incident_count"])
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	b, err := st.GetBlotter(context.Background(), int64(out["blotter_id"].(float64)))
	if err != nil {
		t.Fatalf("blotter row: %v", err)
	}
	if b.County != "Madison" {
		t.Errorf("county = %q, want Madison (flag overrides detection)", b.County)
	}
}

func TestProcessCommandFailureExit(t *testing.T) {
	stdout := outFile(t, "out.json")
	stderr := outFile(t, "err.txt")
	if code := runProcess(testConfig(t), zerolog.Nop(), []string{"/nonexistent/file.txt"}, stdout, stderr); code != 1 {
		t.Errorf("exit = %d, want 1", code)
	}
}
