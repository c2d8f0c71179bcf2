// Package extract turns source documents into plain text. PDFs go through
// pdftotext first; pages that yield too little text fall back to
// rasterization plus OCR.
package extract

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
)

// Extraction methods reported alongside the text.
const (
	MethodText      = "text"
	MethodPDFToText = "pdftotext"
	MethodOCR       = "ocr"
)

// ExtractionError marks a file that could not be read at all, as opposed to
// one that read fine but contained no text.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extract %s: %v", e.Path, e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// Runner executes an external tool and returns its stdout. It exists so
// tests can stand in for the poppler and tesseract binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Extractor shells out to pdftotext, pdftoppm, and tesseract.
type Extractor struct {
	PDFToText    string
	PDFToPPM     string
	Tesseract    string
	OCRThreshold int
	WorkDir      string
	Runner       Runner

	log zerolog.Logger
}

func New(cfg config.Config, logger zerolog.Logger) *Extractor {
	return &Extractor{
		PDFToText:    cfg.PDFToTextBin,
		PDFToPPM:     cfg.PDFToPPMBin,
		Tesseract:    cfg.TesseractBin,
		OCRThreshold: cfg.OCRThreshold,
		WorkDir:      cfg.WorkDir,
		Runner:       execRunner{},
		log:          logger.With().Str("component", "extract").Logger(),
	}
}

// Extract reads path and returns its text plus the method that produced it.
// Thin text from a scanned PDF is not a failure; the OCR fallback handles
// it. A file that cannot be read by any method yields an ExtractionError.
func (e *Extractor) Extract(ctx context.Context, path string) (string, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", "", &ExtractionError{Path: path, Err: err}
		}
		return string(data), MethodText, nil
	case ".pdf":
		return e.extractPDF(ctx, path)
	default:
		return "", "", &ExtractionError{Path: path, Err: fmt.Errorf("unsupported file type %q", filepath.Ext(path))}
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (string, string, error) {
	out, directErr := e.Runner.Run(ctx, e.PDFToText, "-layout", "-enc", "UTF-8", path, "-")
	direct := strings.TrimSpace(string(out))
	if directErr == nil && len(direct) >= e.OCRThreshold {
		return string(out), MethodPDFToText, nil
	}
	if directErr != nil {
		e.log.Warn().Str("file", path).Err(directErr).Msg("pdftotext failed, trying ocr")
	} else {
		e.log.Debug().Str("file", path).Int("chars", len(direct)).Msg("direct extraction below threshold, trying ocr")
	}

	text, ocrErr := e.ocr(ctx, path)
	if ocrErr != nil {
		if directErr != nil {
			return "", "", &ExtractionError{Path: path, Err: fmt.Errorf("pdftotext: %v; ocr: %w", directErr, ocrErr)}
		}
		// The direct pass worked, it just found a thin layer of text.
		return string(out), MethodPDFToText, nil
	}
	return text, MethodOCR, nil
}

// ocr rasterizes each page and runs tesseract over the upscaled grayscale
// image. The page directory is removed when the pass ends, pass or fail.
func (e *Extractor) ocr(ctx context.Context, path string) (string, error) {
	dir, err := os.MkdirTemp(e.WorkDir, "ocr-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	if _, err := e.Runner.Run(ctx, e.PDFToPPM, "-png", "-r", "300", path, prefix); err != nil {
		return "", err
	}
	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "", fmt.Errorf("pdftoppm produced no pages")
	}
	sortPages(pages)

	var parts []string
	for _, page := range pages {
		if err := preprocess(page); err != nil {
			return "", fmt.Errorf("preprocess %s: %w", filepath.Base(page), err)
		}
		out, err := e.Runner.Run(ctx, e.Tesseract, page, "stdout")
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(string(out)))
	}
	return strings.Join(parts, "\n"), nil
}

// sortPages orders page images numerically. pdftoppm numbers pages without
// a fixed width, so a lexicographic sort would put page-10 before page-2.
func sortPages(pages []string) {
	sort.Slice(pages, func(i, j int) bool {
		return pageNumber(pages[i]) < pageNumber(pages[j])
	})
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	idx := strings.LastIndex(base, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(base[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
