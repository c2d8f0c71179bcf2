// Package summarize turns persisted incident records into publishable post
// content through a language model provider. The provider is optional; with
// it disabled every record still yields a deterministic fallback post.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/store"
)

// Post llm_status values.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const (
	maxTitleLen   = 120
	maxSummaryLen = 600

	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5"
)

const systemPrompt = "You are a journalist writing police blotter summaries for a public news site. " +
	"Write clearly and factually. Respond with valid JSON only."

// Completer is the provider seam. Both real clients and test fakes answer a
// system plus user prompt with raw text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Summary is the publishable content produced for one record.
type Summary struct {
	Title      string
	Body       string
	City       string
	AgencyType string
	AgencyName string
	Status     string
	Model      string
}

// Summarizer drives one configured provider. A nil completer means the
// provider is disabled and every record takes the fallback path.
type Summarizer struct {
	completer Completer
	model     string
	timeout   time.Duration
	log       zerolog.Logger
}

// New builds a Summarizer for the configured provider. An unknown provider
// name is a configuration error, not a silent fallback.
func New(cfg config.LLMConfig, logger zerolog.Logger) (*Summarizer, error) {
	s := &Summarizer{
		model:   cfg.Model,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		log:     logger.With().Str("component", "summarize").Logger(),
	}
	switch cfg.Provider {
	case "openai":
		if s.model == "" {
			s.model = defaultOpenAIModel
		}
		s.completer = newOpenAI(cfg, s.model)
	case "anthropic":
		if s.model == "" {
			s.model = defaultAnthropicModel
		}
		s.completer = newAnthropic(cfg, s.model)
	case "disabled", "":
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if s.completer != nil {
		s.log.Info().Str("provider", cfg.Provider).Str("model", s.model).Str("prompt_version", cfg.PromptVersion).Msg("summarizer enabled")
	}
	return s, nil
}

// NewWithCompleter wires an explicit completer, used by tests and by any
// caller that manages its own client.
func NewWithCompleter(c Completer, model string, timeout time.Duration, logger zerolog.Logger) *Summarizer {
	return &Summarizer{
		completer: c,
		model:     model,
		timeout:   timeout,
		log:       logger.With().Str("component", "summarize").Logger(),
	}
}

// Enabled reports whether a provider is configured.
func (s *Summarizer) Enabled() bool { return s.completer != nil }

// Summarize produces post content for one record. It never returns an
// error: provider failures and invalid responses degrade to the fallback
// content with Status set accordingly, so the caller always has a post to
// write.
func (s *Summarizer) Summarize(ctx context.Context, filename string, rec store.Record) Summary {
	agencyType, agencyName := DeriveAgency(filename, rec.County, rec.IncidentType+" "+rec.Location+" "+rec.Details)
	out := Summary{
		Title:      fallbackTitle(rec),
		Body:       fallbackBody(rec),
		AgencyType: agencyType,
		AgencyName: agencyName,
	}
	if s.completer == nil {
		out.Status = StatusSkipped
		return out
	}
	out.Model = s.model

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.completer.Complete(ctx, systemPrompt, UserPrompt(filename, rec))
	if err != nil {
		s.log.Warn().Err(err).Str("file", filename).Int64("record", rec.ID).Msg("completion failed")
		out.Status = StatusFailed
		return out
	}
	parsed, err := parseResponse(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("file", filename).Int64("record", rec.ID).Msg("model response rejected")
		out.Status = StatusFailed
		return out
	}

	out.Title = parsed.Title
	out.Body = parsed.Summary
	out.City = parsed.City
	if parsed.AgencyType != "" {
		out.AgencyType = parsed.AgencyType
	}
	out.Status = StatusOK
	return out
}

// UserPrompt renders the per-record prompt sent to the provider.
func UserPrompt(filename string, rec store.Record) string {
	var b strings.Builder
	b.WriteString("Write a short public news summary of one police blotter incident.\n\n")
	fmt.Fprintf(&b, "Source file: %s\n", filename)
	fmt.Fprintf(&b, "County: %s\n", rec.County)
	fmt.Fprintf(&b, "Date: %s\n", rec.Date)
	if rec.Time != "" {
		fmt.Fprintf(&b, "Time: %s\n", rec.Time)
	}
	fmt.Fprintf(&b, "Incident type: %s\n", rec.IncidentType)
	fmt.Fprintf(&b, "Location: %s\n", rec.Location)
	if rec.Officer != "" {
		fmt.Fprintf(&b, "Officer: %s\n", rec.Officer)
	}
	if rec.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", rec.Details)
	}
	if len(rec.CommandLogs) > 0 {
		b.WriteString("Command log:\n")
		for _, cl := range rec.CommandLogs {
			fmt.Fprintf(&b, "- %s %s: %s\n", cl.Timestamp, cl.Officer, cl.Entry)
		}
	}
	b.WriteString("\nUse natural times like \"8:20 AM\". Plain English, one or two sentences.\n")
	b.WriteString("Skip purely administrative log entries (voicemails, callbacks, no-answer checks).\n")
	b.WriteString("Return ONLY valid JSON with these keys:\n")
	b.WriteString(`{"title": "...", "summary": "...", "city": "primary city or town if determinable, else empty string", "agency_type": "sheriff or police or other"}`)
	fmt.Fprintf(&b, "\nTitle under %d characters; summary under %d characters.\n", maxTitleLen, maxSummaryLen)
	return b.String()
}

func fallbackTitle(rec store.Record) string {
	title := rec.IncidentType
	if title == "" {
		title = "Police Incident"
	}
	if rec.Location != "" {
		title += " - " + rec.Location
	}
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	return title
}

func fallbackBody(rec store.Record) string {
	line := rec.IncidentType
	if line == "" {
		line = "Police incident"
	}
	if rec.Location != "" {
		line += " at " + rec.Location
	}
	if rec.Time != "" {
		line += " (" + rec.Time + ")"
	}
	line += "."
	if rec.Details != "" {
		line += " " + rec.Details
	}
	if len(line) > maxSummaryLen {
		line = line[:maxSummaryLen]
	}
	return line
}
