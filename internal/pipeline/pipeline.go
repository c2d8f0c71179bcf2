// Package pipeline runs a blotter file through extraction, parsing,
// persistence, and summarization, tracking progress on the audit row.
//
// The same phases back two entry points: Process runs a file end to end
// synchronously (CLI, tests), and Registry exposes each phase as a job
// stage so the worker queue can run them with durable state in between.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/events"
	"mtblotter/internal/extract"
	"mtblotter/internal/metrics"
	"mtblotter/internal/parse"
	"mtblotter/internal/sheet"
	"mtblotter/internal/store"
	"mtblotter/internal/summarize"
)

// formatSpreadsheet labels blotters whose rows arrive pre-structured and
// bypass text extraction and format detection.
const formatSpreadsheet = "spreadsheet"

// maxBlotterRecords bounds how many records one blotter is expected to
// carry when reloading them for summarization.
const maxBlotterRecords = 1000

var errNoIncidents = errors.New("no incidents parsed")

// Pipeline owns the processing phases and their collaborators.
type Pipeline struct {
	cfg     config.Config
	store   *store.Store
	ex      *extract.Extractor
	parser  *parse.Parser
	summ    *summarize.Summarizer
	bus     *events.Bus
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func New(cfg config.Config, st *store.Store, ex *extract.Extractor, parser *parse.Parser, summ *summarize.Summarizer, bus *events.Bus, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		ex:      ex,
		parser:  parser,
		summ:    summ,
		bus:     bus,
		metrics: m,
		log:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Result summarizes one pipeline run.
type Result struct {
	BlotterID     int64  `json:"blotter_id"`
	Status        string `json:"status"`
	IncidentCount int    `json:"incident_count"`
	Format        string `json:"format,omitempty"`
	Err           string `json:"error,omitempty"`
}

// Process runs the full pipeline for one file. Failures are reported in
// Result.Err rather than returned; the audit row keeps the same error, so
// one bad file never blocks the caller's next one.
func (p *Pipeline) Process(ctx context.Context, path, county string) Result {
	filename := filepath.Base(path)
	b := &store.Blotter{Filename: filename, County: county, SourceType: sourceType(path), FilePath: path}
	if _, err := p.store.InsertBlotter(ctx, b); err != nil {
		p.log.Error().Err(err).Str("file", filename).Msg("insert blotter")
		return Result{Status: store.StatusFailed, Err: "insert blotter: " + err.Error()}
	}

	text, records, format, err := p.extract(ctx, b.ID, path)
	if err != nil {
		return p.fail(ctx, b.ID, filename, county, err)
	}

	records, format, err = p.parseRecords(ctx, b.ID, text, records, format)
	if err != nil {
		return p.fail(ctx, b.ID, filename, county, err)
	}

	county = p.resolveCounty(ctx, b.ID, county, text, records)
	stampCounty(records, county)

	if err := p.persist(ctx, b.ID, records); err != nil {
		return p.fail(ctx, b.ID, filename, county, err)
	}
	p.metrics.RecordBlotter(false, len(records))
	p.bus.Publish(events.Event{Type: events.BlotterIngested, BlotterID: b.ID, Filename: filename, County: county, Count: len(records)})

	status := store.StatusSuccess
	written, failedPosts, sumErr := p.summarizeBlotter(ctx, b.ID, filename)
	if sumErr != nil {
		p.log.Error().Err(sumErr).Int64("blotter_id", b.ID).Msg("summarize blotter")
	}
	if failedPosts > 0 || sumErr != nil {
		status = store.StatusPartial
		if err := p.store.UpdateBlotterStatus(ctx, b.ID, status); err != nil {
			p.log.Error().Err(err).Int64("blotter_id", b.ID).Msg("update status")
		}
	}
	p.bus.Publish(events.Event{Type: events.BlotterSummarized, BlotterID: b.ID, Filename: filename, County: county, Count: written})

	p.log.Info().
		Int64("blotter_id", b.ID).
		Str("file", filename).
		Str("status", status).
		Str("format", format).
		Int("incidents", len(records)).
		Msg("blotter processed")
	return Result{BlotterID: b.ID, Status: status, IncidentCount: len(records), Format: format}
}

// extract moves the blotter into extracting and produces either raw text
// (pdf and txt sources) or pre-structured rows (spreadsheets).
func (p *Pipeline) extract(ctx context.Context, id int64, path string) (string, []store.Record, string, error) {
	if err := p.store.UpdateBlotterStatus(ctx, id, store.StatusExtracting); err != nil {
		return "", nil, "", fmt.Errorf("update status: %w", err)
	}
	if sourceType(path) == formatSpreadsheet {
		rows, err := sheet.Load(path)
		if err != nil {
			return "", nil, "", err
		}
		return "", toStoreRecords(rows), formatSpreadsheet, nil
	}
	text, method, err := p.ex.Extract(ctx, path)
	if err != nil {
		return "", nil, "", err
	}
	if method == extract.MethodOCR {
		p.metrics.RecordOCRFallback()
	}
	return text, nil, "", nil
}

// parseRecords moves the blotter into parsing. Spreadsheet rows pass
// through untouched; text goes through format detection and the matching
// strategy.
func (p *Pipeline) parseRecords(ctx context.Context, id int64, text string, records []store.Record, format string) ([]store.Record, string, error) {
	if err := p.store.UpdateBlotterStatus(ctx, id, store.StatusParsing); err != nil {
		return nil, "", fmt.Errorf("update status: %w", err)
	}
	if format == formatSpreadsheet {
		return records, format, nil
	}
	f := p.parser.DetectFormat(text)
	return toStoreRecords(p.parser.Parse(text, f)), string(f), nil
}

// resolveCounty applies the caller's label, then text detection, then the
// first row that carries one, and stamps the winner on the audit row.
func (p *Pipeline) resolveCounty(ctx context.Context, id int64, county, text string, records []store.Record) string {
	if county == "" && text != "" {
		county = p.parser.DetectCounty(text)
	}
	if county == "" {
		for _, rec := range records {
			if rec.County != "" {
				county = rec.County
				break
			}
		}
	}
	if county != "" {
		if err := p.store.SetBlotterCounty(ctx, id, county); err != nil {
			p.log.Warn().Err(err).Int64("blotter_id", id).Msg("set county")
		}
	}
	return county
}

// stampCounty copies the resolved county onto every record. Record county
// is denormalized from the blotter and has to match it.
func stampCounty(records []store.Record, county string) {
	if county == "" {
		return
	}
	for i := range records {
		records[i].County = county
	}
}

// persist moves the blotter into persisting and saves the batch in one
// transaction. An empty batch succeeds or fails per the configured policy.
func (p *Pipeline) persist(ctx context.Context, id int64, records []store.Record) error {
	if err := p.store.UpdateBlotterStatus(ctx, id, store.StatusPersisting); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if len(records) == 0 && !p.cfg.EmptyBlotterSuccess {
		return errNoIncidents
	}
	return p.store.SaveIncidents(ctx, id, records, store.StatusSuccess)
}

// summarizeBlotter writes one post per stored record. Model failures
// degrade to fallback text and only raise the failed count; a database
// error aborts the walk.
func (p *Pipeline) summarizeBlotter(ctx context.Context, blotterID int64, filename string) (written, failed int, err error) {
	records, _, err := p.store.ListRecords(ctx, store.RecordFilter{BlotterID: blotterID, Limit: maxBlotterRecords})
	if err != nil {
		return 0, 0, fmt.Errorf("list records: %w", err)
	}
	for i := range records {
		rec, err := p.store.GetRecord(ctx, records[i].ID)
		if err != nil {
			return written, failed, fmt.Errorf("load record %d: %w", records[i].ID, err)
		}
		sum := p.summ.Summarize(ctx, filename, *rec)
		post := &store.Post{
			BlotterID:    blotterID,
			RecordID:     rec.ID,
			Title:        sum.Title,
			Summary:      sum.Body,
			City:         sum.City,
			County:       rec.County,
			AgencyType:   sum.AgencyType,
			AgencyName:   sum.AgencyName,
			IncidentDate: rec.Date,
			IncidentType: rec.IncidentType,
			LLMStatus:    sum.Status,
			ModelName:    sum.Model,
		}
		if _, err := p.store.InsertPost(ctx, post); err != nil {
			return written, failed, fmt.Errorf("insert post: %w", err)
		}
		written++
		if sum.Status == summarize.StatusFailed {
			failed++
		}
	}
	p.metrics.RecordPosts(written)
	return written, failed, nil
}

// fail records the terminal failure on the audit row and reports it.
func (p *Pipeline) fail(ctx context.Context, id int64, filename, county string, cause error) Result {
	if err := p.store.MarkBlotterFailed(ctx, id, cause.Error()); err != nil {
		p.log.Error().Err(err).Int64("blotter_id", id).Msg("mark blotter failed")
	}
	p.metrics.RecordBlotter(true, 0)
	p.bus.Publish(events.Event{Type: events.BlotterFailed, BlotterID: id, Filename: filename, County: county, Error: cause.Error()})
	p.log.Warn().Err(cause).Int64("blotter_id", id).Str("file", filename).Msg("blotter failed")
	return Result{BlotterID: id, Status: store.StatusFailed, Err: cause.Error()}
}

// toStoreRecords converts parser output into rows ready for persistence.
func toStoreRecords(records []parse.Record) []store.Record {
	out := make([]store.Record, len(records))
	for i, rec := range records {
		logs := make([]store.CommandLog, len(rec.CommandLogs))
		for j, entry := range rec.CommandLogs {
			logs[j] = store.CommandLog{Timestamp: entry.Timestamp, Officer: entry.Officer, Entry: entry.Entry}
		}
		out[i] = store.Record{
			CFSNumber:    rec.CFSNumber,
			Date:         rec.Date,
			Time:         rec.Time,
			IncidentType: rec.IncidentType,
			Location:     rec.Location,
			Details:      rec.Details,
			County:       rec.County,
			Officer:      rec.Officer,
			CommandLogs:  logs,
		}
	}
	return out
}

func sourceType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		return formatSpreadsheet
	case ".txt":
		return "text"
	default:
		return "pdf"
	}
}
