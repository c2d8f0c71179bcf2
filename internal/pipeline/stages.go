package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mtblotter/internal/events"
	"mtblotter/internal/jobs"
	"mtblotter/internal/store"
)

// Registry exposes the pipeline phases as job stages. Records travel
// between stages as a JSON string param so they survive the round trip
// through the job table intact.
func (p *Pipeline) Registry() jobs.Registry {
	return jobs.Registry{
		jobs.StageExtract:   p.extractStage,
		jobs.StageParse:     p.parseStage,
		jobs.StagePersist:   p.persistStage,
		jobs.StageSummarize: p.summarizeStage,
	}
}

// extractStage creates the audit row and produces text or spreadsheet rows.
// Params in: path, county.
func (p *Pipeline) extractStage(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
	path := paramsString(params, "path")
	if path == "" {
		return nil, errors.New("missing path param")
	}
	county := paramsString(params, "county")

	b := &store.Blotter{Filename: filename, County: county, SourceType: sourceType(path), FilePath: path}
	if _, err := p.store.InsertBlotter(ctx, b); err != nil {
		return nil, fmt.Errorf("insert blotter: %w", err)
	}
	exec.SetBlotter(b.ID)

	text, records, format, err := p.extract(ctx, b.ID, path)
	if err != nil {
		p.fail(ctx, b.ID, filename, county, err)
		return nil, err
	}

	next := map[string]any{"blotter_id": b.ID, "county": county}
	if format == formatSpreadsheet {
		payload, err := json.Marshal(records)
		if err != nil {
			p.fail(ctx, b.ID, filename, county, err)
			return nil, fmt.Errorf("encode records: %w", err)
		}
		next["format"] = format
		next["records_json"] = string(payload)
		exec.Logf("extracted %d spreadsheet rows", len(records))
	} else {
		next["text"] = text
		exec.Logf("extracted %d chars", len(text))
	}
	return next, nil
}

// parseStage turns text into records and resolves the county. Spreadsheet
// rows from the previous stage pass through parsing untouched.
func (p *Pipeline) parseStage(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
	id, err := paramsInt64(params, "blotter_id")
	if err != nil {
		return nil, err
	}
	exec.SetBlotter(id)
	county := paramsString(params, "county")
	text := paramsString(params, "text")

	records, decErr := decodeRecords(params)
	if decErr != nil {
		p.fail(ctx, id, filename, county, decErr)
		return nil, decErr
	}
	records, format, err := p.parseRecords(ctx, id, text, records, paramsString(params, "format"))
	if err != nil {
		p.fail(ctx, id, filename, county, err)
		return nil, err
	}

	county = p.resolveCounty(ctx, id, county, text, records)
	stampCounty(records, county)

	payload, err := json.Marshal(records)
	if err != nil {
		p.fail(ctx, id, filename, county, err)
		return nil, fmt.Errorf("encode records: %w", err)
	}
	exec.Logf("parsed %d records, format %s", len(records), format)
	return map[string]any{
		"blotter_id":   id,
		"county":       county,
		"format":       format,
		"records_json": string(payload),
	}, nil
}

// persistStage saves the batch transactionally. An empty batch ends the
// chain; there is nothing to summarize.
func (p *Pipeline) persistStage(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
	id, err := paramsInt64(params, "blotter_id")
	if err != nil {
		return nil, err
	}
	exec.SetBlotter(id)
	county := paramsString(params, "county")

	records, err := decodeRecords(params)
	if err != nil {
		p.fail(ctx, id, filename, county, err)
		return nil, err
	}
	if err := p.persist(ctx, id, records); err != nil {
		p.fail(ctx, id, filename, county, err)
		return nil, err
	}
	p.metrics.RecordBlotter(false, len(records))
	p.bus.Publish(events.Event{Type: events.BlotterIngested, BlotterID: id, Filename: filename, County: county, Count: len(records)})
	exec.Logf("persisted %d records", len(records))
	if len(records) == 0 {
		return nil, nil
	}
	return map[string]any{"blotter_id": id, "county": county}, nil
}

// summarizeStage writes posts for the stored records and settles the final
// blotter status.
func (p *Pipeline) summarizeStage(ctx context.Context, exec jobs.ExecutionContext, filename string, params map[string]any) (map[string]any, error) {
	id, err := paramsInt64(params, "blotter_id")
	if err != nil {
		return nil, err
	}
	exec.SetBlotter(id)
	county := paramsString(params, "county")

	written, failed, err := p.summarizeBlotter(ctx, id, filename)
	if err != nil {
		if uerr := p.store.UpdateBlotterStatus(ctx, id, store.StatusPartial); uerr != nil {
			p.log.Error().Err(uerr).Int64("blotter_id", id).Msg("update status")
		}
		return nil, err
	}
	if failed > 0 {
		if err := p.store.UpdateBlotterStatus(ctx, id, store.StatusPartial); err != nil {
			return nil, fmt.Errorf("update status: %w", err)
		}
	}
	p.bus.Publish(events.Event{Type: events.BlotterSummarized, BlotterID: id, Filename: filename, County: county, Count: written})
	exec.Logf("wrote %d posts, %d failed", written, failed)
	return nil, nil
}

func decodeRecords(params map[string]any) ([]store.Record, error) {
	raw := paramsString(params, "records_json")
	if raw == "" {
		return nil, nil
	}
	var records []store.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

func paramsString(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// paramsInt64 reads a numeric param that may have round-tripped through
// the job table as a JSON float64.
func paramsInt64(params map[string]any, key string) (int64, error) {
	switch v := params[key].(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	}
	return 0, fmt.Errorf("missing %s param", key)
}
