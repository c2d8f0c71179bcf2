// Package sheet ingests spreadsheet blotter exports. The header row maps
// columns onto incident record fields by name; every data row becomes one
// record with an empty command log.
package sheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"mtblotter/internal/parse"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// fieldOrder fixes the claim order when several aliases could match the
// same header cell.
var fieldOrder = []string{"cfs", "date", "time", "type", "location", "details", "county", "officer"}

var headerAliases = map[string][]string{
	"cfs":      {"cfs", "cfs number", "case", "case number", "incident number", "report number"},
	"date":     {"date", "incident date", "reported date", "date reported", "occurred"},
	"time":     {"time", "incident time", "reported time", "time reported"},
	"type":     {"type", "incident type", "incident", "offense", "nature", "call type"},
	"location": {"location", "address", "location address", "block"},
	"details":  {"details", "narrative", "description", "summary", "notes"},
	"county":   {"county"},
	"officer":  {"officer", "deputy", "responding officer"},
}

// Load reads a .csv or .xlsx blotter export from disk and returns its
// incident rows.
func Load(path string) ([]parse.Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(filepath.Base(path), payload)
}

// Decode turns spreadsheet bytes into records. The extension on name picks
// the decoder.
func Decode(name string, payload []byte) ([]parse.Record, error) {
	ext := strings.ToLower(filepath.Ext(name))
	var (
		rows [][]string
		err  error
	)
	switch ext {
	case ".csv":
		rows, err = csvRows(payload)
	case ".xlsx":
		rows, err = excelRows(payload)
	default:
		return nil, fmt.Errorf("unsupported spreadsheet type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return buildRecords(rows)
}

func csvRows(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	cr := csv.NewReader(reader)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	return cr.ReadAll()
}

func excelRows(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func buildRecords(rows [][]string) ([]parse.Record, error) {
	header := -1
	for i, row := range rows {
		if !rowEmpty(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("spreadsheet has no rows")
	}

	// Leftmost column wins when two headers map to the same field.
	cols := make(map[int]string)
	claimed := make(map[string]bool)
	for i, cell := range rows[header] {
		field := fieldFor(cell)
		if field == "" || claimed[field] {
			continue
		}
		cols[i] = field
		claimed[field] = true
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no recognizable columns in header row")
	}

	records := []parse.Record{}
	for _, row := range rows[header+1:] {
		if rowEmpty(row) {
			continue
		}
		rec := parse.Record{CommandLogs: []parse.CommandLog{}}
		for idx, field := range cols {
			if idx >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[idx])
			switch field {
			case "cfs":
				rec.CFSNumber = value
			case "date":
				rec.Date = value
			case "time":
				rec.Time = value
			case "type":
				rec.IncidentType = value
			case "location":
				rec.Location = value
			case "details":
				rec.Details = value
			case "county":
				rec.County = value
			case "officer":
				rec.Officer = value
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// fieldFor maps a header cell to a record field. An exact alias match is
// preferred; otherwise the alias may appear as a whole word inside the
// header ("Nature of Call" still maps to the incident type).
func fieldFor(header string) string {
	h := normalizeHeader(header)
	if h == "" {
		return ""
	}
	for _, field := range fieldOrder {
		for _, alias := range headerAliases[field] {
			if h == alias {
				return field
			}
		}
	}
	for _, field := range fieldOrder {
		for _, alias := range headerAliases[field] {
			if strings.Contains(" "+h+" ", " "+alias+" ") {
				return field
			}
		}
	}
	return ""
}

func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
