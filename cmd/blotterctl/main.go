// blotterctl runs pipeline pieces from the command line: parse inspects a
// file without touching the database, process runs the full ingestion.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/events"
	"mtblotter/internal/extract"
	"mtblotter/internal/logging"
	"mtblotter/internal/metrics"
	"mtblotter/internal/parse"
	"mtblotter/internal/pipeline"
	"mtblotter/internal/sheet"
	"mtblotter/internal/store"
	"mtblotter/internal/summarize"
)

const usage = `usage:
  blotterctl parse <file>                    extract and parse, print records as JSON
  blotterctl process [-county NAME] <file>   run the full pipeline, print the result
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	if len(args) < 1 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := logging.New(cfg.Environment, cfg.LogLevel)

	switch args[0] {
	case "parse":
		return runParse(cfg, logger, args[1:], stdout, stderr)
	case "process":
		return runProcess(cfg, logger, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func runParse(cfg config.Config, logger zerolog.Logger, args []string, stdout, stderr *os.File) int {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		fmt.Fprint(stderr, usage)
		return 2
	}
	path := args[0]
	ctx := context.Background()

	var records []parse.Record
	var format, county string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
		rows, err := sheet.Load(path)
		if err != nil {
			fmt.Fprintf(stderr, "load spreadsheet: %v\n", err)
			return 1
		}
		records = rows
		format = "spreadsheet"
		if len(rows) > 0 {
			county = rows[0].County
		}
	default:
		ex := extract.New(cfg, logger)
		text, _, err := ex.Extract(ctx, path)
		if err != nil {
			fmt.Fprintf(stderr, "extract: %v\n", err)
			return 1
		}
		parser := parse.New(parse.DefaultConfig())
		f := parser.DetectFormat(text)
		records = parser.Parse(text, f)
		format = string(f)
		county = parser.DetectCounty(text)
	}

	out := map[string]any{
		"file":    filepath.Base(path),
		"format":  format,
		"county":  county,
		"count":   len(records),
		"records": records,
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}

func runProcess(cfg config.Config, logger zerolog.Logger, args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(stderr)
	county := fs.String("county", "", "county label when the file location does not reveal it")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	path := rest[0]
	// flags may trail the file argument
	if len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return 2
		}
		if fs.NArg() != 0 {
			fmt.Fprint(stderr, usage)
			return 2
		}
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(stderr, "open store: %v\n", err)
		return 1
	}
	defer st.Close()
	summ, err := summarize.New(cfg.LLM, logger)
	if err != nil {
		fmt.Fprintf(stderr, "summarizer: %v\n", err)
		return 1
	}
	pl := pipeline.New(cfg, st, extract.New(cfg, logger), parse.New(parse.DefaultConfig()), summ, events.NewBus(), metrics.New(), logger)

	res := pl.Process(context.Background(), path, *county)
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	if res.Status == store.StatusFailed {
		return 1
	}
	return 0
}
