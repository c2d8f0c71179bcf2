package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mtblotter/internal/config"
	"mtblotter/internal/store"
)

type fakeCompleter struct {
	reply     string
	err       error
	gotSystem string
	gotUser   string
}

func (f *fakeCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	f.gotSystem, f.gotUser = system, user
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func sampleRecord() store.Record {
	return store.Record{
		ID:           7,
		CFSNumber:    "CFS26-020475",
		Date:         "02/11/26",
		Time:         "1:00 AM",
		IncidentType: "911 Hang Up",
		Location:     "GALLATIN RD",
		Details:      "Deputies responded.",
		County:       "Gallatin",
		Officer:      "Alexander, Logan",
		CommandLogs: []store.CommandLog{
			{Timestamp: "02/11/26 01:34:33", Officer: "Alexander, Logan", Entry: "Deputies responded."},
		},
	}
}

func TestSummarizeParsesModelJSON(t *testing.T) {
	fake := &fakeCompleter{reply: "```json\n" +
		`{"title": "911 Hang-Up Call on Gallatin Road", "summary": "Deputies responded to a 911 hang-up call on Gallatin Road early Wednesday.", "city": "Bozeman", "agency_type": "sheriff"}` +
		"\n```"}
	s := NewWithCompleter(fake, "test-model", time.Second, zerolog.Nop())

	got := s.Summarize(context.Background(), "GCSO_Media_Report.pdf", sampleRecord())
	if got.Status != StatusOK {
		t.Fatalf("status = %q", got.Status)
	}
	if got.Title != "911 Hang-Up Call on Gallatin Road" || got.City != "Bozeman" {
		t.Fatalf("summary = %+v", got)
	}
	if got.AgencyType != "sheriff" || got.AgencyName != "Gallatin County Sheriff's Office" {
		t.Fatalf("agency = %q %q", got.AgencyType, got.AgencyName)
	}
	if got.Model != "test-model" {
		t.Fatalf("model = %q", got.Model)
	}
	if !strings.Contains(fake.gotUser, "02/11/26 01:34:33 Alexander, Logan: Deputies responded.") {
		t.Fatalf("prompt missing command log line:\n%s", fake.gotUser)
	}
	if !strings.Contains(fake.gotSystem, "journalist") {
		t.Fatalf("system prompt = %q", fake.gotSystem)
	}
}

func TestSummarizeFailsOnOversizedTitle(t *testing.T) {
	fake := &fakeCompleter{reply: `{"title": "` + strings.Repeat("x", 121) + `", "summary": "ok"}`}
	s := NewWithCompleter(fake, "test-model", time.Second, zerolog.Nop())

	got := s.Summarize(context.Background(), "GCSO.pdf", sampleRecord())
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Title != "911 Hang Up - GALLATIN RD" {
		t.Fatalf("fallback title = %q", got.Title)
	}
}

func TestSummarizeCompleterError(t *testing.T) {
	fake := &fakeCompleter{err: errors.New("rate limited")}
	s := NewWithCompleter(fake, "test-model", time.Second, zerolog.Nop())

	got := s.Summarize(context.Background(), "GCSO.pdf", sampleRecord())
	if got.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.Body, "911 Hang Up at GALLATIN RD") {
		t.Fatalf("fallback body = %q", got.Body)
	}
}

func TestSummarizeDisabledProvider(t *testing.T) {
	s, err := New(config.LLMConfig{Provider: "disabled", TimeoutSec: 1}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Fatal("disabled provider should not report enabled")
	}

	got := s.Summarize(context.Background(), "GCSO.pdf", sampleRecord())
	if got.Status != StatusSkipped {
		t.Fatalf("status = %q, want skipped", got.Status)
	}
	if got.Title == "" || got.Body == "" {
		t.Fatalf("fallback content missing: %+v", got)
	}
	if got.Model != "" {
		t.Fatalf("skipped summary should not name a model, got %q", got.Model)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(config.LLMConfig{Provider: "bard", TimeoutSec: 1}, zerolog.Nop()); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestParseResponse(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
		title   string
	}{
		{
			name:  "plain json",
			raw:   `{"title": "Theft on Main", "summary": "A bicycle was stolen."}`,
			title: "Theft on Main",
		},
		{
			name:  "prose wrapped",
			raw:   `Here is the report: {"title": "Crash on US 191", "summary": "Two vehicles collided."} Hope that helps.`,
			title: "Crash on US 191",
		},
		{
			name:  "braces inside strings",
			raw:   `{"title": "Odd {note}", "summary": "Entry contained \"{\" in the text."}`,
			title: "Odd {note}",
		},
		{
			name:  "uppercase agency type normalized",
			raw:   `{"title": "Warrant Arrest", "summary": "One arrest.", "agency_type": "SHERIFF"}`,
			title: "Warrant Arrest",
		},
		{
			name:    "missing summary",
			raw:     `{"title": "Theft"}`,
			wantErr: true,
		},
		{
			name:    "unknown key",
			raw:     `{"title": "Theft", "summary": "x", "mood": "spooky"}`,
			wantErr: true,
		},
		{
			name:    "bad agency type",
			raw:     `{"title": "Theft", "summary": "x", "agency_type": "militia"}`,
			wantErr: true,
		},
		{
			name:    "no json at all",
			raw:     "I cannot help with that.",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseResponse(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got.Title != tc.title {
				t.Fatalf("title = %q, want %q", got.Title, tc.title)
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{"```json\n{\"a\": {\"b\": 2}}\n```", `{"a": {"b": 2}}`},
		{`text {"a": "}"} more`, `{"a": "}"}`},
		{`{"a": "\"}"}`, `{"a": "\"}"}`},
		{`{"a": 1`, ""},
		{"no braces here", ""},
	}
	for _, tc := range cases {
		if got := extractJSONObject(tc.in); got != tc.want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveAgency(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		county   string
		content  string
		wantType string
		wantName string
	}{
		{
			name:     "gcso filename",
			filename: "GCSO_Media_Report_021126.pdf",
			county:   "Gallatin",
			wantType: "sheriff",
			wantName: "Gallatin County Sheriff's Office",
		},
		{
			name:     "gcso filename without county",
			filename: "gcso_daily.pdf",
			wantType: "sheriff",
			wantName: "Gallatin County Sheriff's Office",
		},
		{
			name:     "lcso filename",
			filename: "LCSO blotter.pdf",
			county:   "",
			wantType: "sheriff",
			wantName: "Lewis and Clark County Sheriff's Office",
		},
		{
			name:     "pd filename",
			filename: "Havre PD 02-10.pdf",
			county:   "Hill",
			wantType: "police",
			wantName: "Hill Police Department",
		},
		{
			name:     "sheriff name in content",
			filename: "report.pdf",
			county:   "Madison",
			content:  "Madison County Sheriff's Office responded to a crash",
			wantType: "sheriff",
			wantName: "Madison County Sheriff's Office",
		},
		{
			name:     "police department in content",
			filename: "report.pdf",
			county:   "Lewis and Clark",
			content:  "Helena Police Department took a theft report",
			wantType: "police",
			wantName: "Helena Police Department",
		},
		{
			name:     "nothing recognizable",
			filename: "scan001.pdf",
			county:   "Hill",
			content:  "WELFARE CHECK 800 BLK 1ST ST",
			wantType: "other",
			wantName: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotType, gotName := DeriveAgency(tc.filename, tc.county, tc.content)
			if gotType != tc.wantType || gotName != tc.wantName {
				t.Fatalf("DeriveAgency = (%q, %q), want (%q, %q)", gotType, gotName, tc.wantType, tc.wantName)
			}
		})
	}
}
