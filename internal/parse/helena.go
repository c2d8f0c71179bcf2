package parse

import (
	"regexp"
	"strings"
	"time"
)

var (
	monthDatePattern = regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`)

	// Layout A: "8:20 AM - A theft was reported near..." with any single
	// separator character (the press releases mix dash variants).
	helenaTimePattern = regexp.MustCompile(`(?im)^(\d{1,2}:\d{2}\s+[AP]M)\s+\S\s+(.+)$`)
	// Layout B bulletins open each item with "NNNN hours,".
	helenaHoursPattern = regexp.MustCompile(`(?im)^\d{4}\s+hours?,`)
	helenaBlockPattern = regexp.MustCompile(`(?is)^(\d{4})\s+hours?,\s+(.+)$`)

	blockLocationPattern = regexp.MustCompile(`(?i)(?:near|to|at|around)\s+(?:the\s+)?(\d+\s+block\s+of\s+[\w\s]+?(?:St|Ave|Blvd|Dr|Rd|Ln|Way|Circle|Gulch|Ct|Pl|Hwy|Highway)\.?)`)
)

// parseHelena handles the police department's narrative press releases.
// Two layouts exist: clock-time lines and military-time "hours" bulletins;
// the second is only tried when the first finds nothing.
func (p *Parser) parseHelena(text string) []Record {
	date := blotterDate(text)

	var records []Record
	for _, m := range helenaTimePattern.FindAllStringSubmatch(text, -1) {
		records = append(records, p.helenaRecord(date, strings.TrimSpace(m[1]), strings.TrimSpace(m[2])))
	}
	if len(records) > 0 {
		return records
	}

	starts := helenaHoursPattern.FindAllStringIndex(text, -1)
	for i, loc := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		m := helenaBlockPattern.FindStringSubmatch(text[loc[0]:end])
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(whitespacePattern.ReplaceAllString(m[2], " "))
		records = append(records, p.helenaRecord(date, militaryTime(m[1]), desc))
	}
	return records
}

func (p *Parser) helenaRecord(date, timeVal, desc string) Record {
	return Record{
		Date:         date,
		Time:         timeVal,
		Location:     p.helenaLocation(desc),
		IncidentType: p.classify(desc),
		Details:      desc,
		CommandLogs:  []CommandLog{},
	}
}

// helenaLocation pulls the "NNNN block of Street" phrase out of a
// description; press releases rarely name anything more precise.
func (p *Parser) helenaLocation(desc string) string {
	if m := blockLocationPattern.FindStringSubmatch(desc); m != nil {
		return strings.TrimSpace(m[1])
	}
	return p.cfg.DefaultHelenaLocation
}

// classify derives a short incident type label from free-text description.
func (p *Parser) classify(desc string) string {
	lower := strings.ToLower(desc)
	for _, rule := range p.cfg.HelenaTypes {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lower, keyword) {
				return rule.Label
			}
		}
	}
	return p.cfg.FallbackType
}

// blotterDate finds the report date in header text, normalized to MM/DD/YY.
// Falls back to today when the text carries no date at all.
func blotterDate(text string) string {
	if m := monthDatePattern.FindStringSubmatch(text); m != nil {
		raw := capitalizeWord(m[1]) + " " + m[2] + " " + m[3]
		if t, err := time.Parse("January 2 2006", raw); err == nil {
			return t.Format("01/02/06")
		}
	}
	if m := slashDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("1/2/2006", m[1]); err == nil {
			return t.Format("01/02/06")
		}
	}
	return time.Now().Format("01/02/06")
}

// militaryTime converts an HHMM token to "3:04 PM" form, keeping the raw
// token when it does not parse as a clock time.
func militaryTime(raw string) string {
	if len(raw) == 3 {
		raw = "0" + raw
	}
	if t, err := time.Parse("1504", raw); err == nil {
		return t.Format("3:04 PM")
	}
	return raw
}
