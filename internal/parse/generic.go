package parse

import (
	"regexp"
	"strings"
)

var genericDatePattern = regexp.MustCompile(`^(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})`)

// parseGeneric is the fallback for unrecognized layouts: one record per
// date-led line, a best-effort type/details split, and never any command
// logs. Fields the text does not provide stay empty.
func (p *Parser) parseGeneric(text string) []Record {
	var records []Record
	for _, line := range strings.Split(text, "\n") {
		m := genericDatePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		rest := strings.TrimSpace(line[len(m[1]):])

		incidentType := ""
		details := rest
		if before, after, found := strings.Cut(rest, " - "); found {
			incidentType = strings.TrimSpace(before)
			details = strings.TrimSpace(after)
		}

		records = append(records, Record{
			Date:         m[1],
			IncidentType: incidentType,
			Details:      details,
			CommandLogs:  []CommandLog{},
		})
	}
	return records
}
