package parse

import (
	"regexp"
	"strings"
)

var (
	gallatinHeaderPattern = regexp.MustCompile(`^(\d{2}/\d{2}/\d{2})\s+(\d{2}:\d{2}:\d{2})\s+(CFS\d{2}-\d+)\s+(.+)$`)
	commandLogPattern     = regexp.MustCompile(`^(\d{2}/\d{2}/\d{2}\s+\d{2}:\d{2}:\d{2})\s+-\s+([\w,\s]+?)\s+-\s+(.+)$`)
)

// parseGallatin handles the sheriff's office CFS dump: each incident opens
// with a date/time/CFS header line, followed by its command-log lines until
// the next header. Lines matching neither pattern become free-text detail
// rather than being dropped.
func (p *Parser) parseGallatin(text string) []Record {
	var records []Record
	var current *Record
	var extra []string

	flush := func() {
		if current == nil {
			return
		}
		details := p.narrative(current.CommandLogs)
		if len(extra) > 0 {
			details = strings.TrimSpace(details + " " + strings.Join(extra, " "))
		}
		current.Details = details
		records = append(records, *current)
		current = nil
		extra = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "CFS Date/Time") || strings.Contains(line, "Command Log") || strings.Contains(line, "Page") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if m := gallatinHeaderPattern.FindStringSubmatch(trimmed); m != nil {
			flush()
			location, incidentType := p.splitLocationType(m[4])
			current = &Record{
				CFSNumber:    m[3],
				Date:         m[1],
				Time:         m[2],
				Location:     location,
				IncidentType: incidentType,
				CommandLogs:  []CommandLog{},
			}
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}
		if m := commandLogPattern.FindStringSubmatch(trimmed); m != nil {
			entry := CommandLog{
				Timestamp: strings.TrimSpace(m[1]),
				Officer:   strings.TrimSpace(m[2]),
				Entry:     strings.TrimSpace(m[3]),
			}
			current.CommandLogs = append(current.CommandLogs, entry)
			if current.Officer == "" {
				current.Officer = entry.Officer
			}
			continue
		}
		extra = append(extra, trimmed)
	}
	flush()
	return records
}

// splitLocationType divides the text after a CFS number into location and
// incident type. A surviving PDF column gap (two or more spaces) is the
// strongest boundary signal; otherwise the boundary sits after the first
// street-suffix token. With neither, the whole tail is the incident type
// and the location stays empty.
func (p *Parser) splitLocationType(tail string) (string, string) {
	tail = strings.TrimSpace(tail)
	if gap := spaceRunPattern.FindStringIndex(tail); gap != nil {
		return strings.TrimSpace(tail[:gap[0]]), strings.TrimSpace(tail[gap[1]:])
	}
	tokens := strings.Fields(tail)
	for i, tok := range tokens {
		if p.isStreetSuffix(tok) {
			return strings.Join(tokens[:i+1], " "), strings.Join(tokens[i+1:], " ")
		}
	}
	return "", tail
}

func (p *Parser) isStreetSuffix(token string) bool {
	token = strings.ToUpper(strings.TrimRight(token, "."))
	for _, suffix := range p.cfg.StreetSuffixes {
		if token == suffix {
			return true
		}
	}
	return false
}

// narrative picks the first substantive entry out of an incident's command
// logs, skipping short lines and dispatch shorthand (callback and voicemail
// codes). Falls back to the last entry so details are never empty when logs
// exist.
func (p *Parser) narrative(logs []CommandLog) string {
	if len(logs) == 0 {
		return ""
	}
	for _, entry := range logs {
		if len(entry.Entry) <= p.cfg.NarrativeMinLen {
			continue
		}
		if p.isDispatchShorthand(entry.Entry) {
			continue
		}
		return entry.Entry
	}
	return logs[len(logs)-1].Entry
}

func (p *Parser) isDispatchShorthand(entry string) bool {
	upper := strings.ToUpper(entry)
	for _, code := range p.cfg.DispatchCodes {
		if strings.Contains(upper, code) {
			return true
		}
	}
	return false
}
