package parse

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

var (
	havreDatePattern      = regexp.MustCompile(`For Date:\s*(\d{2}/\d{2}/\d{4})`)
	havreCaseStartPattern = regexp.MustCompile(`^\d{2}-\d{4}\s`)
	havreCasePattern      = regexp.MustCompile(`^(\d{2}-\d{4})\s+([0Oo]?\d{3,4})\s*(.*)$`)
	havreActionPattern    = regexp.MustCompile(`\s+([A-Z]-\s+.+)$`)
	havreMetaPattern      = regexp.MustCompile(`(?i)^(Location|Narrative|Calling|Involved|Refer|Arrest|Summons|Address|Age|Charges|Page)[\s:/]`)
	havreLocationPattern  = regexp.MustCompile(`(?i)^Location(?:/Address)?:\s*(.+)$`)
	havreRadioPattern     = regexp.MustCompile(`[\[{]HAV[^\]}\s]*[\]}]?\s*`)
	havreNarrStartPattern = regexp.MustCompile(`(?i)^Narrative:\s*`)
	havreNarrEndPattern   = regexp.MustCompile(`(?i)^(Refer To|Arrest:|Summons|Charges:|Age:|Address:|Calling Party:|Involved Party:|For Date:)`)
	havrePageHdrPattern   = regexp.MustCompile(`(?is)HAVRE POLICE DEPT\w*\s+Page:.*?Printed:\s*\d{2}/\d{2}/\d{4}`)
)

// parseHavre handles the dispatch log format: case-numbered blocks with a
// military time, an optional disposition code, and labeled Location and
// Narrative sections. These logs usually arrive through OCR, so case times
// carry O-for-0 misreads and table borders bleed into the text.
func (p *Parser) parseHavre(text string) []Record {
	date := havreDate(text)
	var records []Record
	for _, block := range splitHavreBlocks(text) {
		if rec, ok := p.havreIncident(block, date); ok {
			records = append(records, rec)
		}
	}
	return records
}

func havreDate(text string) string {
	if m := havreDatePattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("01/02/2006", m[1]); err == nil {
			return t.Format("01/02/06")
		}
	}
	return time.Now().Format("01/02/06")
}

// splitHavreBlocks cuts the text at each line opening with a case number.
// Anything before the first case (the report header) lands in a block of its
// own and is discarded by the incident matcher.
func splitHavreBlocks(text string) []string {
	var blocks []string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		if havreCaseStartPattern.MatchString(line) && len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = cur[:0]
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, strings.Join(cur, "\n"))
	}
	return blocks
}

func (p *Parser) havreIncident(block, date string) (Record, bool) {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			lines = append(lines, t)
		}
	}
	if len(lines) == 0 {
		return Record{}, false
	}
	m := havreCasePattern.FindStringSubmatch(lines[0])
	if m == nil {
		return Record{}, false
	}
	caseNum := m[1]
	timeVal := havreTime(m[2])
	rest := strings.TrimSpace(m[3])

	// Disposition codes trail the type: "COMPLAINT C- NTA ISSUED WITH REPORT".
	action := ""
	incidentType := rest
	if am := havreActionPattern.FindStringSubmatchIndex(rest); am != nil {
		action = strings.TrimSpace(rest[am[2]:am[3]])
		incidentType = strings.TrimSpace(rest[:am[0]])
	}
	if incidentType == "" {
		limit := len(lines)
		if limit > 4 {
			limit = 4
		}
		for _, line := range lines[1:limit] {
			if !havreMetaPattern.MatchString(line) {
				incidentType = line
				break
			}
		}
	}

	location := p.cfg.DefaultHavreLocation
	for _, line := range lines {
		if lm := havreLocationPattern.FindStringSubmatch(line); lm != nil {
			loc := havreRadioPattern.ReplaceAllString(lm[1], "")
			loc = strings.Trim(cleanOCRArtifacts(loc), " -|~")
			if loc != "" {
				location = loc
			}
			break
		}
	}

	var narrLines []string
	inNarrative := false
	for _, line := range lines {
		if havreNarrStartPattern.MatchString(line) {
			inNarrative = true
			if after := strings.TrimSpace(havreNarrStartPattern.ReplaceAllString(line, "")); after != "" {
				narrLines = append(narrLines, after)
			}
			continue
		}
		if inNarrative {
			if havreNarrEndPattern.MatchString(line) {
				break
			}
			narrLines = append(narrLines, line)
		}
	}
	narrative := strings.TrimSpace(strings.Join(narrLines, " "))

	details := narrative
	if details == "" {
		details = incidentType
	}
	if action != "" {
		if details != "" {
			details = details + " (" + action + ")"
		} else {
			details = action
		}
	}
	details = havrePageHdrPattern.ReplaceAllString(details, "")
	details = cleanOCRArtifacts(details)

	label := titleCase(incidentType)
	if label == "" {
		label = p.cfg.FallbackType
	}

	return Record{
		CFSNumber:    caseNum,
		Date:         date,
		Time:         timeVal,
		Location:     location,
		IncidentType: label,
		Details:      details,
		CommandLogs:  []CommandLog{},
	}, true
}

// havreTime fixes O-for-0 OCR misreads, then converts HHMM to 12-hour form.
func havreTime(raw string) string {
	raw = strings.NewReplacer("O", "0", "o", "0").Replace(raw)
	return militaryTime(raw)
}

// cleanOCRArtifacts drops table-border characters OCR leaves behind when
// they stand alone, not attached to a word on either side.
func cleanOCRArtifacts(text string) string {
	runes := []rune(text)
	for i, r := range runes {
		if r != '|' && r != '!' && r != '{' && r != '}' {
			continue
		}
		prevWord := i > 0 && isWordRune(runes[i-1])
		nextWord := i+1 < len(runes) && isWordRune(runes[i+1])
		if !prevWord && !nextWord {
			runes[i] = ' '
		}
	}
	return strings.TrimSpace(spaceRunPattern.ReplaceAllString(string(runes), " "))
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
