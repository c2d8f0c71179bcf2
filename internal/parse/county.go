package parse

import (
	"regexp"
	"strings"
)

var (
	helenaCountyPattern = regexp.MustCompile(`(?i)Helena Police|helenamt\.gov`)
	havreCountyPattern  = regexp.MustCompile(`(?i)HAVRE POLICE|For Jurisdiction:\s*HAVRE`)
	sheriffPattern      = regexp.MustCompile(`(?i)(\w+)\s+County\s+Sheriff`)
	countyPattern       = regexp.MustCompile(`(?i)(\w+)\s+County`)
)

// DetectCounty pulls the source county out of blotter text. City departments
// map to their counties (Helena sits in Lewis and Clark, Havre in Hill).
// Returns an empty string when nothing in the text identifies one.
func (p *Parser) DetectCounty(text string) string {
	if helenaCountyPattern.MatchString(text) {
		return "Lewis and Clark"
	}
	if havreCountyPattern.MatchString(text) {
		return "Hill"
	}
	if m := sheriffPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if strings.Contains(text, "GCSO") {
		return "Gallatin"
	}
	if m := countyPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
