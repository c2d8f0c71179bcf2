package summarize

import (
	"regexp"
	"strings"
)

var (
	soPattern          = regexp.MustCompile(`\bSO\b`)
	pdPattern          = regexp.MustCompile(`\bPD\b`)
	sheriffNamePattern = regexp.MustCompile(`(?i)([A-Za-z\s]+(?:County)?\s+Sheriff(?:'?s)?\s+Office)`)
	policeNamePattern  = regexp.MustCompile(`(?i)([A-Za-z\s]+Police\s+Department)`)
)

// DeriveAgency names the agency a post belongs to without any model
// involvement. Filename abbreviations win over content matches; content
// matches try to lift the full agency name out of the text.
func DeriveAgency(filename, county, content string) (agencyType, agencyName string) {
	fname := strings.ToUpper(filename)
	switch {
	case strings.Contains(fname, "GCSO"):
		return "sheriff", countyOr(county, "Gallatin") + " County Sheriff's Office"
	case strings.Contains(fname, "LCSO"):
		return "sheriff", countyOr(county, "Lewis and Clark") + " County Sheriff's Office"
	case soPattern.MatchString(fname):
		return "sheriff", strings.TrimSpace(county + " County Sheriff's Office")
	case pdPattern.MatchString(fname):
		return "police", strings.TrimSpace(county + " Police Department")
	}

	upper := strings.ToUpper(content)
	if strings.Contains(upper, "SHERIFF") {
		if m := sheriffNamePattern.FindStringSubmatch(content); m != nil {
			return "sheriff", strings.TrimSpace(m[1])
		}
		return "sheriff", strings.TrimSpace(county + " Sheriff's Office")
	}
	if strings.Contains(upper, "POLICE DEPARTMENT") || pdPattern.MatchString(content) {
		if m := policeNamePattern.FindStringSubmatch(content); m != nil {
			return "police", strings.TrimSpace(m[1])
		}
		return "police", strings.TrimSpace(county + " Police Department")
	}
	return "other", ""
}

func countyOr(county, fallback string) string {
	if strings.TrimSpace(county) == "" {
		return fallback
	}
	return county
}
