// Package parse turns extracted blotter text into structured incident
// records. A detector picks one strategy out of a closed set of department
// formats; each strategy is a single forward scan over the text.
package parse

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	cfsPattern          = regexp.MustCompile(`CFS\d{2}-\d+`)
	jurisdictionPattern = regexp.MustCompile(`(?i)For Jurisdiction:\s*HAVRE`)
	spaceRunPattern     = regexp.MustCompile(`\s{2,}`)
	whitespacePattern   = regexp.MustCompile(`\s+`)
)

// DetectFormat returns the parsing strategy tag for extracted blotter text.
// Candidates are evaluated in fixed priority order (Gallatin, Helena, Havre,
// then generic) and the first hit wins, so text carrying anchors from two
// formats resolves deterministically.
func (p *Parser) DetectFormat(text string) Format {
	upper := strings.ToUpper(text)
	if containsAny(upper, p.cfg.GallatinAnchors) || cfsPattern.MatchString(text) {
		return FormatGallatin
	}
	if containsAny(upper, p.cfg.HelenaAnchors) {
		return FormatHelena
	}
	if containsAny(upper, p.cfg.HavreAnchors) || jurisdictionPattern.MatchString(text) {
		return FormatHavre
	}
	return FormatGeneric
}

// Parse splits blotter text into incident records using the strategy for
// format. Text with zero recognizable incidents yields an empty result, not
// an error; the caller decides what an empty blotter means.
func (p *Parser) Parse(text string, format Format) []Record {
	switch format {
	case FormatGallatin:
		return p.parseGallatin(text)
	case FormatHelena:
		return p.parseHelena(text)
	case FormatHavre:
		return p.parseHavre(text)
	default:
		return p.parseGeneric(text)
	}
}

func containsAny(upper string, anchors []string) bool {
	for _, anchor := range anchors {
		if strings.Contains(upper, strings.ToUpper(anchor)) {
			return true
		}
	}
	return false
}

func capitalizeWord(word string) string {
	runes := []rune(strings.ToLower(word))
	if len(runes) == 0 {
		return word
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalizeWord(w)
	}
	return strings.Join(words, " ")
}
