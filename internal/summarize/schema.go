package summarize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema pins the shape of the model output. Business limits (title
// and summary length, the agency_type vocabulary) are checked separately in
// checkFields so their failures read as field errors, not schema errors.
const responseSchema = `{
  "type": "object",
  "properties": {
    "title":       {"type": "string", "minLength": 1},
    "summary":     {"type": "string", "minLength": 1},
    "city":        {"type": "string"},
    "agency_type": {"type": "string"}
  },
  "required": ["title", "summary"],
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("post.json", responseSchema)

type response struct {
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	City       string `json:"city"`
	AgencyType string `json:"agency_type"`
}

func parseResponse(raw string) (response, error) {
	var out response
	obj := extractJSONObject(raw)
	if obj == "" {
		return out, fmt.Errorf("no JSON object in response")
	}
	var v any
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return out, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return out, fmt.Errorf("schema: %w", err)
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, err
	}
	out.Title = strings.TrimSpace(out.Title)
	out.Summary = strings.TrimSpace(out.Summary)
	out.City = strings.TrimSpace(out.City)
	out.AgencyType = strings.ToLower(strings.TrimSpace(out.AgencyType))
	if err := checkFields(out); err != nil {
		return response{}, err
	}
	return out, nil
}

func checkFields(r response) error {
	if r.Title == "" || len(r.Title) > maxTitleLen {
		return fmt.Errorf("title length %d outside 1..%d", len(r.Title), maxTitleLen)
	}
	if r.Summary == "" || len(r.Summary) > maxSummaryLen {
		return fmt.Errorf("summary length %d outside 1..%d", len(r.Summary), maxSummaryLen)
	}
	if r.AgencyType != "" {
		switch r.AgencyType {
		case "sheriff", "police", "other":
		default:
			return fmt.Errorf("agency_type %q not one of sheriff, police, other", r.AgencyType)
		}
	}
	return nil
}

// extractJSONObject returns the first balanced {...} in s. Models sometimes
// wrap the JSON in prose or code fences; the scanner tolerates both.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
