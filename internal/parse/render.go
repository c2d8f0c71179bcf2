package parse

import (
	"fmt"
	"strings"
	"time"
)

// Render writes records back out as text shaped like the source format,
// including the department header the detector keys on. Rendered output
// re-detects as the same format, so CLI output stays usable as parser
// input for spot checks.
func (p *Parser) Render(format Format, county string, records []Record) string {
	var b strings.Builder
	switch format {
	case FormatGallatin:
		if county == "" {
			county = "Gallatin"
		}
		fmt.Fprintf(&b, "%s County Sheriff's Office\n\n", county)
		for _, rec := range records {
			fmt.Fprintf(&b, "%s %s %s %s  %s\n", rec.Date, rec.Time, rec.CFSNumber, rec.Location, rec.IncidentType)
			for _, entry := range rec.CommandLogs {
				fmt.Fprintf(&b, "%s - %s - %s\n", entry.Timestamp, entry.Officer, entry.Entry)
			}
			b.WriteString("\n")
		}
	case FormatHelena:
		b.WriteString("Helena Police Department\n\n")
		for _, rec := range records {
			fmt.Fprintf(&b, "%s - %s\n", rec.Time, rec.Details)
		}
	case FormatHavre:
		b.WriteString("HAVRE POLICE DEPT\n")
		if len(records) > 0 {
			fmt.Fprintf(&b, "For Date: %s\n\n", expandYear(records[0].Date))
		}
		for _, rec := range records {
			if military := militaryFromClock(rec.Time); military != "" {
				fmt.Fprintf(&b, "%s %s %s\n", rec.CFSNumber, military, rec.IncidentType)
			} else {
				fmt.Fprintf(&b, "%s %s\n", rec.CFSNumber, rec.IncidentType)
			}
			fmt.Fprintf(&b, "Location/Address: %s\n", rec.Location)
			fmt.Fprintf(&b, "Narrative:\n%s\n\n", rec.Details)
		}
	default:
		for _, rec := range records {
			fmt.Fprintf(&b, "%s %s - %s\n", rec.Date, rec.IncidentType, rec.Details)
		}
	}
	return b.String()
}

// militaryFromClock converts "3:04 PM" style times back to HHMM for case
// lines. Returns the empty string when the time is missing or unparseable.
func militaryFromClock(clock string) string {
	t, err := time.Parse("3:04 PM", clock)
	if err != nil {
		return ""
	}
	return t.Format("1504")
}

// expandYear turns MM/DD/YY back into MM/DD/20YY for headers that carry
// four-digit years. Values in any other shape pass through unchanged.
func expandYear(date string) string {
	parts := strings.Split(date, "/")
	if len(parts) == 3 && len(parts[2]) == 2 {
		return parts[0] + "/" + parts[1] + "/20" + parts[2]
	}
	return date
}
