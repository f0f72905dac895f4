package ingest

import (
	"strings"
	"time"
)

// strftime directives mapped onto Go reference time layouts. Mapping
// tables are shared with non-Go tooling, so the declared date format
// keeps the strftime spelling.
var strftimeTokens = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'b': "Jan",
	'B': "January",
	'p': "PM",
	'z': "-0700",
	'%': "%",
}

// StrftimeLayout converts a strftime format string to a Go time layout.
// Unknown directives are kept verbatim.
func StrftimeLayout(format string) string {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			b.WriteByte(format[i])
			continue
		}
		i++
		if tok, ok := strftimeTokens[format[i]]; ok {
			b.WriteString(tok)
		} else {
			b.WriteByte('%')
			b.WriteByte(format[i])
		}
	}
	return b.String()
}

const isoLayout = "2006-01-02T15:04:05-07:00"

// NormalizeDate reformats a raw date string into the canonical ISO form
// using the declared source format and timezone.
//
// A value matching the full format becomes a complete timestamp with its
// offset attached. When the format expects a time component the value
// lacks, the date portion alone is accepted and truncated to a calendar
// date. A value carrying an unexpected trailing time component is split
// on whitespace, parsed in two halves and recombined. Anything else is
// returned unchanged with ok=false so callers can warn and let validation
// reject it downstream.
func NormalizeDate(raw, format string, loc *time.Location) (string, bool) {
	layout := StrftimeLayout(format)

	if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
		return t.Format(isoLayout), true
	}

	layoutParts := strings.Fields(layout)
	rawParts := strings.Fields(raw)

	switch {
	case len(layoutParts) == 2 && len(rawParts) == 2:
		// Halves in the wrong order or separated oddly, retry separately.
		d, derr := time.ParseInLocation(layoutParts[0], rawParts[0], loc)
		tm, terr := time.Parse(layoutParts[1], rawParts[1])
		if derr == nil && terr == nil {
			combined := time.Date(d.Year(), d.Month(), d.Day(),
				tm.Hour(), tm.Minute(), tm.Second(), 0, loc)
			return combined.Format(isoLayout), true
		}
	case len(layoutParts) == 2 && len(rawParts) == 1:
		// Time component declared but absent, keep the calendar date.
		if d, err := time.ParseInLocation(layoutParts[0], rawParts[0], loc); err == nil {
			return d.Format("2006-01-02"), true
		}
	case len(layoutParts) == 1 && len(rawParts) == 2:
		// Unexpected trailing time component.
		if d, err := time.ParseInLocation(layoutParts[0], rawParts[0], loc); err == nil {
			if tm, err := time.Parse("15:04", rawParts[1]); err == nil {
				combined := time.Date(d.Year(), d.Month(), d.Day(),
					tm.Hour(), tm.Minute(), 0, 0, loc)
				return combined.Format(isoLayout), true
			}
			return d.Format("2006-01-02"), true
		}
	}
	return raw, false
}

// dateColumn reports whether a target path carries date-like data and so
// must pass through date normalization.
func dateColumn(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "date") ||
		strings.Contains(lower, "period") ||
		strings.Contains(lower, "time")
}
