package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Precision records how much of a DateTime was actually present in the
// source data, so partial dates survive a round trip unchanged.
type Precision int

const (
	PrecisionYear Precision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionFull
)

// DateTime represents a FHIR dateTime with partial-date support.
type DateTime struct {
	time.Time
	Precision Precision
}

// NewDateTime creates a full-precision DateTime from a time.Time.
func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t, Precision: PrecisionFull}
}

// NewDate creates a day-precision DateTime from a time.Time.
func NewDate(t time.Time) DateTime {
	return DateTime{Time: t, Precision: PrecisionDay}
}

// String returns the value in FHIR format based on precision. Full
// precision always carries an explicit numeric offset ("+00:00" for UTC)
// so flat files are stable across storage backends.
func (d DateTime) String() string {
	if d.Time.IsZero() {
		return ""
	}

	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	case PrecisionDay:
		return d.Time.Format("2006-01-02")
	default:
		_, offset := d.Time.Zone()
		hours := offset / 3600
		minutes := (offset % 3600) / 60
		if minutes < 0 {
			minutes = -minutes
		}
		return fmt.Sprintf("%s%+03d:%02d", d.Time.Format("2006-01-02T15:04:05"), hours, minutes)
	}
}

// MarshalJSON implements the json.Marshaler interface.
func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.Time.IsZero() {
		return json.Marshal("")
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *DateTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	parsed, err := ParseDateTime(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDateTime parses a FHIR date or dateTime string, accepting the
// partial forms YYYY, YYYY-MM and YYYY-MM-DD.
func ParseDateTime(s string) (DateTime, error) {
	switch len(s) {
	case 4:
		if t, err := time.Parse("2006", s); err == nil {
			return DateTime{Time: t, Precision: PrecisionYear}, nil
		}
	case 7:
		if t, err := time.Parse("2006-01", s); err == nil {
			return DateTime{Time: t, Precision: PrecisionMonth}, nil
		}
	case 10:
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return DateTime{Time: t, Precision: PrecisionDay}, nil
		}
	}

	formats := []string{
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05.000Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}

	var lastErr error
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return DateTime{Time: t, Precision: PrecisionFull}, nil
		} else {
			lastErr = err
		}
	}

	return DateTime{}, fmt.Errorf("invalid datetime format: %s (last error: %v)", s, lastErr)
}
