package fhir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateTimePartial(t *testing.T) {
	tests := []struct {
		in        string
		precision Precision
		out       string
	}{
		{"2021", PrecisionYear, "2021"},
		{"2021-04", PrecisionMonth, "2021-04"},
		{"2021-04-01", PrecisionDay, "2021-04-01"},
		{"2021-04-01T12:30:00Z", PrecisionFull, "2021-04-01T12:30:00+00:00"},
		{"2021-04-01T12:30:00+02:00", PrecisionFull, "2021-04-01T12:30:00+02:00"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			d, err := ParseDateTime(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.precision, d.Precision)
			assert.Equal(t, tc.out, d.String())
		})
	}
}

func TestParseDateTimeInvalid(t *testing.T) {
	_, err := ParseDateTime("yesterday")
	assert.Error(t, err)
}

func TestDateTimeStringZero(t *testing.T) {
	assert.Equal(t, "", DateTime{}.String())
}

func TestDateTimeJSONRoundTrip(t *testing.T) {
	d := NewDate(time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC))
	b, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2021-04-01"`, string(b))

	var back DateTime
	require.NoError(t, back.UnmarshalJSON(b))
	assert.Equal(t, PrecisionDay, back.Precision)
	assert.Equal(t, "2021-04-01", back.String())
}
