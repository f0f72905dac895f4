package datasource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"subjid,class,admit_date\n2,1,2021-04-01\n3,,\n"), 0o644))

	rows, err := ReadCSV(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"subjid", "class", "admit_date"}, rows.Columns)
	require.Len(t, rows.Records, 2)
	assert.Equal(t, map[string]any{
		"subjid": "2", "class": "1", "admit_date": "2021-04-01",
	}, rows.Records[0])
	assert.Equal(t, map[string]any{
		"subjid": "3", "class": nil, "admit_date": nil,
	}, rows.Records[1])
}

func TestReadCSVMissing(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestMelt(t *testing.T) {
	rows := &Rows{
		Columns: []string{"subjid", "temp_c", "hr"},
		Records: []map[string]any{
			{"subjid": "2", "temp_c": 37.5, "hr": 80},
			{"subjid": "3", "temp_c": nil, "hr": 72},
		},
	}

	melted := Melt(rows, []string{"temp_c", "hr"})
	assert.Equal(t, []string{"index", "column", "value"}, melted.Columns)
	require.Len(t, melted.Records, 4)
	assert.Equal(t, map[string]any{"index": 0, "column": "temp_c", "value": 37.5}, melted.Records[0])
	assert.Equal(t, map[string]any{"index": 0, "column": "hr", "value": 80}, melted.Records[1])
	assert.Equal(t, map[string]any{"index": 1, "column": "temp_c", "value": nil}, melted.Records[2])
}
