package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dmaksimov/structex/internal/session"
)

func sampleTable() session.Table {
	return session.BuildTable([]map[string]any{
		{"amount": float64(100), "date": "2024-01-01"},
		{"amount": 25.5, "date": "2024-01-02", "note": "partial, refunded"},
	})
}

func TestJSON(t *testing.T) {
	out, err := JSON([]map[string]any{{"amount": float64(100)}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"amount": 100}]`, string(out))
	assert.Contains(t, string(out), "\n", "export is indented")
}

func TestJSON_NilResultIsEmptyArray(t *testing.T) {
	out, err := JSON(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestCSV(t *testing.T) {
	out, err := CSV(sampleTable())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"amount", "date", "note"}, records[0])
	assert.Equal(t, []string{"100", "2024-01-01", ""}, records[1])
	assert.Equal(t, []string{"25.5", "2024-01-02", "partial, refunded"}, records[2])
}

func TestCSV_QuotingSurvivesRoundTrip(t *testing.T) {
	table := session.BuildTable([]map[string]any{
		{"text": "line\nbreak, and \"quotes\""},
	})

	out, err := CSV(table)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "line\nbreak, and \"quotes\"", records[1][0])
}

func TestXLSX(t *testing.T) {
	out, err := XLSX(sampleTable())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"amount", "date", "note"}, rows[0])
	assert.Equal(t, "100", rows[1][0])
	assert.Equal(t, "2024-01-02", rows[2][1])
}

func TestXLSX_EmptyTable(t *testing.T) {
	out, err := XLSX(session.Table{})
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	f.Close()
}
