package excel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// buildWorkbook writes an in-memory workbook with a cover sheet and an order
// sheet whose header sits on row 4.
func buildWorkbook(t *testing.T, dataRows [][]string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	// Sheet1 is the cover page; the parser must never read it.
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Final Order"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "decoy"))

	_, err := f.NewSheet("Orders")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("Orders", "A1", "Order Report"))
	require.NoError(t, f.SetCellValue("Orders", "A2", "Factory QC"))

	header := []any{"Final Order", "Order Qty", "Buyer"}
	require.NoError(t, f.SetSheetRow("Orders", "A4", &header))
	for i, row := range dataRows {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, 5+i)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Orders", cell, &cells))
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestParseOrderSheet(t *testing.T) {
	data := buildWorkbook(t, [][]string{
		{"T00001-1", "100", "ACME"},
		{"", "", ""},
		{"T00002-1", "", "BETA"},
	})

	rows, err := NewParser().ParseOrderSheet(data)
	require.NoError(t, err)
	require.Len(t, rows, 2, "fully empty rows are dropped")

	assert.Equal(t, "T00001-1", rows[0]["Final Order"])
	assert.Equal(t, "100", rows[0]["Order Qty"])
	assert.Equal(t, "ACME", rows[0]["Buyer"])

	assert.Equal(t, "T00002-1", rows[1]["Final Order"])
	_, hasQty := rows[1]["Order Qty"]
	assert.False(t, hasQty, "empty cells are absent, not empty strings")
}

func TestParseOrderSheet_MissingOrderSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "only one sheet"))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	_, err := NewParser().ParseOrderSheet(buf.Bytes())
	assert.ErrorIs(t, err, ErrMissingOrderSheet)
}

func TestParseOrderSheet_NoDataRows(t *testing.T) {
	data := buildWorkbook(t, nil)

	rows, err := NewParser().ParseOrderSheet(data)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestParseOrderSheet_GarbageBytes(t *testing.T) {
	_, err := NewParser().ParseOrderSheet([]byte("not a workbook"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingOrderSheet)
}
