// Package excel reads order workbooks. It is the only place the spreadsheet
// library is touched; everything downstream sees plain header->cell rows.
package excel

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrMissingOrderSheet is returned when the workbook has no second sheet.
// The order data always lives on sheet two; sheet one is a cover page.
var ErrMissingOrderSheet = errors.New("workbook has no order sheet (second sheet required)")

const (
	orderSheetIndex = 1
	// The order sheet carries a three-row title block; row 4 is the header
	// and data starts at row 5.
	headerRowIndex = 3
)

// Parser extracts raw order rows from workbook bytes.
type Parser struct{}

// NewParser creates a workbook parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseOrderSheet reads the authoritative second sheet of the workbook,
// skipping the title block, and returns one header-keyed map per data row.
// Cell values are returned untyped and unvalidated; sanitization happens
// downstream. Rows that are entirely empty are dropped.
func (p *Parser) ParseOrderSheet(data []byte) ([]map[string]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) <= orderSheetIndex {
		return nil, ErrMissingOrderSheet
	}

	rows, err := f.GetRows(sheets[orderSheetIndex])
	if err != nil {
		return nil, fmt.Errorf("read order sheet: %w", err)
	}
	if len(rows) <= headerRowIndex {
		return []map[string]any{}, nil
	}

	header := rows[headerRowIndex]
	out := make([]map[string]any, 0, len(rows)-headerRowIndex-1)
	for _, row := range rows[headerRowIndex+1:] {
		rec := make(map[string]any, len(header))
		empty := true
		for col, name := range header {
			name = strings.TrimSpace(name)
			if name == "" || col >= len(row) {
				continue
			}
			cell := row[col]
			if strings.TrimSpace(cell) == "" {
				continue
			}
			rec[name] = cell
			empty = false
		}
		if !empty {
			out = append(out, rec)
		}
	}
	return out, nil
}
