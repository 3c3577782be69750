package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Reconciliation"

// ExportXLSX renders a summary as a workbook. The layout mirrors the JSON
// rollup: a header block for the scope, then one row per book.
func ExportXLSX(s *Summary) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", sheetName)

	set := func(cell string, value interface{}) error {
		return f.SetCellValue(sheetName, cell, value)
	}

	header := []struct {
		cell  string
		value interface{}
	}{
		{"A1", "Scope"},
		{"B1", fmt.Sprintf("%s %s", s.Level, s.OwnerCode)},
		{"A2", "Academic Year"},
		{"B2", s.AcademicYear},
		{"A3", "Schools"},
		{"B3", s.SchoolCount},
		{"A4", "Enrollment"},
		{"B4", s.Enrollment},
	}
	for _, h := range header {
		if err := set(h.cell, h.value); err != nil {
			return nil, err
		}
	}

	columns := []string{"Class", "Book", "Requirement", "Dispatched", "Received", "Closing Stock", "Fulfilment %"}
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 6)
		if err != nil {
			return nil, err
		}
		if err := set(cell, col); err != nil {
			return nil, err
		}
	}

	for i, row := range s.Rows {
		values := []interface{}{
			row.ClassLevel,
			row.BookTitle,
			row.Requirement,
			row.Dispatched,
			row.Received,
			row.ClosingStock,
			fmt.Sprintf("%.1f", row.FulfilmentPct),
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, 7+i)
			if err != nil {
				return nil, err
			}
			if err := set(cell, v); err != nil {
				return nil, err
			}
		}
	}

	totalRow := 7 + len(s.Rows)
	totals := []interface{}{
		"", "TOTAL",
		s.TotalRequirement,
		s.TotalDispatched,
		s.TotalReceived,
		"",
		fmt.Sprintf("%.1f", s.FulfilmentPct),
	}
	for j, v := range totals {
		cell, err := excelize.CoordinatesToCellName(j+1, totalRow)
		if err != nil {
			return nil, err
		}
		if err := set(cell, v); err != nil {
			return nil, err
		}
	}

	if err := f.SetColWidth(sheetName, "B", "B", 40); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "C", "G", 15); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
