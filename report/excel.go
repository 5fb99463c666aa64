package report

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

const (
	sheetGeneral         = "Data_General"
	sheetInconsistencies = "Data_Inconsistencias"
)

// Excel builds a workbook with the full table on a "Data_General" sheet and,
// when any exist, the inconsistent rows on a second "Data_Inconsistencias"
// sheet.
func Excel(rows []dataset.Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// excelize names the default sheet "Sheet1"; rename rather than add.
	if err := f.SetSheetName("Sheet1", sheetGeneral); err != nil {
		return nil, fmt.Errorf("report: rename sheet: %w", err)
	}
	if err := writeSheet(f, sheetGeneral, rows); err != nil {
		return nil, err
	}

	if bad := Inconsistencies(rows); len(bad) > 0 {
		if _, err := f.NewSheet(sheetInconsistencies); err != nil {
			return nil, fmt.Errorf("report: add sheet: %w", err)
		}
		if err := writeSheet(f, sheetInconsistencies, bad); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("report: write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, rows []dataset.Row) error {
	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("report: sheet %s header: %w", sheet, err)
	}
	for i, r := range rows {
		vals := make([]any, len(exportColumns))
		for j, c := range exportColumns {
			vals[j] = columnValue(r, c)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("report: cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("report: sheet %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
