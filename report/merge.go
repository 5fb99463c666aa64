package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// CombinedPDF renders one report per company present in the table and merges
// them into a single document. Companies render in order of first appearance.
func CombinedPDF(rows []dataset.Row, generated time.Time) ([]byte, error) {
	companies := Companies(rows)
	if len(companies) == 0 {
		return nil, fmt.Errorf("report: no companies in dataset")
	}

	parts := make([]io.ReadSeeker, 0, len(companies))
	for _, c := range companies {
		key := c.RUC
		if key == "" {
			key = c.Name
		}
		doc, err := CompanyPDF(c, FilterCompany(rows, key), generated)
		if err != nil {
			return nil, fmt.Errorf("report: company %q: %w", c.Name, err)
		}
		parts = append(parts, bytes.NewReader(doc))
	}
	if len(parts) == 1 {
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(parts[0]); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	var merged bytes.Buffer
	if err := api.MergeRaw(parts, &merged, false, nil); err != nil {
		return nil, fmt.Errorf("report: merge pdfs: %w", err)
	}
	return merged.Bytes(), nil
}
