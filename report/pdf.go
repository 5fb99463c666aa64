package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// Table layout for the per-company PDF: twelve columns on an A4 portrait
// page with 10mm margins, so 190mm of usable width.
var (
	pdfHeaders = []string{
		"N°", "Cédula", "Nombre", "Est. IPS", "Est. MTESS", "Aud. Est.",
		"Ent. IPS", "Ent. MTESS", "Aud. Ent.", "Sal. IPS", "Sal. MTESS", "Aud. Sal.",
	}
	pdfWidths = []float64{8, 18, 34, 14, 14, 18, 14, 14, 14, 14, 14, 14}
)

type badgeColor struct{ r, g, b int }

var (
	badgeGreen = badgeColor{46, 125, 50}
	badgeRed   = badgeColor{198, 40, 40}
	badgeBlue  = badgeColor{21, 101, 192}
	badgeGray  = badgeColor{97, 97, 97}
)

func colorFor(value string) badgeColor {
	switch value {
	case "COINCIDE":
		return badgeGreen
	case "NO_COINCIDE", "SIN_REGISTRO_IPS", "SIN_REGISTRO_MTESS":
		return badgeRed
	case "VIGENTE":
		return badgeBlue
	}
	return badgeGray
}

// CompanyPDF renders the report for one company: an identification block, a
// summary box, the full "DATOS GENERALES" table and, on a fresh page, either
// the table of detected inconsistencies or an all-clear box.
func CompanyPDF(company Company, rows []dataset.Row, generated time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, tr(fmt.Sprintf("Página %d", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	writeCompanyBlock(pdf, tr, company, generated)
	bad := Inconsistencies(rows)
	writeSummaryBox(pdf, tr, len(rows), len(bad))

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetTextColor(33, 33, 33)
	pdf.CellFormat(0, 8, "DATOS GENERALES", "", 1, "L", false, 0, "")
	writeTable(pdf, tr, rows)

	pdf.AddPage()
	if len(bad) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(badgeRed.r, badgeRed.g, badgeRed.b)
		pdf.CellFormat(0, 8, "INCONSISTENCIAS DETECTADAS", "", 1, "L", false, 0, "")
		pdf.SetTextColor(33, 33, 33)
		writeTable(pdf, tr, bad)
	} else {
		pdf.SetFillColor(232, 245, 233)
		pdf.SetDrawColor(badgeGreen.r, badgeGreen.g, badgeGreen.b)
		pdf.SetTextColor(badgeGreen.r, badgeGreen.g, badgeGreen.b)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 14, tr("Todo en orden: No se detectaron inconsistencias en esta empresa."), "1", 1, "C", true, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func writeCompanyBlock(pdf *fpdf.Fpdf, tr func(string) string, company Company, generated time.Time) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(33, 33, 33)
	pdf.CellFormat(0, 9, "Datos de la empresa", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	ruc := company.RUC
	if ruc == "" {
		ruc = "-"
	}
	pdf.CellFormat(0, 6, tr("RUC: "+ruc), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr("Empresa: "+company.Name), "", 1, "L", false, 0, "")
	stamp := generated.Format("02-01-2006 15:04") + " UTC-3"
	pdf.CellFormat(0, 6, tr("Fecha reporte: "+stamp), "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func writeSummaryBox(pdf *fpdf.Fpdf, tr func(string) string, total, inconsistent int) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, "Resumen", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetFillColor(245, 245, 245)
	pdf.SetDrawColor(200, 200, 200)
	pdf.CellFormat(95, 8, tr(fmt.Sprintf("Registros: %d", total)), "1", 0, "C", true, 0, "")
	pdf.CellFormat(95, 8, tr(fmt.Sprintf("Inconsistencias: %d", inconsistent)), "1", 1, "C", true, 0, "")
}

func writeTable(pdf *fpdf.Fpdf, tr func(string) string, rows []dataset.Row) {
	writeTableHeader(pdf, tr)
	pdf.SetFont("Helvetica", "", 7)
	fill := false
	for i, r := range rows {
		if pdf.GetY() > 270 {
			pdf.AddPage()
			writeTableHeader(pdf, tr)
			pdf.SetFont("Helvetica", "", 7)
		}
		cells := []string{
			fmt.Sprintf("%d", i+1), r.Cedula, r.Nombre,
			r.EstadoIPS, r.EstadoMTESS, r.AudEstado,
			r.EntradaIPS, r.EntradaMTESS, r.AudEntrada,
			r.SalidaIPS, r.SalidaMTESS, r.AudSalida,
		}
		if fill {
			pdf.SetFillColor(248, 248, 248)
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		for j, v := range cells {
			// Audit outcome columns carry a status badge color.
			if j == 5 || j == 8 || j == 11 {
				c := colorFor(v)
				pdf.SetTextColor(c.r, c.g, c.b)
			} else {
				pdf.SetTextColor(33, 33, 33)
			}
			pdf.CellFormat(pdfWidths[j], 6, tr(clip(v, 26)), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		fill = !fill
	}
	pdf.SetTextColor(33, 33, 33)
}

func writeTableHeader(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetFont("Helvetica", "B", 7)
	pdf.SetFillColor(38, 50, 56)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetDrawColor(200, 200, 200)
	for i, h := range pdfHeaders {
		pdf.CellFormat(pdfWidths[i], 7, tr(h), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(33, 33, 33)
}

func clip(s string, max int) string {
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max-1]) + "…"
}
