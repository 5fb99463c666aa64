// Package report renders exports of a cached dataset table: an Excel
// workbook, a per-company PDF report, and a combined multi-company PDF. All
// functions take a finalized snapshot and return bytes. No state, no
// concurrency.
package report

import (
	"strings"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
)

// exportColumns are the columns included in exports, in order. Internal
// bookkeeping columns (#, Modified, ID, REVISADO, ModificadoPor) are dropped.
var exportColumns = []string{
	"Empresa", "Patronal_IPS", "Patronal_REOP", "Cedula", "Nombre",
	"Estado_IPS", "Estado_MTESS", "AUD_ESTADO",
	"Entrada_IPS", "Entrada_MTESS", "AUD_ENTRADA",
	"Salida_IPS", "Salida_MTESS", "AUD_SALIDA", "RUC",
}

func columnValue(r dataset.Row, col string) string {
	switch col {
	case "Empresa":
		return r.Empresa
	case "Patronal_IPS":
		return r.PatronalIPS
	case "Patronal_REOP":
		return r.PatronalREOP
	case "Cedula":
		return r.Cedula
	case "Nombre":
		return r.Nombre
	case "Estado_IPS":
		return r.EstadoIPS
	case "Estado_MTESS":
		return r.EstadoMTESS
	case "AUD_ESTADO":
		return r.AudEstado
	case "Entrada_IPS":
		return r.EntradaIPS
	case "Entrada_MTESS":
		return r.EntradaMTESS
	case "AUD_ENTRADA":
		return r.AudEntrada
	case "Salida_IPS":
		return r.SalidaIPS
	case "Salida_MTESS":
		return r.SalidaMTESS
	case "AUD_SALIDA":
		return r.AudSalida
	case "RUC":
		return r.RUC
	}
	return ""
}

// FilterCompany keeps the rows belonging to one company. Matching prefers
// the RUC column and falls back to the company name for rows without one.
// The sentinel "Todas" (or empty) keeps everything.
func FilterCompany(rows []dataset.Row, company string) []dataset.Row {
	if company == "" || company == "Todas" {
		return rows
	}
	var out []dataset.Row
	for _, r := range rows {
		if r.RUC != "" {
			if r.RUC == company {
				out = append(out, r)
			}
		} else if r.Empresa == company {
			out = append(out, r)
		}
	}
	return out
}

// Inconsistencies keeps the rows whose audit-comparison outcome is one of
// the bad states.
func Inconsistencies(rows []dataset.Row) []dataset.Row {
	var out []dataset.Row
	for _, r := range rows {
		if dataset.IsInconsistent(r) {
			out = append(out, r)
		}
	}
	return out
}

// Companies returns the distinct companies present in the table, as
// (ruc, name) pairs ordered by first appearance.
func Companies(rows []dataset.Row) []Company {
	seen := make(map[string]bool)
	var out []Company
	for _, r := range rows {
		key := r.RUC
		if key == "" {
			key = r.Empresa
		}
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Company{RUC: r.RUC, Name: r.Empresa})
	}
	return out
}

// Company identifies one employer present in a dataset.
type Company struct {
	RUC  string
	Name string
}

// SafeFilename strips characters that are unsafe in a download filename,
// keeping letters, digits, spaces, hyphens and underscores.
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
