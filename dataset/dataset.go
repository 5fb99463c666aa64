// Package dataset defines the canonical row shape shared by the IPS and
// MTESS mirrors, the dataset registry, and the raw-field mapping applied to
// items coming back from SharePoint.
package dataset

import (
	"fmt"
	"time"
)

// ID names one of the mirrored SharePoint lists.
type ID string

const (
	IPS   ID = "IPS"
	MTESS ID = "MTESS"
)

// All lists every mirrored dataset. Order is stable so loops and broadcasts
// process datasets deterministically.
func All() []ID {
	return []ID{IPS, MTESS}
}

// Parse validates a dataset identifier coming from a request parameter.
func Parse(s string) (ID, error) {
	switch ID(s) {
	case IPS, MTESS:
		return ID(s), nil
	}
	return "", fmt.Errorf("dataset: unknown dataset %q", s)
}

// Row is one audit record. Field names and JSON tags follow the column
// contract the frontend already speaks; Index is a display artifact recomputed
// on every refresh, never an identity; ID is the identity.
type Row struct {
	Index        int       `json:"#"`
	ID           string    `json:"ID"`
	Modified     time.Time `json:"Modified"`
	Empresa      string    `json:"Empresa"`
	PatronalIPS  string    `json:"Patronal_IPS"`
	PatronalREOP string    `json:"Patronal_REOP"`
	Cedula       string    `json:"Cedula"`
	Nombre       string    `json:"Nombre"`
	EstadoIPS    string    `json:"Estado_IPS"`
	EstadoMTESS  string    `json:"Estado_MTESS"`
	AudEstado    string    `json:"AUD_ESTADO"`
	EntradaIPS   string    `json:"Entrada_IPS"`
	EntradaMTESS string    `json:"Entrada_MTESS"`
	AudEntrada   string    `json:"AUD_ENTRADA"`
	SalidaIPS    string    `json:"Salida_IPS"`
	SalidaMTESS  string    `json:"Salida_MTESS"`
	AudSalida    string    `json:"AUD_SALIDA"`
	Revisado     string    `json:"REVISADO"`
	RUC          string    `json:"RUC"`
	ModifiedBy   string    `json:"ModificadoPor"`
}

// StatusReviewed is the sentinel value the remote choice column expects for a
// reviewed row. It must match the SharePoint choice literal exactly.
const StatusReviewed = "REVISADO"

// BadStates are the audit-comparison outcomes treated as inconsistencies by
// the export filters.
var BadStates = []string{"NO_COINCIDE", "SIN_REGISTRO_IPS", "SIN_REGISTRO_MTESS"}

// IsInconsistent reports whether any of the row's audit-comparison columns
// carries one of the bad states.
func IsInconsistent(r Row) bool {
	for _, bad := range BadStates {
		if r.AudEntrada == bad || r.AudEstado == bad || r.AudSalida == bad {
			return true
		}
	}
	return false
}

var spanishDays = []string{"Lunes", "Martes", "Miércoles", "Jueves", "Viernes", "Sábado", "Domingo"}

var spanishMonths = []string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// asuncion resolves the Paraguay timezone once. Falls back to a fixed UTC-3
// offset when the host has no tz database.
var asuncion = func() *time.Location {
	loc, err := time.LoadLocation("America/Asuncion")
	if err != nil {
		return time.FixedZone("-03", -3*60*60)
	}
	return loc
}()

// DisplayTimestamp renders the most recent Modified value across rows as the
// human-readable "last updated" string shown in the UI and carried in change
// broadcasts, e.g. "Lunes, 2 de junio de 2025 a las 14:05 horas".
func DisplayTimestamp(rows []Row) string {
	var max time.Time
	for _, r := range rows {
		if r.Modified.After(max) {
			max = r.Modified
		}
	}
	if max.IsZero() {
		return "Desconocido"
	}
	t := max.In(asuncion)
	// time.Weekday starts on Sunday; the Spanish week starts on Monday.
	day := spanishDays[(int(t.Weekday())+6)%7]
	month := spanishMonths[t.Month()-1]
	return fmt.Sprintf("%s, %d de %s de %d a las %s horas",
		day, t.Day(), month, t.Year(), t.Format("15:04"))
}
