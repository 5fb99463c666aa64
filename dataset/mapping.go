package dataset

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteItem is the raw shape of one SharePoint list item after transport
// decoding, before field mapping. Fields carries the expanded field values
// keyed by the remote internal column name.
type RemoteItem struct {
	ID         string
	Modified   time.Time
	ModifiedBy string
	Fields     map[string]any
}

// Mapping binds one dataset to its remote list and describes how remote
// internal field names become canonical columns. Each canonical column lists
// its candidate raw names in priority order; the first candidate with a
// non-empty value wins, and a column with no match maps to "". The mapping is
// configuration, not business logic: it mirrors the remote list schema and
// is overridable from a YAML file.
type Mapping struct {
	List   string              `yaml:"list"`
	Fields map[string][]string `yaml:"fields"`
}

// Registry maps every dataset to its mapping.
type Registry map[ID]Mapping

// canonical column names accepted in a mapping's Fields block, each bound to
// its setter on Row.
var columnSetters = map[string]func(*Row, string){
	"Empresa":       func(r *Row, v string) { r.Empresa = v },
	"Patronal_IPS":  func(r *Row, v string) { r.PatronalIPS = v },
	"Patronal_REOP": func(r *Row, v string) { r.PatronalREOP = v },
	"Cedula":        func(r *Row, v string) { r.Cedula = v },
	"Nombre":        func(r *Row, v string) { r.Nombre = v },
	"Estado_IPS":    func(r *Row, v string) { r.EstadoIPS = v },
	"Estado_MTESS":  func(r *Row, v string) { r.EstadoMTESS = v },
	"AUD_ESTADO":    func(r *Row, v string) { r.AudEstado = v },
	"Entrada_IPS":   func(r *Row, v string) { r.EntradaIPS = v },
	"Entrada_MTESS": func(r *Row, v string) { r.EntradaMTESS = v },
	"AUD_ENTRADA":   func(r *Row, v string) { r.AudEntrada = v },
	"Salida_IPS":    func(r *Row, v string) { r.SalidaIPS = v },
	"Salida_MTESS":  func(r *Row, v string) { r.SalidaMTESS = v },
	"AUD_SALIDA":    func(r *Row, v string) { r.AudSalida = v },
	"REVISADO":      func(r *Row, v string) { r.Revisado = v },
	"RUC":           func(r *Row, v string) { r.RUC = v },
	"ModificadoPor": func(r *Row, v string) { r.ModifiedBy = v },
}

// DefaultRegistry returns the compiled-in mappings matching the current
// remote schema: the IPS list still uses auto-generated field_N internal
// names, the MTESS list was created with explicit internal names (with Title
// as a fallback for the company column).
func DefaultRegistry() Registry {
	return Registry{
		IPS: {
			List: "Auditoria_General",
			Fields: map[string][]string{
				"Empresa":       {"Title"},
				"Patronal_IPS":  {"field_1"},
				"Patronal_REOP": {"field_2"},
				"Cedula":        {"field_3"},
				"Nombre":        {"field_4"},
				"Estado_IPS":    {"field_5"},
				"Estado_MTESS":  {"field_6"},
				"AUD_ESTADO":    {"field_7"},
				"Entrada_IPS":   {"field_8"},
				"Entrada_MTESS": {"field_9"},
				"AUD_ENTRADA":   {"field_10"},
				"Salida_IPS":    {"field_11"},
				"Salida_MTESS":  {"field_12"},
				"AUD_SALIDA":    {"field_13"},
				"REVISADO":      {"REVISADO"},
				"RUC":           {"RUC"},
				"ModificadoPor": {"ModificadoPor"},
			},
		},
		MTESS: {
			List: "Auditoria_MTESS_IPS",
			Fields: map[string][]string{
				"Empresa":       {"EMPRESA", "Title"},
				"Patronal_IPS":  {"PATRONAL_IPS"},
				"Patronal_REOP": {"PATRONAL_REOP"},
				"Cedula":        {"CEDULA"},
				"Nombre":        {"NOMBRE"},
				"Estado_IPS":    {"ESTADO_IPS"},
				"Estado_MTESS":  {"ESTADO_MTESS"},
				"AUD_ESTADO":    {"AUD_ESTADO"},
				"Entrada_IPS":   {"ENTRADA_IPS"},
				"Entrada_MTESS": {"ENTRADA_MTESS"},
				"AUD_ENTRADA":   {"AUD_ENTRADA"},
				"Salida_IPS":    {"SALIDA_IPS"},
				"Salida_MTESS":  {"SALIDA_MTESS"},
				"AUD_SALIDA":    {"AUD_SALIDA"},
				"REVISADO":      {"REVISADO"},
				"RUC":           {"RUC"},
				"ModificadoPor": {"ModificadoPor"},
			},
		},
	}
}

// LoadRegistry reads a YAML mapping file and merges it over the defaults, so
// a deployment only has to declare the datasets (or columns) that diverge
// from the compiled-in schema.
func LoadRegistry(path string) (Registry, error) {
	reg := DefaultRegistry()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read mapping file: %w", err)
	}
	var file struct {
		Datasets map[string]Mapping `yaml:"datasets"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("dataset: parse mapping file: %w", err)
	}
	for name, m := range file.Datasets {
		id, err := Parse(name)
		if err != nil {
			return nil, err
		}
		merged := reg[id]
		if m.List != "" {
			merged.List = m.List
		}
		for col, candidates := range m.Fields {
			if _, ok := columnSetters[col]; !ok {
				return nil, fmt.Errorf("dataset: mapping for %s references unknown column %q", name, col)
			}
			merged.Fields[col] = candidates
		}
		reg[id] = merged
	}
	return reg, nil
}

// MapRow converts a raw remote item into a canonical Row. Missing or empty
// raw fields resolve to ""; sparse optional columns are legitimate remote
// records, not errors.
func (m Mapping) MapRow(it RemoteItem) Row {
	// The item-level editor seeds ModificadoPor; a non-empty custom column
	// overrides it below.
	row := Row{
		ID:         it.ID,
		Modified:   it.Modified,
		ModifiedBy: it.ModifiedBy,
	}
	for col, candidates := range m.Fields {
		set := columnSetters[col]
		if set == nil {
			continue
		}
		for _, raw := range candidates {
			if v := fieldString(it.Fields[raw]); v != "" {
				set(&row, v)
				break
			}
		}
	}
	return row
}

// fieldString renders a decoded JSON field value as a display string. The
// Graph API returns numbers for numeric columns and bools for yes/no columns.
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
