package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/auth"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/cache"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/dataset"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/report"
	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/shield"
)

func datasetParam(r *http.Request) (dataset.ID, error) {
	src := r.URL.Query().Get("source")
	if src == "" {
		src = string(dataset.IPS)
	}
	return dataset.Parse(src)
}

// handleData serves the cached table for one dataset. ?refresh=true forces a
// pull from SharePoint before answering.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	id, err := datasetParam(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	rows, updated, err := s.cache.Snapshot(r.Context(), id, force)
	if err != nil {
		var unknown *cache.UnknownDatasetError
		if errors.As(err, &unknown) {
			writeError(w, 400, err)
			return
		}
		writeError(w, 502, err)
		return
	}
	if rows == nil {
		rows = []dataset.Row{}
	}
	writeJSON(w, 200, map[string]any{
		"data":         rows,
		"last_updated": updated,
		"version":      s.cache.Version(id),
	})
}

// handleUpdate marks rows as reviewed. The cache is updated synchronously and
// the SharePoint write-back runs in the background; the reconciliation loop
// is woken so other clients see the change immediately.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		IDs    []any  `json:"ids"`
		// Optional choice value; defaults to the reviewed sentinel. Sending
		// another choice value un-marks rows.
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	id, err := dataset.Parse(req.Source)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, 400, fmt.Errorf("ids requerido"))
		return
	}
	status := req.Status
	if status == "" {
		status = dataset.StatusReviewed
	}

	// The frontend sends row IDs as numbers or strings depending on the
	// column source; normalize to strings.
	rowIDs := make([]string, 0, len(req.IDs))
	for _, v := range req.IDs {
		switch t := v.(type) {
		case string:
			rowIDs = append(rowIDs, t)
		case float64:
			rowIDs = append(rowIDs, strconv.FormatFloat(t, 'f', -1, 64))
		default:
			writeError(w, 400, fmt.Errorf("id inválido: %v", v))
			return
		}
	}

	editor := ""
	if c := auth.FromContext(r.Context()); c != nil {
		editor = c.Name
	}

	n, err := s.cache.ApplyEdit(r.Context(), id, rowIDs, status, editor)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if n > 0 {
		s.dispatcher.Dispatch(id, rowIDs, status, editor)
		if s.waker != nil {
			s.waker.Wake()
		}
	}
	shield.GetLogger(r.Context()).Info("row status updated",
		"dataset", id, "status", status, "requested", len(rowIDs), "updated", n, "editor", editor)
	writeJSON(w, 200, map[string]any{
		"updated": n,
		"version": s.cache.Version(id),
	})
}

// handleVersion reports the current cache versions, which the frontend polls
// as a fallback when the websocket is down.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]float64)
	for id, v := range s.cache.CurrentVersion() {
		out[string(id)] = v
	}
	writeJSON(w, 200, out)
}

func (s *Server) exportRows(r *http.Request) ([]dataset.Row, dataset.ID, error) {
	id, err := datasetParam(r)
	if err != nil {
		return nil, "", err
	}
	rows, _, err := s.cache.Snapshot(r.Context(), id, false)
	if err != nil {
		return nil, id, err
	}
	if company := r.URL.Query().Get("company"); company != "" {
		rows = report.FilterCompany(rows, company)
	}
	return rows, id, nil
}

func (s *Server) handleExportExcel(w http.ResponseWriter, r *http.Request) {
	rows, id, err := s.exportRows(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}
	data, err := report.Excel(rows)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	name := fmt.Sprintf("reporte_%s_%s.xlsx", id, time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	rows, id, err := s.exportRows(r)
	if err != nil {
		writeError(w, 400, err)
		return
	}

	now := time.Now()
	var data []byte
	if company := r.URL.Query().Get("company"); company != "" && company != "Todas" {
		companies := report.Companies(rows)
		if len(companies) == 0 {
			writeError(w, 404, fmt.Errorf("empresa no encontrada: %s", company))
			return
		}
		data, err = report.CompanyPDF(companies[0], rows, now)
	} else {
		data, err = report.CombinedPDF(rows, now)
	}
	if err != nil {
		writeError(w, 500, err)
		return
	}
	name := fmt.Sprintf("reporte_%s_%s.pdf", id, now.Format("20060102"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Write(data)
}

// handleAudit returns the most recent review actions.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, entries)
}
