package http

import (
	"fmt"
	"net/http"
	"time"

	"kharcha/internal/export"
)

// handleExport streams the user's filtered expenses in the requested format.
// The same filter parameters as the list route apply.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uid := userID(r)
	expenses, err := s.ledger.FilteredExpenses(r.Context(), uid, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var (
		data        []byte
		contentType string
		ext         string
	)

	switch format := r.PathValue("format"); format {
	case "csv":
		data, err = export.ToCSV(expenses)
		contentType, ext = "text/csv; charset=utf-8", "csv"
	case "xlsx":
		data, err = export.ToXLSX(expenses)
		contentType, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	case "pdf":
		user, uerr := s.ledger.UserByID(r.Context(), uid)
		if uerr != nil {
			writeError(w, r, uerr)
			return
		}
		wallet, werr := s.ledger.WalletBalances(r.Context(), uid)
		if werr != nil {
			writeError(w, r, werr)
			return
		}
		data, err = export.ToPDF(expenses, *user, wallet)
		contentType, ext = "application/pdf", "pdf"
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported format: " + format})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("expenses_%s.%s", time.Now().Format("20060102"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
