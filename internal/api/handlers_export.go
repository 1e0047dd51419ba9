package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmaksimov/structex/internal/export"
)

// handleExportDocument serves a processed document's result in the
// requested download format.
func (s *Server) handleExportDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := sessionFrom(r).Document(chi.URLParam(r, "docID"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	format := strings.ToLower(chi.URLParam(r, "format"))

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "json":
		body, err = export.JSON(doc.Result)
		contentType = "application/json"
	case "csv":
		body, err = export.CSV(doc.Table)
		contentType = "text/csv"
	case "xlsx":
		body, err = export.XLSX(doc.Table)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		jsonError(w, "unsupported export format: "+format, http.StatusBadRequest)
		return
	}
	if err != nil {
		jsonError(w, "export failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	name := exportName(doc.Filename, format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(body)
}

// exportName derives the download filename from the source document's
// name, swapping its extension for the export format's.
func exportName(filename, format string) string {
	base := filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "result"
	}
	return base + "." + format
}
