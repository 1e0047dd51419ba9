package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/dmaksimov/structex/internal/extract"
	"github.com/dmaksimov/structex/internal/parser"
)

// handleAnalyzeDocument runs free-form summarization over an uploaded
// document. The model writes Markdown; the response carries both the
// raw text and a rendered HTML view.
func (s *Server) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	file, filename, ok := s.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	level := extract.SummaryLevel(r.FormValue("level"))
	switch level {
	case extract.SummaryShort, extract.SummaryBalanced, extract.SummaryDetailed:
	case "":
		level = extract.SummaryBalanced
	default:
		jsonError(w, "unknown summary level: "+string(level), http.StatusBadRequest)
		return
	}
	focus := r.FormValue("focus")

	text, err := s.texts.ExtractText(file, filename)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, "text extraction failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	summary, err := s.summarizer.Summarize(r.Context(), text, focus, level)
	if err != nil {
		var merr *extract.ModelError
		if errors.As(err, &merr) {
			jsonError(w, merr.Error(), http.StatusBadGateway)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(summary), &html); err != nil {
		s.log.Warn("summary markdown render failed", "error", err)
		html.Reset()
	}

	s.log.Info("document analyzed", "filename", filename, "level", string(level))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"filename":     filename,
		"level":        string(level),
		"summary":      summary,
		"summary_html": html.String(),
	})
}
