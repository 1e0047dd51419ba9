package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmaksimov/structex/internal/extract"
	"github.com/dmaksimov/structex/internal/parser"
	"github.com/dmaksimov/structex/internal/session"
)

// handleProcessDocument runs the full pipeline for one upload: extract
// text, drive the model through the retry loop, register the result.
// The interaction is synchronous; the response carries the outcome.
func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	file, filename, ok := s.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	templateName := r.FormValue("template")
	if templateName == "" {
		jsonError(w, "template is required", http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)
	tpl, err := sess.Template(templateName)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	text, err := s.texts.ExtractText(file, filename)
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedFormat) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, "text extraction failed: "+err.Error(), http.StatusUnprocessableEntity)
		return
	}

	outcome, err := s.extractor.Extract(r.Context(), tpl.Schema, text, tpl.Fields)
	if err != nil {
		var merr *extract.ModelError
		if errors.As(err, &merr) {
			jsonError(w, merr.Error(), http.StatusBadGateway)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if outcome.Failed() {
		// The last raw model text is always exposed for diagnosis.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":      "extraction retry budget exhausted",
			"failure":    outcome.ErrorDescription,
			"raw_output": outcome.RawOutput,
		})
		return
	}

	doc := sess.Register(filename, tpl.Name, tpl.Schema, text, outcome.Data)
	s.log.Info("document processed",
		"doc_id", doc.ID,
		"filename", doc.Filename,
		"template", doc.TemplateName,
		"rows", len(doc.Result),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(documentSummary(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs := sessionFrom(r).Documents()
	summaries := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		summaries = append(summaries, documentSummary(doc))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"documents": summaries})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := sessionFrom(r).Document(chi.URLParam(r, "docID"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func documentSummary(doc *session.ProcessedDocument) map[string]any {
	return map[string]any{
		"id":            doc.ID,
		"filename":      doc.Filename,
		"template_name": doc.TemplateName,
		"rows":          len(doc.Result),
		"created_at":    doc.CreatedAt,
	}
}

// acceptUpload parses the multipart form and returns the uploaded file
// under the configured size limit.
func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request) (multipart.File, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return nil, "", false
	}
	if header.Size > s.cfg.MaxUploadBytes {
		file.Close()
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return nil, "", false
	}

	return file, sanitizeFilename(header.Filename), true
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
