package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmaksimov/structex/internal/schema"
	"github.com/dmaksimov/structex/internal/session"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	s.log.Info("session created", "session_id", sess.ID())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"session_id": sess.ID()})
}

type saveTemplateRequest struct {
	Name   string                   `json:"name"`
	Fields []schema.FieldDefinition `json:"fields"`

	// Legacy form: a raw schema document with no field metadata.
	Schema json.RawMessage `json:"schema,omitempty"`
}

func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req saveTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	sess := sessionFrom(r)

	var (
		tpl *session.Template
		err error
	)
	if len(req.Fields) == 0 && len(req.Schema) > 0 {
		var compiled schema.CompiledSchema
		compiled, err = schema.ParseDocument(req.Schema)
		if err != nil {
			jsonError(w, "invalid schema document: "+err.Error(), http.StatusBadRequest)
			return
		}
		tpl, err = sess.SaveLegacyTemplate(req.Name, compiled)
	} else {
		tpl, err = sess.SaveTemplate(req.Name, req.Fields)
	}
	if err != nil {
		status := http.StatusUnprocessableEntity
		switch {
		case errors.Is(err, session.ErrEmptyTemplateName):
			status = http.StatusBadRequest
		case errors.Is(err, session.ErrTemplateExists):
			status = http.StatusConflict
		}
		jsonError(w, err.Error(), status)
		return
	}

	s.log.Info("template saved", "template", tpl.Name, "fields", len(tpl.Fields))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := sessionFrom(r).Templates()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"templates": templates})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := sessionFrom(r).Template(chi.URLParam(r, "name"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tpl)
}
