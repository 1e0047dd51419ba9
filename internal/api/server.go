package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmaksimov/structex/internal/config"
	"github.com/dmaksimov/structex/internal/extract"
	"github.com/dmaksimov/structex/internal/parser"
	"github.com/dmaksimov/structex/internal/session"
)

// Server is the HTTP API for the extraction service.
type Server struct {
	router     chi.Router
	sessions   *session.Store
	extractor  *extract.Extractor
	summarizer *extract.Summarizer
	texts      *parser.TextExtractor
	model      string
	stats      *extract.LLMStats
	log        *slog.Logger
	cfg        config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(
	sessions *session.Store,
	extractor *extract.Extractor,
	summarizer *extract.Summarizer,
	texts *parser.TextExtractor,
	model string,
	stats *extract.LLMStats,
	log *slog.Logger,
	cfg config.Config,
) *Server {
	s := &Server{
		sessions:   sessions,
		extractor:  extractor,
		summarizer: summarizer,
		texts:      texts,
		model:      model,
		stats:      stats,
		log:        log,
		cfg:        cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Post("/api/sessions", s.handleCreateSession)
	r.Get("/api/stats/llm", s.handleLLMStats)

	// Session-scoped endpoints.
	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(s.sessions))

		r.Post("/api/templates", s.handleSaveTemplate)
		r.Get("/api/templates", s.handleListTemplates)
		r.Get("/api/templates/{name}", s.handleGetTemplate)

		r.Post("/api/documents", s.handleProcessDocument)
		r.Get("/api/documents", s.handleListDocuments)
		r.Get("/api/documents/{docID}", s.handleGetDocument)
		r.Get("/api/documents/{docID}/export/{format}", s.handleExportDocument)

		r.Post("/api/analyze", s.handleAnalyzeDocument)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
