package server

import (
	"log/slog"
	"net/http"

	"salesmerge/internal/config"
	"salesmerge/internal/handlers"
	"salesmerge/internal/session"
)

type Server struct {
	sessions    *session.Store
	mux         *http.ServeMux
	handler     http.Handler
	logger      *slog.Logger
	apiHandlers *handlers.APIHandlers
	sseHandlers *handlers.SSEHandlers
}

type TemplateHandlers struct {
	Dashboard http.HandlerFunc
}

func NewServer(sessions *session.Store, cfg *config.Config, logger *slog.Logger, templateHandlers *TemplateHandlers) *Server {
	s := &Server{
		sessions:    sessions,
		mux:         http.NewServeMux(),
		logger:      logger,
		apiHandlers: handlers.NewAPIHandlers(sessions, cfg.Pipeline, logger),
		sseHandlers: handlers.NewSSEHandlers(cfg.Pipeline.DisplayRows, logger),
	}
	s.setupRoutes(templateHandlers)
	s.handler = session.Middleware(sessions, cfg.Session)(s.mux)
	return s
}

func (s *Server) setupRoutes(templateHandlers *TemplateHandlers) {
	// Dashboard routes
	s.mux.HandleFunc("GET /{$}", templateHandlers.Dashboard)
	s.mux.HandleFunc("GET /health", s.apiHandlers.HandleHealth)
	s.mux.HandleFunc("GET /admin/stats", s.apiHandlers.HandleStats)

	// Uploads
	s.mux.HandleFunc("POST /upload/main", s.apiHandlers.HandleUploadMain)
	s.mux.HandleFunc("POST /upload/mapping", s.apiHandlers.HandleUploadMapping)

	// Downloads
	s.mux.HandleFunc("GET /export/merged.csv", s.apiHandlers.HandleExportMerged(handlers.FormatCSV))
	s.mux.HandleFunc("GET /export/merged.xlsx", s.apiHandlers.HandleExportMerged(handlers.FormatXLSX))
	s.mux.HandleFunc("GET /export/topn.csv", s.apiHandlers.HandleExportTopN(handlers.FormatCSV))
	s.mux.HandleFunc("GET /export/topn.xlsx", s.apiHandlers.HandleExportTopN(handlers.FormatXLSX))

	// REST API endpoints
	s.mux.HandleFunc("GET /api/countries", s.apiHandlers.HandleCountries)
	s.mux.HandleFunc("GET /api/topn", s.apiHandlers.HandleTopN)
	s.mux.HandleFunc("GET /api/records", s.apiHandlers.HandleRecords)

	// Datastar SSE endpoints
	s.mux.HandleFunc("POST /sse/settings", s.sseHandlers.HandleSettings)
	s.mux.HandleFunc("GET /sse/table", s.sseHandlers.HandleTable)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
