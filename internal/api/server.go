package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/fintalk/fintalk/internal/config"
	"github.com/fintalk/fintalk/internal/engine"
	"github.com/fintalk/fintalk/internal/models"
)

// Pinger checks reachability of the LLM gateway for /test-connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the engine.
type Server struct {
	router *mux.Router
	engine *engine.Engine
	pinger Pinger
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(cfg config.ServerConfig, eng *engine.Engine, pinger Pinger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		engine: eng,
		pinger: pinger,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)

	// OPTIONS is routed so the CORS middleware can answer preflights;
	// mux skips middleware entirely on method mismatches.
	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/test-connection", s.handleTestConnection).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/ingest", s.handleIngest).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/prompt", s.handlePrompt).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/query/stream", s.handleQueryStream).Methods(http.MethodPost, http.MethodOptions)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	count, updatedAt, ingested := s.engine.Status(userID)
	body := map[string]any{
		"ingested": ingested,
		"count":    count,
	}
	if ingested {
		body["updated_at"] = updatedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.engine.History(r.Context(), userID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []models.HistoryEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	reachable := true
	if err := s.pinger.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("LLM connectivity check failed")
		reachable = false
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"llm_reachable":    reachable,
		"embedding_loaded": true,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body", err)
		return
	}
	if req.UserID == "" {
		s.writeBadRequest(w, "user_id is required", nil)
		return
	}
	count, err := s.engine.Ingest(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ingested": count, "user_id": req.UserID})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body", err)
		return
	}
	s.runQuery(w, r, req)
}

// handlePrompt is the stored-corpus-only variant of /query; inline
// context is ignored even if a client sends it.
func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body", err)
		return
	}
	req.ContextData = nil
	s.runQuery(w, r, req)
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request, req models.QueryRequest) {
	response, err := s.engine.Query(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body", err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Errors inside the stream surface as an `error` event; the
	// connection itself closes when the handler returns.
	if err := s.engine.QueryStream(r.Context(), req, sse.Emit); err != nil {
		log.Debug().Err(err).Msg("stream terminated")
	}
}

// --- responses ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string, err error) {
	if err != nil {
		log.Debug().Err(err).Msg(message)
	}
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error_kind": models.ErrInternal,
		"message":    message,
	})
}

// writeError renders an error with its stable kind and mapped status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := models.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("error_kind", kind).Msg("request failed")
	}
	writeJSON(w, status, map[string]any{
		"error_kind": kind,
		"message":    err.Error(),
	})
}

// --- middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := s.allowOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.cfg.AllowOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
	}
	return ""
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
// Flush is forwarded so streaming keeps working through the wrapper.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,

		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout must cover a full model stream.
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	log.Info().Str("addr", s.cfg.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
