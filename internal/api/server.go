package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pbaille/factserp/internal/auth"
	"github.com/pbaille/factserp/internal/content"
	"github.com/pbaille/factserp/internal/domain"
)

const serpPrefix = "/api/serp-content/"

// Options configures the HTTP server
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

// Server handles HTTP requests for the evidence API
type Server struct {
	content *content.Service
	gate    *auth.Gate
	opts    Options
	logger  *slog.Logger
}

// New creates a new API server
func New(svc *content.Service, gate *auth.Gate, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{content: svc, gate: gate, opts: opts, logger: logger}
}

// Handler returns the routed API with its middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Keys
	mux.HandleFunc("POST /api/create-key/{$}", s.createKey)

	// Datasets
	mux.HandleFunc("GET /api/datasets/{$}", s.authed(s.listDatasets))
	mux.HandleFunc("GET /api/datasets/{dataset}/facts/{$}", s.authed(s.listFacts))
	mux.HandleFunc("GET /api/datasets/{dataset}/facts/{fact}/questions/{$}", s.authed(s.listQuestions))
	mux.HandleFunc("GET /api/datasets/{dataset}/facts/{fact}/questions/{rank}/{$}", s.authed(s.questionEvidence))

	// SERP content by query parameter
	mux.HandleFunc("GET "+serpPrefix+"{$}", s.authed(s.serpByQuery))

	// Health check
	mux.HandleFunc("GET /health", s.health)

	return s.withLogging(withCORS(s.withSerpPath(mux)))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.opts.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down server")
		return srv.Shutdown(shutdownCtx)
	}
}

// withCORS adds CORS headers for browser clients
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

// withSerpPath serves /api/serp-content/<url>/ before the mux sees it, since
// the mux would clean the "//" of the embedded URL and redirect
func (s *Server) withSerpPath(h http.Handler) http.Handler {
	byPath := s.authed(s.serpByPath)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.EscapedPath(), serpPrefix) && len(r.URL.EscapedPath()) > len(serpPrefix) {
			byPath(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withLogging(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

type keyedHandler func(w http.ResponseWriter, r *http.Request, key *domain.APIKey)

// authed checks the presented API key before anything else runs
func (s *Server) authed(h keyedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-API-Key")
		if token == "" {
			token = r.URL.Query().Get("api_key")
		}

		key, err := s.gate.Authorize(r.Context(), token)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		h(w, r, key)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateKeyRequest is the request body for issuing an API key
type CreateKeyRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	KeyName  string `json:"key_name"`
}

func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key, err := s.gate.CreateKey(r.Context(), req.Username, req.Email, req.KeyName)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.logger.Info("api key created", "user", key.UserName, "name", key.Name)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"api_key": key.Key,
		"message": "API key created successfully!",
	})
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request, _ *domain.APIKey) {
	datasets, err := s.content.ListDatasets(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}

	items := make([]map[string]any, 0, len(datasets))
	for _, d := range datasets {
		items = append(items, map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"created_at":  d.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"datasets": items,
		"count":    len(items),
	})
}

func (s *Server) listFacts(w http.ResponseWriter, r *http.Request, _ *domain.APIKey) {
	dataset := r.PathValue("dataset")
	facts, err := s.content.ListFacts(r.Context(), dataset)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	items := make([]map[string]any, 0, len(facts))
	for _, f := range facts {
		items = append(items, map[string]any{
			"fact_id":    f.FactID,
			"created_at": f.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset": dataset,
		"facts":   items,
		"count":   len(items),
	})
}

func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request, _ *domain.APIKey) {
	dataset, fact := r.PathValue("dataset"), r.PathValue("fact")
	questions, err := s.content.ListQuestions(r.Context(), dataset, fact)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":   dataset,
		"fact_id":   fact,
		"questions": questions,
		"count":     len(questions),
	})
}

func (s *Server) questionEvidence(w http.ResponseWriter, r *http.Request, key *domain.APIKey) {
	rank, err := strconv.Atoi(r.PathValue("rank"))
	if err != nil {
		s.writeErr(w, &domain.ValidationError{
			Message: "rank must be a non-negative integer",
			Context: map[string]any{"rank": r.PathValue("rank")},
		})
		return
	}

	ev, err := s.content.ResolveRank(r.Context(), key, r.PathValue("dataset"), r.PathValue("fact"), rank)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) serpByQuery(w http.ResponseWriter, r *http.Request, key *domain.APIKey) {
	s.serveSerp(w, r, key, r.URL.Query().Get("url"))
}

func (s *Server) serpByPath(w http.ResponseWriter, r *http.Request, key *domain.APIKey) {
	raw := strings.TrimPrefix(r.URL.EscapedPath(), serpPrefix)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		s.writeErr(w, &domain.ValidationError{
			Message: "invalid URL encoding",
			Context: map[string]any{"url": raw},
		})
		return
	}
	s.serveSerp(w, r, key, strings.TrimSuffix(decoded, "/"))
}

func (s *Server) serveSerp(w http.ResponseWriter, r *http.Request, key *domain.APIKey, rawURL string) {
	fields := content.ParseFields(r.URL.Query().Get("fields"))
	p, err := s.content.ResolveURL(r.Context(), key, rawURL, fields)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// writeErr maps the error taxonomy to a status code and a structured body
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var (
		ae *domain.AuthError
		ve *domain.ValidationError
		nf *domain.NotFoundError
	)
	switch {
	case errors.As(err, &ae):
		writeError(w, http.StatusUnauthorized, ae.Error())
	case errors.Is(err, auth.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody(ve.Message, ve.Context))
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorBody(nf.Message, nf.Context))
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Internal server error: %v", err))
	}
}

func errorBody(message string, ctx map[string]any) map[string]any {
	body := make(map[string]any, len(ctx)+1)
	for k, v := range ctx {
		body[k] = v
	}
	body["error"] = message
	return body
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
