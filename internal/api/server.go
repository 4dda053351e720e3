package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/trahn-marketdata/internal/analytics"
	"github.com/kjannette/trahn-marketdata/internal/models"
)

const maxQueryLimit = analytics.MaxPriceLimit

var dateRegexp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

type RunReader interface {
	Get(ctx context.Context, id string) (*models.EtlRun, error)
	List(ctx context.Context, limit int) ([]models.EtlRun, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	query      *analytics.QueryService
	runs       RunReader
	db         Pinger
	httpServer *http.Server
	apiKey     string
	logger     *slog.Logger
}

func NewServer(query *analytics.QueryService, runs RunReader, db Pinger, port int, apiKey, corsOrigin string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		query:  query,
		runs:   runs,
		db:     db,
		apiKey: apiKey,
		logger: logger.With("component", "api"),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(corsOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler builds the routed handler with auth and CORS applied.
func (s *Server) Handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()

	// Asset routes
	mux.HandleFunc("GET /v1/assets", s.handleAssets)
	mux.HandleFunc("GET /v1/assets/{symbol}", s.handleAsset)

	// Price routes
	mux.HandleFunc("GET /v1/prices/{symbol}", s.handlePrices)

	// Analytics routes
	mux.HandleFunc("GET /v1/metrics/latest", s.handleLatestMetrics)
	mux.HandleFunc("GET /v1/metrics/{symbol}", s.handleMetrics)
	mux.HandleFunc("GET /v1/correlation", s.handleCorrelation)
	mux.HandleFunc("GET /v1/correlation/matrix", s.handleCorrelationMatrix)

	// Run log routes
	mux.HandleFunc("GET /v1/runs", s.handleRuns)
	mux.HandleFunc("GET /v1/runs/{id}", s.handleRun)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	// CORS outermost so preflights and 401s carry the allow headers
	return corsMiddleware(s.authMiddleware(mux), corsOrigin)
}

func (s *Server) Start() error {
	s.logger.Info("REST API server started", "addr", "http://localhost"+s.httpServer.Addr)
	if s.apiKey != "" {
		s.logger.Info("authentication enabled (Bearer token)")
	} else {
		s.logger.Info("authentication disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func validateDate(date string) bool {
	if !dateRegexp.MatchString(date) {
		return false
	}
	_, err := time.Parse("2006-01-02", date)
	return err == nil
}

// parseDateParam reads an optional YYYY-MM-DD query parameter.
func parseDateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if !validateDate(v) {
		return time.Time{}, fmt.Errorf("invalid %s, expected YYYY-MM-DD", name)
	}
	return models.ParseDate(v)
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

func parseWindow(r *http.Request) (int, error) {
	v := r.URL.Query().Get("window")
	if v == "" {
		return analytics.DefaultWindow, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q", v)
	}
	return n, nil
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeQueryError maps analytics errors onto HTTP statuses.
func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analytics.ErrInvalidQuery):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
