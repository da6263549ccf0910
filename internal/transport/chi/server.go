// Package chi exposes the matching index over HTTP.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/agentdex/internal/domain"
	"github.com/kailas-cloud/agentdex/internal/domain/match"
	diagnosticuc "github.com/kailas-cloud/agentdex/internal/usecase/diagnostic"
	healthuc "github.com/kailas-cloud/agentdex/internal/usecase/health"
	migrationuc "github.com/kailas-cloud/agentdex/internal/usecase/migration"
	queryuc "github.com/kailas-cloud/agentdex/internal/usecase/query"
)

// Error response codes.
const (
	codeBadRequest        = "bad_request"
	codeValidationFailed  = "validation_failed"
	codeDimensionMismatch = "dimension_mismatch"
	codeNotFound          = "not_found"
	codeRateLimited       = "rate_limited"
	codeProviderError     = "embedding_provider_error"
	codeStoreError        = "store_error"
	codeInternalError     = "internal_error"
)

// QueryLimits bounds top_k handling for query requests.
type QueryLimits struct {
	DefaultTopK int
	MaxTopK     int
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the use case services behind the HTTP API.
type Server struct {
	query         *queryuc.Service
	migration     *migrationuc.Service
	diagnostic    *diagnosticuc.Service
	health        *healthuc.Service
	limits        QueryLimits
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	query *queryuc.Service,
	migration *migrationuc.Service,
	diagnostic *diagnosticuc.Service,
	health *healthuc.Service,
	limits QueryLimits,
	logger *zap.Logger,
) *Server {
	s := &Server{
		query:      query,
		migration:  migration,
		diagnostic: diagnostic,
		health:     health,
		limits:     limits,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, codeDimensionMismatch),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrTransient, http.StatusBadGateway, codeProviderError),
		sentinelHandler(domain.ErrStore, http.StatusInternalServerError, codeStoreError),
	}
	return s
}

// Routes registers all API handlers on the router.
func (s *Server) Routes(r chirouter.Router) {
	r.Post("/api/v1/query", s.PostQuery)
	r.Post("/api/v1/migrations", s.PostMigration)
	r.Get("/api/v1/diagnostics", s.GetDiagnostics)
	r.Get("/healthz", s.Healthz)
	r.Get("/metrics", s.Metrics)
}

type queryRequest struct {
	Vector    []float32 `json:"vector"`
	Threshold float64   `json:"threshold"`
	TopK      *int      `json:"top_k,omitempty"`
	AgentName string    `json:"agent_name,omitempty"`
}

type matchItem struct {
	DocumentID string  `json:"document_id"`
	AgentName  string  `json:"agent_name"`
	Similarity float64 `json:"similarity"`
}

type queryResponse struct {
	Items []matchItem `json:"items"`
	Total int         `json:"total"`
}

// PostQuery handles POST /api/v1/query.
func (s *Server) PostQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Vector) == 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "vector is required")
		return
	}

	topK := s.limits.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if s.limits.MaxTopK > 0 && topK > s.limits.MaxTopK {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			"top_k must not exceed "+strconv.Itoa(s.limits.MaxTopK))
		return
	}

	results, err := s.query.Query(r.Context(), queryuc.Request{
		Vector:    req.Vector,
		Threshold: req.Threshold,
		TopK:      topK,
		AgentName: req.AgentName,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]matchItem, len(results))
	for i, m := range results {
		items[i] = matchToItem(m)
	}
	writeJSON(w, http.StatusOK, queryResponse{Items: items, Total: len(items)})
}

type migrationRequest struct {
	ModelVersion string `json:"model_version"`
	AgentName    string `json:"agent_name,omitempty"`
	Confirmed    bool   `json:"confirmed"`
	ThrottleMs   *int   `json:"throttle_ms,omitempty"`
}

// PostMigration handles POST /api/v1/migrations.
func (s *Server) PostMigration(w http.ResponseWriter, r *http.Request) {
	var req migrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ucReq := migrationuc.Request{
		ModelVersion: req.ModelVersion,
		AgentName:    req.AgentName,
		Confirmed:    req.Confirmed,
	}
	if req.ThrottleMs != nil {
		if *req.ThrottleMs < 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "throttle_ms must not be negative")
			return
		}
		ucReq.Throttle = time.Duration(*req.ThrottleMs) * time.Millisecond
	}

	outcome, err := s.migration.Run(r.Context(), ucReq)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

// GetDiagnostics handles GET /api/v1/diagnostics.
func (s *Server) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	req := diagnosticuc.Request{
		AgentName: r.URL.Query().Get("agent_name"),
	}
	if raw := r.URL.Query().Get("sample_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "sample_size must be a non-negative integer")
			return
		}
		req.SampleSize = n
	}

	report, err := s.diagnostic.Scan(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func matchToItem(m match.Result) matchItem {
	return matchItem{
		DocumentID: m.DocumentID(),
		AgentName:  m.AgentName(),
		Similarity: m.Similarity(),
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrDimensionMismatch,
		domain.ErrNotFound,
		domain.ErrRateLimited,
		domain.ErrInvalidInput,
		domain.ErrTransient,
		domain.ErrStore,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
