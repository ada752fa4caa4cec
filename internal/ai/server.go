package ai

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"KSpectra/internal/config"
	"KSpectra/internal/insight"
	"KSpectra/internal/logging"
	"KSpectra/internal/model"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported on the gRPC health endpoint.
const HealthService = "kspectra.insight"

// Server exposes an analyzer over the insight HTTP contract.
type Server struct {
	analyzer model.Analyzer
	limiter  *rate.Limiter
	health   *health.Server
	logger   *zap.Logger
}

// NewServer creates the insight server. Inbound requests are limited to cfg.RequestsPerSecond
// with bursts of cfg.Burst; a non-positive rate disables the limit.
func NewServer(analyzer model.Analyzer, cfg config.AIConfig, logger *zap.Logger) *Server {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		analyzer: analyzer,
		limiter:  rate.NewLimiter(limit, burst),
		health:   hs,
		logger:   logging.OrNop(logger).Named("insight-server"),
	}
}

// Health returns the gRPC health server tracking this service.
func (s *Server) Health() *health.Server {
	return s.health
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	r.HandleFunc(insight.InsightPath, s.insightHandler).Methods(http.MethodPost)
	return otelhttp.NewHandler(r, "kspectra-insight")
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Insight server is running"))
}

type insightRequest struct {
	Prompt string `json:"prompt"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) insightHandler(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Prompt is required"})
		return
	}

	if !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many requests. Please slow down."})
		return
	}

	reply, err := s.analyzer.AnalyzeTraffic(r.Context(), prompt)
	switch {
	case err == nil:
		s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
		writeJSON(w, http.StatusOK, map[string]string{"message": reply})
	case errors.Is(err, ErrAllKeysRateLimited):
		s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
		s.logger.Warn("All API keys rate limited")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "All API keys are currently rate-limited. Please try again later."})
	default:
		s.logger.Error("Analysis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API Error: Unable to process your request."})
	}
}
