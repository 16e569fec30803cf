package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liquity/bold-ir-management-sub000/internal/circuitbreaker"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline"
	"github.com/liquity/bold-ir-management-sub000/internal/reputation"
	"github.com/liquity/bold-ir-management-sub000/internal/signer"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultJournalLimit = 50
	requestTimeout      = 30 * time.Second
)

// StrategySource reads strategies for the status endpoints.
type StrategySource interface {
	ListKeys(ctx context.Context) ([]int64, error)
	Get(ctx context.Context, key int64) (*model.Strategy, error)
}

// HealthSource reports per-strategy run health.
type HealthSource interface {
	Snapshots() []pipeline.HealthSnapshot
	Healthy() bool
}

// ProviderScores exposes the reputation ranking.
type ProviderScores interface {
	Scores() []reputation.Entry
}

// BreakerSource exposes per-provider circuit breaker state.
type BreakerSource interface {
	Breakers() []circuitbreaker.Snapshot
}

// Trigger fires one run of a strategy outside the schedule.
type Trigger interface {
	Run(ctx context.Context, key int64) error
}

// Server serves the operator API: liveness, metrics, provider ranking and
// strategy state.
type Server struct {
	strategies StrategySource
	health     HealthSource
	scores     ProviderScores
	breakers   BreakerSource
	journal    store.JournalReader
	trigger    Trigger
	triggerCtx context.Context
	authToken  string
	limiter    *RateLimitMiddleware
	logger     *slog.Logger
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithProviders serves the reputation ranking and breaker state on /providers.
func WithProviders(scores ProviderScores, breakers BreakerSource) ServerOption {
	return func(s *Server) {
		s.scores = scores
		s.breakers = breakers
	}
}

// WithJournal serves the narrative journal on /journal.
func WithJournal(j store.JournalReader) ServerOption {
	return func(s *Server) { s.journal = j }
}

// WithTrigger enables POST /strategies/{key}/execute. Runs started through
// it live on ctx, not on the request.
func WithTrigger(ctx context.Context, t Trigger) ServerOption {
	return func(s *Server) {
		s.trigger = t
		s.triggerCtx = ctx
	}
}

// WithAuthToken requires "Authorization: Bearer <token>" on mutating routes.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = token }
}

// WithRateLimit applies per-IP limits to every route.
func WithRateLimit(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(strategies StrategySource, health HealthSource, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		strategies: strategies,
		health:     health,
		triggerCtx: context.Background(),
		logger:     logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Wrap)
	}

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/healthz", s.handleHealth)
		r.Get("/providers", s.handleProviders)
		r.Get("/journal", s.handleJournal)
		r.Get("/strategies", s.handleListStrategies)
		r.Get("/strategies/{key}", s.handleGetStrategy)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Use(func(next http.Handler) http.Handler { return AuditMiddleware(s.logger, next) })
			r.Post("/strategies/{key}/execute", s.handleExecute)
		})
	})
	return r
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status     string                    `json:"status"`
	Strategies []pipeline.HealthSnapshot `json:"strategies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Strategies: []pipeline.HealthSnapshot{}}
	status := http.StatusOK
	if s.health != nil {
		resp.Strategies = s.health.Snapshots()
		if !s.health.Healthy() {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

type providersResponse struct {
	Ranking  []reputation.Entry        `json:"ranking"`
	Breakers []circuitbreaker.Snapshot `json:"breakers,omitempty"`
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	if s.scores == nil {
		writeError(w, http.StatusServiceUnavailable, "provider status not configured")
		return
	}
	resp := providersResponse{Ranking: s.scores.Scores()}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Breakers()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal not readable")
		return
	}
	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.journal.Entries(r.Context(), limit)
	if err != nil {
		s.logger.Error("read journal", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	keys, err := s.strategies.ListKeys(r.Context())
	if err != nil {
		s.logger.Error("list strategies", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]strategyResponse, 0, len(keys))
	for _, key := range keys {
		st, err := s.strategies.Get(r.Context(), key)
		if err != nil {
			s.logger.Error("get strategy", "strategy", key, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		out = append(out, s.toResponse(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	key, ok := parseKey(w, r)
	if !ok {
		return
	}
	st, err := s.strategies.Get(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "strategy not found")
		return
	}
	if err != nil {
		s.logger.Error("get strategy", "strategy", key, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(st))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "manual execution disabled")
		return
	}
	key, ok := parseKey(w, r)
	if !ok {
		return
	}
	if _, err := s.strategies.Get(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "strategy not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	reqID := middleware.GetReqID(r.Context())
	go func() {
		if err := s.trigger.Run(s.triggerCtx, key); err != nil {
			s.logger.Warn("manual execution failed", "strategy", key, "request_id", reqID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"strategy": key, "request_id": reqID})
}

func parseKey(w http.ResponseWriter, r *http.Request) (int64, bool) {
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil || key < 0 {
		writeError(w, http.StatusBadRequest, "invalid strategy key")
		return 0, false
	}
	return key, true
}

type strategyResponse struct {
	Key              int64                    `json:"key"`
	EOA              string                   `json:"eoa,omitempty"`
	BatchManager     string                   `json:"batch_manager,omitempty"`
	TroveManager     string                   `json:"trove_manager"`
	CollateralIndex  uint64                   `json:"collateral_index"`
	DerivationPath   string                   `json:"derivation_path"`
	TargetMin        string                   `json:"target_min"`
	UpfrontFeePeriod string                   `json:"upfront_fee_period"`
	LatestRate       string                   `json:"latest_rate"`
	LastRateChangeAt *time.Time               `json:"last_rate_change_at,omitempty"`
	LastCompletedAt  *time.Time               `json:"last_completed_at,omitempty"`
	Nonce            uint64                   `json:"nonce"`
	Locked           bool                     `json:"locked"`
	LockedAt         *time.Time               `json:"locked_at,omitempty"`
	Health           *pipeline.HealthSnapshot `json:"health,omitempty"`
}

func (s *Server) toResponse(st *model.Strategy) strategyResponse {
	cfg, rt := st.Config, st.Runtime
	resp := strategyResponse{
		Key:              cfg.Key,
		TroveManager:     cfg.Contracts.TroveManager.Hex(),
		CollateralIndex:  cfg.CollateralIndex,
		DerivationPath:   cfg.DerivationPath,
		TargetMin:        bigString(cfg.TargetMin),
		UpfrontFeePeriod: cfg.UpfrontFeePeriod.String(),
		LatestRate:       bigString(rt.LatestRate),
		LastRateChangeAt: timePtr(rt.LastRateChangeAt),
		LastCompletedAt:  timePtr(rt.LastCompletedAt),
		Nonce:            rt.Nonce,
		Locked:           st.Lock.Locked,
	}
	if cfg.BatchManagerBound() {
		resp.BatchManager = cfg.Contracts.BatchManager.Hex()
	}
	if eoa, err := signer.Address(cfg.PublicKey); err == nil {
		resp.EOA = eoa.Hex()
	}
	if st.Lock.Locked {
		resp.LockedAt = timePtr(st.Lock.LockedAt)
	}
	if s.health != nil {
		for _, h := range s.health.Snapshots() {
			if h.Strategy == cfg.Key {
				h := h
				resp.Health = &h
				break
			}
		}
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
