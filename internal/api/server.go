package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coinharbor/custody/internal/config"
	"github.com/coinharbor/custody/internal/consolidate"
	"github.com/coinharbor/custody/internal/ledger"
	"github.com/coinharbor/custody/internal/middleware"
	"github.com/coinharbor/custody/internal/policy"
	"github.com/coinharbor/custody/internal/registry"
	"github.com/coinharbor/custody/internal/risk"
	"github.com/coinharbor/custody/internal/storage"
)

// Server is the custody HTTP surface: wallet lifecycle, balances,
// withdrawals, deposit attribution and operator endpoints.
type Server struct {
	config     *config.Config
	registry   *registry.Service
	ledger     *ledger.Service
	policy     *policy.Service
	planner    *consolidate.Planner
	risk       *risk.Service
	notes      *storage.AuditNoteRepository
	store      *storage.Store
	promReg    *prometheus.Registry
	limiter    *middleware.RateLimiter
	httpServer *http.Server
}

// NewServer creates the API server
func NewServer(
	cfg *config.Config,
	registrySvc *registry.Service,
	ledgerSvc *ledger.Service,
	policySvc *policy.Service,
	planner *consolidate.Planner,
	riskSvc *risk.Service,
	notes *storage.AuditNoteRepository,
	store *storage.Store,
	promReg *prometheus.Registry,
) *Server {
	return &Server{
		config:   cfg,
		registry: registrySvc,
		ledger:   ledgerSvc,
		policy:   policySvc,
		planner:  planner,
		risk:     riskSvc,
		notes:    notes,
		store:    store,
		promReg:  promReg,
		limiter:  middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
	}
}

// Start builds the routing table and serves until Shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	admin := middleware.AdminAuth(s.config.AdminToken)

	mux.Handle("/v1/wallets", s.limiter.Limit(http.HandlerFunc(s.handleWallets)))
	mux.HandleFunc("/v1/wallets/", s.handleWalletOperations)

	mux.Handle("/v1/withdrawals", s.limiter.Limit(http.HandlerFunc(s.handleWithdrawals)))
	mux.Handle("/v1/deposits", admin(http.HandlerFunc(s.handleDeposits)))

	mux.HandleFunc("/v1/balances", s.handleBalances)
	mux.HandleFunc("/v1/transfers", s.handleTransfers)

	mux.Handle("/v1/consolidations", admin(http.HandlerFunc(s.handleConsolidations)))

	// Chain: RequestID -> Logging -> LimitBody -> Routes
	handler := middleware.RequestID(middleware.Logging(middleware.LimitBody(mux)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness and database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.DB().Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
