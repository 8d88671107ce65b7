// Package api exposes read-only JSON snapshots of the engine's state for
// dashboards and tooling. Handlers only ever see independent copies; they
// never hold a component lock across a response.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/polyyoung/engine/internal/accum"
	"github.com/polyyoung/engine/internal/config"
	"github.com/polyyoung/engine/internal/engine"
	"github.com/polyyoung/engine/internal/metrics"
	"github.com/polyyoung/engine/internal/store"
	"github.com/polyyoung/engine/internal/wallet"
)

const defaultRecentLimit = 250

// Server serves the snapshot endpoints.
type Server struct {
	addr    string
	cfg     *config.Config
	ledger  *store.Ledger
	cache   wallet.Cache
	agg     *accum.Aggregator
	tracker *metrics.Tracker
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates a snapshot server.
func NewServer(addr string, cfg *config.Config, ledger *store.Ledger, cache wallet.Cache,
	agg *accum.Aggregator, tracker *metrics.Tracker, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		cfg:     cfg,
		ledger:  ledger,
		cache:   cache,
		agg:     agg,
		tracker: tracker,
		logger:  logger,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/trades/recent", s.handleRecent)
	mux.HandleFunc("/accumulators", s.handleAccumulators)
	mux.HandleFunc("/wallets", s.handleWallets)
	mux.HandleFunc("/backfill", s.handleBackfill)

	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api_server_starting", "addr", s.addr)
	return s.srv.Serve(ln)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "UP"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.tracker.Snapshot())
}

// handleRecent returns the most recent ledger rows, newest last.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows := s.ledger.Tail(limit)
	writeJSON(w, map[string]any{"count": len(rows), "trades": rows})
}

// handleAccumulators returns the above-threshold view. Wallet ages resolve
// through the live merge of cache knowledge and ledger-derived first-seen,
// so a row is never stuck unknown once either path learned the age.
func (s *Server) handleAccumulators(w http.ResponseWriter, r *http.Request) {
	threshold := s.cfg.AccumThreshold
	if v := r.URL.Query().Get("threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			http.Error(w, "threshold must be a non-negative number", http.StatusBadRequest)
			return
		}
		threshold = f
	}

	includeOld := true
	if v := r.URL.Query().Get("include_old"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "include_old must be a boolean", http.StatusBadRequest)
			return
		}
		includeOld = b
	}

	ages := engine.MergedAges(s.cache.Snapshot(), s.ledger.Snapshot())
	rows := s.agg.AboveThreshold(threshold,
		func(wlt string) *int64 { return ages[wlt] },
		s.cfg.MaxAgeDays, includeOld)

	writeJSON(w, map[string]any{
		"threshold": threshold,
		"window":    s.cfg.AccumWindow.String(),
		"count":     len(rows),
		"rows":      rows,
	})
}

func (s *Server) handleWallets(w http.ResponseWriter, _ *http.Request) {
	snap := s.cache.Snapshot()
	writeJSON(w, map[string]any{"count": len(snap), "wallets": snap})
}

// handleBackfill triggers an out-of-band reconcile of ledger rows against
// current cache knowledge.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	t0 := time.Now()
	patched := s.ledger.BackfillAges(s.cache.Snapshot(), s.cfg.BackfillScanRows)
	s.logger.Info("age_backfill_sweep",
		"trigger", "api",
		"patched_rows", patched,
		"took_ms", time.Since(t0).Milliseconds(),
	)
	writeJSON(w, map[string]any{"patched_rows": patched})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
