// Package main is the entry point for the polyyoung accumulation engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/polyyoung/engine/internal/accum"
	"github.com/polyyoung/engine/internal/api"
	"github.com/polyyoung/engine/internal/config"
	"github.com/polyyoung/engine/internal/engine"
	"github.com/polyyoung/engine/internal/ingest"
	"github.com/polyyoung/engine/internal/metrics"
	"github.com/polyyoung/engine/internal/store"
	"github.com/polyyoung/engine/internal/wallet"
)

// RawChannelBuffer is the size of the buffered WebSocket trade channel.
const RawChannelBuffer = 1000

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("polyyoung starting", "version", "1.0.0")

	slog.Info("config_loaded",
		"data_api_url", cfg.DataAPIURL,
		"fetch_interval", cfg.FetchInterval,
		"fetch_limit", cfg.FetchLimit,
		"taker_only", cfg.TakerOnly,
		"max_age_days", cfg.MaxAgeDays,
		"wallet_ttl", cfg.WalletTTL,
		"lookup_budget", cfg.LookupBudget,
		"max_ledger_rows", cfg.MaxLedgerRows,
		"dedup_capacity", cfg.DedupCapacity,
		"accum_window", cfg.AccumWindow,
		"accum_threshold", cfg.AccumThreshold,
		"enable_ws", cfg.EnableWS,
		"redis_addr", cfg.RedisAddr,
		"api_port", cfg.APIPort,
		"monitor_port", cfg.MonitorPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Core structures, constructed once for the process lifetime.
	dedup := store.NewDedupRing(cfg.DedupCapacity)
	ledger := store.NewLedger(cfg.MaxLedgerRows)
	agg := accum.New(cfg.AccumWindow)

	var cache wallet.Cache
	if cfg.RedisAddr != "" {
		redisCache, err := wallet.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.WalletTTL)
		if err != nil {
			slog.Warn("redis not available, using in-memory age cache", "error", err)
			cache = wallet.NewMemoryCache(cfg.WalletTTL)
		} else {
			slog.Info("redis age cache connected", "addr", cfg.RedisAddr)
			cache = redisCache
			defer redisCache.Close()
		}
	} else {
		cache = wallet.NewMemoryCache(cfg.WalletTTL)
	}

	feed := ingest.NewFeedClient(cfg.DataAPIURL, cfg.TakerOnly)
	history := wallet.NewHistoryClient(cfg.DataAPIURL, cfg.LookupTimeout)

	tracker := metrics.NewTracker()
	collectors := metrics.NewCollectors()

	monitor := metrics.NewMonitorServer(cfg.MonitorPort)
	monitor.Start()

	opts := engine.Options{
		Tracker:    tracker,
		Collectors: collectors,
	}

	// Optional Postgres trade archive.
	if cfg.PostgresDSN != "" {
		archive, err := store.NewPostgresArchive(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Warn("postgres not available, archive disabled", "error", err)
		} else {
			slog.Info("postgres archive connected")
			opts.Archive = archive
			defer archive.Close()
		}
	}

	// Optional WebSocket live feed, merged into each cycle's batch.
	var listener *ingest.Listener
	if cfg.EnableWS {
		rawChan := make(chan ingest.RawTrade, RawChannelBuffer)
		listener = ingest.NewListener(cfg.PolymarketWSURL, rawChan)

		markets, err := ingest.FetchActiveMarkets(cfg.GammaAPIURL, ingest.DefaultMarketLimit)
		if err != nil {
			slog.Warn("failed to fetch active markets, subscribing to empty set", "error", err)
		}
		listener.SetAssetIDs(ingest.ExtractTokenIDs(markets))
		listener.Start()
		tracker.SetWSStatus("connected")
		opts.Raw = rawChan
	}

	eng := engine.New(cfg, feed, history, cache, dedup, ledger, agg, opts)

	go eng.Run(ctx)
	go eng.RunSweeper(ctx)

	apiServer := api.NewServer(fmt.Sprintf(":%d", cfg.APIPort), cfg, ledger, cache, agg, tracker, logger)
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			slog.Error("api_server_error", "error", err)
		}
	}()

	slog.Info("engine_started", "status", "polling for trades")

	sig := <-sigChan
	slog.Info("shutdown_signal_received", "signal", sig.String())

	cancel()
	if listener != nil {
		listener.Stop()
	}
	monitor.Stop()

	slog.Info("shutdown_complete")
}

// setupLogger creates a structured logger with the specified level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}
