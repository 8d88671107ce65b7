package engine

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper periodically reconciles the ledger's unknown wallet ages
// against current cache knowledge. It runs out-of-band from the ingestion
// cycle, playing the snapshot-consumer role: rows that were appended before
// a wallet's age resolved get their first-seen patched in place, without
// touching the ingestion-time young/old classification.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BackfillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper_stopped")
			return
		case <-ticker.C:
			e.SweepOnce()
		}
	}
}

// SweepOnce performs one backfill pass and logs window health.
func (e *Engine) SweepOnce() {
	t0 := time.Now()

	snap := e.cache.Snapshot()
	if len(snap) == 0 {
		return
	}

	patched := e.ledger.BackfillAges(snap, e.cfg.BackfillScanRows)

	scanned := e.ledger.Len()
	if scanned > e.cfg.BackfillScanRows {
		scanned = e.cfg.BackfillScanRows
	}
	slog.Info("age_backfill_sweep",
		"scanned", scanned,
		"patched_rows", patched,
		"took_ms", time.Since(t0).Milliseconds(),
	)

	ages := MergedAges(snap, e.ledger.Tail(e.cfg.BackfillScanRows))
	above := e.agg.AboveThreshold(e.cfg.AccumThreshold,
		func(w string) *int64 { return ages[w] },
		e.cfg.MaxAgeDays, true)
	wallets, keys := e.agg.Counts()

	slog.Info("accum_heartbeat",
		"window", e.cfg.AccumWindow,
		"unique_wallets", wallets,
		"unique_keys", keys,
		"above_threshold", len(above),
		"threshold", e.cfg.AccumThreshold,
	)
}
