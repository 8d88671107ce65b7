package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/polyyoung/engine/internal/accum"
	"github.com/polyyoung/engine/internal/config"
	"github.com/polyyoung/engine/internal/ingest"
	"github.com/polyyoung/engine/internal/metrics"
	"github.com/polyyoung/engine/internal/store"
	"github.com/polyyoung/engine/internal/wallet"
)

// NoProgressWarnCycles is how many stalled cycles trigger a warning.
const NoProgressWarnCycles = 6

// FeedSource supplies batches of raw trades, newest-first.
type FeedSource interface {
	FetchBatch(ctx context.Context, limit, offset int) ([]ingest.RawTrade, error)
}

// HistorySource resolves a wallet's earliest activity timestamp.
type HistorySource interface {
	EarliestActivity(ctx context.Context, wallet string) (*int64, error)
}

// Archiver persists appended records outside the process. Optional.
type Archiver interface {
	Insert(ctx context.Context, recs []store.TradeRecord) error
}

// Engine owns the four core structures and drives the ingestion cycle.
// Exactly one Engine goroutine mutates them; readers go through the
// components' snapshot methods.
type Engine struct {
	cfg     *config.Config
	feed    FeedSource
	history HistorySource
	cache   wallet.Cache
	dedup   *store.DedupRing
	ledger  *store.Ledger
	agg     *accum.Aggregator
	sched   *Scheduler

	tracker    *metrics.Tracker
	collectors *metrics.Collectors
	archive    Archiver
	raw        <-chan ingest.RawTrade

	lastMaxTs  time.Time
	noProgress int

	now func() time.Time
}

// Options carries the optional collaborators.
type Options struct {
	Tracker    *metrics.Tracker
	Collectors *metrics.Collectors
	Archive    Archiver
	Raw        <-chan ingest.RawTrade
}

// New wires an Engine around externally constructed components. The
// components are created once at startup and live for the process.
func New(cfg *config.Config, feed FeedSource, history HistorySource, cache wallet.Cache,
	dedup *store.DedupRing, ledger *store.Ledger, agg *accum.Aggregator, opts Options) *Engine {

	tracker := opts.Tracker
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	return &Engine{
		cfg:        cfg,
		feed:       feed,
		history:    history,
		cache:      cache,
		dedup:      dedup,
		ledger:     ledger,
		agg:        agg,
		sched:      NewScheduler(cfg.LookupBudget),
		tracker:    tracker,
		collectors: opts.Collectors,
		archive:    opts.Archive,
		raw:        opts.Raw,
		now:        time.Now,
	}
}

// Tracker exposes the engine's stats tracker for the read-only API.
func (e *Engine) Tracker() *metrics.Tracker {
	return e.tracker
}

// Run executes cycles until ctx is cancelled. The stop signal is observed
// at the cycle boundary; an in-flight cycle finishes first.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("engine_start",
		"interval", e.cfg.FetchInterval,
		"limit", e.cfg.FetchLimit,
		"taker_only", e.cfg.TakerOnly,
		"window", e.cfg.AccumWindow,
		"lookup_budget", e.cfg.LookupBudget,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine_stopped", "reason", "context cancelled")
			return
		default:
		}

		t0 := e.now()
		e.safeRunOnce(ctx)
		elapsed := e.now().Sub(t0)

		sleep := e.cfg.FetchInterval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			slog.Info("engine_stopped", "reason", "context cancelled")
			return
		case <-time.After(sleep):
		}
	}
}

// safeRunOnce contains a panicking cycle so one defective batch can never
// take the process down.
func (e *Engine) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cycle_panic", "panic", r)
		}
	}()
	e.RunOnce(ctx)
}

// RunOnce executes a single ingestion cycle and returns its report.
func (e *Engine) RunOnce(ctx context.Context) metrics.CycleReport {
	t0 := e.now()
	var rep metrics.CycleReport

	e.sched.BeginCycle(e.agg.TopWallets(PrioritySetSize))

	var firstTs, lastTs time.Time

	batch, err := e.feed.FetchBatch(ctx, e.cfg.FetchLimit, 0)
	if err != nil {
		// the whole batch is lost; the next cycle starts on schedule
		slog.Error("fetch_cycle_error", "error", err)
	} else {
		rep.Fetched = len(batch)

		appended := make([]store.TradeRecord, 0, 64)

		// Feed order is newest-first; process oldest-first so timestamps
		// are non-decreasing within the cycle.
		for i := len(batch) - 1; i >= 0; i-- {
			e.processRaw(ctx, batch[i], &rep, &firstTs, &lastTs, &appended)
		}
		for _, raw := range e.drainLive() {
			rep.Fetched++
			e.processRaw(ctx, raw, &rep, &firstTs, &lastTs, &appended)
		}

		e.agg.Purge()
		e.ledger.Trim()
		e.archiveBatch(ctx, appended)
	}

	e.trackProgress(lastTs)

	rep.Duration = e.now().Sub(t0).Seconds()
	if !firstTs.IsZero() {
		rep.FirstTs = firstTs.Unix()
	}
	if !lastTs.IsZero() {
		rep.LastTs = lastTs.Unix()
	}

	wallets, keys := e.agg.Counts()

	slog.Info("cycle_heartbeat",
		"fetched_rows", rep.Fetched,
		"new_after_dedupe", rep.FreshAfterDedup,
		"appended", rep.Appended,
		"malformed", rep.Malformed,
		"duplicates", rep.Duplicates,
		"non_wallet", rep.NonWallet,
		"unknown_age_allowed", rep.UnknownAllowed,
		"activity_lookups", rep.Lookups,
		"lookups_budget_left", e.sched.Remaining(),
		"dedupe_size", e.dedup.Size(),
		"first_ts", rep.FirstTs,
		"last_ts", rep.LastTs,
		"no_progress_cycles", e.noProgress,
		"accum_window", e.cfg.AccumWindow,
		"accum_unique_wallets", wallets,
		"accum_unique_keys", keys,
	)

	e.tracker.RecordCycle(rep, e.noProgress, e.dedup.Size(), e.ledger.Len(), wallets, keys)
	if e.collectors != nil {
		e.collectors.ObserveCycle(rep, e.noProgress, e.dedup.Size(), e.ledger.Len(), wallets, keys)
	}

	return rep
}

// processRaw runs one raw trade through normalize, dedupe, filter, enrich,
// classify and persist. Mutations happen only for fully validated records,
// so a bad row can never leave partial state behind.
func (e *Engine) processRaw(ctx context.Context, raw ingest.RawTrade, rep *metrics.CycleReport,
	firstTs, lastTs *time.Time, appended *[]store.TradeRecord) {

	rec := ingest.Normalize(raw)

	if !rec.Timestamp.IsZero() {
		if firstTs.IsZero() || rec.Timestamp.Before(*firstTs) {
			*firstTs = rec.Timestamp
		}
		if lastTs.IsZero() || rec.Timestamp.After(*lastTs) {
			*lastTs = rec.Timestamp
		}
	}

	if rec.Tx == "" {
		rep.Malformed++
		return
	}
	if e.dedup.Has(rec.Tx) {
		rep.Duplicates++
		return
	}
	rep.FreshAfterDedup++
	e.dedup.Add(rec.Tx)

	if rec.Wallet == "" {
		rep.NonWallet++
		return
	}

	earliest, found := e.cache.Get(rec.Wallet)
	needLookup := !found || earliest == nil
	if needLookup && e.sched.Admit(rec.Wallet) {
		rep.Lookups++
		ts, err := e.history.EarliestActivity(ctx, rec.Wallet)
		if err != nil {
			// treated as unknown; retried on a later cycle or resolved by backfill
			slog.Debug("activity_lookup_failed", "wallet", ingest.ShortWallet(rec.Wallet), "error", err)
			ts = nil
		}
		e.cache.Set(rec.Wallet, ts)
		earliest = ts
	}

	nowSec := e.now().Unix()
	if earliest == nil {
		rec.IsYoung = true
		rep.UnknownAllowed++
	} else {
		cutoff := e.now().UTC().AddDate(0, 0, -e.cfg.MaxAgeDays).Unix()
		rec.IsYoung = *earliest >= cutoff

		v := *earliest
		age := float64(nowSec-v) / 86400.0
		rec.WalletFirstTs = &v
		rec.WalletAgeDays = &age
	}

	e.ledger.Append(rec)
	e.agg.AddTrade(rec)
	rep.Appended++
	*appended = append(*appended, rec)
}

// drainLive empties the WebSocket buffer into the current cycle's batch.
func (e *Engine) drainLive() []ingest.RawTrade {
	if e.raw == nil {
		return nil
	}
	var out []ingest.RawTrade
	for {
		select {
		case raw := <-e.raw:
			out = append(out, raw)
		default:
			return out
		}
	}
}

// archiveBatch writes the cycle's appended records to the archive, if one
// is configured. Failures cost only the archived copy.
func (e *Engine) archiveBatch(ctx context.Context, recs []store.TradeRecord) {
	if e.archive == nil || len(recs) == 0 {
		return
	}
	insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := e.archive.Insert(insertCtx, recs); err != nil {
		slog.Warn("archive_insert_failed", "rows", len(recs), "error", err)
	}
}

// trackProgress maintains the stalled-feed counter from the max observed
// trade timestamp.
func (e *Engine) trackProgress(lastTs time.Time) {
	if !lastTs.IsZero() && !e.lastMaxTs.IsZero() && !lastTs.After(e.lastMaxTs) {
		e.noProgress++
		if e.noProgress == NoProgressWarnCycles {
			slog.Warn("feed_not_progressing", "cycles", e.noProgress, "last_max_ts", e.lastMaxTs.Unix())
		}
	} else {
		e.noProgress = 0
	}
	if !lastTs.IsZero() {
		e.lastMaxTs = lastTs
	}
}

// MergedAges builds a wallet -> earliest-first-seen map from a cache
// snapshot merged with ledger rows. The ledger contributes where the cache
// has nothing (or only a failed lookup), taking the minimum first-seen per
// wallet, so a value learned through either path resolves the age.
func MergedAges(cacheSnap map[string]*int64, rows []store.TradeRecord) map[string]*int64 {
	out := make(map[string]*int64, len(cacheSnap))
	for k, v := range cacheSnap {
		out[k] = v
	}
	for _, row := range rows {
		if row.Wallet == "" {
			continue
		}
		if row.WalletFirstTs == nil {
			if _, ok := out[row.Wallet]; !ok {
				out[row.Wallet] = nil
			}
			continue
		}
		existing := out[row.Wallet]
		if existing == nil || *row.WalletFirstTs < *existing {
			v := *row.WalletFirstTs
			out[row.Wallet] = &v
		}
	}
	return out
}
