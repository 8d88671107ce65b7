// Package metrics provides real-time metrics tracking for the engine.
package metrics

import (
	"sync"
	"time"
)

// CycleReport summarizes one ingestion cycle.
type CycleReport struct {
	Fetched         int     `json:"fetched"`
	FreshAfterDedup int     `json:"fresh_after_dedup"`
	Appended        int     `json:"appended"`
	Malformed       int     `json:"malformed"`
	Duplicates      int     `json:"duplicates"`
	NonWallet       int     `json:"non_wallet"`
	Lookups         int     `json:"lookups"`
	UnknownAllowed  int     `json:"unknown_age_allowed"`
	FirstTs         int64   `json:"first_ts,omitempty"`
	LastTs          int64   `json:"last_ts,omitempty"`
	Duration        float64 `json:"duration_seconds"`
}

// Snapshot is a point-in-time view of engine health.
type Snapshot struct {
	CyclesTotal      int64       `json:"cycles_total"`
	TradesFetched    int64       `json:"trades_fetched"`
	TradesAppended   int64       `json:"trades_appended"`
	DuplicatesTotal  int64       `json:"duplicates_total"`
	MalformedTotal   int64       `json:"malformed_total"`
	LookupsTotal     int64       `json:"lookups_total"`
	NoProgressCycles int         `json:"no_progress_cycles"`
	DedupSize        int         `json:"dedup_size"`
	LedgerRows       int         `json:"ledger_rows"`
	WindowWallets    int         `json:"window_wallets"`
	WindowKeys       int         `json:"window_keys"`
	LastCycle        CycleReport `json:"last_cycle"`
	WSStatus         string      `json:"ws_status"`
	Uptime           string      `json:"uptime"`
}

// Tracker accumulates engine counters. One writer (the cycle) updates it;
// the API server reads snapshots concurrently.
type Tracker struct {
	mu               sync.RWMutex
	cyclesTotal      int64
	tradesFetched    int64
	tradesAppended   int64
	duplicatesTotal  int64
	malformedTotal   int64
	lookupsTotal     int64
	noProgressCycles int
	dedupSize        int
	ledgerRows       int
	windowWallets    int
	windowKeys       int
	lastCycle        CycleReport
	wsStatus         string
	startTime        time.Time
}

// NewTracker creates a Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		wsStatus:  "disabled",
		startTime: time.Now(),
	}
}

// RecordCycle folds a finished cycle's report into the running totals.
func (t *Tracker) RecordCycle(rep CycleReport, noProgress, dedupSize, ledgerRows, windowWallets, windowKeys int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cyclesTotal++
	t.tradesFetched += int64(rep.Fetched)
	t.tradesAppended += int64(rep.Appended)
	t.duplicatesTotal += int64(rep.Duplicates)
	t.malformedTotal += int64(rep.Malformed)
	t.lookupsTotal += int64(rep.Lookups)
	t.noProgressCycles = noProgress
	t.dedupSize = dedupSize
	t.ledgerRows = ledgerRows
	t.windowWallets = windowWallets
	t.windowKeys = windowKeys
	t.lastCycle = rep
}

// SetWSStatus records the WebSocket feed connection state.
func (t *Tracker) SetWSStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wsStatus = status
}

// Snapshot returns an independent copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Snapshot{
		CyclesTotal:      t.cyclesTotal,
		TradesFetched:    t.tradesFetched,
		TradesAppended:   t.tradesAppended,
		DuplicatesTotal:  t.duplicatesTotal,
		MalformedTotal:   t.malformedTotal,
		LookupsTotal:     t.lookupsTotal,
		NoProgressCycles: t.noProgressCycles,
		DedupSize:        t.dedupSize,
		LedgerRows:       t.ledgerRows,
		WindowWallets:    t.windowWallets,
		WindowKeys:       t.windowKeys,
		LastCycle:        t.lastCycle,
		WSStatus:         t.wsStatus,
		Uptime:           time.Since(t.startTime).Round(time.Second).String(),
	}
}
