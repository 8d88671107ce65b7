package store

import (
	"sync"
	"time"
)

// Ledger is the append-only, size-bounded history of enriched trades.
// A single writer (the ingestion cycle) appends and trims; any number of
// readers may take snapshots concurrently. The backfill sweep is the only
// mutation of already-appended rows, and it touches only the wallet-age
// fields.
type Ledger struct {
	mu      sync.Mutex
	rows    []TradeRecord
	maxRows int

	now func() time.Time
}

// NewLedger creates a ledger capped at maxRows records.
func NewLedger(maxRows int) *Ledger {
	return &Ledger{
		rows:    make([]TradeRecord, 0, 1024),
		maxRows: maxRows,
		now:     time.Now,
	}
}

// Append adds a record to the end of the ledger.
func (l *Ledger) Append(rec TradeRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, rec)
}

// Len returns the current row count.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Snapshot returns an independent copy of all rows. Callers may hold or
// process the result without blocking the writer.
func (l *Ledger) Snapshot() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TradeRecord, len(l.rows))
	copy(out, l.rows)
	return out
}

// Tail returns a copy of the most recent n rows.
func (l *Ledger) Tail(n int) []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.rows) {
		n = len(l.rows)
	}
	out := make([]TradeRecord, n)
	copy(out, l.rows[len(l.rows)-n:])
	return out
}

// Trim drops the oldest rows once the ledger exceeds its maximum row count.
func (l *Ledger) Trim() {
	l.mu.Lock()
	defer l.mu.Unlock()
	extra := len(l.rows) - l.maxRows
	if extra > 0 {
		l.rows = append(l.rows[:0:0], l.rows[extra:]...)
	}
}

// BackfillAges scans the most recent maxScanRows rows and fills in
// WalletFirstTs/WalletAgeDays for rows whose first-seen is still unknown,
// using the supplied wallet -> earliest-activity mapping (nil values mean
// "looked up, still unknown" and are skipped). The ingestion-time IsYoung
// classification is deliberately left untouched so rows never flip status
// after the fact. Returns the number of rows patched.
func (l *Ledger) BackfillAges(firstSeen map[string]*int64, maxScanRows int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.rows)
	if n == 0 || len(firstSeen) == 0 {
		return 0
	}

	start := n - maxScanRows
	if start < 0 {
		start = 0
	}

	nowSec := l.now().Unix()
	patched := 0
	for i := start; i < n; i++ {
		row := &l.rows[i]
		if row.Wallet == "" || row.WalletFirstTs != nil {
			continue
		}
		ts, ok := firstSeen[row.Wallet]
		if !ok || ts == nil {
			continue
		}
		v := *ts
		age := float64(nowSec-v) / 86400.0
		row.WalletFirstTs = &v
		row.WalletAgeDays = &age
		patched++
	}
	return patched
}
