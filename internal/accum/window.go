// Package accum maintains trailing-window notional aggregates per
// (wallet, outcome, market) so accumulation patterns surface early.
package accum

import (
	"sort"
	"sync"
	"time"

	"github.com/polyyoung/engine/internal/store"
)

// sumEpsilon absorbs float drift when deciding a key's sums have returned
// to zero and the key can be dropped from the map.
const sumEpsilon = 1e-5

// compactThreshold controls when the consumed prefix of the entry queue is
// reclaimed.
const compactThreshold = 4096

// Key identifies one aggregate bucket.
type Key struct {
	Wallet  string
	Outcome string
	Slug    string
}

// Sums are the running totals for a key over the trailing window.
type Sums struct {
	Notional float64
	Qty      float64
	Trades   int
}

// Row is one entry of the above-threshold view.
type Row struct {
	Wallet        string   `json:"wallet"`
	Outcome       string   `json:"outcome"`
	Slug          string   `json:"slug"`
	Notional      float64  `json:"notional"`
	Qty           float64  `json:"qty"`
	Trades        int      `json:"trades"`
	IsYoung       bool     `json:"is_young"`
	WalletFirstTs *int64   `json:"wallet_first_ts,omitempty"`
	WalletAgeDays *float64 `json:"wallet_age_days,omitempty"`
}

// entry is the per-trade contribution kept in the time-ordered queue so the
// purge can decrement exactly what was added.
type entry struct {
	ts       time.Time
	key      Key
	notional float64
	qty      float64
}

// Aggregator keeps running per-key sums plus the queue of contributions
// still inside the window. One writer adds and purges; readers query
// concurrently.
type Aggregator struct {
	mu   sync.Mutex
	dq   []entry
	head int
	sums map[Key]*Sums

	window time.Duration
	now    func() time.Time
}

// New creates an aggregator with the given trailing window length.
func New(window time.Duration) *Aggregator {
	return &Aggregator{
		dq:     make([]entry, 0, 1024),
		sums:   make(map[Key]*Sums),
		window: window,
		now:    time.Now,
	}
}

// Window returns the configured window length.
func (a *Aggregator) Window() time.Duration {
	return a.window
}

// AddTrade folds a record into its key's sums and remembers the
// contribution for later expiry. Records without a timestamp are ignored
// since they could never be purged.
func (a *Aggregator) AddTrade(rec store.TradeRecord) {
	if rec.Timestamp.IsZero() {
		return
	}

	key := Key{Wallet: rec.Wallet, Outcome: rec.Outcome, Slug: rec.Slug}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.dq = append(a.dq, entry{ts: rec.Timestamp, key: key, notional: rec.Notional, qty: rec.Size})

	s, ok := a.sums[key]
	if !ok {
		s = &Sums{}
		a.sums[key] = s
	}
	s.Notional += rec.Notional
	s.Qty += rec.Size
	s.Trades++
}

// Purge drops contributions older than the window, measured from now.
func (a *Aggregator) Purge() {
	a.PurgeOlderThan(a.now().Add(-a.window))
}

// PurgeOlderThan pops queue entries with timestamp strictly before cutoff
// and decrements their key's sums by exactly the popped contribution. Keys
// whose sums reach zero across all three fields are removed entirely.
func (a *Aggregator) PurgeOlderThan(cutoff time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for a.head < len(a.dq) {
		e := a.dq[a.head]
		if !e.ts.Before(cutoff) {
			break
		}
		a.head++

		s, ok := a.sums[e.key]
		if !ok {
			continue
		}
		s.Notional -= e.notional
		s.Qty -= e.qty
		s.Trades--
		if s.Notional <= sumEpsilon && s.Qty <= sumEpsilon && s.Trades <= 0 {
			delete(a.sums, e.key)
		}
	}

	if a.head > compactThreshold && a.head*2 > len(a.dq) {
		a.dq = append(a.dq[:0:0], a.dq[a.head:]...)
		a.head = 0
	}
}

// AgeLookup resolves a wallet to its earliest-activity timestamp. A nil
// result means the age is unknown. The caller decides how to resolve,
// typically merging the live cache with ledger-derived knowledge.
type AgeLookup func(wallet string) *int64

// AboveThreshold returns every key whose windowed notional is at least
// threshold, classified via ageOf. Unknown age is optimistically treated as
// young so a wallet is never hidden from the accumulation view just because
// its lookup has not landed yet. Old wallets are included only when
// includeOld is set. Rows are ordered by notional descending, ties broken
// by trade count descending.
func (a *Aggregator) AboveThreshold(threshold float64, ageOf AgeLookup, maxAgeDays int, includeOld bool) []Row {
	now := a.now().UTC()
	youngCutoff := now.AddDate(0, 0, -maxAgeDays).Unix()

	a.mu.Lock()
	rows := make([]Row, 0, 16)
	for key, s := range a.sums {
		if s.Notional < threshold {
			continue
		}

		earliest := ageOf(key.Wallet)
		var (
			isYoung = true
			ageDays *float64
		)
		if earliest != nil {
			isYoung = *earliest >= youngCutoff
			d := float64(now.Unix()-*earliest) / 86400.0
			ageDays = &d
		}
		if !isYoung && !includeOld {
			continue
		}

		rows = append(rows, Row{
			Wallet:        key.Wallet,
			Outcome:       key.Outcome,
			Slug:          key.Slug,
			Notional:      s.Notional,
			Qty:           s.Qty,
			Trades:        s.Trades,
			IsYoung:       isYoung,
			WalletFirstTs: earliest,
			WalletAgeDays: ageDays,
		})
	}
	a.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Notional != rows[j].Notional {
			return rows[i].Notional > rows[j].Notional
		}
		return rows[i].Trades > rows[j].Trades
	})
	return rows
}

// TopWallets returns up to n distinct wallets ranked by their largest
// single-key notional, descending. Feeds the lookup scheduler's priority set.
func (a *Aggregator) TopWallets(n int) []string {
	a.mu.Lock()
	best := make(map[string]float64)
	for key, s := range a.sums {
		if key.Wallet == "" {
			continue
		}
		if s.Notional > best[key.Wallet] {
			best[key.Wallet] = s.Notional
		}
	}
	a.mu.Unlock()

	wallets := make([]string, 0, len(best))
	for w := range best {
		wallets = append(wallets, w)
	}
	sort.Slice(wallets, func(i, j int) bool {
		if best[wallets[i]] != best[wallets[j]] {
			return best[wallets[i]] > best[wallets[j]]
		}
		return wallets[i] < wallets[j]
	})
	if len(wallets) > n {
		wallets = wallets[:n]
	}
	return wallets
}

// Counts returns the number of distinct wallets and keys currently tracked.
func (a *Aggregator) Counts() (wallets, keys int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]struct{}, len(a.sums))
	for key := range a.sums {
		seen[key.Wallet] = struct{}{}
	}
	return len(seen), len(a.sums)
}

// SumsFor returns a copy of the current sums for a key, for debugging and
// tests. The second result is false when the key is not tracked.
func (a *Aggregator) SumsFor(key Key) (Sums, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sums[key]
	if !ok {
		return Sums{}, false
	}
	return *s, true
}
