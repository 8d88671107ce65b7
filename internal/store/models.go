// Package store provides the in-memory data structures owned by the ingestion
// cycle: the trade ledger, the dedup ring, and the optional Postgres archive.
package store

import "time"

// TradeRecord is a normalized, enriched trade print. Once appended to the
// Ledger only the wallet-age fields may change, and only via BackfillAges.
type TradeRecord struct {
	// Timestamp is when the trade executed. Zero if the feed row carried no
	// parseable timestamp.
	Timestamp time.Time `json:"timestamp"`

	// Side is BUY or SELL, empty if unknown.
	Side string `json:"side,omitempty"`

	// Price is the execution price (0-1 range for prediction markets).
	Price float64 `json:"price"`

	// Size is the trade quantity in outcome shares.
	Size float64 `json:"size"`

	// Notional is Price*Size in USD, 0 when either input was missing.
	Notional float64 `json:"notional"`

	// Outcome is the outcome label (e.g. Yes/No).
	Outcome string `json:"outcome,omitempty"`

	// Tx is the transaction hash, unique per trade. Empty means malformed
	// input; such records never reach the Ledger.
	Tx string `json:"tx"`

	// Wallet is the lower-cased taker address, empty if the taker field was
	// not wallet-shaped.
	Wallet string `json:"wallet,omitempty"`

	// Slug identifies the market.
	Slug string `json:"slug,omitempty"`

	// WalletFirstTs is the wallet's earliest known activity (epoch seconds).
	// Nil until the age is known; patched in place by BackfillAges.
	WalletFirstTs *int64 `json:"wallet_first_ts,omitempty"`

	// WalletAgeDays is derived from WalletFirstTs at enrichment or backfill time.
	WalletAgeDays *float64 `json:"wallet_age_days,omitempty"`

	// IsYoung is fixed at ingestion time. Unknown age counts as young.
	// BackfillAges never rewrites it.
	IsYoung bool `json:"is_young"`
}
