// Package ingest fetches raw trade prints from Polymarket and normalizes
// them into TradeRecords.
package ingest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/polyyoung/engine/internal/store"
)

// RawTrade is one row of the data-api /trades response. Numeric fields come
// back as either JSON numbers or strings depending on endpoint version, so
// they are decoded loosely and parsed here.
type RawTrade struct {
	Timestamp       any    `json:"timestamp"`
	Side            string `json:"side"`
	Price           any    `json:"price"`
	Size            any    `json:"size"`
	Outcome         string `json:"outcome"`
	OutcomeIndex    any    `json:"outcomeIndex"`
	TransactionHash string `json:"transactionHash"`
	ProxyWallet     string `json:"proxyWallet"`
	Slug            string `json:"slug"`
	EventSlug       string `json:"eventSlug"`
	ConditionID     string `json:"conditionId"`
}

// ParseEpoch converts a loose timestamp value into fractional epoch
// seconds. Values that look like milliseconds or nanoseconds are scaled
// down; ISO-8601 strings are accepted. Returns nil when unparseable.
func ParseEpoch(v any) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return scaleEpoch(x)
	case int64:
		return scaleEpoch(float64(x))
	case int:
		return scaleEpoch(float64(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return scaleEpoch(f)
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			sec := float64(t.UnixNano()) / 1e9
			return &sec
		}
		return nil
	default:
		return nil
	}
}

// scaleEpoch disambiguates seconds, milliseconds and nanoseconds. Anything
// above 1e12 cannot be a plausible seconds-based date, so it is scaled.
func scaleEpoch(val float64) *float64 {
	if val <= 0 {
		return nil
	}
	if val > 1e12 {
		val /= 1e9
	} else if val > 1e10 {
		val /= 1e3
	}
	return &val
}

// ParseFloat parses a loose numeric value, returning nil when absent or
// malformed.
func ParseFloat(v any) *float64 {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return &x
	case int64:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
		return nil
	default:
		return nil
	}
}

// IsWalletAddress reports whether s looks like an EVM wallet address.
func IsWalletAddress(s string) bool {
	return strings.HasPrefix(s, "0x")
}

// Normalize converts a raw feed row into a TradeRecord. The record carries
// no wallet-age enrichment yet; Tx stays empty for malformed rows and the
// cycle counts and skips those.
func Normalize(raw RawTrade) store.TradeRecord {
	rec := store.TradeRecord{
		Tx:   raw.TransactionHash,
		Slug: raw.Slug,
	}

	if ts := ParseEpoch(raw.Timestamp); ts != nil {
		sec := int64(*ts)
		nsec := int64((*ts - float64(sec)) * 1e9)
		rec.Timestamp = time.Unix(sec, nsec).UTC()
	}

	if raw.Side != "" {
		rec.Side = strings.ToUpper(raw.Side)
	}

	price := ParseFloat(raw.Price)
	size := ParseFloat(raw.Size)
	if price != nil {
		rec.Price = *price
	}
	if size != nil {
		rec.Size = *size
	}
	if price != nil && size != nil {
		rec.Notional = *price * *size
	}

	rec.Outcome = raw.Outcome
	if rec.Outcome == "" {
		if idx := ParseFloat(raw.OutcomeIndex); idx != nil {
			rec.Outcome = fmt.Sprintf("outcome[%d]", int(*idx))
		}
	}

	wallet := strings.ToLower(strings.TrimSpace(raw.ProxyWallet))
	if IsWalletAddress(wallet) {
		rec.Wallet = wallet
	}

	return rec
}

// ShortWallet renders an address as 0x1234…abcd for log lines.
func ShortWallet(addr string) string {
	if addr == "" {
		return "—"
	}
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
