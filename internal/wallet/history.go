package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/polyyoung/engine/internal/ingest"
)

// historyTries is the total attempt count per lookup (1 + micro-retries).
// Retries stay small because the caller holds a per-cycle budget and the
// cycle must keep its cadence.
const historyTries = 3

// HistoryClient fetches a wallet's earliest on-platform activity from the
// data-api /activity endpoint.
type HistoryClient struct {
	baseURL string
	client  *http.Client
}

// NewHistoryClient creates a client with the given per-request timeout.
func NewHistoryClient(baseURL string, timeout time.Duration) *HistoryClient {
	return &HistoryClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type activityRow struct {
	Timestamp any `json:"timestamp"`
}

// EarliestActivity returns the wallet's first activity timestamp in epoch
// seconds. A nil result with nil error means the provider definitively
// found no history. Transport failures are returned as errors after the
// micro-retries are spent.
func (h *HistoryClient) EarliestActivity(ctx context.Context, wallet string) (*int64, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", "1")
	q.Set("sortBy", "TIMESTAMP")
	q.Set("sortDirection", "ASC")
	reqURL := fmt.Sprintf("%s/activity?%s", h.baseURL, q.Encode())

	var lastErr error
	for attempt := 1; attempt <= historyTries; attempt++ {
		t0 := time.Now()

		rows, status, err := h.fetch(ctx, reqURL)
		ms := time.Since(t0).Milliseconds()

		switch {
		case err != nil:
			lastErr = err
			slog.Debug("activity_err", "wallet", wallet, "attempt", attempt, "ms", ms, "error", err)
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("activity rate limited")
			slog.Debug("activity_429", "wallet", wallet, "attempt", attempt, "ms", ms)
		case status != http.StatusOK:
			lastErr = fmt.Errorf("activity status %d", status)
			slog.Debug("activity_nok", "wallet", wallet, "status", status, "attempt", attempt, "ms", ms)
		default:
			if len(rows) == 0 {
				// definitive: the wallet has no recorded history
				return nil, nil
			}
			ts := ingest.ParseEpoch(rows[0].Timestamp)
			if ts == nil {
				return nil, nil
			}
			sec := int64(*ts)
			slog.Debug("activity_ok", "wallet", wallet, "ts", sec, "attempt", attempt, "ms", ms)
			return &sec, nil
		}

		if attempt < historyTries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 150 * time.Millisecond):
			}
		}
	}

	return nil, fmt.Errorf("activity lookup for %s failed after %d attempts: %w", wallet, historyTries, lastErr)
}

func (h *HistoryClient) fetch(ctx context.Context, reqURL string) ([]activityRow, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var rows []activityRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode failed: %w", err)
	}
	return rows, resp.StatusCode, nil
}
