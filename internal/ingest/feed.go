package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DataAPIBaseURL is the Polymarket data-api endpoint for global trades.
	DataAPIBaseURL = "https://data-api.polymarket.com"

	feedTimeout = 20 * time.Second
	feedRetries = 2
)

// FeedClient pulls batches of recent trades across all markets from the
// data-api. The endpoint returns newest-first; the cycle reverses before
// processing.
type FeedClient struct {
	baseURL   string
	client    *http.Client
	takerOnly bool
}

// NewFeedClient creates a feed client. takerOnly restricts results to rows
// where the address acted as taker.
func NewFeedClient(baseURL string, takerOnly bool) *FeedClient {
	if baseURL == "" {
		baseURL = DataAPIBaseURL
	}
	return &FeedClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: feedTimeout},
		takerOnly: takerOnly,
	}
}

// FetchBatch fetches up to limit recent trades at the given offset.
// Rate limiting and transient failures are retried with capped backoff; a
// persistent failure aborts the current cycle at the caller.
func (f *FeedClient) FetchBatch(ctx context.Context, limit, offset int) ([]RawTrade, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if f.takerOnly {
		q.Set("takerOnly", "true")
	}
	reqURL := fmt.Sprintf("%s/trades?%s", f.baseURL, q.Encode())

	var lastErr error
	for attempt := 0; attempt < feedRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<attempt)) * time.Millisecond
			if backoff > 6*time.Second {
				backoff = 6 * time.Second
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		t0 := time.Now()
		rows, status, err := f.fetch(ctx, reqURL)
		ms := time.Since(t0).Milliseconds()

		if err != nil {
			lastErr = err
			slog.Warn("trades_retry", "attempt", attempt+1, "ms", ms, "error", err)
			continue
		}
		if status == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("trades rate limited")
			slog.Warn("trades_429", "attempt", attempt+1, "ms", ms)
			continue
		}
		if status != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status: %d", status)
			slog.Warn("trades_retry", "attempt", attempt+1, "status", status, "ms", ms)
			continue
		}

		var firstTs, lastTs *float64
		if len(rows) > 0 {
			firstTs = ParseEpoch(rows[0].Timestamp)
			lastTs = ParseEpoch(rows[len(rows)-1].Timestamp)
		}
		slog.Info("trades_ok", "ms", ms, "rows", len(rows),
			"first_ts", epochAttr(firstTs), "last_ts", epochAttr(lastTs))
		return rows, nil
	}

	return nil, fmt.Errorf("fetch trades failed after %d attempts: %w", feedRetries, lastErr)
}

func (f *FeedClient) fetch(ctx context.Context, reqURL string) ([]RawTrade, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request failed: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var rows []RawTrade
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode failed: %w", err)
	}
	return rows, resp.StatusCode, nil
}

// epochAttr renders a nullable epoch for log attrs.
func epochAttr(ts *float64) any {
	if ts == nil {
		return nil
	}
	return int64(*ts)
}
