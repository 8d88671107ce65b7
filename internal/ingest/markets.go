package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// GammaAPIBaseURL is the Polymarket Gamma API endpoint for market metadata.
	GammaAPIBaseURL = "https://gamma-api.polymarket.com"
	// DefaultMarketLimit is the number of markets to fetch for WS subscriptions.
	DefaultMarketLimit = 100
)

// Market is a Polymarket market from the Gamma API. Only the fields needed
// to seed WebSocket subscriptions are decoded.
type Market struct {
	ID           string `json:"id"`
	Question     string `json:"question"`
	Slug         string `json:"slug"`
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
	ClobTokenIDs string `json:"clobTokenIds"` // JSON array as string
}

// FetchActiveMarkets fetches active markets from the Gamma API. Used only
// when the optional WebSocket feed is enabled, to build the subscription
// token set.
func FetchActiveMarkets(baseURL string, limit int) ([]Market, error) {
	if baseURL == "" {
		baseURL = GammaAPIBaseURL
	}
	if limit <= 0 {
		limit = DefaultMarketLimit
	}

	url := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d", baseURL, limit)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var markets []Market
	if err := json.NewDecoder(resp.Body).Decode(&markets); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	return markets, nil
}

// ExtractTokenIDs extracts all outcome token IDs from a list of markets.
func ExtractTokenIDs(markets []Market) []string {
	var ids []string
	for _, m := range markets {
		if m.ClobTokenIDs == "" {
			continue
		}
		var tokens []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokens); err != nil {
			continue
		}
		ids = append(ids, tokens...)
	}
	return ids
}
