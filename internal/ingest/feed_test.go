package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFeedClientFetchBatch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"timestamp": 1700000010, "side": "BUY", "price": "0.5", "size": 100, "outcome": "Yes", "transactionHash": "0xt2", "proxyWallet": "0xAAA", "slug": "m"},
			{"timestamp": 1700000000, "side": "SELL", "price": 0.4, "size": "50", "outcome": "No", "transactionHash": "0xt1", "proxyWallet": "0xBBB", "slug": "m"}
		]`))
	}))
	defer srv.Close()

	c := NewFeedClient(srv.URL, true)
	rows, err := c.FetchBatch(context.Background(), 800, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].TransactionHash != "0xt2" {
		t.Errorf("expected newest-first passthrough, got %q first", rows[0].TransactionHash)
	}

	q, _ := http.NewRequest(http.MethodGet, "/?"+gotQuery, nil)
	vals := q.URL.Query()
	if vals.Get("limit") != "800" || vals.Get("offset") != "0" || vals.Get("takerOnly") != "true" {
		t.Errorf("unexpected query %q", gotQuery)
	}
}

func TestFeedClientRetriesThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewFeedClient(srv.URL, false)
	if _, err := c.FetchBatch(context.Background(), 10, 0); err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if calls != feedRetries {
		t.Errorf("expected %d attempts, got %d", feedRetries, calls)
	}
}

func TestFeedClientRecoversAfter429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewFeedClient(srv.URL, false)
	rows, err := c.FetchBatch(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("expected recovery after 429, got %v", err)
	}
	if rows != nil && len(rows) != 0 {
		t.Errorf("expected empty batch, got %d rows", len(rows))
	}
}
