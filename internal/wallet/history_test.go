package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHistoryClientEarliestActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/activity" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("user") != "0xabc" || q.Get("limit") != "1" ||
			q.Get("sortBy") != "TIMESTAMP" || q.Get("sortDirection") != "ASC" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		w.Write([]byte(`[{"timestamp": 1650000000}]`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, 5*time.Second)
	got, err := c.EarliestActivity(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || *got != 1650000000 {
		t.Errorf("expected 1650000000, got %v", got)
	}
}

func TestHistoryClientNoHistoryIsDefinitive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, 5*time.Second)
	got, err := c.EarliestActivity(context.Background(), "0xnew")
	if err != nil {
		t.Fatalf("empty history is not an error, got %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for wallet with no history, got %v", *got)
	}
}

func TestHistoryClientRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"timestamp": "1650000000"}]`))
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, 5*time.Second)
	got, err := c.EarliestActivity(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if got == nil || *got != 1650000000 {
		t.Errorf("expected parsed string timestamp, got %v", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestHistoryClientFailsAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHistoryClient(srv.URL, 5*time.Second)
	if _, err := c.EarliestActivity(context.Background(), "0xabc"); err == nil {
		t.Fatal("expected error after persistent rate limiting")
	}
}
