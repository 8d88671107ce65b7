package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polyyoung/engine/internal/accum"
	"github.com/polyyoung/engine/internal/config"
	"github.com/polyyoung/engine/internal/ingest"
	"github.com/polyyoung/engine/internal/store"
	"github.com/polyyoung/engine/internal/wallet"
)

func i64(v int64) *int64 { return &v }

type stubFeed struct {
	batches [][]ingest.RawTrade
	calls   int
	err     error
}

func (f *stubFeed) FetchBatch(ctx context.Context, limit, offset int) ([]ingest.RawTrade, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b, nil
}

type stubHistory struct {
	ages    map[string]*int64
	err     error
	lookups []string
}

func (h *stubHistory) EarliestActivity(ctx context.Context, w string) (*int64, error) {
	h.lookups = append(h.lookups, w)
	if h.err != nil {
		return nil, h.err
	}
	return h.ages[w], nil
}

func testConfig() *config.Config {
	return &config.Config{
		FetchInterval:    time.Second,
		FetchLimit:       800,
		MaxAgeDays:       7,
		WalletTTL:        time.Hour,
		LookupBudget:     60,
		MaxLedgerRows:    1000,
		DedupCapacity:    1000,
		AccumWindow:      24 * time.Hour,
		AccumThreshold:   1000,
		BackfillScanRows: 8000,
	}
}

func newTestEngine(cfg *config.Config, feed FeedSource, hist HistorySource) (*Engine, *store.Ledger, *accum.Aggregator, wallet.Cache) {
	cache := wallet.NewMemoryCache(cfg.WalletTTL)
	ledger := store.NewLedger(cfg.MaxLedgerRows)
	agg := accum.New(cfg.AccumWindow)
	eng := New(cfg, feed, hist, cache, store.NewDedupRing(cfg.DedupCapacity), ledger, agg, Options{})
	return eng, ledger, agg, cache
}

func raw(ts int64, tx, walletAddr string, price, size float64) ingest.RawTrade {
	return ingest.RawTrade{
		Timestamp:       float64(ts),
		Side:            "buy",
		Price:           price,
		Size:            size,
		Outcome:         "Yes",
		TransactionHash: tx,
		ProxyWallet:     walletAddr,
		Slug:            "mkt",
	}
}

func TestRunOnceProcessesOldestFirst(t *testing.T) {
	now := time.Unix(1700000000, 0)
	// Feed order is newest-first; the engine must reverse it.
	feed := &stubFeed{batches: [][]ingest.RawTrade{{
		raw(now.Unix()-10, "0xt3", "0xaaa", 0.5, 100),
		raw(now.Unix()-20, "0xt2", "0xaaa", 0.5, 100),
		raw(now.Unix()-30, "0xt1", "0xaaa", 0.5, 100),
	}}}
	hist := &stubHistory{ages: map[string]*int64{"0xaaa": i64(now.Unix() - 86400)}}

	eng, ledger, _, _ := newTestEngine(testConfig(), feed, hist)
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())

	if rep.Fetched != 3 || rep.Appended != 3 {
		t.Fatalf("expected 3 fetched and appended, got %+v", rep)
	}
	rows := ledger.Snapshot()
	for i := 1; i < len(rows); i++ {
		if rows[i].Timestamp.Before(rows[i-1].Timestamp) {
			t.Fatal("ledger rows not in non-decreasing timestamp order")
		}
	}
	if rep.FirstTs != now.Unix()-30 || rep.LastTs != now.Unix()-10 {
		t.Errorf("unexpected ts range: first=%d last=%d", rep.FirstTs, rep.LastTs)
	}
	// One wallet, one lookup; subsequent rows hit the cache.
	if len(hist.lookups) != 1 {
		t.Errorf("expected 1 history lookup, got %d", len(hist.lookups))
	}
}

func TestRunOnceDedupeAndCounters(t *testing.T) {
	now := time.Unix(1700000000, 0)
	feed := &stubFeed{batches: [][]ingest.RawTrade{
		{
			raw(now.Unix(), "0xt1", "0xaaa", 0.5, 100),
			{Timestamp: float64(now.Unix()), TransactionHash: ""},        // malformed
			raw(now.Unix(), "0xt2", "not-an-address", 0.5, 100),          // non-wallet
			raw(now.Unix(), "0xt1", "0xaaa", 0.5, 100),                   // in-batch duplicate
		},
		{
			raw(now.Unix()+1, "0xt1", "0xaaa", 0.5, 100), // cross-cycle duplicate
			raw(now.Unix()+1, "0xt3", "0xaaa", 0.5, 100),
		},
	}}
	hist := &stubHistory{ages: map[string]*int64{"0xaaa": i64(now.Unix() - 86400)}}

	eng, ledger, _, _ := newTestEngine(testConfig(), feed, hist)
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())
	if rep.Malformed != 1 || rep.Duplicates != 1 || rep.NonWallet != 1 || rep.Appended != 1 {
		t.Fatalf("cycle 1 counters wrong: %+v", rep)
	}

	rep = eng.RunOnce(context.Background())
	if rep.Duplicates != 1 || rep.Appended != 1 {
		t.Fatalf("cycle 2 counters wrong: %+v", rep)
	}
	if ledger.Len() != 2 {
		t.Errorf("expected 2 ledger rows total, got %d", ledger.Len())
	}
}

func TestRunOnceClassification(t *testing.T) {
	now := time.Unix(1700000000, 0)
	feed := &stubFeed{batches: [][]ingest.RawTrade{{
		raw(now.Unix(), "0xt1", "0xyoung", 0.5, 100),
		raw(now.Unix(), "0xt2", "0xold", 0.5, 100),
		raw(now.Unix(), "0xt3", "0xunknown", 0.5, 100),
	}}}
	hist := &stubHistory{ages: map[string]*int64{
		"0xyoung": i64(now.Unix() - 2*86400),
		"0xold":   i64(now.Unix() - 30*86400),
		// 0xunknown absent: lookup lands nil
	}}

	eng, ledger, _, cache := newTestEngine(testConfig(), feed, hist)
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())
	if rep.UnknownAllowed != 1 {
		t.Errorf("expected 1 unknown-allowed, got %d", rep.UnknownAllowed)
	}

	byWallet := make(map[string]store.TradeRecord)
	for _, r := range ledger.Snapshot() {
		byWallet[r.Wallet] = r
	}

	if r := byWallet["0xyoung"]; !r.IsYoung || r.WalletAgeDays == nil || *r.WalletAgeDays != 2 {
		t.Errorf("young wallet misclassified: %+v", r)
	}
	if r := byWallet["0xold"]; r.IsYoung {
		t.Errorf("old wallet misclassified: %+v", r)
	}
	if r := byWallet["0xunknown"]; !r.IsYoung || r.WalletFirstTs != nil {
		t.Errorf("unknown wallet must be optimistically young: %+v", r)
	}

	// The failed lookup is remembered as known-unknown.
	if got, ok := cache.Get("0xunknown"); !ok || got != nil {
		t.Error("expected cached nil entry for unknown wallet")
	}
}

func TestRunOnceRespectsLookupBudget(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := testConfig()
	cfg.LookupBudget = 3

	var batch []ingest.RawTrade
	for i := 0; i < 10; i++ {
		batch = append(batch, raw(now.Unix(), "0xt"+string(rune('a'+i)), "0xw"+string(rune('a'+i)), 0.5, 100))
	}
	feed := &stubFeed{batches: [][]ingest.RawTrade{batch}}
	hist := &stubHistory{ages: map[string]*int64{}}

	eng, ledger, _, _ := newTestEngine(cfg, feed, hist)
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())
	// Budget 3 with an empty priority set: only the tier above budget/3=1
	// admits, so two wallets get a lookup.
	if rep.Lookups != 2 {
		t.Errorf("expected 2 lookups, got %d", rep.Lookups)
	}
	// Un-looked-up wallets still land in the ledger, optimistically young.
	if rep.Appended != 10 || ledger.Len() != 10 {
		t.Errorf("expected all 10 rows appended, got %+v", rep)
	}
}

func TestRunOnceLookupErrorTreatedAsUnknown(t *testing.T) {
	now := time.Unix(1700000000, 0)
	feed := &stubFeed{batches: [][]ingest.RawTrade{{
		raw(now.Unix(), "0xt1", "0xaaa", 0.5, 100),
	}}}
	hist := &stubHistory{err: errors.New("data-api 500")}

	eng, ledger, _, _ := newTestEngine(testConfig(), feed, hist)
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())
	if rep.Appended != 1 || rep.UnknownAllowed != 1 {
		t.Fatalf("lookup failure must not drop the trade: %+v", rep)
	}
	if r := ledger.Snapshot()[0]; !r.IsYoung || r.WalletFirstTs != nil {
		t.Errorf("failed lookup must classify optimistically young: %+v", r)
	}
}

func TestRunOnceFetchErrorKeepsState(t *testing.T) {
	feed := &stubFeed{err: errors.New("timeout")}
	hist := &stubHistory{}

	eng, ledger, _, _ := newTestEngine(testConfig(), feed, hist)

	rep := eng.RunOnce(context.Background())
	if rep.Fetched != 0 || rep.Appended != 0 {
		t.Errorf("expected empty report on fetch error, got %+v", rep)
	}
	if ledger.Len() != 0 {
		t.Error("fetch error must not touch the ledger")
	}
}

func TestTrackProgressWarnCounter(t *testing.T) {
	eng, _, _, _ := newTestEngine(testConfig(), &stubFeed{}, &stubHistory{})

	base := time.Unix(1000, 0)
	eng.trackProgress(base)
	if eng.noProgress != 0 {
		t.Fatal("first observation is progress")
	}
	for i := 0; i < 3; i++ {
		eng.trackProgress(base)
	}
	if eng.noProgress != 3 {
		t.Errorf("expected 3 stalled cycles, got %d", eng.noProgress)
	}
	eng.trackProgress(base.Add(time.Second))
	if eng.noProgress != 0 {
		t.Errorf("advancing ts must reset the counter, got %d", eng.noProgress)
	}
}

func TestMergedAges(t *testing.T) {
	snap := map[string]*int64{
		"0xa": i64(100),
		"0xb": nil, // looked up, unknown
	}
	rows := []store.TradeRecord{
		{Wallet: "0xa", WalletFirstTs: i64(50)},  // earlier than cache: wins
		{Wallet: "0xb", WalletFirstTs: i64(200)}, // resolves the cache's nil
		{Wallet: "0xc", WalletFirstTs: nil},      // nothing known anywhere
		{Wallet: "0xd", WalletFirstTs: i64(300)}, // ledger-only wallet
		{Wallet: "", WalletFirstTs: i64(1)},
	}

	merged := MergedAges(snap, rows)
	if v := merged["0xa"]; v == nil || *v != 50 {
		t.Errorf("expected ledger min 50 for 0xa, got %v", v)
	}
	if v := merged["0xb"]; v == nil || *v != 200 {
		t.Errorf("expected ledger to resolve 0xb, got %v", v)
	}
	if v, ok := merged["0xc"]; !ok || v != nil {
		t.Errorf("expected nil entry for 0xc, got %v %v", v, ok)
	}
	if v := merged["0xd"]; v == nil || *v != 300 {
		t.Errorf("expected ledger-only 0xd, got %v", v)
	}
	if _, ok := merged[""]; ok {
		t.Error("empty wallet must be skipped")
	}
}

func TestDrainLiveFoldsBufferedTrades(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ch := make(chan ingest.RawTrade, 4)
	ch <- raw(now.Unix(), "0xws1", "0xaaa", 0.5, 100)
	ch <- raw(now.Unix(), "0xws2", "0xaaa", 0.5, 100)

	cfg := testConfig()
	cache := wallet.NewMemoryCache(cfg.WalletTTL)
	ledger := store.NewLedger(cfg.MaxLedgerRows)
	agg := accum.New(cfg.AccumWindow)
	hist := &stubHistory{ages: map[string]*int64{"0xaaa": i64(now.Unix() - 86400)}}
	eng := New(cfg, &stubFeed{}, hist, cache, store.NewDedupRing(cfg.DedupCapacity), ledger, agg, Options{Raw: ch})
	eng.now = func() time.Time { return now }

	rep := eng.RunOnce(context.Background())
	if rep.Fetched != 2 || rep.Appended != 2 {
		t.Errorf("expected both buffered trades processed, got %+v", rep)
	}
}
