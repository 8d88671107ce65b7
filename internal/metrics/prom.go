package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors are the Prometheus series exported at /metrics.
type Collectors struct {
	TradesFetched  prometheus.Counter
	TradesAppended prometheus.Counter
	Duplicates     prometheus.Counter
	Malformed      prometheus.Counter
	Lookups        prometheus.Counter

	DedupSize        prometheus.Gauge
	LedgerRows       prometheus.Gauge
	WindowWallets    prometheus.Gauge
	WindowKeys       prometheus.Gauge
	NoProgressCycles prometheus.Gauge

	CycleDuration prometheus.Histogram
}

// NewCollectors registers the engine's collectors on the default registry.
func NewCollectors() *Collectors {
	return &Collectors{
		TradesFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polyyoung", Name: "trades_fetched_total",
			Help: "Raw trade rows returned by the feed.",
		}),
		TradesAppended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polyyoung", Name: "trades_appended_total",
			Help: "Trades appended to the ledger after dedup and filtering.",
		}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polyyoung", Name: "duplicates_total",
			Help: "Trades skipped by the dedup ring.",
		}),
		Malformed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polyyoung", Name: "malformed_total",
			Help: "Feed rows skipped for missing a transaction hash.",
		}),
		Lookups: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "polyyoung", Name: "wallet_lookups_total",
			Help: "External wallet-history lookups performed.",
		}),
		DedupSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "polyyoung", Name: "dedup_size",
			Help: "Transaction hashes currently held by the dedup ring.",
		}),
		LedgerRows: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "polyyoung", Name: "ledger_rows",
			Help: "Rows currently held by the ledger.",
		}),
		WindowWallets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "polyyoung", Name: "window_wallets",
			Help: "Distinct wallets in the accumulation window.",
		}),
		WindowKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "polyyoung", Name: "window_keys",
			Help: "Distinct (wallet, outcome, market) keys in the accumulation window.",
		}),
		NoProgressCycles: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "polyyoung", Name: "no_progress_cycles",
			Help: "Consecutive cycles without forward progress in trade timestamps.",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "polyyoung", Name: "cycle_duration_seconds",
			Help:    "Wall time of one ingestion cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveCycle updates all series from a finished cycle.
func (c *Collectors) ObserveCycle(rep CycleReport, noProgress, dedupSize, ledgerRows, windowWallets, windowKeys int) {
	c.TradesFetched.Add(float64(rep.Fetched))
	c.TradesAppended.Add(float64(rep.Appended))
	c.Duplicates.Add(float64(rep.Duplicates))
	c.Malformed.Add(float64(rep.Malformed))
	c.Lookups.Add(float64(rep.Lookups))

	c.DedupSize.Set(float64(dedupSize))
	c.LedgerRows.Set(float64(ledgerRows))
	c.WindowWallets.Set(float64(windowWallets))
	c.WindowKeys.Set(float64(windowKeys))
	c.NoProgressCycles.Set(float64(noProgress))

	c.CycleDuration.Observe(rep.Duration)
}
