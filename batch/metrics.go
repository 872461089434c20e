package batch

import "github.com/prometheus/client_golang/prometheus"

type processorMetrics struct {
	batches      *prometheus.CounterVec
	fallbacks    prometheus.Counter
	degraded     prometheus.Counter
	committedTx  prometheus.Counter
	stageLatency *prometheus.HistogramVec
	parallelism  prometheus.Gauge
}

func (p *Processor) registerMetrics() {
	p.metrics.batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synchrony_batches",
		Help: "processed batches by outcome",
	}, []string{"outcome"})
	p.metrics.fallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synchrony_serial_fallbacks",
		Help: "batches re-executed serially after a recoverable failure",
	})
	p.metrics.degraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synchrony_unbounded_degradations",
		Help: "batches with transactions which conflict with every other transaction",
	})
	p.metrics.committedTx = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "synchrony_committed_transactions",
		Help: "committed transactions",
	})
	p.metrics.stageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synchrony_stage_latency_seconds",
		Help:    "latency of the batch processing stages",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"stage"})
	p.metrics.parallelism = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "synchrony_parallelism",
		Help: "transactions per independent set in the last batch",
	})
	p.MetricsRegistry().MustRegister(
		p.metrics.batches,
		p.metrics.fallbacks,
		p.metrics.degraded,
		p.metrics.committedTx,
		p.metrics.stageLatency,
		p.metrics.parallelism,
	)
}

func (p *Processor) observe(res *BatchResult) {
	outcome := "success"
	if !res.Success {
		outcome = "failed"
	}
	p.metrics.batches.WithLabelValues(outcome).Inc()
	if res.FellBack {
		p.metrics.fallbacks.Inc()
	}
	if res.Unbounded > 0 {
		p.metrics.degraded.Inc()
	}
	p.metrics.committedTx.Add(float64(len(res.Committed)))
	p.metrics.parallelism.Set(res.Parallelism)

	t := res.Timing
	for stage, d := range map[string]float64{
		"analyze":      t.Analyze.Seconds(),
		"resolve":      t.Resolve.Seconds(),
		"execute":      t.Execute.Seconds(),
		"prove":        t.Prove.Seconds(),
		"conservation": t.Conservation.Seconds(),
		"commit":       t.Commit.Seconds(),
		"total":        t.Total.Seconds(),
	} {
		p.metrics.stageLatency.WithLabelValues(stage).Observe(d)
	}
}
