package biz

import (
	"sort"
	"sync"

	"MsgBridge/internal/model"
)

// minPercentileSamples is the sample count below which the p95 figure falls
// back to the maximum observed value.
const minPercentileSamples = 20

// PerformanceMetrics aggregates write timings and consistency outcomes.
// It observes the hybrid router; it never gates correctness. All mutation
// happens under one mutex, which is acceptable because recording is cheap
// relative to the backend I/O it measures.
type PerformanceMetrics struct {
	mu sync.Mutex

	cifWriteTimes  []float64
	dbWriteTimes   []float64
	dualWriteTimes []float64

	failoverCount       int64
	consistencyChecks   int64
	consistencyFailures int64
	totalOperations     int64
}

// NewPerformanceMetrics creates an empty collector.
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{}
}

// RecordWrite records one write attempt. Failures on the database or dual
// path also bump the failover counter, a proxy for how often the primary
// path needed help.
func (p *PerformanceMetrics) RecordWrite(backend string, durationMs float64, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch backend {
	case model.BackendCIF:
		p.cifWriteTimes = append(p.cifWriteTimes, durationMs)
	case model.BackendDatabase:
		p.dbWriteTimes = append(p.dbWriteTimes, durationMs)
	case "dual":
		p.dualWriteTimes = append(p.dualWriteTimes, durationMs)
	}

	p.totalOperations++

	if !success && (backend == model.BackendDatabase || backend == "dual") {
		p.failoverCount++
	}
}

// RecordConsistencyCheck records the outcome of one consistency validation.
func (p *PerformanceMetrics) RecordConsistencyCheck(consistent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consistencyChecks++
	if !consistent {
		p.consistencyFailures++
	}
}

// TimingSummary describes one backend's write latency distribution.
type TimingSummary struct {
	AvgMs float64 `json:"avg_ms"`
	P95Ms float64 `json:"p95_ms"`
	Count int     `json:"count"`
}

// MetricsSummary is a consistent snapshot of the collector.
type MetricsSummary struct {
	CifWrites           TimingSummary `json:"cif_writes"`
	DbWrites            TimingSummary `json:"db_writes"`
	DualWrites          TimingSummary `json:"dual_writes"`
	FailoverCount       int64         `json:"failover_count"`
	ConsistencyChecks   int64         `json:"consistency_checks"`
	ConsistencyFailures int64         `json:"consistency_failures"`
	TotalOperations     int64         `json:"total_operations"`
}

// Summary computes average, p95 and count per timing list. With fewer than
// minPercentileSamples samples the p95 column reports the maximum observed
// value instead of an untrustworthy percentile.
func (p *PerformanceMetrics) Summary() MetricsSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	return MetricsSummary{
		CifWrites:           summarize(p.cifWriteTimes),
		DbWrites:            summarize(p.dbWriteTimes),
		DualWrites:          summarize(p.dualWriteTimes),
		FailoverCount:       p.failoverCount,
		ConsistencyChecks:   p.consistencyChecks,
		ConsistencyFailures: p.consistencyFailures,
		TotalOperations:     p.totalOperations,
	}
}

func summarize(times []float64) TimingSummary {
	if len(times) == 0 {
		return TimingSummary{}
	}

	sum := 0.0
	max := times[0]
	for _, v := range times {
		sum += v
		if v > max {
			max = v
		}
	}

	p95 := max
	if len(times) >= minPercentileSamples {
		sorted := make([]float64, len(times))
		copy(sorted, times)
		sort.Float64s(sorted)
		p95 = sorted[int(float64(len(sorted))*0.95)]
	}

	return TimingSummary{
		AvgMs: sum / float64(len(times)),
		P95Ms: p95,
		Count: len(times),
	}
}
