package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_EmptySummary(t *testing.T) {
	m := NewPerformanceMetrics()
	s := m.Summary()

	assert.Equal(t, 0, s.CifWrites.Count)
	assert.Equal(t, 0.0, s.CifWrites.AvgMs)
	assert.Equal(t, int64(0), s.FailoverCount)
	assert.Equal(t, int64(0), s.TotalOperations)
}

func TestMetrics_AverageAndCount(t *testing.T) {
	m := NewPerformanceMetrics()
	m.RecordWrite("cif", 10, true)
	m.RecordWrite("cif", 20, true)
	m.RecordWrite("cif", 30, true)

	s := m.Summary()
	assert.Equal(t, 3, s.CifWrites.Count)
	assert.InDelta(t, 20.0, s.CifWrites.AvgMs, 0.001)
	assert.Equal(t, int64(3), s.TotalOperations)
}

func TestMetrics_P95FallsBackToMaxBelowTwentySamples(t *testing.T) {
	m := NewPerformanceMetrics()
	for i := 1; i <= 19; i++ {
		m.RecordWrite("database", float64(i), true)
	}

	s := m.Summary()
	assert.Equal(t, 19, s.DbWrites.Count)
	assert.Equal(t, 19.0, s.DbWrites.P95Ms)
}

func TestMetrics_P95WithEnoughSamples(t *testing.T) {
	m := NewPerformanceMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordWrite("database", float64(i), true)
	}

	s := m.Summary()
	assert.Equal(t, 100, s.DbWrites.Count)
	assert.Equal(t, 96.0, s.DbWrites.P95Ms)
}

func TestMetrics_FailoverCounter(t *testing.T) {
	m := NewPerformanceMetrics()

	// Only failed database and dual writes count as failovers.
	m.RecordWrite("cif", 5, false)
	assert.Equal(t, int64(0), m.Summary().FailoverCount)

	m.RecordWrite("database", 5, false)
	m.RecordWrite("dual", 5, false)
	m.RecordWrite("database", 5, true)
	assert.Equal(t, int64(2), m.Summary().FailoverCount)
}

func TestMetrics_ConsistencyCounters(t *testing.T) {
	m := NewPerformanceMetrics()
	m.RecordConsistencyCheck(true)
	m.RecordConsistencyCheck(true)
	m.RecordConsistencyCheck(false)

	s := m.Summary()
	assert.Equal(t, int64(3), s.ConsistencyChecks)
	assert.Equal(t, int64(1), s.ConsistencyFailures)
}
