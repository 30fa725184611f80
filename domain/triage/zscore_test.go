package triage_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/triage"
)

func baseline(mean, variance float64, n int64) entity.Baseline {
	b := entity.NewBaseline("api", "error")
	b.Mean = mean
	b.Variance = variance
	b.SampleCount = n
	return b
}

func TestZScore(t *testing.T) {
	assert.Equal(t, 2.0, triage.ZScore(20, 10, 5))
	assert.Equal(t, 0.0, triage.ZScore(10, 10, 5))
	assert.Equal(t, -1.0, triage.ZScore(5, 10, 5))
	assert.True(t, math.IsInf(triage.ZScore(11, 10, 0), 1))
	assert.Equal(t, 0.0, triage.ZScore(10, 10, 0))
	assert.Equal(t, 0.0, triage.ZScore(9, 10, 0))
}

func TestAssess(t *testing.T) {
	th := triage.Thresholds{Z: 2.0, HighZ: 3.0}
	now := time.Now()

	t.Run("boundary is flagged", func(t *testing.T) {
		a, ok := triage.Assess(baseline(10, 25, 20), 20, th, now)
		require.True(t, ok)
		assert.Equal(t, 2.0, a.ZScore)
		assert.Equal(t, entity.AnomalySeverityMedium, a.Severity)
		assert.Equal(t, 5.0, a.StdDev)
		assert.Equal(t, "error", a.Pattern)
	})

	t.Run("mean is never anomalous", func(t *testing.T) {
		_, ok := triage.Assess(baseline(10, 25, 20), 10, th, now)
		assert.False(t, ok)
	})

	t.Run("high severity", func(t *testing.T) {
		a, ok := triage.Assess(baseline(10, 25, 20), 30, th, now)
		require.True(t, ok)
		assert.Equal(t, entity.AnomalySeverityHigh, a.Severity)
	})

	t.Run("drop below baseline", func(t *testing.T) {
		a, ok := triage.Assess(baseline(100, 25, 20), 80, th, now)
		require.True(t, ok)
		assert.Equal(t, -4.0, a.ZScore)
		assert.Equal(t, entity.AnomalySeverityHigh, a.Severity)
	})

	t.Run("flat baseline", func(t *testing.T) {
		a, ok := triage.Assess(baseline(0, 0, 20), 1, th, now)
		require.True(t, ok)
		assert.True(t, math.IsInf(a.ZScore, 1))
		assert.Equal(t, entity.AnomalySeverityHigh, a.Severity)

		_, ok = triage.Assess(baseline(0, 0, 20), 0, th, now)
		assert.False(t, ok)
	})

	t.Run("warm up", func(t *testing.T) {
		_, ok := triage.Assess(baseline(10, 25, 3), 100, triage.Thresholds{MinSamples: 5}, now)
		assert.False(t, ok)
		_, ok = triage.Assess(entity.NewBaseline("api", "error"), 100, th, now)
		assert.False(t, ok)
	})
}
