package triage

import (
	"math"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
)

const (
	DefaultZThreshold     = 2.0
	DefaultHighZThreshold = 3.0
)

type Thresholds struct {
	Z          float64
	HighZ      float64
	MinSamples int64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Z <= 0 {
		t.Z = DefaultZThreshold
	}
	if t.HighZ < t.Z {
		t.HighZ = math.Max(DefaultHighZThreshold, t.Z)
	}
	return t
}

// 標準偏差が 0 のとき、平均を上回れば +Inf、それ以外は 0
func ZScore(count, mean, stddev float64) float64 {
	if stddev == 0 {
		if count > mean {
			return math.Inf(1)
		}
		return 0
	}
	return (count - mean) / stddev
}

// Assess は count がベースラインから外れていれば Anomaly を返す
func Assess(b entity.Baseline, count int, t Thresholds, at time.Time) (*entity.Anomaly, bool) {
	t = t.withDefaults()
	if b.SampleCount == 0 || b.SampleCount < t.MinSamples {
		return nil, false
	}

	sd := b.StdDev()
	z := ZScore(float64(count), b.Mean, sd)
	if math.Abs(z) < t.Z {
		return nil, false
	}

	sev := entity.AnomalySeverityMedium
	if math.Abs(z) > t.HighZ {
		sev = entity.AnomalySeverityHigh
	}
	return &entity.Anomaly{
		Source:      b.Source,
		Pattern:     b.Pattern,
		Count:       count,
		Mean:        b.Mean,
		StdDev:      sd,
		SampleCount: b.SampleCount,
		ZScore:      z,
		Severity:    sev,
		DetectedAt:  at,
	}, true
}
