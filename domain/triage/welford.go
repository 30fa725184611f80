package triage

import (
	"time"

	"github.com/pyama86/autoheal/domain/entity"
)

// 1 サイクル分の観測値
type Observation struct {
	Value   float64
	CycleID string
	At      time.Time
}

// Absorb は Welford 法で観測値をベースラインに取り込んだ新しい値を返す
// 同じサイクル ID の観測は二重に数えず false を返す
func Absorb(b entity.Baseline, o Observation) (entity.Baseline, bool) {
	if o.CycleID != "" && o.CycleID == b.LastCycleID {
		return b, false
	}

	n := b.SampleCount
	m2 := b.Variance * float64(n)
	n++
	delta := o.Value - b.Mean
	mean := b.Mean + delta/float64(n)
	m2 += delta * (o.Value - mean)

	b.SampleCount = n
	b.Mean = mean
	b.Variance = m2 / float64(n)
	if b.Variance < 0 {
		b.Variance = 0
	}
	b.LastCycleID = o.CycleID
	b.LastUpdated = o.At
	return b, true
}
