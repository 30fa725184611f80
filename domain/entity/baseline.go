package entity

import (
	"math"
	"time"
)

type Baseline struct {
	BaselineKey string    `json:"baseline_key" dynamo:"baseline_key,hash"`
	Source      string    `json:"source" dynamo:"source"`
	Pattern     string    `json:"pattern" dynamo:"pattern"`
	Mean        float64   `json:"mean" dynamo:"mean"`
	Variance    float64   `json:"variance" dynamo:"variance"`
	SampleCount int64     `json:"sample_count" dynamo:"sample_count"`
	LastCycleID string    `json:"last_cycle_id,omitempty" dynamo:"last_cycle_id,omitempty"`
	LastUpdated time.Time `json:"last_updated" dynamo:"last_updated"`
}

func BaselineKey(source, pattern string) string {
	return source + "#" + pattern
}

func NewBaseline(source, pattern string) Baseline {
	return Baseline{
		BaselineKey: BaselineKey(source, pattern),
		Source:      source,
		Pattern:     pattern,
	}
}

func (b Baseline) StdDev() float64 {
	if b.Variance <= 0 {
		return 0
	}
	return math.Sqrt(b.Variance)
}

type MonitoredSource struct {
	Name            string `mapstructure:"name" validate:"required"`
	Path            string `mapstructure:"path"`
	TimestampLayout string `mapstructure:"timestamp_layout"`
	Disabled        bool   `mapstructure:"disabled"`
}

type LogPattern struct {
	Name  string `mapstructure:"name" validate:"required"`
	Regex string `mapstructure:"regex" validate:"required"`
}
