package entity

import "time"

type AnomalySeverity string

const (
	AnomalySeverityMedium AnomalySeverity = "medium"
	AnomalySeverityHigh   AnomalySeverity = "high"
)

type Anomaly struct {
	Source      string
	Pattern     string
	Count       int
	Mean        float64
	StdDev      float64
	SampleCount int64
	ZScore      float64
	Severity    AnomalySeverity
	DetectedAt  time.Time
}

type Prediction struct {
	Source             string  `json:"source"`
	FailureProbability float64 `json:"failure_probability"`
	RecommendedAction  string  `json:"recommended_action"`
	Narrative          string  `json:"narrative"`
	Alerted            bool    `json:"alerted"`
}
