package model

import (
	"math"
	"strconv"

	"github.com/pyama86/autoheal/domain/entity"
)

// z-score は +Inf になり得るので文字列で渡す
type AnomalySummary struct {
	Pattern  string `json:"pattern"`
	Count    int    `json:"count"`
	Mean     string `json:"mean"`
	StdDev   string `json:"stddev"`
	ZScore   string `json:"z_score"`
	Severity string `json:"severity"`
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func NewAnomalySummary(a entity.Anomaly) AnomalySummary {
	return AnomalySummary{
		Pattern:  a.Pattern,
		Count:    a.Count,
		Mean:     formatFloat(a.Mean),
		StdDev:   formatFloat(a.StdDev),
		ZScore:   formatFloat(a.ZScore),
		Severity: string(a.Severity),
	}
}

type PredictionRequest struct {
	Source    string
	Anomalies []AnomalySummary
}

type PredictionResponse struct {
	FailureProbability *float64 `json:"failure_probability" validate:"required,gte=0,lte=1"`
	RecommendedAction  string   `json:"recommended_action" validate:"required"`
	Narrative          string   `json:"narrative"`
}

func (r *PredictionResponse) Prediction(source string) *entity.Prediction {
	return &entity.Prediction{
		Source:             source,
		FailureProbability: *r.FailureProbability,
		RecommendedAction:  r.RecommendedAction,
		Narrative:          r.Narrative,
	}
}
