package triage

import (
	"math"

	"github.com/pyama86/autoheal/domain/entity"
)

const DefaultConfidenceThreshold = 0.8

// 判定理由
const (
	ReasonClassifiedNormal = "classified_normal"
	ReasonLowConfidence    = "low_confidence"
	ReasonAnomalyReview    = "anomaly_review"
	ReasonAutoRemediate    = "auto_remediate"
	ReasonInvalidAnalysis  = "invalid_analysis"
)

type Router struct {
	ConfidenceThreshold float64
}

func NewRouter(threshold float64) *Router {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &Router{ConfidenceThreshold: threshold}
}

// Decide は分類結果から判定を返す。I/O は行わない
// 信頼度が閾値未満なら分類に関わらず MANUAL_REVIEW。severity は判定に使わない
func (r *Router) Decide(c entity.Classification, confidence float64, severity int) (entity.Decision, string) {
	if !c.Valid() || math.IsNaN(confidence) {
		return entity.DecisionManualReview, ReasonInvalidAnalysis
	}
	if confidence < r.ConfidenceThreshold {
		return entity.DecisionManualReview, ReasonLowConfidence
	}
	switch c {
	case entity.ClassificationNormal:
		return entity.DecisionIgnore, ReasonClassifiedNormal
	case entity.ClassificationFailure, entity.ClassificationTampering:
		return entity.DecisionAutoRemediate, ReasonAutoRemediate
	default:
		return entity.DecisionManualReview, ReasonAnomalyReview
	}
}
