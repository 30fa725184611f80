package report_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/presentation/report"
)

func TestRenderIncident(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inc := &entity.Incident{
		IncidentID:     "i-1",
		CreatedAt:      at,
		ResourceType:   "compute",
		ResourceID:     "X",
		EventName:      "Terminate",
		WorkflowState:  entity.StateManualReview,
		Reason:         "low_confidence",
		Classification: entity.ClassificationFailure,
		Confidence:     0.6,
		Severity:       7,
		Outcome:        &entity.Outcome{Duration: 90 * time.Second},
		Transitions: []entity.Transition{
			{To: entity.StateDetecting, At: at},
			{From: entity.StateDetecting, To: entity.StateAnalyzing, At: at},
			{From: entity.StateAnalyzing, To: entity.StateManualReview, At: at, Reason: "low_confidence"},
		},
	}

	body := report.RenderIncident(inc)
	assert.Equal(t, "[MANUAL_REVIEW] compute X (low_confidence)", report.IncidentSubject(inc))
	assert.True(t, strings.Contains(body, "FAILURE (confidence=0.60, severity=7)"))
	assert.True(t, strings.Contains(body, "ANALYZING → MANUAL_REVIEW (low_confidence)"))
	assert.True(t, strings.Contains(body, "(作成) → DETECTING"))
	assert.True(t, strings.Contains(body, "success=false duration=1m30s"))
}

func TestRenderPrediction(t *testing.T) {
	p := &entity.Prediction{Source: "api", FailureProbability: 0.82, RecommendedAction: "scale out"}
	body := report.RenderPrediction(p, []entity.Anomaly{
		{Pattern: "timeout", Count: 40, Mean: 0, StdDev: 0, ZScore: math.Inf(1), Severity: entity.AnomalySeverityHigh},
	})
	assert.Equal(t, "[PREDICTION] api failure probability 82%", report.PredictionSubject(p))
	assert.True(t, strings.Contains(body, "| timeout | 40 | 0.00 | 0.00 | +Inf | high |"))
	assert.True(t, strings.Contains(body, "scale out"))
}
