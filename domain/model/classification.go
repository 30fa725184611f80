package model

import (
	"strings"

	"github.com/pyama86/autoheal/domain/entity"
)

// 分類器に渡す入力
type ClassificationRequest struct {
	Event    entity.Event
	Resource entity.Resource
	History  []IncidentSummary
}

// 分類器の応答スキーマ。未知のフィールドは許可しない
type ClassificationResponse struct {
	Classification  string   `json:"classification" validate:"required,oneof=FAILURE TAMPERING ANOMALY NORMAL"`
	Confidence      *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Severity        *int     `json:"severity" validate:"required,gte=1,lte=10"`
	Reasoning       string   `json:"reasoning" validate:"required"`
	PredictedImpact string   `json:"predicted_impact"`
}

func (r *ClassificationResponse) Normalize() {
	r.Classification = strings.ToUpper(strings.TrimSpace(r.Classification))
}

func (r *ClassificationResponse) Analysis() *entity.Analysis {
	return &entity.Analysis{
		Classification:  entity.Classification(r.Classification),
		Confidence:      *r.Confidence,
		Severity:        *r.Severity,
		Reasoning:       r.Reasoning,
		PredictedImpact: r.PredictedImpact,
	}
}

// 過去インシデントの要約。プロンプトと API 応答で使う
type IncidentSummary struct {
	IncidentID     string                `json:"incident_id"`
	CreatedAt      string                `json:"created_at"`
	EventName      string                `json:"event_name"`
	ResourceID     string                `json:"resource_id"`
	Classification entity.Classification `json:"classification"`
	Severity       int                   `json:"severity"`
	Decision       entity.Decision       `json:"decision,omitempty"`
	State          entity.WorkflowState  `json:"workflow_state"`
	Reasoning      string                `json:"reasoning,omitempty"`
}

func NewIncidentSummary(i *entity.Incident) IncidentSummary {
	return IncidentSummary{
		IncidentID:     i.IncidentID,
		CreatedAt:      i.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		EventName:      i.EventName,
		ResourceID:     i.ResourceID,
		Classification: i.Classification,
		Severity:       i.Severity,
		Decision:       i.Decision,
		State:          i.WorkflowState,
		Reasoning:      i.Reasoning,
	}
}
