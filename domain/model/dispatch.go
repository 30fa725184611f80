package model

import "github.com/pyama86/autoheal/domain/entity"

// 復旧パイプラインへ送るリクエスト
type DispatchRequest struct {
	IncidentID     string                `json:"incident_id"`
	Pipeline       string                `json:"pipeline"`
	ResourceType   string                `json:"resource_type"`
	ResourceID     string                `json:"resource_id"`
	Classification entity.Classification `json:"classification"`
	Severity       int                   `json:"severity"`
	Reasoning      string                `json:"reasoning"`
	CallbackURL    string                `json:"callback_url,omitempty"`
}

type DispatchResponse struct {
	ExecutionRef string `json:"execution_ref"`
}
