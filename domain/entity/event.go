package entity

import (
	"encoding/json"
	"time"
)

// イベントバスから受け取る正規化済みイベント
type Event struct {
	Source              string            `json:"source" validate:"required"`
	EventName           string            `json:"event_name" validate:"required"`
	ResourceIdentifiers map[string]string `json:"resource_identifiers"`
	ResourceType        string            `json:"resource_type,omitempty"`
	ResourceID          string            `json:"resource_id,omitempty"`
	Actor               string            `json:"actor"`
	Timestamp           time.Time         `json:"timestamp"`
	Detail              json.RawMessage   `json:"detail,omitempty"`
}

type Resource struct {
	Type     string
	ID       string
	Pipeline string
}

func (r Resource) Key() string {
	return ResourceKey(r.Type, r.ID)
}

type ResourcePattern struct {
	Type       string   `mapstructure:"type" validate:"required"`
	Sources    []string `mapstructure:"sources"`
	Identifier string   `mapstructure:"identifier" validate:"required"`
	EventNames []string `mapstructure:"event_names"`
	Pipeline   string   `mapstructure:"pipeline"`
	Disabled   bool     `mapstructure:"disabled"`
}

// 検証結果。復旧パイプラインからのコールバックで届く
type Verification struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}
