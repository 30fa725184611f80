package entity

import (
	"encoding/json"
	"fmt"
	"time"
)

type Outcome struct {
	Success  bool          `json:"success" dynamo:"success"`
	Duration time.Duration `json:"duration" dynamo:"duration"`
	Reason   string        `json:"reason,omitempty" dynamo:"reason,omitempty"`
}

// 状態変更の履歴。上書きせず追記のみ
type Transition struct {
	From   WorkflowState `json:"from,omitempty" dynamo:"from,omitempty"`
	To     WorkflowState `json:"to" dynamo:"to"`
	Reason string        `json:"reason,omitempty" dynamo:"reason,omitempty"`
	At     time.Time     `json:"at" dynamo:"at"`
}

type Incident struct {
	IncidentID          string          `json:"incident_id" dynamo:"incident_id,hash"`
	CreatedAt           time.Time       `json:"created_at" dynamo:"created_at,unixtime"`
	UpdatedAt           time.Time       `json:"updated_at" dynamo:"updated_at,unixtime"`
	EventSource         string          `json:"event_source" dynamo:"event_source,omitempty"`
	EventName           string          `json:"event_name" dynamo:"event_name,omitempty"`
	Actor               string          `json:"actor,omitempty" dynamo:"actor,omitempty"`
	ResourceType        string          `json:"resource_type" dynamo:"resource_type,omitempty"`
	ResourceID          string          `json:"resource_id" dynamo:"resource_id,omitempty"`
	ResourceKey         string          `json:"resource_key" dynamo:"resource_key,omitempty"`
	WorkflowState       WorkflowState   `json:"workflow_state" dynamo:"workflow_state"`
	Classification      Classification  `json:"classification,omitempty" dynamo:"classification,omitempty"`
	Confidence          float64         `json:"confidence" dynamo:"confidence"`
	Severity            int             `json:"severity" dynamo:"severity"`
	Reasoning           string          `json:"reasoning,omitempty" dynamo:"reasoning,omitempty"`
	PredictedImpact     string          `json:"predicted_impact,omitempty" dynamo:"predicted_impact,omitempty"`
	Decision            Decision        `json:"decision,omitempty" dynamo:"decision,omitempty"`
	RecoveryDispatchRef string          `json:"recovery_dispatch_ref,omitempty" dynamo:"recovery_dispatch_ref,omitempty"`
	Outcome             *Outcome        `json:"outcome,omitempty" dynamo:"outcome,omitempty"`
	Reason              string          `json:"reason,omitempty" dynamo:"reason,omitempty"`
	Error               string          `json:"error,omitempty" dynamo:"error,omitempty"`
	RawEvent            json.RawMessage `json:"raw_event" dynamo:"raw_event,omitempty"`
	Transitions         []Transition    `json:"transitions" dynamo:"transitions"`
}

func ResourceKey(resourceType, resourceID string) string {
	return resourceType + "#" + resourceID
}

// IncidentUpdate は1回の状態遷移で書き込む内容
type IncidentUpdate struct {
	From        WorkflowState
	To          WorkflowState
	At          time.Time
	Reason      string
	Error       string
	Analysis    *Analysis
	Decision    Decision
	DispatchRef string
	Outcome     *Outcome
}

func (u IncidentUpdate) Transition() Transition {
	return Transition{From: u.From, To: u.To, Reason: u.Reason, At: u.At}
}

// Apply は現在の状態に対して u を検証し、レコードへ反映する
func (i *Incident) Apply(u IncidentUpdate) error {
	if i.WorkflowState != u.From {
		return fmt.Errorf("%w: incident %s is %s, not %s", ErrIllegalTransition, i.IncidentID, i.WorkflowState, u.From)
	}
	if !u.From.CanTransitionTo(u.To) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, u.From, u.To)
	}
	if u.Analysis != nil && i.Classification != "" {
		return fmt.Errorf("%w: classification of %s", ErrImmutableField, i.IncidentID)
	}
	if u.Decision != "" && i.Decision != "" {
		return fmt.Errorf("%w: decision of %s", ErrImmutableField, i.IncidentID)
	}
	if u.Outcome != nil && i.Outcome != nil {
		return fmt.Errorf("%w: outcome of %s", ErrImmutableField, i.IncidentID)
	}

	if u.Analysis != nil {
		i.Classification = u.Analysis.Classification
		i.Confidence = u.Analysis.Confidence
		i.Severity = u.Analysis.Severity
		i.Reasoning = u.Analysis.Reasoning
		i.PredictedImpact = u.Analysis.PredictedImpact
	}
	if u.Decision != "" {
		i.Decision = u.Decision
	}
	if u.DispatchRef != "" {
		i.RecoveryDispatchRef = u.DispatchRef
	}
	if u.Outcome != nil {
		o := *u.Outcome
		i.Outcome = &o
	}
	if u.Reason != "" {
		i.Reason = u.Reason
	}
	if u.Error != "" {
		i.Error = u.Error
	}
	i.WorkflowState = u.To
	i.UpdatedAt = u.At
	i.Transitions = append(i.Transitions, u.Transition())
	return nil
}

// HasApplied は u が既に書き込み済みかを返す。リトライで条件付き書き込みが失敗したときの判定に使う
func (i *Incident) HasApplied(u IncidentUpdate) bool {
	if i.WorkflowState != u.To || len(i.Transitions) == 0 {
		return false
	}
	last := i.Transitions[len(i.Transitions)-1]
	return last.From == u.From && last.To == u.To && last.At.Equal(u.At)
}

// 最後に状態が変わった時刻
func (i *Incident) LastTransitionAt() time.Time {
	if len(i.Transitions) == 0 {
		return i.CreatedAt
	}
	return i.Transitions[len(i.Transitions)-1].At
}

type IncidentOutcome struct {
	IncidentID  string        `json:"incident_id"`
	State       WorkflowState `json:"workflow_state"`
	Decision    Decision      `json:"decision,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	DispatchRef string        `json:"recovery_dispatch_ref,omitempty"`
}

func (i *Incident) Result() *IncidentOutcome {
	return &IncidentOutcome{
		IncidentID:  i.IncidentID,
		State:       i.WorkflowState,
		Decision:    i.Decision,
		Reason:      i.Reason,
		DispatchRef: i.RecoveryDispatchRef,
	}
}

// 終了時に出力するメトリクスイベント
type IncidentMetric struct {
	ResourceType   string
	Classification Classification
	Decision       Decision
	Outcome        WorkflowState
	Duration       time.Duration
}

func (i *Incident) Metric() IncidentMetric {
	m := IncidentMetric{
		ResourceType:   i.ResourceType,
		Classification: i.Classification,
		Decision:       i.Decision,
		Outcome:        i.WorkflowState,
	}
	if i.Outcome != nil {
		m.Duration = i.Outcome.Duration
	}
	return m
}
