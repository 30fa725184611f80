package entity

import "fmt"

type WorkflowState string

const (
	StateDetecting    WorkflowState = "DETECTING"
	StateAnalyzing    WorkflowState = "ANALYZING"
	StateIgnored      WorkflowState = "IGNORED"
	StateExecuting    WorkflowState = "EXECUTING"
	StateVerifying    WorkflowState = "VERIFYING"
	StateCompleted    WorkflowState = "COMPLETED"
	StateFailed       WorkflowState = "FAILED"
	StateManualReview WorkflowState = "MANUAL_REVIEW"
)

// ワークフロー順の全状態
var AllWorkflowStates = []WorkflowState{
	StateDetecting,
	StateAnalyzing,
	StateIgnored,
	StateExecuting,
	StateVerifying,
	StateCompleted,
	StateFailed,
	StateManualReview,
}

// 状態遷移表。ここに無い遷移はすべて不正
var transitions = map[WorkflowState][]WorkflowState{
	StateDetecting:    {StateAnalyzing, StateIgnored, StateManualReview},
	StateAnalyzing:    {StateIgnored, StateManualReview, StateExecuting},
	StateExecuting:    {StateVerifying, StateFailed},
	StateVerifying:    {StateCompleted, StateFailed},
	StateIgnored:      {},
	StateCompleted:    {},
	StateFailed:       {},
	StateManualReview: {},
}

func (s WorkflowState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal はこれ以上遷移できない状態かを返す
func (s WorkflowState) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo は s から to への遷移が許可されているかを返す
func (s WorkflowState) CanTransitionTo(to WorkflowState) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

func ParseWorkflowState(v string) (WorkflowState, error) {
	s := WorkflowState(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown workflow state %q", v)
	}
	return s, nil
}
