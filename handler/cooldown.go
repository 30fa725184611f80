package handler

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
)

var DefaultHoldStates = []entity.WorkflowState{entity.StateExecuting, entity.StateVerifying, entity.StateCompleted}

// CooldownGuard は直近に復旧を試みたリソースへの再実行を抑止する
type CooldownGuard struct {
	repo       repository.IncidentRepository
	window     time.Duration
	holdStates []entity.WorkflowState
	now        func() time.Time
}

func NewCooldownGuard(repo repository.IncidentRepository, window time.Duration, holdStates []entity.WorkflowState, now func() time.Time) *CooldownGuard {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if len(holdStates) == 0 {
		holdStates = DefaultHoldStates
	}
	if now == nil {
		now = time.Now
	}
	return &CooldownGuard{repo: repo, window: window, holdStates: holdStates, now: now}
}

// IsInCooldown は window 内に保持対象の状態のインシデントがあれば、その中で最新のIDを返す。
// 見つからなければクールダウン外とみなす
func (g *CooldownGuard) IsInCooldown(ctx context.Context, resourceKey, excludeID string) (bool, string, error) {
	incidents, err := g.repo.IncidentsByResource(ctx, resourceKey, g.now().Add(-g.window))
	if err != nil {
		return false, "", fmt.Errorf("failed to query cooldown for %s: %w", resourceKey, err)
	}

	var last *entity.Incident
	for i := range incidents {
		inc := &incidents[i]
		if inc.IncidentID == excludeID || !slices.Contains(g.holdStates, inc.WorkflowState) {
			continue
		}
		if last == nil || inc.CreatedAt.After(last.CreatedAt) {
			last = inc
		}
	}
	if last == nil {
		return false, "", nil
	}
	return true, last.IncidentID, nil
}
