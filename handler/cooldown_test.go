package handler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/handler"
)

func TestCooldownGuard(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	seedIncident(t, f, "old-completed", entity.StateCompleted, 10*time.Minute)

	at := f.clock.Now().Add(-time.Minute)
	for id, state := range map[string]entity.WorkflowState{
		"failed-x":    entity.StateFailed,
		"reviewing-x": entity.StateManualReview,
	} {
		require.NoError(t, f.store.CreateIncident(ctx, &entity.Incident{
			IncidentID: id, CreatedAt: at, UpdatedAt: at,
			ResourceType: "compute", ResourceID: "X", ResourceKey: "compute#X",
			WorkflowState: state,
		}))
	}

	g := handler.NewCooldownGuard(f.store, 5*time.Minute, nil, f.clock.Now)
	hold, _, err := g.IsInCooldown(ctx, "compute#X", "")
	require.NoError(t, err)
	assert.False(t, hold, "failed and manual review do not hold the cooldown")

	strict := handler.NewCooldownGuard(f.store, 5*time.Minute, []entity.WorkflowState{entity.StateFailed}, f.clock.Now)
	hold, last, err := strict.IsInCooldown(ctx, "compute#X", "")
	require.NoError(t, err)
	assert.True(t, hold)
	assert.Equal(t, "failed-x", last)

	hold, _, err = strict.IsInCooldown(ctx, "compute#X", "failed-x")
	require.NoError(t, err)
	assert.False(t, hold)

	hold, _, err = g.IsInCooldown(ctx, "compute#old-completed", "")
	require.NoError(t, err)
	assert.False(t, hold, "outside the window")
}
