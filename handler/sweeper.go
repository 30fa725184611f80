package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
)

type sweepRule struct {
	from    entity.WorkflowState
	to      entity.WorkflowState
	reason  string
	timeout time.Duration
}

// Sweeper は途中で止まったインシデントを終了状態に倒す。
// 再開したレコードを自動復旧に進めることはしない
type Sweeper struct {
	engine *Engine
	store  repository.IncidentRepository
	rules  []sweepRule
	now    func() time.Time
}

func NewSweeper(engine *Engine, store repository.IncidentRepository, stallTimeout, verificationTimeout time.Duration) *Sweeper {
	return &Sweeper{
		engine: engine,
		store:  store,
		now:    engine.now,
		rules: []sweepRule{
			{from: entity.StateDetecting, to: entity.StateManualReview, reason: ReasonStalled, timeout: stallTimeout},
			{from: entity.StateAnalyzing, to: entity.StateManualReview, reason: ReasonStalled, timeout: stallTimeout},
			{from: entity.StateExecuting, to: entity.StateFailed, reason: ReasonStalled, timeout: stallTimeout},
			{from: entity.StateVerifying, to: entity.StateFailed, reason: ReasonVerificationTimeout, timeout: verificationTimeout},
		},
	}
}

// Sweep は終了させた件数を返す。並行して進んだレコードはスキップする
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var swept int
	var errs []error
	for _, r := range s.rules {
		stale, err := s.store.IncidentsByState(ctx, r.from, s.now().Add(-r.timeout))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list %s incidents: %w", r.from, err))
			continue
		}
		for i := range stale {
			inc := &stale[i]
			if inc.WorkflowState != r.from {
				continue
			}
			_, err := s.engine.terminate(ctx, inc, r.to, r.reason, fmt.Errorf("no progress since %s", inc.LastTransitionAt().Format(time.RFC3339)))
			if err != nil {
				if errors.Is(err, entity.ErrIllegalTransition) {
					continue
				}
				errs = append(errs, err)
				continue
			}
			swept++
		}
	}
	return swept, errors.Join(errs...)
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Error("failed to sweep stalled incidents", slog.Any("err", err))
			}
			if n > 0 {
				slog.Info("swept stalled incidents", slog.Int("count", n))
			}
		}
	}
}
