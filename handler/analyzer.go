package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/domain/triage"
)

// AnomalyDetector はパターンごとの出現数をベースラインと比較し、比較後にベースラインへ取り込む
type AnomalyDetector struct {
	repo       repository.BaselineRepository
	thresholds triage.Thresholds
	attempts   int
	metrics    repository.MetricsRepository
	now        func() time.Time
}

func NewAnomalyDetector(repo repository.BaselineRepository, t triage.Thresholds, attempts int, metrics repository.MetricsRepository, now func() time.Time) *AnomalyDetector {
	if attempts < 1 {
		attempts = 1
	}
	if now == nil {
		now = time.Now
	}
	return &AnomalyDetector{repo: repo, thresholds: t, attempts: attempts, metrics: metrics, now: now}
}

func sortedPatterns(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (d *AnomalyDetector) baseline(ctx context.Context, source, pattern string) (*entity.Baseline, error) {
	b, err := d.repo.FindBaseline(ctx, entity.BaselineKey(source, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline %s: %w", entity.BaselineKey(source, pattern), err)
	}
	if b == nil {
		nb := entity.NewBaseline(source, pattern)
		return &nb, nil
	}
	return b, nil
}

// DetectAnomalies はベースラインを読むだけで更新しない
func (d *AnomalyDetector) DetectAnomalies(ctx context.Context, source string, counts map[string]int) ([]entity.Anomaly, error) {
	at := d.now()
	var anomalies []entity.Anomaly
	for _, pattern := range sortedPatterns(counts) {
		b, err := d.baseline(ctx, source, pattern)
		if err != nil {
			return nil, err
		}
		a, ok := triage.Assess(*b, counts[pattern], d.thresholds, at)
		if !ok {
			continue
		}
		anomalies = append(anomalies, *a)
		if d.metrics != nil {
			d.metrics.ObserveAnomaly(*a)
		}
	}
	return anomalies, nil
}

// Absorb は counts を各パターンのベースラインへ取り込む。
// 競合したら読み直してやり直し、使い切ったら更新を諦めて記録する
func (d *AnomalyDetector) Absorb(ctx context.Context, source string, counts map[string]int, cycleID string) error {
	at := d.now()
	for _, pattern := range sortedPatterns(counts) {
		if err := ctx.Err(); err != nil {
			return err
		}
		obs := triage.Observation{Value: float64(counts[pattern]), CycleID: cycleID, At: at}
		if err := d.absorb(ctx, source, pattern, obs); err != nil {
			return err
		}
	}
	return nil
}

func (d *AnomalyDetector) absorb(ctx context.Context, source, pattern string, obs triage.Observation) error {
	for attempt := 1; attempt <= d.attempts; attempt++ {
		b, err := d.baseline(ctx, source, pattern)
		if err != nil {
			return err
		}
		next, changed := triage.Absorb(*b, obs)
		if !changed {
			return nil
		}
		err = d.repo.SaveBaseline(ctx, &next, b.SampleCount)
		if err == nil {
			return nil
		}
		if !errors.Is(err, entity.ErrBaselineConflict) {
			return fmt.Errorf("failed to save baseline %s: %w", next.BaselineKey, err)
		}
		slog.Debug("baseline conflict, retrying", slog.String("baseline_key", next.BaselineKey), slog.Int("attempt", attempt))
	}

	slog.Error("baseline update lost",
		slog.String("source", source),
		slog.String("pattern", pattern),
		slog.String("cycle_id", obs.CycleID),
		slog.Int("attempts", d.attempts),
	)
	if d.metrics != nil {
		d.metrics.ObserveLostUpdate(source)
	}
	return nil
}

type CycleResult struct {
	Source     string
	CycleID    string
	Counts     map[string]int
	Anomalies  []entity.Anomaly
	Prediction *entity.Prediction
	Absorbed   bool
}

// Analyzer は監視対象のログを定期的に集計して異常を検知する
type Analyzer struct {
	detector  *AnomalyDetector
	extractor *triage.PatternExtractor
	predictor *Predictor
	logs      repository.LogRepository
	sources   []entity.MonitoredSource
	now       func() time.Time
}

func NewAnalyzer(detector *AnomalyDetector, extractor *triage.PatternExtractor, predictor *Predictor, logs repository.LogRepository, sources []entity.MonitoredSource) *Analyzer {
	return &Analyzer{
		detector:  detector,
		extractor: extractor,
		predictor: predictor,
		logs:      logs,
		sources:   sources,
		now:       detector.now,
	}
}

// RunCycle は検知してからベースラインへ取り込む。ctx が終わっていれば取り込みは行わない
func (a *Analyzer) RunCycle(ctx context.Context, source string, lines []string, cycleID string) (*CycleResult, error) {
	result := &CycleResult{Source: source, CycleID: cycleID, Counts: a.extractor.Extract(lines)}

	anomalies, err := a.detector.DetectAnomalies(ctx, source, result.Counts)
	if err != nil {
		return nil, err
	}
	result.Anomalies = anomalies

	if len(anomalies) > 0 && a.predictor != nil {
		pred, err := a.predictor.Predict(ctx, source, anomalies)
		if err != nil {
			slog.Warn("prediction failed", slog.String("source", source), slog.Any("err", err))
		}
		result.Prediction = pred
	}

	if ctx.Err() != nil {
		slog.Warn("cycle cancelled, skipping baseline update", slog.String("source", source), slog.String("cycle_id", cycleID))
		return result, nil
	}
	if err := a.detector.Absorb(ctx, source, result.Counts, cycleID); err != nil {
		if ctx.Err() != nil {
			return result, nil
		}
		return result, err
	}
	result.Absorbed = true
	return result, nil
}

// cycleID は集計窓の終端から決めるので、同じ窓を再実行しても二重に取り込まない
func cycleID(source string, until time.Time) string {
	return fmt.Sprintf("%s@%d", source, until.Unix())
}

func (a *Analyzer) runSource(ctx context.Context, src entity.MonitoredSource, since, until time.Time) {
	lines, err := a.logs.Lines(ctx, src, since, until)
	if err != nil {
		slog.Error("failed to read logs", slog.String("source", src.Name), slog.Any("err", err))
		return
	}
	result, err := a.RunCycle(ctx, src.Name, lines, cycleID(src.Name, until))
	if err != nil {
		slog.Error("anomaly cycle failed", slog.String("source", src.Name), slog.Any("err", err))
		return
	}
	slog.Info("anomaly cycle finished",
		slog.String("source", src.Name),
		slog.String("cycle_id", result.CycleID),
		slog.Int("lines", len(lines)),
		slog.Int("anomalies", len(result.Anomalies)),
		slog.Bool("absorbed", result.Absorbed),
	)
}

// Run は interval ごとに各ソースの直前の窓を処理する。各サイクルは interval で打ち切る
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			until := a.now().Truncate(time.Second)
			for _, src := range a.sources {
				if src.Disabled || src.Path == "" {
					continue
				}
				since, ok := last[src.Name]
				if !ok {
					since = until.Add(-interval)
				}
				cctx, cancel := context.WithTimeout(ctx, interval)
				a.runSource(cctx, src, since, until)
				cancel()
				last[src.Name] = until
			}
		}
	}
}
