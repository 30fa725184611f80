package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/presentation/report"
)

const DefaultAlertThreshold = 0.7

// Predictor は異常から障害の可能性を推定し、閾値を超えたら通知する。
// 予測から復旧を起動することはない
type Predictor struct {
	classifier repository.ClassifierRepositorier
	notifier   repository.NotificationRepository
	metrics    repository.MetricsRepository
	threshold  float64
}

// threshold は (0, 1]。範囲外なら DefaultAlertThreshold を使う
func NewPredictor(classifier repository.ClassifierRepositorier, notifier repository.NotificationRepository, metrics repository.MetricsRepository, threshold float64) *Predictor {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultAlertThreshold
	}
	return &Predictor{classifier: classifier, notifier: notifier, metrics: metrics, threshold: threshold}
}

func (p *Predictor) Predict(ctx context.Context, source string, anomalies []entity.Anomaly) (*entity.Prediction, error) {
	if len(anomalies) == 0 {
		return nil, nil
	}
	req := model.PredictionRequest{Source: source}
	for _, a := range anomalies {
		req.Anomalies = append(req.Anomalies, model.NewAnomalySummary(a))
	}

	pred, err := p.classifier.Predict(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to predict failure for %s: %w", source, err)
	}
	if pred.FailureProbability <= p.threshold {
		return pred, nil
	}

	pred.Alerted = true
	if p.metrics != nil {
		p.metrics.ObservePredictiveAlert(source)
	}
	slog.Warn("failure predicted",
		slog.String("source", source),
		slog.Float64("failure_probability", pred.FailureProbability),
		slog.String("recommended_action", pred.RecommendedAction),
	)

	if p.notifier != nil {
		n := entity.Notification{
			Severity: predictionSeverity(anomalies),
			Subject:  report.PredictionSubject(pred),
			Body:     report.RenderPrediction(pred, anomalies),
		}
		if err := p.notifier.Notify(ctx, n); err != nil {
			slog.Warn("failed to notify prediction", slog.String("source", source), slog.Any("err", err))
		}
	}
	return pred, nil
}

func predictionSeverity(anomalies []entity.Anomaly) int {
	for _, a := range anomalies {
		if a.Severity == entity.AnomalySeverityHigh {
			return entity.NotifySeverityCritical
		}
	}
	return entity.NotifySeverityWarning
}
