package repository

import (
	"context"
	"slices"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
)

type IncidentRepository interface {
	// 同じIDが既に存在すれば entity.ErrDuplicateIncident
	CreateIncident(context.Context, *entity.Incident) error
	// 存在しなければ nil, nil
	FindIncident(context.Context, string) (*entity.Incident, error)
	// 保存済みの状態が u.From の場合だけ遷移する
	TransitionIncident(context.Context, string, entity.IncidentUpdate) (*entity.Incident, error)
	IncidentsByResource(context.Context, string, time.Time) ([]entity.Incident, error)
	// 新しい順に q.Limit 件まで。条件に合う件数が揃った時点で読むのをやめる
	RecentIncidentsByType(ctx context.Context, q ContextQuery) ([]entity.Incident, error)
	IncidentsByState(context.Context, entity.WorkflowState, time.Time) ([]entity.Incident, error)
}

// ContextQuery は同じ種類のリソースで Since 以降に作られたインシデントを探す条件
type ContextQuery struct {
	ResourceType string
	Since        time.Time
	ExcludeID    string
	// 空なら分類を問わない
	Classifications []entity.Classification
	Limit           int
}

func (q ContextQuery) Matches(inc *entity.Incident) bool {
	if inc.IncidentID == q.ExcludeID {
		return false
	}
	return len(q.Classifications) == 0 || slices.Contains(q.Classifications, inc.Classification)
}

type BaselineRepository interface {
	FindBaseline(context.Context, string) (*entity.Baseline, error)
	// 保存済みの sample_count が expected と一致する場合だけ書き込む
	SaveBaseline(ctx context.Context, b *entity.Baseline, expected int64) error
}

type Store interface {
	IncidentRepository
	BaselineRepository
	Close() error
}

type ClassifierRepositorier interface {
	Classify(context.Context, model.ClassificationRequest) (*entity.Analysis, error)
	Predict(context.Context, model.PredictionRequest) (*entity.Prediction, error)
}

type DispatchRepository interface {
	Dispatch(context.Context, model.DispatchRequest) (string, error)
}

type NotificationRepository interface {
	Notify(context.Context, entity.Notification) error
}

type LogRepository interface {
	Lines(ctx context.Context, source entity.MonitoredSource, since, until time.Time) ([]string, error)
}

type MetricsRepository interface {
	ObserveIncident(entity.IncidentMetric)
	ObserveAnomaly(entity.Anomaly)
	ObservePredictiveAlert(source string)
	ObserveLostUpdate(source string)
}
