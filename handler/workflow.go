package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/domain/triage"
	"github.com/pyama86/autoheal/presentation/report"
)

// ワークフローが記録する判定理由
const (
	ReasonCooldown              = "cooldown"
	ReasonCooldownUnavailable   = "cooldown_unavailable"
	ReasonUnrecognizedEvent     = "unrecognized_event"
	ReasonClassifierUnavailable = "classifier_unavailable"
	ReasonDispatchFailed        = "dispatch_failed"
	ReasonVerified              = "verified"
	ReasonVerificationFailed    = "verification_failed"
	ReasonVerificationTimeout   = "verification_timeout"
	ReasonStalled               = "stalled"
)

const failedNotifySeverity = 8

type EngineOptions struct {
	Router     *triage.Router
	Resolver   *triage.Resolver
	IDs        triage.CorrelationGenerator
	Cooldown   *CooldownGuard
	Context    *ContextMatcher
	Classifier repository.ClassifierRepositorier
	Dispatcher *RecoveryDispatcher
	Notifier   repository.NotificationRepository
	Metrics    repository.MetricsRepository
	// cooldown の照会に失敗したとき処理を続けるか
	FailOpen bool
	Now      func() time.Time
}

// Engine はイベント1件ごとにインシデントの状態遷移を進める。
// プロセス内に共有状態は持たず、排他はすべてストアの条件付き書き込みで行う
type Engine struct {
	store      repository.IncidentRepository
	router     *triage.Router
	resolver   *triage.Resolver
	ids        triage.CorrelationGenerator
	cooldown   *CooldownGuard
	context    *ContextMatcher
	classifier repository.ClassifierRepositorier
	dispatcher *RecoveryDispatcher
	notifier   repository.NotificationRepository
	metrics    repository.MetricsRepository
	failOpen   bool
	now        func() time.Time
	validate   *validator.Validate
}

func NewEngine(store repository.IncidentRepository, o EngineOptions) *Engine {
	e := &Engine{
		store:      store,
		router:     o.Router,
		resolver:   o.Resolver,
		ids:        o.IDs,
		cooldown:   o.Cooldown,
		context:    o.Context,
		classifier: o.Classifier,
		dispatcher: o.Dispatcher,
		notifier:   o.Notifier,
		metrics:    o.Metrics,
		failOpen:   o.FailOpen,
		now:        o.Now,
		validate:   validator.New(),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.router == nil {
		e.router = triage.NewRouter(triage.DefaultConfidenceThreshold)
	}
	if e.resolver == nil {
		e.resolver = triage.NewResolver(nil)
	}
	if e.ids == nil {
		e.ids = triage.NewCorrelationGenerator()
	}
	if e.cooldown == nil {
		e.cooldown = NewCooldownGuard(store, 0, nil, e.now)
	}
	if e.context == nil {
		e.context = NewContextMatcher(store, 0, 0, nil, e.now)
	}
	return e
}

func (e *Engine) HandleEvent(ctx context.Context, raw []byte) (*entity.IncidentOutcome, error) {
	return e.HandleEventWithID(ctx, e.ids.NewID(), raw)
}

// HandleEventWithID は呼び出し側が採番した ID でイベントを処理する。
// 同じ ID が既にあれば entity.ErrDuplicateIncident を返し、何も書き込まない
func (e *Engine) HandleEventWithID(ctx context.Context, id string, raw []byte) (*entity.IncidentOutcome, error) {
	var ev entity.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrInvalidEvent, err)
	}
	if err := e.validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrInvalidEvent, err)
	}

	// 解決は I/O を伴わないので、レコード作成前に済ませてリソースキーを索引に載せる
	res, resolveErr := e.resolver.Resolve(&ev)

	now := e.now()
	inc := &entity.Incident{
		IncidentID:    id,
		CreatedAt:     now,
		UpdatedAt:     now,
		EventSource:   ev.Source,
		EventName:     ev.EventName,
		Actor:         ev.Actor,
		WorkflowState: entity.StateDetecting,
		RawEvent:      json.RawMessage(raw),
		Transitions:   []entity.Transition{{To: entity.StateDetecting, At: now}},
	}
	if resolveErr == nil {
		inc.ResourceType = res.Type
		inc.ResourceID = res.ID
		inc.ResourceKey = res.Key()
	}

	if err := e.store.CreateIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to create incident %s: %w", id, err)
	}
	log := slog.With(slog.String("incident_id", id))
	log.Info("incident detected", slog.String("event_name", ev.EventName), slog.String("resource_key", inc.ResourceKey))

	if resolveErr != nil {
		return e.terminate(ctx, inc, entity.StateIgnored, ReasonUnrecognizedEvent, resolveErr)
	}

	hold, lastID, err := e.cooldown.IsInCooldown(ctx, res.Key(), id)
	if err != nil {
		if !e.failOpen {
			if !errors.Is(err, entity.ErrStoreUnavailable) {
				err = fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
			}
			out, terr := e.terminate(ctx, inc, entity.StateManualReview, ReasonCooldownUnavailable, err)
			if terr != nil {
				return nil, errors.Join(err, terr)
			}
			return out, err
		}
		log.Warn("cooldown check failed, continuing", slog.Any("err", err))
	}
	if hold {
		log.Info("resource is in cooldown", slog.String("last_incident_id", lastID))
		return e.terminate(ctx, inc, entity.StateIgnored, ReasonCooldown, nil)
	}

	history, err := e.context.Match(ctx, res.Type, id)
	if err != nil {
		log.Warn("failed to load incident context", slog.Any("err", err))
		history = nil
	}

	inc, err = e.transition(ctx, inc, entity.IncidentUpdate{To: entity.StateAnalyzing})
	if err != nil {
		return nil, err
	}

	if e.classifier == nil {
		return e.terminate(ctx, inc, entity.StateManualReview, ReasonClassifierUnavailable, entity.ErrClassificationUnavailable)
	}
	analysis, err := e.classifier.Classify(ctx, model.ClassificationRequest{Event: ev, Resource: res, History: history})
	if err != nil {
		log.Error("classification failed", slog.Any("err", err))
		return e.terminate(ctx, inc, entity.StateManualReview, ReasonClassifierUnavailable, err)
	}

	decision, reason := e.router.Decide(analysis.Classification, analysis.Confidence, analysis.Severity)
	u := entity.IncidentUpdate{Analysis: analysis, Decision: decision, Reason: reason}
	switch decision {
	case entity.DecisionIgnore:
		u.To = entity.StateIgnored
	case entity.DecisionManualReview:
		u.To = entity.StateManualReview
	default:
		u.To = entity.StateExecuting
	}
	inc, err = e.transition(ctx, inc, u)
	if err != nil {
		return nil, err
	}
	if decision != entity.DecisionAutoRemediate {
		return inc.Result(), nil
	}

	if e.dispatcher == nil {
		return e.terminate(ctx, inc, entity.StateFailed, ReasonDispatchFailed, fmt.Errorf("%w: no dispatcher configured", entity.ErrDispatch))
	}
	ref, err := e.dispatcher.Dispatch(ctx, inc, res)
	if err != nil {
		log.Error("dispatch failed", slog.Any("err", err))
		return e.terminate(ctx, inc, entity.StateFailed, ReasonDispatchFailed, err)
	}
	inc, err = e.transition(ctx, inc, entity.IncidentUpdate{To: entity.StateVerifying, DispatchRef: ref})
	if err != nil {
		return nil, err
	}
	log.Info("recovery dispatched", slog.String("recovery_dispatch_ref", ref))
	return inc.Result(), nil
}

// CompleteVerification は検証結果を受けて VERIFYING のインシデントを終了させる。1件につき1回だけ成功する
func (e *Engine) CompleteVerification(ctx context.Context, id string, v entity.Verification) (*entity.IncidentOutcome, error) {
	inc, err := e.Incident(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.WorkflowState != entity.StateVerifying {
		return nil, fmt.Errorf("%w: incident %s is %s", entity.ErrIllegalTransition, id, inc.WorkflowState)
	}

	u := entity.IncidentUpdate{To: entity.StateCompleted, Reason: ReasonVerified}
	if !v.Success {
		u.To = entity.StateFailed
		u.Reason = ReasonVerificationFailed
		u.Error = v.Reason
	}
	u.At = e.now()
	u.Outcome = &entity.Outcome{Success: v.Success, Duration: u.At.Sub(inc.CreatedAt), Reason: v.Reason}
	if u.Outcome.Reason == "" {
		u.Outcome.Reason = u.Reason
	}

	inc, err = e.transition(ctx, inc, u)
	if err != nil {
		return nil, err
	}
	return inc.Result(), nil
}

func (e *Engine) Incident(ctx context.Context, id string) (*entity.Incident, error) {
	inc, err := e.store.FindIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find incident %s: %w", id, err)
	}
	if inc == nil {
		return nil, fmt.Errorf("%w: %s", entity.ErrIncidentNotFound, id)
	}
	return inc, nil
}

func (e *Engine) terminate(ctx context.Context, inc *entity.Incident, to entity.WorkflowState, reason string, cause error) (*entity.IncidentOutcome, error) {
	u := entity.IncidentUpdate{To: to, Reason: reason}
	if cause != nil {
		u.Error = cause.Error()
	}
	next, err := e.transition(ctx, inc, u)
	if err != nil {
		return nil, err
	}
	return next.Result(), nil
}

// transition は現在の状態を From として遷移を書き込む。終了状態に入ったら finish する
func (e *Engine) transition(ctx context.Context, inc *entity.Incident, u entity.IncidentUpdate) (*entity.Incident, error) {
	u.From = inc.WorkflowState
	if u.At.IsZero() {
		u.At = e.now()
	}
	if u.To.Terminal() && u.Outcome == nil {
		u.Outcome = &entity.Outcome{
			Success:  u.To == entity.StateCompleted,
			Duration: u.At.Sub(inc.CreatedAt),
			Reason:   u.Reason,
		}
	}

	next, err := e.store.TransitionIncident(ctx, inc.IncidentID, u)
	if err != nil {
		return nil, fmt.Errorf("failed to transition incident %s %s -> %s: %w", inc.IncidentID, u.From, u.To, err)
	}
	if u.To.Terminal() {
		e.finish(ctx, next)
	}
	return next, nil
}

func (e *Engine) finish(ctx context.Context, inc *entity.Incident) {
	m := inc.Metric()
	if e.metrics != nil {
		e.metrics.ObserveIncident(m)
	}
	slog.Info("incident finished",
		slog.String("incident_id", inc.IncidentID),
		slog.String("resource_type", m.ResourceType),
		slog.String("classification", string(m.Classification)),
		slog.String("decision", string(m.Decision)),
		slog.String("outcome", string(m.Outcome)),
		slog.Duration("duration", m.Duration),
		slog.String("reason", inc.Reason),
	)

	if inc.WorkflowState == entity.StateCompleted || e.notifier == nil {
		return
	}
	n := entity.Notification{
		Severity:   notifySeverity(inc),
		Subject:    report.IncidentSubject(inc),
		Body:       report.RenderIncident(inc),
		IncidentID: inc.IncidentID,
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		slog.Warn("failed to notify", slog.String("incident_id", inc.IncidentID), slog.Any("err", err))
	}
}

func notifySeverity(inc *entity.Incident) int {
	switch inc.WorkflowState {
	case entity.StateFailed:
		return max(inc.Severity, failedNotifySeverity)
	case entity.StateManualReview:
		return max(inc.Severity, entity.NotifySeverityWarning)
	}
	return entity.NotifySeverityInfo
}
