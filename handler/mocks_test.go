package handler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/domain/triage"
	"github.com/pyama86/autoheal/handler"
)

// ------------------------
// Mock repositories
// ------------------------
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockClassifier struct {
	mu           sync.Mutex
	analysis     *entity.Analysis
	prediction   *entity.Prediction
	err          error
	requests     []model.ClassificationRequest
	predictCalls []model.PredictionRequest
}

func (m *mockClassifier) Classify(_ context.Context, req model.ClassificationRequest) (*entity.Analysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	a := *m.analysis
	return &a, nil
}

func (m *mockClassifier) Predict(_ context.Context, req model.PredictionRequest) (*entity.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictCalls = append(m.predictCalls, req)
	if m.err != nil {
		return nil, m.err
	}
	p := *m.prediction
	p.Source = req.Source
	return &p, nil
}

func (m *mockClassifier) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockDispatcher struct {
	mu       sync.Mutex
	requests []model.DispatchRequest
	err      error
}

func (m *mockDispatcher) Dispatch(_ context.Context, req model.DispatchRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("exec-%d", len(m.requests)), nil
}

func (m *mockDispatcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type mockNotifier struct {
	mu            sync.Mutex
	notifications []entity.Notification
	err           error
}

func (m *mockNotifier) Notify(_ context.Context, n entity.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return m.err
}

type mockMetrics struct {
	mu        sync.Mutex
	incidents []entity.IncidentMetric
	anomalies []entity.Anomaly
	alerts    []string
	lost      []string
}

func (m *mockMetrics) ObserveIncident(e entity.IncidentMetric) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, e)
}

func (m *mockMetrics) ObserveAnomaly(a entity.Anomaly) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anomalies = append(m.anomalies, a)
}

func (m *mockMetrics) ObservePredictiveAlert(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, source)
}

func (m *mockMetrics) ObserveLostUpdate(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost = append(m.lost, source)
}

// 常に競合を返すベースラインストア
type conflictingBaselines struct {
	repository.Store
}

func (conflictingBaselines) SaveBaseline(_ context.Context, b *entity.Baseline, _ int64) error {
	return fmt.Errorf("%w: %s", entity.ErrBaselineConflict, b.BaselineKey)
}

// リソース単位の照会だけ失敗するストア
type cooldownDownStore struct {
	repository.Store
}

func (cooldownDownStore) IncidentsByResource(context.Context, string, time.Time) ([]entity.Incident, error) {
	return nil, fmt.Errorf("%w: connection reset", entity.ErrStoreUnavailable)
}

func newStore(t *testing.T) repository.Store {
	t.Helper()
	r, err := repository.NewBadgerRepository(repository.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

var testResources = []entity.ResourcePattern{
	{Type: "compute", Sources: []string{"aws.ec2"}, Identifier: "instance_id", Pipeline: "restart-compute"},
	{Type: "bucket", Sources: []string{"aws.s3"}, Identifier: "bucket_name", Pipeline: "restore-bucket"},
}

const terminateEvent = `{"source":"aws.ec2","event_name":"Terminate","resource_type":"compute","resource_id":"X","actor":"alice","timestamp":"2026-01-01T00:00:00Z"}`

type engineFixture struct {
	store      repository.Store
	engine     *handler.Engine
	clock      *fakeClock
	classifier *mockClassifier
	dispatcher *mockDispatcher
	notifier   *mockNotifier
	metrics    *mockMetrics
	ids        int
}

func analysis(c entity.Classification, confidence float64, severity int) *entity.Analysis {
	return &entity.Analysis{Classification: c, Confidence: confidence, Severity: severity, Reasoning: "instance terminated unexpectedly"}
}

func newEngineFixture(t *testing.T, a *entity.Analysis, opts ...func(*engineFixture, *handler.EngineOptions)) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:      newStore(t),
		clock:      newFakeClock(),
		classifier: &mockClassifier{analysis: a},
		dispatcher: &mockDispatcher{},
		notifier:   &mockNotifier{},
		metrics:    &mockMetrics{},
	}
	o := handler.EngineOptions{
		Router:   triage.NewRouter(0.8),
		Resolver: triage.NewResolver(testResources),
		IDs: triage.CorrelationGeneratorFunc(func() string {
			f.ids++
			return fmt.Sprintf("inc-%d", f.ids)
		}),
		Classifier: f.classifier,
		Dispatcher: handler.NewRecoveryDispatcher(f.dispatcher, "", "https://autoheal.example.com"),
		Notifier:   f.notifier,
		Metrics:    f.metrics,
		FailOpen:   true,
		Now:        f.clock.Now,
	}
	for _, opt := range opts {
		opt(f, &o)
	}
	if o.Cooldown == nil {
		o.Cooldown = handler.NewCooldownGuard(f.store, 5*time.Minute, nil, f.clock.Now)
	}
	if o.Context == nil {
		o.Context = handler.NewContextMatcher(f.store, 5, 30*24*time.Hour, nil, f.clock.Now)
	}
	f.engine = handler.NewEngine(f.store, o)
	return f
}
