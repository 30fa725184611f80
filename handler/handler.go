package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/pyama86/autoheal/domain/repository"
	"github.com/pyama86/autoheal/domain/triage"
	"github.com/slack-go/slack"
)

// App は設定から組み立てた各コンポーネントをまとめる
type App struct {
	Config   *repository.Config
	Store    repository.Store
	Engine   *Engine
	Analyzer *Analyzer
	Sweeper  *Sweeper
	Registry *prometheus.Registry

	closers []func()
}

func NewStore(ctx context.Context, c repository.StoreConfig) (repository.Store, error) {
	switch c.Driver {
	case "badger":
		return repository.NewBadgerRepository(c.Badger)
	case "dynamodb":
		return repository.NewDynamoDBRepository(ctx, c.DynamoDB)
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func newNotifier(cfg *repository.Config) (repository.NotificationRepository, []func(), error) {
	sinks := []repository.NotificationRepository{repository.LogNotifier{}}
	var closers []func()

	if token := os.Getenv("SLACK_BOT_TOKEN"); token != "" && cfg.Notification.Slack.Channel != "" {
		s := repository.NewSlackRepository(slack.New(token), cfg.Notification.Slack)
		sinks = append(sinks, s)
		closers = append(closers, s.Stop)
	}

	if os.Getenv("CONFLUENCE_USERNAME") != "" && os.Getenv("CONFLUENCE_PASSWORD") != "" && (cfg.Confluence.Domain != "" || cfg.Confluence.BaseURL != "") {
		r, err := repository.NewConfluenceRepository(
			cfg.Confluence,
			os.Getenv("CONFLUENCE_USERNAME"),
			os.Getenv("CONFLUENCE_PASSWORD"),
		)
		if err != nil {
			return nil, closers, err
		}
		sinks = append(sinks, r)
	}
	return repository.NewNotificationFanout(sinks...), closers, nil
}

func NewApp(ctx context.Context, cfg *repository.Config) (*App, error) {
	store, err := NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	app := &App{Config: cfg, Store: store, Registry: prometheus.NewRegistry()}
	app.closers = append(app.closers, func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	})

	metrics := repository.NewPrometheusMetrics()
	if err := metrics.Register(app.Registry); err != nil {
		app.Close()
		return nil, err
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	notifier, closers, err := newNotifier(cfg)
	app.closers = append(app.closers, closers...)
	if err != nil {
		app.Close()
		return nil, err
	}

	var classifier repository.ClassifierRepositorier
	ai, err := repository.NewAIRepository(cfg.Classifier)
	if err != nil {
		app.Close()
		return nil, err
	}
	if ai != nil {
		classifier = ai
	} else {
		slog.Warn("OPENAI_API_KEY or AZURE_OPENAI_KEY is not set, every event goes to manual review")
	}

	var dispatcher *RecoveryDispatcher
	if cfg.Dispatcher.URL != "" {
		dispatcher = NewRecoveryDispatcher(repository.NewWebhookDispatcher(cfg.Dispatcher), cfg.Dispatcher.DefaultPipeline, cfg.Dispatcher.CallbackBaseURL)
	}

	wf := cfg.Workflow
	app.Engine = NewEngine(store, EngineOptions{
		Router:     triage.NewRouter(wf.ConfidenceThreshold),
		Resolver:   triage.NewResolver(cfg.Resources),
		IDs:        triage.NewCorrelationGenerator(),
		Cooldown:   NewCooldownGuard(store, cfg.Cooldown.Window, cfg.Cooldown.States(), nil),
		Context:    NewContextMatcher(store, wf.ContextLimit, wf.ContextLookback, wf.Classifications(), nil),
		Classifier: classifier,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Metrics:    metrics,
		FailOpen:   cfg.Cooldown.FailOpen,
	})
	app.Sweeper = NewSweeper(app.Engine, store, wf.StallTimeout, wf.VerificationTimeout)

	an := cfg.Analyzer
	extractor, err := triage.NewPatternExtractor(an.Patterns)
	if err != nil {
		app.Close()
		return nil, err
	}
	var predictor *Predictor
	if classifier != nil {
		predictor = NewPredictor(classifier, notifier, metrics, an.AlertThreshold)
	}
	detector := NewAnomalyDetector(store, triage.Thresholds{Z: an.ZThreshold, HighZ: an.HighZThreshold, MinSamples: an.MinSamples}, an.UpdateAttempts, metrics, nil)
	app.Analyzer = NewAnalyzer(detector, extractor, predictor, repository.NewFileLogRepository(), an.Sources)
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Serve は HTTP サーバと定期処理を動かし、ctx が終わったら停止する
func (a *App) Serve(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(NewHandlers(a.Engine, a.Analyzer), a.Registry)
	srv := &http.Server{
		Addr:              a.Config.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go a.Sweeper.Run(ctx, a.Config.Workflow.SweepInterval)
	go a.Analyzer.Run(ctx, a.Config.Analyzer.Interval)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server started", slog.String("listen", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := a.Config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	slog.Info("Shutting down server")
	return srv.Shutdown(sctx)
}
