package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("store.driver", "dynamodb")
	v.SetDefault("store.dynamodb.incidents_table", "autoheal_incidents")
	v.SetDefault("store.dynamodb.baselines_table", "autoheal_pattern_baselines")
	v.SetDefault("store.dynamodb.region", "")
	v.SetDefault("store.dynamodb.endpoint", "")
	v.SetDefault("store.dynamodb.attempts", 3)
	v.SetDefault("store.dynamodb.interval", "200ms")
	v.SetDefault("store.dynamodb.max_interval", "2s")
	v.SetDefault("store.dynamodb.timeout", "5s")
	v.SetDefault("store.dynamodb.setup_timeout", "30s")
	v.SetDefault("store.badger.path", "./data")
	v.SetDefault("store.badger.in_memory", false)
	v.SetDefault("store.badger.sync_writes", true)

	v.SetDefault("workflow.confidence_threshold", 0.8)
	v.SetDefault("workflow.context_limit", 5)
	v.SetDefault("workflow.context_lookback", "720h")
	v.SetDefault("workflow.context_classifications", []string{"FAILURE", "TAMPERING", "ANOMALY"})
	v.SetDefault("workflow.stall_timeout", "10m")
	v.SetDefault("workflow.verification_timeout", "30m")
	v.SetDefault("workflow.sweep_interval", "1m")

	v.SetDefault("cooldown.window", "5m")
	v.SetDefault("cooldown.hold_states", []string{"EXECUTING", "VERIFYING", "COMPLETED"})
	v.SetDefault("cooldown.fail_open", true)

	v.SetDefault("classifier.model", "gpt-4")
	v.SetDefault("classifier.max_context_tokens", DefaultMaxContextTokens)
	v.SetDefault("classifier.attempts", 3)
	v.SetDefault("classifier.interval", "3s")
	v.SetDefault("classifier.max_interval", "30s")
	v.SetDefault("classifier.timeout", "30s")

	v.SetDefault("dispatcher.url", "")
	v.SetDefault("dispatcher.default_pipeline", "")
	v.SetDefault("dispatcher.callback_base_url", "")
	v.SetDefault("dispatcher.attempts", 3)
	v.SetDefault("dispatcher.interval", "1s")
	v.SetDefault("dispatcher.max_interval", "10s")
	v.SetDefault("dispatcher.timeout", "10s")

	v.SetDefault("analyzer.interval", "5m")
	v.SetDefault("analyzer.z_threshold", 2.0)
	v.SetDefault("analyzer.high_z_threshold", 3.0)
	v.SetDefault("analyzer.alert_threshold", 0.7)
	v.SetDefault("analyzer.min_samples", 5)
	v.SetDefault("analyzer.update_attempts", 3)

	v.SetDefault("notification.slack.channel", "")
	v.SetDefault("notification.slack.channel_mention_severity", 9)
	v.SetDefault("notification.slack.here_mention_severity", 7)
	v.SetDefault("notification.slack.attempts", 3)
	v.SetDefault("notification.slack.interval", "3s")
	v.SetDefault("notification.slack.max_interval", "30s")
	v.SetDefault("notification.slack.timeout", "10s")

	v.SetDefault("confluence.min_severity", 7)
	v.SetDefault("confluence.timeout", "10s")
}

func NewConfigRepository(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.AutomaticEnv()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	var c Config
	err := v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

type Config struct {
	Server       ServerConfig             `mapstructure:"server"`
	Logging      LoggingConfig            `mapstructure:"logging"`
	Store        StoreConfig              `mapstructure:"store"`
	Workflow     WorkflowConfig           `mapstructure:"workflow"`
	Cooldown     CooldownConfig           `mapstructure:"cooldown"`
	Classifier   ClassifierConfig         `mapstructure:"classifier"`
	Dispatcher   DispatcherConfig         `mapstructure:"dispatcher"`
	Resources    []entity.ResourcePattern `mapstructure:"resources" validate:"dive"`
	Analyzer     AnalyzerConfig           `mapstructure:"analyzer"`
	Notification NotificationConfig       `mapstructure:"notification"`
	Confluence   ConfluenceConfig         `mapstructure:"confluence"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type StoreConfig struct {
	Driver   string         `mapstructure:"driver" validate:"oneof=dynamodb badger"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Badger   BadgerConfig   `mapstructure:"badger"`
}

type WorkflowConfig struct {
	ConfidenceThreshold    float64       `mapstructure:"confidence_threshold" validate:"gt=0,lte=1"`
	ContextLimit           int           `mapstructure:"context_limit" validate:"gte=0"`
	ContextLookback        time.Duration `mapstructure:"context_lookback"`
	ContextClassifications []string      `mapstructure:"context_classifications" validate:"dive,oneof=FAILURE TAMPERING ANOMALY NORMAL"`
	StallTimeout           time.Duration `mapstructure:"stall_timeout" validate:"gt=0"`
	VerificationTimeout    time.Duration `mapstructure:"verification_timeout" validate:"gt=0"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

func (c WorkflowConfig) Classifications() []entity.Classification {
	out := make([]entity.Classification, 0, len(c.ContextClassifications))
	for _, s := range c.ContextClassifications {
		out = append(out, entity.Classification(s))
	}
	return out
}

type CooldownConfig struct {
	Window     time.Duration `mapstructure:"window" validate:"gt=0"`
	HoldStates []string      `mapstructure:"hold_states" validate:"dive,oneof=DETECTING ANALYZING IGNORED EXECUTING VERIFYING COMPLETED FAILED MANUAL_REVIEW"`
	FailOpen   bool          `mapstructure:"fail_open"`
}

func (c CooldownConfig) States() []entity.WorkflowState {
	out := make([]entity.WorkflowState, 0, len(c.HoldStates))
	for _, s := range c.HoldStates {
		out = append(out, entity.WorkflowState(s))
	}
	return out
}

type AnalyzerConfig struct {
	Interval       time.Duration            `mapstructure:"interval" validate:"gt=0"`
	ZThreshold     float64                  `mapstructure:"z_threshold" validate:"gt=0"`
	HighZThreshold float64                  `mapstructure:"high_z_threshold" validate:"gtefield=ZThreshold"`
	AlertThreshold float64                  `mapstructure:"alert_threshold" validate:"gt=0,lte=1"`
	MinSamples     int64                    `mapstructure:"min_samples" validate:"gte=0"`
	UpdateAttempts int                      `mapstructure:"update_attempts" validate:"gte=1"`
	Sources        []entity.MonitoredSource `mapstructure:"sources" validate:"dive"`
	Patterns       []entity.LogPattern      `mapstructure:"patterns" validate:"dive"`
}

type NotificationConfig struct {
	Slack SlackConfig `mapstructure:"slack"`
}
