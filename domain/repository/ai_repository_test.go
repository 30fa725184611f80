package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
	"github.com/pyama86/autoheal/domain/repository"
)

func fastClassifier() repository.ClassifierConfig {
	return repository.ClassifierConfig{
		Model: "gpt-4",
		Retry: repository.RetryPolicy{Attempts: 2, Interval: time.Millisecond, Timeout: time.Second},
	}
}

func TestParseClassification(t *testing.T) {
	r := repository.NewAIRepositoryWithCompleter(nil, fastClassifier())

	t.Run("plain json", func(t *testing.T) {
		a, err := r.ParseClassification(`{"classification":"FAILURE","confidence":0.95,"severity":8,"reasoning":"instance terminated"}`)
		require.NoError(t, err)
		assert.Equal(t, entity.ClassificationFailure, a.Classification)
		assert.Equal(t, 0.95, a.Confidence)
		assert.Equal(t, 8, a.Severity)
	})

	t.Run("wrapped in prose", func(t *testing.T) {
		raw := "判定結果です。\n```json\n{\"classification\":\"tampering\",\"confidence\":0.9,\"severity\":6,\"reasoning\":\"policy changed\",\"predicted_impact\":\"data exposure\"}\n```"
		a, err := r.ParseClassification(raw)
		require.NoError(t, err)
		assert.Equal(t, entity.ClassificationTampering, a.Classification)
		assert.Equal(t, "data exposure", a.PredictedImpact)
	})

	malformed := map[string]string{
		"no json":          "I think this is a failure",
		"unknown field":    `{"classification":"FAILURE","confidence":0.9,"severity":5,"reasoning":"x","extra":1}`,
		"bad enum":         `{"classification":"BROKEN","confidence":0.9,"severity":5,"reasoning":"x"}`,
		"confidence range": `{"classification":"FAILURE","confidence":1.5,"severity":5,"reasoning":"x"}`,
		"missing severity": `{"classification":"FAILURE","confidence":0.9,"reasoning":"x"}`,
		"severity range":   `{"classification":"FAILURE","confidence":0.9,"severity":0,"reasoning":"x"}`,
		"truncated":        `{"classification":"FAILURE","confidence":0.9`,
	}
	for name, raw := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := r.ParseClassification(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, entity.ErrMalformedResponse)
			var pe *entity.ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, raw, pe.Raw)
		})
	}
}

func TestClassifyRetriesThenFails(t *testing.T) {
	calls := 0
	var prompt string
	r := repository.NewAIRepositoryWithCompleter(func(_ context.Context, p string) (string, error) {
		calls++
		prompt = p
		return "not json", nil
	}, fastClassifier())

	_, err := r.Classify(context.Background(), model.ClassificationRequest{
		Event:    entity.Event{Source: "aws.ec2", EventName: "Terminate"},
		Resource: entity.Resource{Type: "compute", ID: "X"},
		History: []model.IncidentSummary{
			{IncidentID: "old", EventName: "Terminate", ResourceID: "Y", Classification: entity.ClassificationFailure, Severity: 7},
		},
	})
	assert.ErrorIs(t, err, entity.ErrClassificationUnavailable)
	assert.ErrorIs(t, err, entity.ErrMalformedResponse)
	assert.Equal(t, 2, calls)
	assert.True(t, strings.Contains(prompt, "compute"))
	assert.True(t, strings.Contains(prompt, "classification=FAILURE"))
}

func TestClassifySecondAttempt(t *testing.T) {
	calls := 0
	r := repository.NewAIRepositoryWithCompleter(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("503")
		}
		return `{"classification":"NORMAL","confidence":0.99,"severity":1,"reasoning":"scheduled"}`, nil
	}, fastClassifier())

	a, err := r.Classify(context.Background(), model.ClassificationRequest{})
	require.NoError(t, err)
	assert.Equal(t, entity.ClassificationNormal, a.Classification)
}

func TestPredict(t *testing.T) {
	r := repository.NewAIRepositoryWithCompleter(func(context.Context, string) (string, error) {
		return `{"failure_probability":0.85,"recommended_action":"scale out","narrative":"timeouts rising"}`, nil
	}, fastClassifier())

	p, err := r.Predict(context.Background(), model.PredictionRequest{Source: "api"})
	require.NoError(t, err)
	assert.Equal(t, "api", p.Source)
	assert.Equal(t, 0.85, p.FailureProbability)
	assert.Equal(t, "scale out", p.RecommendedAction)
}

func TestTokenCalculatorFallback(t *testing.T) {
	var tc *repository.TokenCalculator
	assert.Equal(t, 2, tc.CountTokens("12345678"))

	summaries := []model.IncidentSummary{
		{IncidentID: "a", EventName: strings.Repeat("x", 400)},
		{IncidentID: "b", EventName: "y"},
	}
	lines := tc.FitSummaries(summaries, 50)
	assert.Empty(t, lines)
	assert.Len(t, tc.FitSummaries(summaries, 1000), 2)
}
