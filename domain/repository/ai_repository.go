package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
)

type ClassifierConfig struct {
	Model            string      `mapstructure:"model"`
	MaxContextTokens int         `mapstructure:"max_context_tokens"`
	Retry            RetryPolicy `mapstructure:",squash"`
}

type completer func(ctx context.Context, prompt string) (string, error)

type AIRepository struct {
	complete  completer
	tokenCalc *TokenCalculator
	maxTokens int
	retry     RetryPolicy
	validate  *validator.Validate
}

func NewAIRepository(c ClassifierConfig) (*AIRepository, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}

	var model = "gpt-4"
	if c.Model != "" {
		model = c.Model
	}
	if os.Getenv("OPENAI_MODEL") != "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	complete := func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: model,
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no response from OpenAI")
		}
		return resp.Choices[0].Message.Content, nil
	}
	// エンコーダが取れなくても文字数から見積もる
	tc, err := NewTokenCalculator(model)
	if err != nil {
		slog.Warn("token encoder unavailable, estimating by length", slog.Any("err", err))
	}
	return newAIRepository(complete, tc, c), nil
}

// 補完関数を差し替える。トークン数は文字数から見積もる
func NewAIRepositoryWithCompleter(complete func(context.Context, string) (string, error), c ClassifierConfig) *AIRepository {
	return newAIRepository(complete, nil, c)
}

func newAIRepository(complete completer, tc *TokenCalculator, c ClassifierConfig) *AIRepository {
	return &AIRepository{
		complete:  complete,
		tokenCalc: tc,
		maxTokens: c.MaxContextTokens,
		retry:     c.Retry,
		validate:  validator.New(),
	}
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(key),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

func (h *AIRepository) classificationPrompt(req model.ClassificationRequest) (string, error) {
	ev, err := json.MarshalIndent(req.Event, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}
	history := h.tokenCalc.FitSummaries(req.History, h.maxTokens)
	historyText := "なし"
	if len(history) > 0 {
		historyText = strings.Join(history, "\n")
	}

	return fmt.Sprintf(`## 依頼内容
インフラで発生したイベントを分類してください。
あなたにはイベント本体と、同じ種類のリソースで過去に発生したインシデントが与えられます。

## 分類
- FAILURE: 障害。自動復旧の対象
- TAMPERING: 意図しない変更や改ざん。自動復旧の対象
- ANOMALY: 通常と異なるが、障害とは断定できない
- NORMAL: 想定内の操作

## フォーマットの指定：
以下のキーだけを持つ JSON オブジェクトを1つだけ返却してください。説明文やコードブロックは不要です。
{"classification": "FAILURE|TAMPERING|ANOMALY|NORMAL", "confidence": 0.0-1.0, "severity": 1-10, "reasoning": "判断理由", "predicted_impact": "想定される影響"}

## 対象リソース
type: %s
id: %s

## イベント
%s

## 過去のインシデント
%s`, req.Resource.Type, req.Resource.ID, ev, historyText), nil
}

func (h *AIRepository) predictionPrompt(req model.PredictionRequest) (string, error) {
	anomalies, err := json.MarshalIndent(req.Anomalies, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode anomalies: %w", err)
	}
	return fmt.Sprintf(`## 依頼内容
ログの出現頻度がベースラインから外れたパターンの一覧が与えられます。
近いうちに障害へ発展する確率を見積もってください。

## フォーマットの指定：
以下のキーだけを持つ JSON オブジェクトを1つだけ返却してください。説明文やコードブロックは不要です。
{"failure_probability": 0.0-1.0, "recommended_action": "推奨する対応", "narrative": "判断の説明"}

## 監視対象
%s

## 外れたパターン
%s`, req.Source, anomalies), nil
}

func (h *AIRepository) Classify(ctx context.Context, req model.ClassificationRequest) (*entity.Analysis, error) {
	prompt, err := h.classificationPrompt(req)
	if err != nil {
		return nil, err
	}

	var analysis *entity.Analysis
	err = h.retry.Do(ctx, "classifier.classify", func(ctx context.Context) error {
		raw, err := h.complete(ctx, prompt)
		if err != nil {
			return err
		}
		analysis, err = h.ParseClassification(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrClassificationUnavailable, err)
	}
	return analysis, nil
}

func (h *AIRepository) Predict(ctx context.Context, req model.PredictionRequest) (*entity.Prediction, error) {
	prompt, err := h.predictionPrompt(req)
	if err != nil {
		return nil, err
	}

	var prediction *entity.Prediction
	err = h.retry.Do(ctx, "classifier.predict", func(ctx context.Context) error {
		raw, err := h.complete(ctx, prompt)
		if err != nil {
			return err
		}
		resp, err := decodeStrict[model.PredictionResponse](raw, h.validate)
		if err != nil {
			return err
		}
		prediction = resp.Prediction(req.Source)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrClassificationUnavailable, err)
	}
	return prediction, nil
}

// ParseClassification は分類器の出力をスキーマ通りに読み取る。合わなければ *entity.ParseError
func (h *AIRepository) ParseClassification(raw string) (*entity.Analysis, error) {
	resp, err := decodeStrict[model.ClassificationResponse](raw, h.validate, func(r *model.ClassificationResponse) {
		r.Normalize()
	})
	if err != nil {
		return nil, err
	}
	return resp.Analysis(), nil
}

// decodeStrict は raw に含まれる JSON オブジェクトを先頭から順に試し、最初に検証を通ったものを返す
func decodeStrict[T any](raw string, v *validator.Validate, normalize ...func(*T)) (*T, error) {
	var lastErr error
	for i := strings.IndexByte(raw, '{'); i >= 0; {
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		dec.DisallowUnknownFields()

		var out T
		err := dec.Decode(&out)
		if err == nil {
			for _, n := range normalize {
				n(&out)
			}
			err = v.Struct(out)
			if err == nil {
				return &out, nil
			}
		}
		lastErr = err

		next := strings.IndexByte(raw[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	if lastErr == nil {
		lastErr = errors.New("no JSON object in response")
	}
	return nil, &entity.ParseError{Raw: raw, Err: lastErr}
}
