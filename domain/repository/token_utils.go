package repository

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"github.com/pyama86/autoheal/domain/model"
)

const (
	// 過去インシデントに割り当てるトークン数のデフォルト
	DefaultMaxContextTokens = 4000
)

// トークン計算ユーティリティ
type TokenCalculator struct {
	encoder *tiktoken.Tiktoken
}

// 新しいトークン計算機を作成
func NewTokenCalculator(model string) (*TokenCalculator, error) {
	encoder, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoder, err = tiktoken.EncodingForModel("gpt-4")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding for %s: %w", model, err)
		}
	}

	return &TokenCalculator{
		encoder: encoder,
	}, nil
}

// テキストのトークン数を計算
func (tc *TokenCalculator) CountTokens(text string) int {
	if tc == nil || tc.encoder == nil {
		// フォールバック: 文字数 / 4 (おおよその見積もり)
		return len(text) / 4
	}

	tokens := tc.encoder.Encode(text, nil, nil)
	return len(tokens)
}

// 過去インシデントを1行に整形
func (tc *TokenCalculator) FormatSummary(s model.IncidentSummary) string {
	text := fmt.Sprintf("- %s %s %s: classification=%s severity=%d decision=%s state=%s",
		s.CreatedAt, s.EventName, s.ResourceID, s.Classification, s.Severity, s.Decision, s.State)
	if s.Reasoning != "" {
		text += " reasoning=" + strings.ReplaceAll(s.Reasoning, "\n", " ")
	}
	return text
}

// FitSummaries は新しい順に並んだ履歴を maxTokens に収まるだけ整形して返す
func (tc *TokenCalculator) FitSummaries(summaries []model.IncidentSummary, maxTokens int) []string {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}

	var lines []string
	used := 0
	for _, s := range summaries {
		line := tc.FormatSummary(s)
		n := tc.CountTokens(line)
		if used+n > maxTokens {
			break
		}
		lines = append(lines, line)
		used += n
	}
	return lines
}
