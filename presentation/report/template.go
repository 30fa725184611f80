package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/pyama86/autoheal/domain/model"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func IncidentSubject(inc *entity.Incident) string {
	return fmt.Sprintf("[%s] %s %s (%s)", inc.WorkflowState, orDash(inc.ResourceType), orDash(inc.ResourceID), orDash(inc.Reason))
}

func RenderIncident(inc *entity.Incident) string {
	var timeline strings.Builder
	for _, t := range inc.Transitions {
		from := string(t.From)
		if from == "" {
			from = "(作成)"
		}
		fmt.Fprintf(&timeline, "- %s %s → %s", t.At.Format(timeLayout), from, t.To)
		if t.Reason != "" {
			fmt.Fprintf(&timeline, " (%s)", t.Reason)
		}
		timeline.WriteString("\n")
	}

	outcome := "-"
	if inc.Outcome != nil {
		outcome = fmt.Sprintf("success=%t duration=%s", inc.Outcome.Success, inc.Outcome.Duration.Round(time.Second))
	}

	return fmt.Sprintf(`
# %s

## インシデントID

%s

## 発生日時

%s

## 対象リソース

%s / %s

## イベント

%s (%s) by %s

## 状態

%s

## 理由

%s

## 分類

%s (confidence=%.2f, severity=%d)

## 判断理由

%s

## 想定される影響

%s

## 判定

%s

## 復旧パイプライン

%s

## 結果

%s

## エラー

%s

## タイムライン

%s`,
		IncidentSubject(inc),
		inc.IncidentID,
		inc.CreatedAt.Format(timeLayout),
		orDash(inc.ResourceType), orDash(inc.ResourceID),
		orDash(inc.EventName), orDash(inc.EventSource), orDash(inc.Actor),
		inc.WorkflowState,
		orDash(inc.Reason),
		orDash(string(inc.Classification)), inc.Confidence, inc.Severity,
		orDash(inc.Reasoning),
		orDash(inc.PredictedImpact),
		orDash(string(inc.Decision)),
		orDash(inc.RecoveryDispatchRef),
		outcome,
		orDash(inc.Error),
		timeline.String(),
	)
}

func PredictionSubject(p *entity.Prediction) string {
	return fmt.Sprintf("[PREDICTION] %s failure probability %.0f%%", p.Source, p.FailureProbability*100)
}

func RenderPrediction(p *entity.Prediction, anomalies []entity.Anomaly) string {
	var table strings.Builder
	table.WriteString("| pattern | count | mean | stddev | z | severity |\n|---|---|---|---|---|---|\n")
	for _, a := range anomalies {
		s := model.NewAnomalySummary(a)
		fmt.Fprintf(&table, "| %s | %d | %s | %s | %s | %s |\n", s.Pattern, s.Count, s.Mean, s.StdDev, s.ZScore, s.Severity)
	}

	return fmt.Sprintf(`
# %s

## 推奨する対応

%s

## 説明

%s

## 外れたパターン

%s`, PredictionSubject(p), orDash(p.RecommendedAction), orDash(p.Narrative), table.String())
}
