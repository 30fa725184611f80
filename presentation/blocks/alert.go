package blocks

import (
	"fmt"

	"github.com/pyama86/autoheal/domain/entity"
	"github.com/slack-go/slack"
)

const maxSectionText = 2900

func severityIcon(severity int) string {
	switch {
	case severity >= entity.NotifySeverityCritical:
		return "🚨"
	case severity >= entity.NotifySeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func Alert(n entity.Notification) []slack.Block {
	body := n.Body
	if r := []rune(body); len(r) > maxSectionText {
		body = string(r[:maxSectionText]) + "…"
	}

	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*重大度:* %d", n.Severity), false, false),
	}
	if n.IncidentID != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*インシデントID:* `%s`", n.IncidentID), false, false))
	}

	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s *%s*", severityIcon(n.Severity), n.Subject), false, false),
			fields,
			nil,
		),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", body, false, false),
			nil,
			nil,
		),
	}
}
