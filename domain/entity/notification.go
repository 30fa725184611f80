package entity

// 通知の重大度は分類器と同じ 1-10
const (
	NotifySeverityInfo     = 3
	NotifySeverityWarning  = 6
	NotifySeverityCritical = 9
)

type Notification struct {
	Severity   int
	Subject    string
	Body       string
	IncidentID string
}
