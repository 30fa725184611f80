package entity

type Classification string

const (
	ClassificationFailure   Classification = "FAILURE"
	ClassificationTampering Classification = "TAMPERING"
	ClassificationAnomaly   Classification = "ANOMALY"
	ClassificationNormal    Classification = "NORMAL"
)

var AllClassifications = []Classification{
	ClassificationFailure,
	ClassificationTampering,
	ClassificationAnomaly,
	ClassificationNormal,
}

func (c Classification) Valid() bool {
	switch c {
	case ClassificationFailure, ClassificationTampering, ClassificationAnomaly, ClassificationNormal:
		return true
	}
	return false
}

type Decision string

const (
	DecisionIgnore        Decision = "IGNORE"
	DecisionAutoRemediate Decision = "AUTO_REMEDIATE"
	DecisionManualReview  Decision = "MANUAL_REVIEW"
)

// 分類器の解析結果
type Analysis struct {
	Classification  Classification `json:"classification"`
	Confidence      float64        `json:"confidence"`
	Severity        int            `json:"severity"`
	Reasoning       string         `json:"reasoning"`
	PredictedImpact string         `json:"predicted_impact,omitempty"`
}
