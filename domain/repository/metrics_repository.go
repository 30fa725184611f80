package repository

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pyama86/autoheal/domain/entity"
)

const metricsNamespace = "autoheal"

type PrometheusMetrics struct {
	incidentsTotal     *prometheus.CounterVec
	incidentDuration   *prometheus.HistogramVec
	anomaliesTotal     *prometheus.CounterVec
	predictiveAlerts   *prometheus.CounterVec
	baselineLostUpdate *prometheus.CounterVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		incidentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "incidents_total",
				Help:      "Incidents that reached a terminal workflow state.",
			},
			[]string{"resource_type", "classification", "decision", "outcome"},
		),
		incidentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "incident_duration_seconds",
				Help:      "Time from detection to terminal state.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"resource_type", "outcome"},
		),
		anomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "anomalies_total",
				Help:      "Log pattern anomalies flagged by the analyzer.",
			},
			[]string{"source", "severity"},
		),
		predictiveAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "predictive_alerts_total",
				Help:      "Predictions whose failure probability exceeded the alert threshold.",
			},
			[]string{"source"},
		),
		baselineLostUpdate: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "baseline_lost_updates_total",
				Help:      "Baseline observations dropped after exhausting conditional update attempts.",
			},
			[]string{"source"},
		),
	}
}

func (m *PrometheusMetrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.incidentsTotal,
		m.incidentDuration,
		m.anomaliesTotal,
		m.predictiveAlerts,
		m.baselineLostUpdate,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func labelOrNone(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func (m *PrometheusMetrics) ObserveIncident(e entity.IncidentMetric) {
	m.incidentsTotal.WithLabelValues(
		labelOrNone(e.ResourceType),
		labelOrNone(string(e.Classification)),
		labelOrNone(string(e.Decision)),
		string(e.Outcome),
	).Inc()
	d := e.Duration
	if d < 0 {
		d = 0
	}
	m.incidentDuration.WithLabelValues(labelOrNone(e.ResourceType), string(e.Outcome)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) ObserveAnomaly(a entity.Anomaly) {
	m.anomaliesTotal.WithLabelValues(a.Source, string(a.Severity)).Inc()
}

func (m *PrometheusMetrics) ObservePredictiveAlert(source string) {
	m.predictiveAlerts.WithLabelValues(source).Inc()
}

func (m *PrometheusMetrics) ObserveLostUpdate(source string) {
	m.baselineLostUpdate.WithLabelValues(source).Inc()
}
