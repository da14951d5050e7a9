// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"errors"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yoon0701/ZeroGravity/internal/models"
)

// Metrics groups every collector the pipelines update.
type Metrics struct {
	RecordsTotal      *prometheus.CounterVec
	SkippedTotal      *prometheus.CounterVec
	LLMRequestsTotal  *prometheus.CounterVec
	LLMLatency        *prometheus.HistogramVec
	ValidationRejects *prometheus.CounterVec
	RunsTotal         *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datagen_records_total",
				Help: "Rows produced, by pipeline and origin",
			},
			[]string{"pipeline", "origin"},
		),
		SkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datagen_skipped_total",
				Help: "Inputs skipped without producing a row",
			},
			[]string{"pipeline", "reason"},
		),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datagen_llm_requests_total",
				Help: "Generation calls by outcome",
			},
			[]string{"pipeline", "status"},
		),
		LLMLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datagen_llm_request_duration_seconds",
				Help:    "Time spent in one generation call, retries included",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"pipeline"},
		),
		ValidationRejects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datagen_validation_rejects_total",
				Help: "Synthetic spam candidates discarded by validation",
			},
			[]string{"reason"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datagen_runs_total",
				Help: "Finished pipeline runs by final status",
			},
			[]string{"kind", "status"},
		),
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.SkippedTotal,
		m.LLMRequestsTotal,
		m.LLMLatency,
		m.ValidationRejects,
		m.RunsTotal,
	)
	return m
}

// NewNop returns collectors that are not registered anywhere.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// RequestStatus maps a generation error to the status label.
func RequestStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// CounterValue is one non-zero counter series.
type CounterValue struct {
	Series string
	Value  float64
}

// Counters gathers every non-zero datagen counter series from g, sorted by
// series name, e.g. `datagen_skipped_total{pipeline="ham",reason="empty"}`.
func Counters(g prometheus.Gatherer) ([]CounterValue, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}

	var out []CounterValue
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "datagen_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil || c.GetValue() == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"=\""+lp.GetValue()+"\"")
			}
			series := mf.GetName()
			if len(labels) > 0 {
				series += "{" + strings.Join(labels, ",") + "}"
			}
			out = append(out, CounterValue{Series: series, Value: c.GetValue()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Series < out[j].Series })
	return out, nil
}
