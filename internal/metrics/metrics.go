// Package metrics exposes prometheus counters for persistence outcomes.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "savekeeper"

var (
	savesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saves_written_total",
		Help:      "Saves durably recorded, by backend and category",
	}, []string{"backend", "category"})

	savesQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saves_quarantined_total",
		Help:      "Saves moved to quarantine, by backend and error kind",
	}, []string{"backend", "kind"})

	autoSavesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_saves_evicted_total",
		Help:      "Auto saves removed by the retention pass",
	}, []string{"backend"})

	writeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "write_failures_total",
		Help:      "Storage failures on the write path, by backend and operation",
	}, []string{"backend", "operation"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Time spent in backend operations",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend", "operation"})
)

func SaveWritten(backend, category string) {
	savesWritten.WithLabelValues(backend, category).Inc()
}

func SaveQuarantined(backend, kind string) {
	savesQuarantined.WithLabelValues(backend, kind).Inc()
}

func AutoSavesEvicted(backend string, n int) {
	if n > 0 {
		autoSavesEvicted.WithLabelValues(backend).Add(float64(n))
	}
}

func WriteFailed(backend, operation string) {
	writeFailures.WithLabelValues(backend, operation).Inc()
}

// Time starts timing an operation. Call the returned function when it ends.
func Time(backend, operation string) func() {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues(backend, operation))
	return func() { timer.ObserveDuration() }
}

// Sample is one counter value with its labels rendered as k=v pairs.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

func (s Sample) String() string {
	if s.Labels == "" {
		return fmt.Sprintf("%s %g", s.Name, s.Value)
	}
	return fmt.Sprintf("%s{%s} %g", s.Name, s.Labels, s.Value)
}

// Snapshot returns the current value of every savekeeper counter in g.
// Histograms are reported by their sample count.
func Snapshot(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var out []Sample
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), namespace+"_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			var labels []string
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			value := m.GetCounter().GetValue()
			if h := m.GetHistogram(); h != nil {
				value = float64(h.GetSampleCount())
			}
			out = append(out, Sample{Name: mf.GetName(), Labels: strings.Join(labels, ","), Value: value})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Labels < out[j].Labels
	})
	return out, nil
}
