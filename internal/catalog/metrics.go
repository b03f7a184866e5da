package catalog

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records catalog load outcomes. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry     *prometheus.Registry
	diagnoses    prometheus.Counter
	foodUpserts  prometheus.Counter
	relations    prometheus.Counter
	dailyPlans   prometheus.Counter
	ingredients  prometheus.Counter
	verification prometheus.Gauge
	duration     prometheus.Gauge
}

func NewMetrics() *Metrics {
	const ns, sub = "nutriref", "catalog"
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help})
	}
	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		diagnoses:   counter("diagnoses_total", "Diagnoses upserted by catalog loads."),
		foodUpserts: counter("food_upserts_total", "Allowed and prohibited food upserts, per occurrence."),
		relations:   counter("relations_total", "Diagnosis-food relation upserts."),
		dailyPlans:  counter("daily_plans_total", "Daily plans created."),
		ingredients: counter("ingredients_total", "Daily plan ingredient links created."),
		verification: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "verification_ok",
			Help: "1 when the last post-load verification matched, 0 otherwise.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "last_load_duration_seconds",
			Help: "Wall time of the last catalog load.",
		}),
	}
	m.registry.MustRegister(m.diagnoses, m.foodUpserts, m.relations, m.dailyPlans, m.ingredients,
		m.verification, m.duration)
	return m
}

// Registry exposes the collectors, e.g. for tests or an external exporter.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// observeDiagnosis adds the counts of one committed diagnosis.
func (m *Metrics) observeDiagnosis(foods, relations, plans, ingredients int) {
	if m == nil {
		return
	}
	m.diagnoses.Inc()
	m.foodUpserts.Add(float64(foods))
	m.relations.Add(float64(relations))
	m.dailyPlans.Add(float64(plans))
	m.ingredients.Add(float64(ingredients))
}

func (m *Metrics) observeLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Set(d.Seconds())
}

func (m *Metrics) observeVerification(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.verification.Set(1)
	} else {
		m.verification.Set(0)
	}
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
