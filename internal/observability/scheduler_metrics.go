package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes per-frame scheduler metrics. Per-UE series are
// resolved once at construction so recording a decision does not allocate.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	FramesTotal      prometheus.Counter
	FallbackFrames   prometheus.Counter
	DecisionDuration prometheus.Histogram
	SelectedAction   prometheus.Gauge
	FairnessIndex    prometheus.Gauge

	ueScheduled []prometheus.Counter
	ueHistory   []prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics for ues users against reg.
func NewSchedulerCollector(reg prometheus.Registerer, ues int) (*SchedulerCollector, error) {
	reg, gatherer := gathererFor(reg)

	frames, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "macsched_frames_total",
		Help: "Frames whose schedule was committed.",
	}), "macsched_frames_total")
	if err != nil {
		return nil, err
	}

	fallbacks, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "macsched_fallback_frames_total",
		Help: "Frames scheduled by the fallback policy because CSI was missing or invalid.",
	}), "macsched_fallback_frames_total")
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "macsched_decision_duration_seconds",
		Help:    "Time spent deciding and committing one frame.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 2e-3, 5e-3},
	}), "macsched_decision_duration_seconds")
	if err != nil {
		return nil, err
	}

	selected, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "macsched_selected_action",
		Help: "Action id committed for the most recent frame.",
	}), "macsched_selected_action")
	if err != nil {
		return nil, err
	}

	fairness, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "macsched_jain_fairness_index",
		Help: "Jain fairness index over cumulative granted channel quality.",
	}), "macsched_jain_fairness_index")
	if err != nil {
		return nil, err
	}

	scheduledVec, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "macsched_ue_scheduled_total",
		Help: "Frames in which the UE was granted a spatial stream.",
	}, []string{"ue"}), "macsched_ue_scheduled_total")
	if err != nil {
		return nil, err
	}

	historyVec, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "macsched_ue_pf_history",
		Help: "Cumulative proportional-fairness credit of the UE.",
	}, []string{"ue"}), "macsched_ue_pf_history")
	if err != nil {
		return nil, err
	}

	c := &SchedulerCollector{
		gatherer:         gatherer,
		FramesTotal:      frames,
		FallbackFrames:   fallbacks,
		DecisionDuration: duration,
		SelectedAction:   selected,
		FairnessIndex:    fairness,
		ueScheduled:      make([]prometheus.Counter, ues),
		ueHistory:        make([]prometheus.Gauge, ues),
	}
	for u := 0; u < ues; u++ {
		label := strconv.Itoa(u)
		c.ueScheduled[u] = scheduledVec.WithLabelValues(label)
		c.ueHistory[u] = historyVec.WithLabelValues(label)
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// RecordDecision satisfies mac.DecisionRecorder.
func (c *SchedulerCollector) RecordDecision(_ uint64, action int, users []int32, elapsed time.Duration, fallback bool) {
	if c == nil {
		return
	}
	c.FramesTotal.Inc()
	if fallback {
		c.FallbackFrames.Inc()
	}
	c.DecisionDuration.Observe(elapsed.Seconds())
	c.SelectedAction.Set(float64(action))
	for _, u := range users {
		if int(u) < len(c.ueScheduled) {
			c.ueScheduled[u].Inc()
		}
	}
}

// SetHistory publishes the per-UE fairness credit.
func (c *SchedulerCollector) SetHistory(history []float64) {
	if c == nil {
		return
	}
	for u, h := range history {
		if u < len(c.ueHistory) {
			c.ueHistory[u].Set(h)
		}
	}
}

// SetFairness publishes the Jain fairness index, clamped to [0, 1].
func (c *SchedulerCollector) SetFairness(index float64) {
	if c == nil {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > 1 {
		index = 1
	}
	c.FairnessIndex.Set(index)
}
