package dispatch

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chassis-manager/pkg/ipmi"
)

// Metrics counts executed commands. A nil *Metrics records nothing.
type Metrics struct {
	commands *prometheus.CounterVec
	retries  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics creates unregistered command metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chassis",
			Subsystem: "ipmi",
			Name:      "commands_total",
			Help:      "IPMI commands executed, by completion code.",
		}, []string{"device", "command", "completion"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chassis",
			Subsystem: "ipmi",
			Name:      "command_retries_total",
			Help:      "IPMI commands resent after a timeout.",
		}, []string{"device", "command"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chassis",
			Subsystem: "ipmi",
			Name:      "command_duration_seconds",
			Help:      "Time from first send to decoded response, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"device", "command"}),
	}
}

// Register adds the metrics to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.commands, m.retries, m.latency} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(dt DeviceType, op ipmi.Operation, cc ipmi.CompletionCode, took time.Duration) {
	if m == nil {
		return
	}

	m.commands.WithLabelValues(string(dt), op.String(), completionLabel(cc)).Inc()
	m.latency.WithLabelValues(string(dt), op.String()).Observe(took.Seconds())
}

func (m *Metrics) retried(dt DeviceType, op ipmi.Operation) {
	if m == nil {
		return
	}

	m.retries.WithLabelValues(string(dt), op.String()).Inc()
}

func completionLabel(cc ipmi.CompletionCode) string {
	return fmt.Sprintf("%#02x", uint8(cc))
}
