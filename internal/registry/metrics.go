package registry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the registry's dispatch paths. All collectors are
// registered on the registerer handed to NewMetrics; there is no package
// level state.
type Metrics struct {
	registrations *prometheus.CounterVec
	commands      *prometheus.CounterVec
	inboundPoints *prometheus.CounterVec
	activeDevices prometheus.Gauge
}

// NewMetrics creates and registers the registry's collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_registrations_total",
				Help: "Device registrations by transport and result",
			},
			[]string{"transport", "result"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_commands_total",
				Help: "Dispatched commands by transport and result",
			},
			[]string{"transport", "result"},
		),
		inboundPoints: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_inbound_points_total",
				Help: "Canonical data points received by transport",
			},
			[]string{"transport"},
		),
		activeDevices: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_active_devices",
				Help: "Devices currently present in the routing table",
			},
		),
	}

	reg.MustRegister(m.registrations, m.commands, m.inboundPoints, m.activeDevices)
	return m
}

// NopMetrics returns metrics backed by an isolated registry, for tests and
// callers that do not scrape.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) registration(transport string, err error) {
	m.registrations.WithLabelValues(transport, result(err)).Inc()
}

func (m *Metrics) command(transport string, err error) {
	m.commands.WithLabelValues(transport, result(err)).Inc()
}

func (m *Metrics) inbound(transport string) {
	m.inboundPoints.WithLabelValues(transport).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
