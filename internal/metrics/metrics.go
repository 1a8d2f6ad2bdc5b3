// Package metrics holds the Prometheus collectors of the attendance server.
// Every method is safe to call on a nil *Metrics so that tests and tools can
// run the core without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	scans           *prometheus.CounterVec
	commandsQueued  *prometheus.CounterVec
	commandsSent    *prometheus.CounterVec
	registrations   *prometheus.CounterVec
	heartbeats      prometheus.Counter
	requestDuration *prometheus.HistogramVec
	reg             prometheus.Registerer
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "Fingerprint scans by outcome and recorded status.",
		}, []string{"result", "status"}),
		commandsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_commands_enqueued_total",
			Help: "Device commands committed to the pending queue.",
		}, []string{"kind"}),
		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_commands_delivered_total",
			Help: "Device commands handed to a polling device.",
		}, []string{"kind"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_registration_reports_total",
			Help: "Enrollment results reported by the device.",
		}, []string{"outcome"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_device_heartbeats_total",
			Help: "Heartbeats received from the device.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(m.scans, m.commandsQueued, m.commandsSent, m.registrations, m.heartbeats, m.requestDuration)
	return m
}

// WatchDevice exports connected() as a 0/1 gauge evaluated on every scrape.
func (m *Metrics) WatchDevice(connected func() bool) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "attendance_device_connected",
		Help: "1 when a heartbeat arrived within the freshness window.",
	}, func() float64 {
		if connected() {
			return 1
		}
		return 0
	}))
}

func (m *Metrics) Scan(result, status string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(result, status).Inc()
}

func (m *Metrics) CommandEnqueued(kind string) {
	if m == nil {
		return
	}
	m.commandsQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) CommandDelivered(kind string) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) RegistrationReported(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) ObserveRequest(method, route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, code).Observe(seconds)
}
