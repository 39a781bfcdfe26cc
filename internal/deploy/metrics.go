package deploy

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JonahGroendal/asn1-decode/internal/artifacts"
)

// Metrics holds the deployer metrics of a process.
type Metrics struct {
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	lastDeployedAt *prometheus.GaugeVec
}

// NewMetrics registers the deployer metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		actionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asn1_deployer_actions_total",
				Help: "Total number of deployer actions by kind and result",
			},
			[]string{"action", "result"},
		),
		actionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "asn1_deployer_action_duration_seconds",
				Help:    "Deployer action duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"action"},
		),
		lastDeployedAt: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "asn1_deployer_last_deployed_timestamp_seconds",
				Help: "Unix time of the last successful deployment per unit",
			},
			[]string{"unit"},
		),
	}
}

func (m *Metrics) observe(action ActionKind, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.actionsTotal.WithLabelValues(string(action), result).Inc()
	m.actionDuration.WithLabelValues(string(action)).Observe(time.Since(start).Seconds())
}

type instrumented struct {
	next    Deployer
	metrics *Metrics
}

// Instrument wraps d so every call is counted and timed in m.
func Instrument(d Deployer, m *Metrics) Deployer {
	return &instrumented{next: d, metrics: m}
}

func (i *instrumented) Deploy(ctx context.Context, unit *artifacts.Artifact) (Deployed, error) {
	start := time.Now()
	d, err := i.next.Deploy(ctx, unit)
	i.metrics.observe(ActionDeploy, start, err)
	if err == nil {
		i.metrics.lastDeployedAt.WithLabelValues(unit.Name()).SetToCurrentTime()
	}
	return d, err
}

func (i *instrumented) Link(ctx context.Context, dependent *artifacts.Artifact, library Deployed) error {
	start := time.Now()
	err := i.next.Link(ctx, dependent, library)
	i.metrics.observe(ActionLink, start, err)
	return err
}
