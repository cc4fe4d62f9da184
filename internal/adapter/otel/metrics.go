package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentify"

// Metrics holds all Agentify metric instruments.
type Metrics struct {
	TurnsStarted    metric.Int64Counter
	TurnsCompleted  metric.Int64Counter
	TurnsFailed     metric.Int64Counter
	Handoffs        metric.Int64Counter
	RouterDecisions metric.Int64Counter
	NodeDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments. With no meter provider
// installed the instruments are no-ops, so callers never need to gate on
// telemetry being enabled.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("agentify.turns.started",
		metric.WithDescription("Number of orchestration turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("agentify.turns.completed",
		metric.WithDescription("Number of orchestration turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("agentify.turns.failed",
		metric.WithDescription("Number of orchestration turns failed"))
	if err != nil {
		return nil, err
	}

	m.Handoffs, err = meter.Int64Counter("agentify.handoffs",
		metric.WithDescription("Number of agent-to-agent handoffs"))
	if err != nil {
		return nil, err
	}

	m.RouterDecisions, err = meter.Int64Counter("agentify.router.decisions",
		metric.WithDescription("Number of arbitrated routing decisions"))
	if err != nil {
		return nil, err
	}

	m.NodeDuration, err = meter.Float64Histogram("agentify.node.duration_seconds",
		metric.WithDescription("Agent invocation duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
