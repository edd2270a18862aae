package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// SweepMetrics holds the instruments recorded for every maintenance sweep.
// A nil *SweepMetrics records nothing.
type SweepMetrics struct {
	sweeps    metric.Int64Counter
	processed metric.Int64Counter
	hidden    metric.Int64Counter
	skipped   metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewSweepMetrics registers the sweep instruments on meter
func NewSweepMetrics(meter metric.Meter) (*SweepMetrics, error) {
	var (
		m   SweepMetrics
		err error
	)
	if m.sweeps, err = meter.Int64Counter("pins.maintenance.sweeps",
		metric.WithDescription("Completed maintenance sweeps")); err != nil {
		return nil, fmt.Errorf("failed to create sweeps counter: %w", err)
	}
	if m.processed, err = meter.Int64Counter("pins.maintenance.processed",
		metric.WithDescription("Pins rescored by maintenance sweeps")); err != nil {
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}
	if m.hidden, err = meter.Int64Counter("pins.maintenance.hidden",
		metric.WithDescription("Pins newly hidden by maintenance sweeps")); err != nil {
		return nil, fmt.Errorf("failed to create hidden counter: %w", err)
	}
	if m.skipped, err = meter.Int64Counter("pins.maintenance.skipped",
		metric.WithDescription("Invalid pin records skipped by maintenance sweeps")); err != nil {
		return nil, fmt.Errorf("failed to create skipped counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("pins.maintenance.duration",
		metric.WithDescription("Maintenance sweep duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return &m, nil
}

// Record adds one sweep's figures
func (m *SweepMetrics) Record(ctx context.Context, processed, hidden, skipped int, d time.Duration) {
	if m == nil {
		return
	}
	m.sweeps.Add(ctx, 1)
	m.processed.Add(ctx, int64(processed))
	m.hidden.Add(ctx, int64(hidden))
	m.skipped.Add(ctx, int64(skipped))
	m.duration.Record(ctx, d.Seconds())
}
