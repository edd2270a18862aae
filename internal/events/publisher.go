package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/pkg/config"
)

// MaintenanceCompleted is the payload published after every sweep
type MaintenanceCompleted struct {
	RunID          string         `json:"run_id"`
	ReferenceTime  time.Time      `json:"reference_time"`
	Processed      int            `json:"processed"`
	NewlyHidden    int            `json:"newly_hidden"`
	Promoted       int            `json:"promoted"`
	Demoted        int            `json:"demoted"`
	Skipped        int            `json:"skipped"`
	TabCounts      map[string]int `json:"tab_counts"`
	WasOverdue     bool           `json:"was_overdue"`
	DurationMillis int64          `json:"duration_ms"`
}

// NewMaintenanceCompleted builds the event for report
func NewMaintenanceCompleted(report manager.Report) MaintenanceCompleted {
	counts := make(map[string]int, len(lifecycle.Tabs))
	for _, tab := range lifecycle.Tabs {
		counts[tab.String()] = report.TabCounts[tab]
	}
	return MaintenanceCompleted{
		RunID:          report.RunID,
		ReferenceTime:  report.ReferenceTime,
		Processed:      report.Processed,
		NewlyHidden:    report.NewlyHidden,
		Promoted:       report.Promoted,
		Demoted:        report.Demoted,
		Skipped:        report.SkippedCount(),
		TabCounts:      counts,
		WasOverdue:     report.Overdue,
		DurationMillis: report.Duration.Milliseconds(),
	}
}

type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Publisher publishes maintenance events on NATS. A nil Publisher is a
// disabled one: publishing is a no-op.
type Publisher struct {
	nc      conn
	subject string
	logger  *zap.Logger
}

// Connect dials NATS. It returns a nil Publisher when NATS is not configured.
func Connect(cfg config.NATSConfig, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	logger = logger.With(zap.String("component", "events"))

	nc, err := nats.Connect(cfg.URL,
		nats.Name("pinmind"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return newPublisher(nc, cfg.ReportSubject, logger), nil
}

func newPublisher(nc conn, subject string, logger *zap.Logger) *Publisher {
	return &Publisher{nc: nc, subject: subject, logger: logger}
}

// PublishReport publishes a maintenance report and waits for the server to
// acknowledge the flush
func (p *Publisher) PublishReport(ctx context.Context, report manager.Report) error {
	if p == nil {
		return nil
	}

	data, err := json.Marshal(NewMaintenanceCompleted(report))
	if err != nil {
		return fmt.Errorf("failed to encode maintenance event: %w", err)
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish maintenance event: %w", err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush maintenance event: %w", err)
	}

	p.logger.Debug("Published maintenance event",
		zap.String("subject", p.subject),
		zap.String("run_id", report.RunID))
	return nil
}

// SweepHook publishes the report of every sweep
func (p *Publisher) SweepHook() manager.SweepHook {
	return func(ctx context.Context, _ []lifecycle.Pin, report manager.Report) error {
		return p.PublishReport(ctx, report)
	}
}

// Close closes the NATS connection
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.nc.Close()
}
