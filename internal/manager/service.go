package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
)

// ErrStopped is returned when a command is sent to a service that is not running
var ErrStopped = errors.New("pin manager service stopped")

// SweepHook runs on the service goroutine after every successful sweep.
// Errors are logged; they never roll the sweep back.
type SweepHook func(ctx context.Context, pins []lifecycle.Pin, report Report) error

// MutationHook runs on the service goroutine after a command created or
// changed pins, with just those pins. Errors are logged.
type MutationHook func(ctx context.Context, changed []lifecycle.Pin) error

type command struct {
	fn      func(*Manager) error
	refresh bool
	reply   chan error
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithSweepHook registers a hook called after every sweep
func WithSweepHook(name string, hook SweepHook) ServiceOption {
	return func(s *Service) {
		s.hooks = append(s.hooks, namedHook{name: name, fn: hook})
	}
}

// WithMutationHook registers a hook called after pins are created or changed
func WithMutationHook(name string, hook MutationHook) ServiceOption {
	return func(s *Service) {
		s.mutationHooks = append(s.mutationHooks, namedMutationHook{name: name, fn: hook})
	}
}

// WithClock replaces time.Now as the source of reference times, for sweeps
// and for the manager's classification between sweeps
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.manager.now = now }
}

// WithHookTimeout bounds each hook call
func WithHookTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.hookTimeout = d }
}

func withTicks(ticks <-chan time.Time) ServiceOption {
	return func(s *Service) { s.ticks = ticks }
}

type namedHook struct {
	name string
	fn   SweepHook
}

type namedMutationHook struct {
	name string
	fn   MutationHook
}

// Service runs a Manager on a single goroutine. Commands and maintenance
// ticks are handled one at a time, so sweeps never overlap and the Manager
// needs no locking.
type Service struct {
	manager       *Manager
	interval      time.Duration
	hooks         []namedHook
	mutationHooks []namedMutationHook
	hookTimeout   time.Duration
	logger        *zap.Logger

	cmds   chan command
	ticks  <-chan time.Time
	ticker *time.Ticker

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewService wraps m. The maintenance check runs every interval once started.
func NewService(m *Manager, interval time.Duration, logger *zap.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		manager:     m,
		interval:    interval,
		hookTimeout: 10 * time.Second,
		logger:      logger.With(zap.String("component", "pin-service")),
		cmds:        make(chan command),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the service goroutine. The maintenance timer is only armed
// when the manager is enabled.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		if s.ticks == nil && s.manager.Enabled() {
			s.ticker = time.NewTicker(s.interval)
			s.ticks = s.ticker.C
		}
		go s.run(ctx)
		s.logger.Info("Pin manager service started",
			zap.Bool("enabled", s.manager.Enabled()),
			zap.Duration("check_interval", s.interval))
	})
}

// Stop cancels the maintenance timer and waits for the goroutine to exit.
// A service stopped before it was started can no longer be started.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		started := true
		s.startOnce.Do(func() { started = false })
		if !started {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
		s.logger.Info("Pin manager service stopped")
	})
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	if s.ticker != nil {
		defer s.ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.apply(ctx, cmd)
		case <-s.ticks:
			s.tick(ctx)
		}
	}
}

func (s *Service) apply(ctx context.Context, cmd command) {
	err := cmd.fn(s.manager)
	if cmd.refresh {
		s.drainTicks()
	}
	if changed := s.manager.TakeChanges(); len(changed) > 0 {
		s.runMutationHooks(ctx, changed)
	}
	cmd.reply <- err
}

// drainTicks drops a tick that was queued before a refresh so the caller's
// snapshot is not swept by a timer scheduled before it arrived. The ticker
// keeps its schedule; a steady stream of refreshes must not starve the
// maintenance check.
func (s *Service) drainTicks() {
	if s.ticks == nil {
		return
	}
	select {
	case <-s.ticks:
		s.logger.Debug("Dropped maintenance tick queued before refresh")
	default:
	}
}

// tick runs the maintenance check at the service clock. The time carried by
// the tick is ignored.
func (s *Service) tick(ctx context.Context) {
	report, ran, err := s.manager.Tick(ctx, s.manager.now())
	if err != nil {
		s.logger.Error("Scheduled maintenance failed", zap.Error(err))
		return
	}
	if ran {
		s.runHooks(ctx, report)
	}
}

func (s *Service) runHooks(ctx context.Context, report Report) {
	snapshot := s.manager.Snapshot()
	for _, h := range s.hooks {
		hookCtx, cancel := context.WithTimeout(ctx, s.hookTimeout)
		if err := h.fn(hookCtx, snapshot, report); err != nil {
			s.logger.Error("Sweep hook failed",
				zap.String("hook", h.name),
				zap.String("run_id", report.RunID),
				zap.Error(err))
		}
		cancel()
	}
}

func (s *Service) runMutationHooks(ctx context.Context, changed []lifecycle.Pin) {
	for _, h := range s.mutationHooks {
		hookCtx, cancel := context.WithTimeout(ctx, s.hookTimeout)
		if err := h.fn(hookCtx, changed); err != nil {
			s.logger.Error("Mutation hook failed",
				zap.String("hook", h.name),
				zap.Int("pins", len(changed)),
				zap.Error(err))
		}
		cancel()
	}
}

func (s *Service) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the service goroutine and returns its error
func (s *Service) Do(ctx context.Context, fn func(*Manager) error) error {
	return s.send(ctx, command{fn: fn})
}

// Mutate runs fn on the service goroutine like Refresh: any tick queued
// before it is dropped. Use it for operations that replace the snapshot.
func (s *Service) Mutate(ctx context.Context, fn func(*Manager) error) error {
	return s.send(ctx, command{fn: fn, refresh: true})
}

// Refresh replaces the manager snapshot. Every pin of the new snapshot is
// handed to the mutation hooks.
func (s *Service) Refresh(ctx context.Context, snapshot []lifecycle.Pin) error {
	return s.Mutate(ctx, func(m *Manager) error {
		m.Refresh(snapshot)
		m.markAllChanged()
		return nil
	})
}

// TriggerMaintenance sweeps now and runs the sweep hooks
func (s *Service) TriggerMaintenance(ctx context.Context) (Report, error) {
	var report Report
	err := s.Do(ctx, func(m *Manager) error {
		r, err := m.TriggerMaintenance(ctx, m.now())
		if err != nil {
			return err
		}
		report = r
		s.runHooks(ctx, r)
		return nil
	})
	return report, err
}

// Now returns the service clock reading used for reference times
func (s *Service) Now() time.Time {
	return s.manager.now()
}
