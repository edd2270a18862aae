package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
)

// newTestService drives maintenance from ticks instead of a ticker. Running
// services need an unbuffered channel so a send returns only once the loop has
// taken the tick.
func newTestService(t *testing.T, cfg Config, ticks chan time.Time, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{
		withTicks(ticks),
		WithClock(func() time.Time { return testNow }),
	}, opts...)
	return NewService(newTestManager(t, cfg), cfg.CheckInterval, zap.NewNop(), opts...)
}

func sweepCount(t *testing.T, s *Service) int {
	t.Helper()
	var n int
	if err := s.Do(context.Background(), func(m *Manager) error {
		n = m.MaintenanceStats(testNow).SweepCount
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	return n
}

func TestRefreshDropsQueuedTick(t *testing.T) {
	ticks := make(chan time.Time, 1)
	s := newTestService(t, testConfig(), ticks)
	ticks <- testNow

	cmd := command{
		fn: func(m *Manager) error {
			m.Refresh(mixedSnapshot())
			return nil
		},
		refresh: true,
		reply:   make(chan error, 1),
	}
	s.apply(context.Background(), cmd)

	if err := <-cmd.reply; err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if len(ticks) != 0 {
		t.Error("refresh left a queued tick behind")
	}
	if got := s.manager.MaintenanceStats(testNow).SweepCount; got != 0 {
		t.Errorf("SweepCount = %d, want 0", got)
	}
	if got := len(s.manager.Snapshot()); got != 6 {
		t.Errorf("Snapshot() = %d pins, want 6", got)
	}
}

func TestPlainCommandKeepsQueuedTick(t *testing.T) {
	ticks := make(chan time.Time, 1)
	s := newTestService(t, testConfig(), ticks)
	ticks <- testNow

	cmd := command{fn: func(*Manager) error { return nil }, reply: make(chan error, 1)}
	s.apply(context.Background(), cmd)

	if len(ticks) != 1 {
		t.Error("a read-only command dropped the queued tick")
	}
}

func TestTickRunsOverdueSweep(t *testing.T) {
	var hooked []Report
	hook := func(ctx context.Context, pins []lifecycle.Pin, report Report) error {
		if len(pins) != 6 {
			t.Errorf("hook got %d pins, want 6", len(pins))
		}
		hooked = append(hooked, report)
		return nil
	}

	ticks := make(chan time.Time)
	s := newTestService(t, testConfig(), ticks, WithSweepHook("record", hook))
	s.Start(context.Background())
	defer s.Stop()

	if err := s.Refresh(context.Background(), mixedSnapshot()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// the tick's own time is ignored in favour of the service clock
	ticks <- testNow.Add(48 * time.Hour)
	// The loop handles one event at a time, so this Do runs after the tick
	if got := sweepCount(t, s); got != 1 {
		t.Fatalf("SweepCount = %d, want 1", got)
	}

	ticks <- testNow.Add(time.Minute)
	if got := sweepCount(t, s); got != 1 {
		t.Errorf("SweepCount = %d after a tick inside the interval, want 1", got)
	}

	if len(hooked) != 1 || hooked[0].Processed != 6 {
		t.Fatalf("hook reports = %+v, want one report of 6 pins", hooked)
	}
	if !hooked[0].ReferenceTime.Equal(testNow) {
		t.Errorf("ReferenceTime = %v, want the service clock %v", hooked[0].ReferenceTime, testNow)
	}
}

func TestMutationsDoNotStarveMaintenance(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	s := NewService(newTestManager(t, cfg), cfg.CheckInterval, zap.NewNop(),
		WithClock(func() time.Time { return testNow }))
	s.Start(context.Background())
	defer s.Stop()

	ctx := context.Background()
	if err := s.Refresh(ctx, mixedSnapshot()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Mutate(ctx, func(m *Manager) error {
			_, err := m.Endorse("fresh", testNow)
			return err
		}); err != nil {
			t.Fatalf("Mutate() error = %v", err)
		}
		if sweepCount(t, s) > 0 {
			return
		}
	}
	t.Error("no maintenance sweep ran while mutations kept arriving")
}

func TestSweepHookSeesSkippedRecords(t *testing.T) {
	var got []lifecycle.Pin
	hook := func(ctx context.Context, pins []lifecycle.Pin, report Report) error {
		got = pins
		return nil
	}

	s := newTestService(t, testConfig(), make(chan time.Time), WithSweepHook("record", hook))
	s.Start(context.Background())
	defer s.Stop()

	legacy := agedPin("legacy", 5, 1, 4, 2)
	if err := s.Refresh(context.Background(), append(mixedSnapshot(), legacy)); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	report, err := s.TriggerMaintenance(context.Background())
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if report.SkippedCount() != 1 {
		t.Errorf("SkippedCount() = %d, want 1", report.SkippedCount())
	}
	if len(got) != 7 || got[6].ID != "legacy" || got[6].RecentEndorsements != 4 {
		t.Errorf("hook got %v, want the swept pins and the skipped legacy record", ids(got))
	}
}

func TestMutationHooks(t *testing.T) {
	var calls [][]string
	hook := func(ctx context.Context, changed []lifecycle.Pin) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("hook context has no deadline")
		}
		calls = append(calls, ids(changed))
		return nil
	}
	failing := func(ctx context.Context, changed []lifecycle.Pin) error {
		return errors.New("store unavailable")
	}

	s := newTestService(t, testConfig(), make(chan time.Time),
		WithMutationHook("failing", failing),
		WithMutationHook("record", hook))
	s.Start(context.Background())
	defer s.Stop()

	ctx := context.Background()
	if err := s.Refresh(ctx, mixedSnapshot()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if err := s.Mutate(ctx, func(m *Manager) error {
		_, err := m.Create(lifecycle.NewPin("cafe", lifecycle.Coordinates{}, "", "", testNow))
		return err
	}); err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if err := s.Mutate(ctx, func(m *Manager) error {
		_, err := m.Endorse("ghost", testNow)
		return err
	}); !errors.Is(err, ErrUnknownPin) {
		t.Errorf("Mutate() error = %v, want %v", err, ErrUnknownPin)
	}
	if err := s.Do(ctx, func(m *Manager) error {
		m.FilteredPins()
		return nil
	}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("hook calls = %v, want one for the refresh and one for the create", calls)
	}
	if len(calls[0]) != 6 {
		t.Errorf("refresh handed %d pins to the hook, want 6", len(calls[0]))
	}
	if !equalIDs(calls[1], []string{"cafe"}) {
		t.Errorf("create handed %v to the hook, want [cafe]", calls[1])
	}
}

func TestTriggerMaintenanceRunsHooks(t *testing.T) {
	var calls []string
	failing := func(ctx context.Context, pins []lifecycle.Pin, report Report) error {
		calls = append(calls, "failing")
		return errors.New("store unavailable")
	}
	recording := func(ctx context.Context, pins []lifecycle.Pin, report Report) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("hook context has no deadline")
		}
		calls = append(calls, "recording")
		return nil
	}

	s := newTestService(t, testConfig(), make(chan time.Time),
		WithSweepHook("failing", failing),
		WithSweepHook("recording", recording),
		WithHookTimeout(time.Second))
	s.Start(context.Background())
	defer s.Stop()

	if err := s.Refresh(context.Background(), mixedSnapshot()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	report, err := s.TriggerMaintenance(context.Background())
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if !report.ReferenceTime.Equal(testNow) {
		t.Errorf("ReferenceTime = %v, want the service clock %v", report.ReferenceTime, testNow)
	}
	if len(calls) != 2 || calls[0] != "failing" || calls[1] != "recording" {
		t.Errorf("hook calls = %v, want both hooks in order", calls)
	}
}

func TestDisabledService(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := NewService(newTestManager(t, cfg), cfg.CheckInterval, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	if s.ticker != nil {
		t.Error("disabled service armed the maintenance timer")
	}
	if _, err := s.TriggerMaintenance(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("TriggerMaintenance() error = %v, want %v", err, ErrDisabled)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestService(t, testConfig(), make(chan time.Time))
	s.Stop()
	s.Start(context.Background())
	s.Stop()

	err := s.Do(context.Background(), func(*Manager) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Do() on a service stopped before start error = %v, want %v", err, ErrStopped)
	}
}

func TestStoppedService(t *testing.T) {
	s := newTestService(t, testConfig(), make(chan time.Time))
	s.Start(context.Background())
	s.Stop()
	s.Stop()

	err := s.Do(context.Background(), func(*Manager) error { return nil })
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Do() after Stop error = %v, want %v", err, ErrStopped)
	}
}
