package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/pkg/logging"
	"github.com/steemit/pinmind/pkg/telemetry"
)

var (
	// ErrDisabled is returned by operations that need the lifecycle engine when it is switched off
	ErrDisabled = errors.New("map lifecycle is disabled")
	// ErrUnknownPin is returned when an id is not in the snapshot
	ErrUnknownPin = errors.New("unknown pin")
)

// Config configures a Manager
type Config struct {
	Enabled          bool
	Engine           lifecycle.Config
	CheckInterval    time.Duration
	ExpiringSoonDays int
}

// Validate fails fast on configuration a Manager cannot run with
func (c Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check_interval must be positive, got %s", lifecycle.ErrInvalidConfig, c.CheckInterval)
	}
	if c.ExpiringSoonDays < 0 {
		return fmt.Errorf("%w: expiring_soon_days must not be negative, got %d", lifecycle.ErrInvalidConfig, c.ExpiringSoonDays)
	}
	return nil
}

// Report is a maintenance report stamped with its run
type Report struct {
	RunID string `json:"run_id"`
	lifecycle.MaintenanceReport
	Duration time.Duration `json:"duration"`
}

// Counts is the number of pins per view. All includes hidden pins.
type Counts struct {
	Recent   int `json:"recent"`
	Trending int `json:"trending"`
	Classics int `json:"classics"`
	Hidden   int `json:"hidden"`
	All      int `json:"all"`
}

// LifecycleStats aggregates the classification of the current snapshot
type LifecycleStats struct {
	Total        int                      `json:"total"`
	Visible      int                      `json:"visible"`
	Hidden       int                      `json:"hidden"`
	Unclassified int                      `json:"unclassified"`
	ByTab        map[lifecycle.Tab]int    `json:"by_tab"`
	ByReason     map[lifecycle.Reason]int `json:"by_reason"`
	AverageScore float64                  `json:"average_score"`
	ExpiringSoon int                      `json:"expiring_soon"`
}

// MaintenanceStats describes sweep freshness
type MaintenanceStats struct {
	Enabled        bool          `json:"enabled"`
	LastSweepAt    time.Time     `json:"last_sweep_at,omitempty"`
	Interval       time.Duration `json:"interval"`
	SinceLastSweep time.Duration `json:"since_last_sweep"`
	IsOverdue      bool          `json:"is_overdue"`
	SweepCount     int           `json:"sweep_count"`
	LastReport     *Report       `json:"last_report,omitempty"`
}

// Option configures a Manager
type Option func(*Manager)

// WithMetrics records sweep metrics on m
func WithMetrics(metrics *telemetry.SweepMetrics) Option {
	return func(mgr *Manager) { mgr.metrics = metrics }
}

// WithReferenceClock replaces time.Now as the source of the reference time
// used to classify pins between sweeps
func WithReferenceClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// WithLastSweepAt seeds the time of the last sweep, e.g. from the run log
func WithLastSweepAt(t time.Time) Option {
	return func(mgr *Manager) { mgr.lastSweepAt = t }
}

// Manager owns the pin snapshot and the views derived from it.
// It is not safe for concurrent use; Service serializes access.
type Manager struct {
	cfg     Config
	engine  *lifecycle.Engine
	logger  *zap.Logger
	metrics *telemetry.SweepMetrics
	now     func() time.Time

	activeTab     lifecycle.View
	includeHidden bool

	pins            []lifecycle.Pin
	classifications map[string]lifecycle.Classification
	changed         map[string]struct{}

	lastSweepAt time.Time
	lastReport  *Report
	sweepCount  int
}

// New builds a Manager. The Enabled flag is read once here.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manager configuration: %w", err)
	}
	engine, err := lifecycle.NewEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		cfg:             cfg,
		engine:          engine,
		logger:          logger.With(zap.String("component", "pin-manager")),
		now:             time.Now,
		activeTab:       lifecycle.ViewRecent,
		classifications: make(map[string]lifecycle.Classification),
		changed:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if !cfg.Enabled {
		m.logger.Info("Map lifecycle disabled, running in pass-through mode")
	}
	return m, nil
}

// Enabled reports the feature flag captured at construction
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// Engine returns the engine the manager sweeps with
func (m *Manager) Engine() *lifecycle.Engine {
	return m.engine
}

// ActiveTab returns the view the UI is showing
func (m *Manager) ActiveTab() lifecycle.View {
	return m.activeTab
}

// SetActiveTab switches the view FilteredPins returns
func (m *Manager) SetActiveTab(view lifecycle.View) error {
	if _, err := lifecycle.ParseView(view.String()); err != nil {
		return err
	}
	m.activeTab = view
	return nil
}

// SetIncludeHidden controls whether the All view lists hidden pins
func (m *Manager) SetIncludeHidden(include bool) {
	m.includeHidden = include
}

// Refresh replaces the snapshot wholesale. Pins that are unchanged keep their
// classification and pins restored from storage keep their stored tab, so
// the next sweep still reports their transitions. New and changed pins are
// classified at the reference clock so they show up in the views before the
// next sweep.
func (m *Manager) Refresh(snapshot []lifecycle.Pin) {
	previous := make(map[string]lifecycle.Pin, len(m.pins))
	for _, p := range m.pins {
		previous[p.ID] = p
	}

	pins := append([]lifecycle.Pin(nil), snapshot...)
	classifications := make(map[string]lifecycle.Classification, len(pins))
	ref := m.now()
	kept := 0
	for i, p := range pins {
		old, known := previous[p.ID]
		if p.Tab() != lifecycle.TabUnclassified && (!known || samePin(old, p)) {
			if c, ok := m.classifications[p.ID]; ok && known {
				classifications[p.ID] = c
			}
			kept++
			continue
		}
		updated, c, ok := m.reclassify(p, ref)
		pins[i] = updated
		if ok {
			classifications[p.ID] = c
		}
	}

	m.pins = pins
	m.classifications = classifications
	m.logger.Debug("Snapshot refreshed",
		zap.Int("pins", len(m.pins)),
		zap.Int("kept", kept))
}

// reclassify classifies p at ref between sweeps. Invalid pins come back
// unclassified and are left for the next sweep to report.
func (m *Manager) reclassify(p lifecycle.Pin, ref time.Time) (lifecycle.Pin, lifecycle.Classification, bool) {
	if !m.cfg.Enabled {
		return p, lifecycle.Classification{}, false
	}
	updated, c, err := m.engine.Reclassify(p, ref)
	if err != nil {
		m.logger.Debug("Pin left unclassified", zap.String("pin_id", p.ID), zap.Error(err))
		return updated, lifecycle.Classification{}, false
	}
	return updated, c, true
}

func samePin(a, b lifecycle.Pin) bool {
	ra, rb := a.Record(), b.Record()
	return ra.ID == rb.ID &&
		ra.ExternalPlaceID == rb.ExternalPlaceID &&
		ra.Coordinates == rb.Coordinates &&
		ra.Category == rb.Category &&
		ra.CreatedAt.Equal(rb.CreatedAt) &&
		ra.LastEndorsedAt.Equal(rb.LastEndorsedAt) &&
		ra.TotalEndorsements == rb.TotalEndorsements &&
		ra.RecentEndorsements == rb.RecentEndorsements &&
		ra.Downvotes == rb.Downvotes &&
		ra.LifecycleTab == rb.LifecycleTab &&
		ra.IsHidden == rb.IsHidden
}

// TakeChanges returns the pins created or changed since the last call, in
// snapshot order, and forgets them
func (m *Manager) TakeChanges() []lifecycle.Pin {
	if len(m.changed) == 0 {
		return nil
	}
	out := make([]lifecycle.Pin, 0, len(m.changed))
	for _, p := range m.pins {
		if _, ok := m.changed[p.ID]; ok {
			out = append(out, p)
		}
	}
	m.changed = make(map[string]struct{})
	return out
}

func (m *Manager) markChanged(ids ...string) {
	for _, id := range ids {
		m.changed[id] = struct{}{}
	}
}

func (m *Manager) markAllChanged() {
	for _, p := range m.pins {
		m.changed[p.ID] = struct{}{}
	}
}

// Snapshot returns a copy of the current pins
func (m *Manager) Snapshot() []lifecycle.Pin {
	return append([]lifecycle.Pin(nil), m.pins...)
}

// TriggerMaintenance sweeps the snapshot at ref and replaces it with the
// sweep output. Records the sweep refused stay in the snapshot, unclassified,
// at their original positions.
func (m *Manager) TriggerMaintenance(ctx context.Context, ref time.Time) (Report, error) {
	if !m.cfg.Enabled {
		return Report{}, ErrDisabled
	}

	ctx, span := telemetry.StartSpan(ctx, "pins.maintenance")
	defer span.End()

	started := time.Now()
	result, err := m.engine.Sweep(m.pins, ref, m.lastSweepAt)
	if err != nil {
		span.RecordError(err)
		return Report{}, fmt.Errorf("maintenance sweep failed: %w", err)
	}
	elapsed := time.Since(started)

	report := Report{
		RunID:             uuid.NewString(),
		MaintenanceReport: result.Report,
		Duration:          elapsed,
	}

	m.pins = withSkipped(result.Pins, result.Skipped, report.Skipped)
	m.classifications = result.Classifications
	m.lastSweepAt = ref
	m.lastReport = &report
	m.sweepCount++

	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.Int("processed", report.Processed),
		attribute.Int("newly_hidden", report.NewlyHidden),
		attribute.Int("skipped", report.SkippedCount()),
	)
	m.metrics.Record(ctx, report.Processed, report.NewlyHidden, report.SkippedCount(), elapsed)

	logger := logging.WithRunID(m.logger, report.RunID)
	for _, skipped := range report.Skipped {
		logger.Warn("Skipped invalid pin",
			zap.Int("index", skipped.Index),
			zap.String("pin_id", skipped.ID),
			zap.String("reason", skipped.Reason))
	}
	logger.Info("Maintenance sweep completed",
		zap.Int("processed", report.Processed),
		zap.Int("newly_hidden", report.NewlyHidden),
		zap.Int("promoted", report.Promoted),
		zap.Int("demoted", report.Demoted),
		zap.Int("skipped", report.SkippedCount()),
		zap.Bool("was_overdue", report.Overdue),
		zap.Duration("duration", elapsed))

	return report, nil
}

// withSkipped puts refused records back at their input positions around the
// swept pins, which keep their relative order
func withSkipped(swept, skipped []lifecycle.Pin, refused []lifecycle.SkippedPin) []lifecycle.Pin {
	if len(skipped) == 0 {
		return swept
	}
	out := make([]lifecycle.Pin, 0, len(swept)+len(skipped))
	next := 0
	for i, s := range refused {
		for len(out) < s.Index && next < len(swept) {
			out = append(out, swept[next])
			next++
		}
		out = append(out, skipped[i])
	}
	return append(out, swept[next:]...)
}

// Tick sweeps only when maintenance is overdue at now. ran is false when
// nothing was due or the manager is disabled.
func (m *Manager) Tick(ctx context.Context, now time.Time) (report Report, ran bool, err error) {
	if !m.cfg.Enabled {
		return Report{}, false, nil
	}
	if !m.MaintenanceStats(now).IsOverdue {
		return Report{}, false, nil
	}
	report, err = m.TriggerMaintenance(ctx, now)
	if err != nil {
		return Report{}, false, err
	}
	return report, true, nil
}

// FilteredPins returns the pins of the active view
func (m *Manager) FilteredPins() []lifecycle.Pin {
	return m.PinsFor(m.activeTab, m.includeHidden)
}

// PinsFor returns the pins of a view. Hidden pins are only listed by
// ViewAll with includeHidden set. Unclassified records are never listed.
func (m *Manager) PinsFor(view lifecycle.View, includeHidden bool) []lifecycle.Pin {
	if !m.cfg.Enabled {
		return nil
	}

	tab, filtered := view.Tab()
	out := make([]lifecycle.Pin, 0, len(m.pins))
	for _, p := range m.pins {
		if p.Tab() == lifecycle.TabUnclassified {
			continue
		}
		if p.IsHidden() && (filtered || !includeHidden) {
			continue
		}
		if filtered && p.Tab() != tab {
			continue
		}
		out = append(out, p)
	}
	return out
}

// PinCounts counts pins per view
func (m *Manager) PinCounts() Counts {
	var c Counts
	if !m.cfg.Enabled {
		return c
	}

	for _, p := range m.pins {
		if p.Tab() == lifecycle.TabUnclassified {
			continue
		}
		c.All++
		if p.IsHidden() {
			c.Hidden++
			continue
		}
		switch p.Tab() {
		case lifecycle.TabRecent:
			c.Recent++
		case lifecycle.TabTrending:
			c.Trending++
		case lifecycle.TabClassics:
			c.Classics++
		}
	}
	return c
}

// LifecycleStats aggregates tabs, reasons and scores of the snapshot.
// Unclassified counts the records no classification could be made for; they
// are neither visible nor hidden. Reasons are the latest verdict, so a pin
// waiting to be hidden by the next sweep is counted under its hiding reason
// while its tab is still visible.
func (m *Manager) LifecycleStats() LifecycleStats {
	stats := LifecycleStats{
		ByTab:    make(map[lifecycle.Tab]int),
		ByReason: make(map[lifecycle.Reason]int),
	}
	if !m.cfg.Enabled {
		return stats
	}

	var scoreSum float64
	for _, p := range m.pins {
		stats.Total++
		scoreSum += p.Score()

		switch {
		case p.IsHidden():
			stats.Hidden++
		case p.Tab() == lifecycle.TabUnclassified:
			stats.Unclassified++
		default:
			stats.Visible++
		}
		if p.Tab() == lifecycle.TabUnclassified {
			continue
		}
		stats.ByTab[p.Tab()]++

		c, ok := m.classifications[p.ID]
		if !ok {
			continue
		}
		stats.ByReason[c.Reason]++
		if c.DaysUntilExpiry != nil && *c.DaysUntilExpiry <= m.cfg.ExpiringSoonDays {
			stats.ExpiringSoon++
		}
	}
	if stats.Total > 0 {
		stats.AverageScore = scoreSum / float64(stats.Total)
	}
	return stats
}

// MaintenanceStats reports sweep freshness at now
func (m *Manager) MaintenanceStats(now time.Time) MaintenanceStats {
	since, overdue := m.engine.Staleness(now, m.lastSweepAt)
	return MaintenanceStats{
		Enabled:        m.cfg.Enabled,
		LastSweepAt:    m.lastSweepAt,
		Interval:       m.cfg.Engine.MaintenanceInterval,
		SinceLastSweep: since,
		IsOverdue:      m.cfg.Enabled && overdue,
		SweepCount:     m.sweepCount,
		LastReport:     m.lastReport,
	}
}

// Classification returns the latest verdict for a pin, from the last sweep
// or from the refresh that last changed it
func (m *Manager) Classification(id string) (lifecycle.Classification, bool) {
	c, ok := m.classifications[id]
	return c, ok
}

// Insights ranks one pin against the whole snapshot at ref
func (m *Manager) Insights(id string, ref time.Time) (lifecycle.ScoreInsights, error) {
	if !m.cfg.Enabled {
		return lifecycle.ScoreInsights{}, ErrDisabled
	}
	i := m.indexOf(id)
	if i < 0 {
		return lifecycle.ScoreInsights{}, fmt.Errorf("%w: %s", ErrUnknownPin, id)
	}
	return m.engine.ComputeInsights(m.pins[i], m.pins, ref), nil
}

// Create adds a pin to the snapshot and classifies it. A pin for an external
// place that is already pinned endorses the existing pin instead.
func (m *Manager) Create(p lifecycle.Pin) (lifecycle.Pin, error) {
	if err := p.Validate(); err != nil {
		return lifecycle.Pin{}, err
	}
	if m.indexOf(p.ID) >= 0 {
		return lifecycle.Pin{}, fmt.Errorf("%w: %s", lifecycle.ErrDuplicatePin, p.ID)
	}

	if p.ExternalPlaceID != "" {
		for _, existing := range m.pins {
			if existing.ExternalPlaceID == p.ExternalPlaceID {
				return m.update(existing.ID, func(e lifecycle.Pin) lifecycle.Pin { return e.Endorse(p.CreatedAt) })
			}
		}
	}

	m.pins = append(m.pins, p)
	return m.set(len(m.pins)-1, p), nil
}

// Endorse records an endorsement of pin id at the given time
func (m *Manager) Endorse(id string, at time.Time) (lifecycle.Pin, error) {
	return m.update(id, func(p lifecycle.Pin) lifecycle.Pin { return p.Endorse(at) })
}

// Downvote records a "not relevant" signal on pin id
func (m *Manager) Downvote(id string) (lifecycle.Pin, error) {
	return m.update(id, lifecycle.Pin.Downvote)
}

func (m *Manager) update(id string, fn func(lifecycle.Pin) lifecycle.Pin) (lifecycle.Pin, error) {
	i := m.indexOf(id)
	if i < 0 {
		return lifecycle.Pin{}, fmt.Errorf("%w: %s", ErrUnknownPin, id)
	}
	return m.set(i, fn(m.pins[i])), nil
}

// set stores p at index i, classified at the reference clock, and marks it
// changed. The other pins keep their classifications.
func (m *Manager) set(i int, p lifecycle.Pin) lifecycle.Pin {
	updated, c, ok := m.reclassify(p, m.now())
	if ok {
		m.classifications[p.ID] = c
	} else {
		delete(m.classifications, p.ID)
	}
	m.pins[i] = updated
	m.markChanged(p.ID)
	return updated
}

func (m *Manager) indexOf(id string) int {
	for i, p := range m.pins {
		if p.ID == id {
			return i
		}
	}
	return -1
}
