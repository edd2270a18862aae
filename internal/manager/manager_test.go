package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

func agedPin(id string, ageDays, idleDays float64, recent, total int) lifecycle.Pin {
	p := lifecycle.NewPin(id, lifecycle.Coordinates{Latitude: 52.52, Longitude: 13.405}, "food", "", daysAgo(ageDays))
	p.LastEndorsedAt = daysAgo(idleDays)
	p.RecentEndorsements = recent
	p.TotalEndorsements = total
	return p
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Engine:           lifecycle.DefaultConfig(),
		CheckInterval:    time.Hour,
		ExpiringSoonDays: 3,
	}
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithReferenceClock(func() time.Time { return testNow })}, opts...)
	m, err := New(cfg, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

// mixedSnapshot has one pin for every outcome of classification
func mixedSnapshot() []lifecycle.Pin {
	downvoted := agedPin("downvoted", 0, 0, 1, 1)
	for i := 0; i < 5; i++ {
		downvoted = downvoted.Downvote()
	}
	return []lifecycle.Pin{
		agedPin("fresh", 0, 0, 1, 1),
		agedPin("burst", 10, 0, 8, 10),
		agedPin("classic", 400, 400, 1, 50),
		agedPin("expired", 60, 60, 0, 1),
		agedPin("expiring", 28, 28, 0, 1),
		downvoted,
	}
}

func ids(pins []lifecycle.Pin) []string {
	out := make([]string, len(pins))
	for i, p := range pins {
		out[i] = p.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	badEngine := testConfig()
	badEngine.Engine.DecayHalfLifeHours = 0

	noInterval := testConfig()
	noInterval.CheckInterval = 0

	negativeSoon := testConfig()
	negativeSoon.ExpiringSoonDays = -1

	tests := []struct {
		name string
		cfg  Config
	}{
		{"engine thresholds", badEngine},
		{"check interval", noInterval},
		{"expiring soon days", negativeSoon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, zap.NewNop())
			if !errors.Is(err, lifecycle.ErrInvalidConfig) {
				t.Errorf("New() error = %v, want %v", err, lifecycle.ErrInvalidConfig)
			}
		})
	}
}

func TestViewsAfterSweep(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())

	report, err := m.TriggerMaintenance(context.Background(), testNow)
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if report.RunID == "" {
		t.Error("TriggerMaintenance() report has no run id")
	}
	if report.Processed != 6 || report.NewlyHidden != 2 {
		t.Errorf("report = %+v", report.MaintenanceReport)
	}

	tests := []struct {
		view          lifecycle.View
		includeHidden bool
		want          []string
	}{
		{lifecycle.ViewRecent, false, []string{"fresh", "expiring"}},
		{lifecycle.ViewRecent, true, []string{"fresh", "expiring"}},
		{lifecycle.ViewTrending, false, []string{"burst"}},
		{lifecycle.ViewClassics, true, []string{"classic"}},
		{lifecycle.ViewAll, false, []string{"fresh", "burst", "classic", "expiring"}},
		{lifecycle.ViewAll, true, []string{"fresh", "burst", "classic", "expired", "expiring", "downvoted"}},
	}

	for _, tt := range tests {
		got := ids(m.PinsFor(tt.view, tt.includeHidden))
		if !equalIDs(got, tt.want) {
			t.Errorf("PinsFor(%s, %v) = %v, want %v", tt.view, tt.includeHidden, got, tt.want)
		}
	}

	counts := m.PinCounts()
	want := Counts{Recent: 2, Trending: 1, Classics: 1, Hidden: 2, All: 6}
	if counts != want {
		t.Errorf("PinCounts() = %+v, want %+v", counts, want)
	}
}

func TestLifecycleStats(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())

	// pins due to be hidden stay visible until the sweep
	stats := m.LifecycleStats()
	if stats.Total != 6 || stats.Unclassified != 0 || stats.Visible != 6 || stats.Hidden != 0 {
		t.Errorf("stats before sweep = %+v, want 6 classified visible pins", stats)
	}
	if stats.ByTab[lifecycle.TabRecent] != 4 || stats.ByReason[lifecycle.ReasonDownvoted] != 1 || stats.ByReason[lifecycle.ReasonExpired] != 1 {
		t.Errorf("stats before sweep: ByTab = %v, ByReason = %v", stats.ByTab, stats.ByReason)
	}

	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}

	stats = m.LifecycleStats()
	if stats.Visible != 4 || stats.Hidden != 2 || stats.Unclassified != 0 {
		t.Errorf("stats = %+v, want 4 visible and 2 hidden", stats)
	}
	wantReasons := map[lifecycle.Reason]int{
		lifecycle.ReasonNew:       1,
		lifecycle.ReasonTrending:  1,
		lifecycle.ReasonClassic:   1,
		lifecycle.ReasonExpired:   1,
		lifecycle.ReasonExpiring:  1,
		lifecycle.ReasonDownvoted: 1,
	}
	for reason, n := range wantReasons {
		if stats.ByReason[reason] != n {
			t.Errorf("ByReason[%s] = %d, want %d", reason, stats.ByReason[reason], n)
		}
	}
	if stats.ByTab[lifecycle.TabHidden] != 2 || stats.ByTab[lifecycle.TabRecent] != 2 {
		t.Errorf("ByTab = %v", stats.ByTab)
	}
	if stats.ExpiringSoon != 1 {
		t.Errorf("ExpiringSoon = %d, want 1", stats.ExpiringSoon)
	}
	if stats.AverageScore <= 0 {
		t.Errorf("AverageScore = %v, want positive", stats.AverageScore)
	}
}

func TestDownvotedPinHiddenOnNextSweep(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh([]lifecycle.Pin{agedPin("popular", 2, 0, 30, 30)})
	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}

	for i := 0; i < m.cfg.Engine.DownvoteHideThreshold; i++ {
		if _, err := m.Downvote("popular"); err != nil {
			t.Fatalf("Downvote() error = %v", err)
		}
	}
	if got := m.PinCounts().Recent; got != 1 {
		t.Fatalf("pin left recent before the sweep, Recent = %d", got)
	}

	report, err := m.TriggerMaintenance(context.Background(), testNow.Add(time.Minute))
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if report.NewlyHidden != 1 {
		t.Errorf("NewlyHidden = %d, want 1", report.NewlyHidden)
	}
	if c, _ := m.Classification("popular"); c.Reason != lifecycle.ReasonDownvoted {
		t.Errorf("Classification().Reason = %s, want downvoted", c.Reason)
	}
	if len(m.PinsFor(lifecycle.ViewRecent, true)) != 0 {
		t.Error("downvoted pin still listed in recent")
	}
}

func TestActiveTab(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())
	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}

	if m.ActiveTab() != lifecycle.ViewRecent {
		t.Errorf("ActiveTab() = %s, want recent", m.ActiveTab())
	}
	if err := m.SetActiveTab(lifecycle.ViewClassics); err != nil {
		t.Fatalf("SetActiveTab() error = %v", err)
	}
	if got := ids(m.FilteredPins()); !equalIDs(got, []string{"classic"}) {
		t.Errorf("FilteredPins() = %v, want [classic]", got)
	}
	if err := m.SetActiveTab(lifecycle.View(42)); !errors.Is(err, lifecycle.ErrUnknownTab) {
		t.Errorf("SetActiveTab(42) error = %v, want %v", err, lifecycle.ErrUnknownTab)
	}

	m.SetActiveTab(lifecycle.ViewAll)
	m.SetIncludeHidden(true)
	if got := len(m.FilteredPins()); got != 6 {
		t.Errorf("FilteredPins() with hidden = %d pins, want 6", got)
	}
}

func TestRefreshKeepsUnchangedClassifications(t *testing.T) {
	now := testNow
	m := newTestManager(t, testConfig(), WithReferenceClock(func() time.Time { return now }))
	m.Refresh(mixedSnapshot())
	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}

	now = testNow.Add(40 * 24 * time.Hour)
	var snapshot []lifecycle.Pin
	for _, p := range m.Snapshot() {
		switch p.ID {
		case "classic":
			continue
		case "fresh":
			p = p.Endorse(now)
		}
		snapshot = append(snapshot, p)
	}
	snapshot = append(snapshot, lifecycle.NewPin("other", lifecycle.Coordinates{}, "", "", now))
	m.Refresh(snapshot)

	if _, ok := m.Classification("classic"); ok {
		t.Error("Classification() kept a verdict for a pin no longer in the snapshot")
	}
	if c, _ := m.Classification("burst"); c.Reason != lifecycle.ReasonTrending {
		t.Errorf("unchanged burst reason = %s, want the sweep's trending", c.Reason)
	}
	if c, _ := m.Classification("fresh"); c.Reason != lifecycle.ReasonFading {
		t.Errorf("endorsed fresh reason = %s, want fading at the refresh clock", c.Reason)
	}
	if c, _ := m.Classification("other"); c.Reason != lifecycle.ReasonNew {
		t.Errorf("new pin reason = %s, want new", c.Reason)
	}
	if got := ids(m.PinsFor(lifecycle.ViewRecent, false)); !equalIDs(got, []string{"fresh", "expiring", "other"}) {
		t.Errorf("PinsFor(recent) = %v, want [fresh expiring other]", got)
	}
	if got := m.PinCounts().All; got != 6 {
		t.Errorf("PinCounts().All = %d, want 6", got)
	}
}

func TestRefreshKeepsRestoredTabs(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())
	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	stored := lifecycle.Records(m.Snapshot())

	later := testNow.Add(100 * 24 * time.Hour)
	restarted := newTestManager(t, testConfig(), WithReferenceClock(func() time.Time { return later }))
	restarted.Refresh(lifecycle.RestoreAll(stored))
	if got := ids(restarted.PinsFor(lifecycle.ViewTrending, false)); !equalIDs(got, []string{"burst"}) {
		t.Errorf("PinsFor(trending) after restore = %v, want the stored [burst]", got)
	}

	report, err := restarted.TriggerMaintenance(context.Background(), later)
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if report.Demoted != 1 {
		t.Errorf("Demoted = %d, want burst leaving trending", report.Demoted)
	}
}

func TestCreatedPinVisibleBeforeNextSweep(t *testing.T) {
	now := testNow
	m := newTestManager(t, testConfig(), WithReferenceClock(func() time.Time { return now }))
	m.Refresh(mixedSnapshot())
	if _, err := m.TriggerMaintenance(context.Background(), testNow); err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}

	now = testNow.Add(time.Hour)
	created, err := m.Create(lifecycle.NewPin("cafe", lifecycle.Coordinates{Latitude: 1, Longitude: 1}, "food", "", now))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Tab() != lifecycle.TabRecent || created.Score() <= 0 {
		t.Errorf("Create() = tab %v score %v, want a scored recent pin", created.Tab(), created.Score())
	}
	if got := ids(m.PinsFor(lifecycle.ViewRecent, false)); !equalIDs(got, []string{"fresh", "expiring", "cafe"}) {
		t.Errorf("PinsFor(recent) = %v, want the new pin listed", got)
	}
	if c, ok := m.Classification("cafe"); !ok || c.Reason != lifecycle.ReasonNew {
		t.Errorf("Classification(cafe) = %+v, %v, want new", c, ok)
	}
	if c, _ := m.Classification("burst"); c.Reason != lifecycle.ReasonTrending {
		t.Errorf("Create() dropped the verdicts of other pins: burst = %+v", c)
	}
	if got := m.PinCounts(); got.Recent != 3 || got.All != 7 {
		t.Errorf("PinCounts() = %+v, want 3 recent of 7", got)
	}
}

func TestSweepKeepsSkippedRecords(t *testing.T) {
	m := newTestManager(t, testConfig())

	legacy := agedPin("legacy", 5, 1, 4, 2)
	m.Refresh([]lifecycle.Pin{
		agedPin("fresh", 0, 0, 1, 1),
		legacy,
		agedPin("fresh", 3, 0, 2, 2),
		agedPin("burst", 10, 0, 8, 10),
	})

	report, err := m.TriggerMaintenance(context.Background(), testNow)
	if err != nil {
		t.Fatalf("TriggerMaintenance() error = %v", err)
	}
	if report.SkippedCount() != 2 {
		t.Fatalf("SkippedCount() = %d, want 2", report.SkippedCount())
	}

	snapshot := m.Snapshot()
	if got := ids(snapshot); !equalIDs(got, []string{"fresh", "legacy", "fresh", "burst"}) {
		t.Fatalf("Snapshot() = %v, want every input record in order", got)
	}
	if snapshot[1].RecentEndorsements != 4 || snapshot[2].TotalEndorsements != 2 {
		t.Errorf("skipped records changed: %+v, %+v", snapshot[1].Record(), snapshot[2].Record())
	}
	if snapshot[1].Tab() != lifecycle.TabUnclassified || snapshot[2].Tab() != lifecycle.TabUnclassified {
		t.Errorf("skipped records classified: %v, %v", snapshot[1].Tab(), snapshot[2].Tab())
	}

	if got := ids(m.PinsFor(lifecycle.ViewAll, true)); !equalIDs(got, []string{"fresh", "burst"}) {
		t.Errorf("PinsFor(all) = %v, want only swept pins", got)
	}
	stats := m.LifecycleStats()
	if stats.Total != 4 || stats.Unclassified != 2 || stats.Visible != 2 {
		t.Errorf("LifecycleStats() = %+v", stats)
	}
	if got := m.PinCounts().All; got != 2 {
		t.Errorf("PinCounts().All = %d, want 2", got)
	}
}

func TestTakeChanges(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())
	if got := m.TakeChanges(); len(got) != 0 {
		t.Errorf("TakeChanges() after Refresh = %v, want none", ids(got))
	}

	if _, err := m.Endorse("burst", testNow); err != nil {
		t.Fatalf("Endorse() error = %v", err)
	}
	if _, err := m.Downvote("fresh"); err != nil {
		t.Fatalf("Downvote() error = %v", err)
	}
	got := m.TakeChanges()
	if !equalIDs(ids(got), []string{"fresh", "burst"}) {
		t.Fatalf("TakeChanges() = %v, want [fresh burst]", ids(got))
	}
	if got[0].Downvotes != 1 || got[1].TotalEndorsements != 11 {
		t.Errorf("TakeChanges() returned stale pins: %+v", got)
	}
	if again := m.TakeChanges(); len(again) != 0 {
		t.Errorf("second TakeChanges() = %v, want none", ids(again))
	}
}

func TestTick(t *testing.T) {
	cfg := testConfig()
	m := newTestManager(t, cfg, WithLastSweepAt(testNow.Add(-time.Hour)))
	m.Refresh(mixedSnapshot())

	if _, ran, err := m.Tick(context.Background(), testNow); err != nil || ran {
		t.Errorf("Tick() inside the interval ran = %v, err = %v", ran, err)
	}

	later := testNow.Add(cfg.Engine.MaintenanceInterval)
	report, ran, err := m.Tick(context.Background(), later)
	if err != nil || !ran {
		t.Fatalf("Tick() after the interval ran = %v, err = %v", ran, err)
	}
	if !report.Overdue || !report.ReferenceTime.Equal(later) {
		t.Errorf("report = %+v", report.MaintenanceReport)
	}

	stats := m.MaintenanceStats(later)
	if stats.IsOverdue || stats.SweepCount != 1 || !stats.LastSweepAt.Equal(later) {
		t.Errorf("MaintenanceStats() = %+v", stats)
	}
}

func TestMaintenanceStatsOverdue(t *testing.T) {
	m := newTestManager(t, testConfig())
	if !m.MaintenanceStats(testNow).IsOverdue {
		t.Error("never-swept manager should be overdue")
	}

	m = newTestManager(t, testConfig(), WithLastSweepAt(testNow.Add(-25*time.Hour)))
	stats := m.MaintenanceStats(testNow)
	if !stats.IsOverdue || stats.SinceLastSweep != 25*time.Hour {
		t.Errorf("MaintenanceStats() = %+v, want overdue by 25h", stats)
	}
}

func TestDisabledManager(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	m := newTestManager(t, cfg)
	m.Refresh(mixedSnapshot())

	if _, err := m.TriggerMaintenance(context.Background(), testNow); !errors.Is(err, ErrDisabled) {
		t.Errorf("TriggerMaintenance() error = %v, want %v", err, ErrDisabled)
	}
	if _, ran, err := m.Tick(context.Background(), testNow); ran || err != nil {
		t.Errorf("Tick() ran = %v, err = %v", ran, err)
	}
	if got := m.FilteredPins(); len(got) != 0 {
		t.Errorf("FilteredPins() = %d pins, want none", len(got))
	}
	if counts := m.PinCounts(); counts != (Counts{}) {
		t.Errorf("PinCounts() = %+v, want zero", counts)
	}
	if m.MaintenanceStats(testNow).IsOverdue {
		t.Error("disabled manager should never be overdue")
	}
	if got := len(m.Snapshot()); got != 6 {
		t.Errorf("Snapshot() = %d pins, want the snapshot passed through", got)
	}
	if _, err := m.Insights("fresh", testNow); !errors.Is(err, ErrDisabled) {
		t.Errorf("Insights() error = %v, want %v", err, ErrDisabled)
	}
}

func TestInsights(t *testing.T) {
	m := newTestManager(t, testConfig())
	m.Refresh(mixedSnapshot())

	insights, err := m.Insights("burst", testNow)
	if err != nil {
		t.Fatalf("Insights() error = %v", err)
	}
	if insights.Rank != 1 || insights.TotalPins != 6 || insights.Percentile != 100 {
		t.Errorf("Insights(burst) = %+v, want top rank", insights)
	}

	if _, err := m.Insights("nope", testNow); !errors.Is(err, ErrUnknownPin) {
		t.Errorf("Insights(nope) error = %v, want %v", err, ErrUnknownPin)
	}
}

func TestCreate(t *testing.T) {
	m := newTestManager(t, testConfig())

	first := lifecycle.NewPin("p1", lifecycle.Coordinates{Latitude: 10, Longitude: 10}, "bar", "gplaces:abc", testNow)
	if _, err := m.Create(first); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got := ids(m.PinsFor(lifecycle.ViewRecent, false)); !equalIDs(got, []string{"p1"}) {
		t.Errorf("PinsFor(recent) = %v, want [p1] before any sweep", got)
	}
	if _, err := m.Create(first); !errors.Is(err, lifecycle.ErrDuplicatePin) {
		t.Errorf("Create() same id error = %v, want %v", err, lifecycle.ErrDuplicatePin)
	}

	samePlace := lifecycle.NewPin("p2", lifecycle.Coordinates{Latitude: 10, Longitude: 10}, "bar", "gplaces:abc", testNow.Add(time.Hour))
	got, err := m.Create(samePlace)
	if err != nil {
		t.Fatalf("Create() same place error = %v", err)
	}
	if got.ID != "p1" || got.TotalEndorsements != 2 || !got.LastEndorsedAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("Create() same place = %+v, want endorsement of p1", got)
	}

	invalid := lifecycle.NewPin("p3", lifecycle.Coordinates{Latitude: 100, Longitude: 0}, "", "", testNow)
	if _, err := m.Create(invalid); !errors.Is(err, lifecycle.ErrInvalidPin) {
		t.Errorf("Create() invalid error = %v, want %v", err, lifecycle.ErrInvalidPin)
	}

	if got := len(m.Snapshot()); got != 1 {
		t.Errorf("Snapshot() = %d pins, want 1", got)
	}
}

func TestEndorseUnknownPin(t *testing.T) {
	m := newTestManager(t, testConfig())
	if _, err := m.Endorse("ghost", testNow); !errors.Is(err, ErrUnknownPin) {
		t.Errorf("Endorse() error = %v, want %v", err, ErrUnknownPin)
	}
	if _, err := m.Downvote("ghost"); !errors.Is(err, ErrUnknownPin) {
		t.Errorf("Downvote() error = %v, want %v", err, ErrUnknownPin)
	}
}
