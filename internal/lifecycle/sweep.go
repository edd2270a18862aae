package lifecycle

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicatePin marks a record whose id already appeared earlier in the input
var ErrDuplicatePin = errors.New("duplicate pin id")

// SkippedPin is an input record the sweep refused
type SkippedPin struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// MaintenanceReport summarises one sweep
type MaintenanceReport struct {
	Processed      int           `json:"processed"`
	NewlyHidden    int           `json:"newly_hidden"`
	Promoted       int           `json:"promoted"`
	Demoted        int           `json:"demoted"`
	Skipped        []SkippedPin  `json:"skipped,omitempty"`
	TabCounts      map[Tab]int   `json:"tab_counts"`
	ReferenceTime  time.Time     `json:"reference_time"`
	LastSweepAt    time.Time     `json:"last_sweep_at,omitempty"`
	SinceLastSweep time.Duration `json:"since_last_sweep"`
	Overdue        bool          `json:"overdue"`
}

// SkippedCount is the number of records excluded from the output
func (r MaintenanceReport) SkippedCount() int {
	return len(r.Skipped)
}

// SweepResult is the output of Sweep. Classifications is keyed by pin id.
// Skipped holds the refused input records in input order, unclassified, so
// callers can keep them in storage untouched.
type SweepResult struct {
	Pins            []Pin
	Skipped         []Pin
	Classifications map[string]Classification
	Report          MaintenanceReport
}

// Sweep rescores and reclassifies every valid pin at ref. Only the derived
// fields change; invalid and duplicate records are left out of Pins and
// listed in the report. Running Sweep on its own output with the same ref
// yields the same pins. lastSweepAt may be zero when no sweep has run yet.
func (e *Engine) Sweep(pins []Pin, ref, lastSweepAt time.Time) (SweepResult, error) {
	if err := checkReference(ref); err != nil {
		return SweepResult{}, err
	}

	report := MaintenanceReport{
		TabCounts:     make(map[Tab]int, len(Tabs)),
		ReferenceTime: ref,
		LastSweepAt:   lastSweepAt,
	}
	report.SinceLastSweep, report.Overdue = e.staleness(ref, lastSweepAt)

	result := SweepResult{
		Pins:            make([]Pin, 0, len(pins)),
		Classifications: make(map[string]Classification, len(pins)),
	}
	seen := make(map[string]struct{}, len(pins))

	for i, p := range pins {
		if err := p.Validate(); err != nil {
			report.Skipped = append(report.Skipped, SkippedPin{Index: i, ID: p.ID, Reason: err.Error()})
			result.Skipped = append(result.Skipped, p.withDerived(0, TabUnclassified))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			err := fmt.Errorf("%w: %s", ErrDuplicatePin, p.ID)
			report.Skipped = append(report.Skipped, SkippedPin{Index: i, ID: p.ID, Reason: err.Error()})
			result.Skipped = append(result.Skipped, p.withDerived(0, TabUnclassified))
			continue
		}
		seen[p.ID] = struct{}{}

		score := e.ComputeScore(p, ref)
		c := e.Classify(p, score, ref)
		updated := p.withDerived(score, c.Tab)

		if updated.hidden && !p.hidden {
			report.NewlyHidden++
		}
		if updated.tab == TabClassics && p.tab != TabClassics {
			report.Promoted++
		}
		if p.tab == TabTrending && updated.tab != TabTrending {
			report.Demoted++
		}
		report.TabCounts[updated.tab]++
		report.Processed++

		result.Pins = append(result.Pins, updated)
		result.Classifications[p.ID] = c
	}

	result.Report = report
	return result, nil
}

// Reclassify rescores a single pin at ref between sweeps so that new and
// changed pins show up in the visible tabs right away. Hiding is left to
// Sweep: a visible pin due to be hidden keeps its tab (Recent if it was never
// classified) and a hidden pin stays hidden. The returned classification is
// the full verdict either way. An invalid pin comes back unclassified.
func (e *Engine) Reclassify(p Pin, ref time.Time) (Pin, Classification, error) {
	if err := checkReference(ref); err != nil {
		return p, Classification{}, err
	}
	if err := p.Validate(); err != nil {
		return p.withDerived(0, TabUnclassified), Classification{}, err
	}

	score := e.ComputeScore(p, ref)
	c := e.Classify(p, score, ref)
	tab := c.Tab
	switch {
	case p.hidden:
		tab = TabHidden
	case tab == TabHidden && p.tab == TabUnclassified:
		tab = TabRecent
	case tab == TabHidden:
		tab = p.tab
	}
	return p.withDerived(score, tab), c, nil
}

// Staleness returns the time since lastSweepAt and whether it exceeds the
// maintenance interval. A zero lastSweepAt is always overdue.
func (e *Engine) Staleness(ref, lastSweepAt time.Time) (time.Duration, bool) {
	return e.staleness(ref, lastSweepAt)
}

func (e *Engine) staleness(ref, lastSweepAt time.Time) (time.Duration, bool) {
	if lastSweepAt.IsZero() {
		return 0, true
	}
	since := ref.Sub(lastSweepAt)
	return since, since > e.cfg.MaintenanceInterval
}
