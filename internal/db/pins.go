package db

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steemit/pinmind/internal/lifecycle"
	"github.com/steemit/pinmind/internal/manager"
	"github.com/steemit/pinmind/internal/models"
)

// ToModel converts an engine record to its table row
func ToModel(r lifecycle.Record) models.Pin {
	return models.Pin{
		ID:                 r.ID,
		ExternalPlaceID:    r.ExternalPlaceID,
		Latitude:           r.Coordinates.Latitude,
		Longitude:          r.Coordinates.Longitude,
		Category:           r.Category,
		CreatedAt:          r.CreatedAt,
		LastEndorsedAt:     r.LastEndorsedAt,
		TotalEndorsements:  r.TotalEndorsements,
		RecentEndorsements: r.RecentEndorsements,
		Downvotes:          r.Downvotes,
		Score:              r.Score,
		LifecycleTab:       r.LifecycleTab.String(),
		IsHidden:           r.IsHidden,
	}
}

// FromModel converts a table row to an engine record. An unknown tab name is
// read as unclassified; the next sweep recomputes it.
func FromModel(m models.Pin) lifecycle.Record {
	tab, err := lifecycle.ParseTab(m.LifecycleTab)
	if err != nil {
		tab = lifecycle.TabUnclassified
	}
	return lifecycle.Record{
		ID:                 m.ID,
		ExternalPlaceID:    m.ExternalPlaceID,
		Coordinates:        lifecycle.Coordinates{Latitude: m.Latitude, Longitude: m.Longitude},
		Category:           m.Category,
		CreatedAt:          m.CreatedAt,
		LastEndorsedAt:     m.LastEndorsedAt,
		TotalEndorsements:  m.TotalEndorsements,
		RecentEndorsements: m.RecentEndorsements,
		Downvotes:          m.Downvotes,
		Score:              m.Score,
		LifecycleTab:       tab,
		IsHidden:           m.IsHidden,
	}
}

// RunFromReport converts a maintenance report to its log row
func RunFromReport(report manager.Report, recordedAt time.Time) models.MaintenanceRun {
	return models.MaintenanceRun{
		RunID:         report.RunID,
		ReferenceTime: report.ReferenceTime,
		Processed:     report.Processed,
		NewlyHidden:   report.NewlyHidden,
		Promoted:      report.Promoted,
		Demoted:       report.Demoted,
		Skipped:       report.SkippedCount(),
		WasOverdue:    report.Overdue,
		DurationMS:    report.Duration.Milliseconds(),
		CreatedAt:     recordedAt,
	}
}

// PinStore adapts the repositories to the engine's snapshot shape
type PinStore struct {
	pins   *PinRepository
	runs   *MaintenanceRunRepository
	logger *zap.Logger
}

// NewPinStore creates a pin store over repo
func NewPinStore(repo *Repository, batchSize int, logger *zap.Logger) *PinStore {
	return &PinStore{
		pins:   NewPinRepository(repo, batchSize),
		runs:   NewMaintenanceRunRepository(repo),
		logger: logger,
	}
}

// Load reads the stored collection as engine pins
func (s *PinStore) Load(ctx context.Context) ([]lifecycle.Pin, error) {
	rows, err := s.pins.All(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]lifecycle.Record, len(rows))
	for i, row := range rows {
		records[i] = FromModel(row)
	}
	return lifecycle.RestoreAll(records), nil
}

// Save upserts pins by id. When an id repeats, its first occurrence wins,
// matching the record the sweep keeps.
func (s *PinStore) Save(ctx context.Context, pins []lifecycle.Pin) error {
	return s.pins.Upsert(ctx, uniqueRows(pins))
}

func uniqueRows(pins []lifecycle.Pin) []models.Pin {
	seen := make(map[string]struct{}, len(pins))
	rows := make([]models.Pin, 0, len(pins))
	for _, p := range pins {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		rows = append(rows, ToModel(p.Record()))
	}
	return rows
}

// History returns up to limit recorded maintenance runs, newest first
func (s *PinStore) History(ctx context.Context, limit int) ([]models.MaintenanceRun, error) {
	runs, err := s.runs.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read maintenance log: %w", err)
	}
	return runs, nil
}

// LastSweepAt returns the reference time of the latest recorded run
func (s *PinStore) LastSweepAt(ctx context.Context) (time.Time, error) {
	run, err := s.runs.Latest(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read maintenance log: %w", err)
	}
	if run == nil {
		return time.Time{}, nil
	}
	return run.ReferenceTime, nil
}

// SweepHook persists the swept snapshot and logs the run. Records the sweep
// skipped are part of the snapshot and are written back unchanged.
func (s *PinStore) SweepHook() manager.SweepHook {
	return func(ctx context.Context, pins []lifecycle.Pin, report manager.Report) error {
		if err := s.Save(ctx, pins); err != nil {
			return err
		}
		run := RunFromReport(report, time.Now().UTC())
		if err := s.runs.Create(ctx, &run); err != nil {
			return fmt.Errorf("failed to record maintenance run: %w", err)
		}
		s.logger.Debug("Persisted swept snapshot",
			zap.String("run_id", report.RunID),
			zap.Int("pins", len(pins)),
			zap.Int("skipped", report.SkippedCount()))
		return nil
	}
}

// MutationHook writes created and changed pins through as they happen
func (s *PinStore) MutationHook() manager.MutationHook {
	return func(ctx context.Context, changed []lifecycle.Pin) error {
		if err := s.Save(ctx, changed); err != nil {
			return err
		}
		s.logger.Debug("Persisted changed pins", zap.Int("pins", len(changed)))
		return nil
	}
}
