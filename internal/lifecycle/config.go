package lifecycle

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfig is returned when a threshold bundle cannot drive the engine
	ErrInvalidConfig = errors.New("invalid lifecycle configuration")
	// ErrInvalidPin is wrapped by every pin validation failure
	ErrInvalidPin = errors.New("invalid pin")
	// ErrZeroReferenceTime is returned when a caller passes the zero time.Time
	ErrZeroReferenceTime = errors.New("reference time is zero")
	// ErrUnknownTab is returned when parsing an unrecognised tab or view name
	ErrUnknownTab = errors.New("unknown tab")
)

// Config holds every threshold used by scoring, classification and maintenance
type Config struct {
	RecentWindowDays        float64
	TrendingScoreFloor      float64
	TrendingBurstRatio      float64
	ClassicEndorsementMin   int
	ClassicAgeDays          float64
	ExpiryGraceDays         float64
	ExpiryScoreFloor        float64
	DownvoteHideThreshold   int
	DecayHalfLifeHours      float64
	BaselineWeight          float64
	BaselineDecayMultiplier float64
	TrendLookback           time.Duration
	TrendTolerance          float64
	MaintenanceInterval     time.Duration
}

// DefaultConfig returns the thresholds the map UI ships with
func DefaultConfig() Config {
	return Config{
		RecentWindowDays:        7,
		TrendingScoreFloor:      5,
		TrendingBurstRatio:      0.5,
		ClassicEndorsementMin:   20,
		ClassicAgeDays:          90,
		ExpiryGraceDays:         30,
		ExpiryScoreFloor:        1,
		DownvoteHideThreshold:   5,
		DecayHalfLifeHours:      72,
		BaselineWeight:          1,
		BaselineDecayMultiplier: 10,
		TrendLookback:           24 * time.Hour,
		TrendTolerance:          0.05,
		MaintenanceInterval:     24 * time.Hour,
	}
}

// Validate reports the first threshold that is out of range
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value float64
	}{
		{"recent_window_days", c.RecentWindowDays},
		{"classic_age_days", c.ClassicAgeDays},
		{"expiry_grace_days", c.ExpiryGraceDays},
		{"decay_half_life_hours", c.DecayHalfLifeHours},
	}
	for _, p := range positive {
		if !isFinite(p.value) || p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	nonNegative := []struct {
		name  string
		value float64
	}{
		{"trending_score_floor", c.TrendingScoreFloor},
		{"expiry_score_floor", c.ExpiryScoreFloor},
		{"baseline_weight", c.BaselineWeight},
		{"trend_tolerance", c.TrendTolerance},
	}
	for _, p := range nonNegative {
		if !isFinite(p.value) || p.value < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidConfig, p.name, p.value)
		}
	}

	if !isFinite(c.TrendingBurstRatio) || c.TrendingBurstRatio < 0 || c.TrendingBurstRatio > 1 {
		return fmt.Errorf("%w: trending_burst_ratio must be within [0,1], got %v", ErrInvalidConfig, c.TrendingBurstRatio)
	}
	if !isFinite(c.BaselineDecayMultiplier) || c.BaselineDecayMultiplier < 1 {
		return fmt.Errorf("%w: baseline_decay_multiplier must be at least 1, got %v", ErrInvalidConfig, c.BaselineDecayMultiplier)
	}
	if c.ClassicEndorsementMin < 1 {
		return fmt.Errorf("%w: classic_endorsement_min must be at least 1, got %d", ErrInvalidConfig, c.ClassicEndorsementMin)
	}
	if c.DownvoteHideThreshold < 1 {
		return fmt.Errorf("%w: downvote_hide_threshold must be at least 1, got %d", ErrInvalidConfig, c.DownvoteHideThreshold)
	}
	if c.TrendLookback <= 0 {
		return fmt.Errorf("%w: trend_lookback must be positive, got %s", ErrInvalidConfig, c.TrendLookback)
	}
	if c.MaintenanceInterval <= 0 {
		return fmt.Errorf("%w: maintenance_interval must be positive, got %s", ErrInvalidConfig, c.MaintenanceInterval)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
