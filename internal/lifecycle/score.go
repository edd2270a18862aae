package lifecycle

import (
	"fmt"
	"math"
	"time"
)

// Engine scores, classifies and sweeps pins against one threshold bundle.
// It holds no mutable state and never reads the clock.
type Engine struct {
	cfg Config
}

// NewEngine validates cfg and returns an engine bound to it
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the thresholds the engine was built with
func (e *Engine) Config() Config {
	return e.cfg
}

// ComputeScore returns the trending score of p at ref.
//
// Recent endorsements decay with DecayHalfLifeHours; a logarithmic baseline on
// lifetime endorsements decays BaselineDecayMultiplier times slower. Both
// components use hours since the last endorsement, so the score is
// non-increasing in ref and tends to zero.
func (e *Engine) ComputeScore(p Pin, ref time.Time) float64 {
	return e.score(p.RecentEndorsements, p.TotalEndorsements, p.LastEndorsedAt, ref)
}

func (e *Engine) score(recent, total int, lastEndorsedAt, ref time.Time) float64 {
	hours := ref.Sub(lastEndorsedAt).Hours()
	if hours < 0 {
		hours = 0
	}

	halfLife := e.cfg.DecayHalfLifeHours
	recentPart := float64(max(recent, 0)) * math.Exp2(-hours/halfLife)
	baseline := e.cfg.BaselineWeight * math.Log1p(float64(max(total, 0))) *
		math.Exp2(-hours/(halfLife*e.cfg.BaselineDecayMultiplier))

	return recentPart + baseline
}

func checkReference(ref time.Time) error {
	if ref.IsZero() {
		return fmt.Errorf("%w", ErrZeroReferenceTime)
	}
	return nil
}

func days(d time.Duration) float64 {
	return d.Hours() / 24
}
