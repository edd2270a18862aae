package lifecycle

import (
	"math"
	"sort"
	"time"
)

// Trend is the short-term direction of a pin's score
type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// ScoreInsights places one pin relative to a pin set
type ScoreInsights struct {
	Score      float64 `json:"score"`
	Percentile float64 `json:"percentile"`
	Rank       int     `json:"rank"`
	TotalPins  int     `json:"total_pins"`
	Trend      Trend   `json:"trend"`
}

type ranked struct {
	id             string
	score          float64
	lastEndorsedAt time.Time
}

// before orders by score desc, then last endorsement desc, then id asc
func (a ranked) before(b ranked) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if !a.lastEndorsedAt.Equal(b.lastEndorsedAt) {
		return a.lastEndorsedAt.After(b.lastEndorsedAt)
	}
	return a.id < b.id
}

// ComputeInsights ranks p among allPins by score at ref. p does not need to
// be a member of allPins; when it is not, Rank is where it would be inserted.
// An empty set yields percentile 100, rank 1 and a stable trend.
func (e *Engine) ComputeInsights(p Pin, allPins []Pin, ref time.Time) ScoreInsights {
	target := ranked{id: p.ID, score: e.ComputeScore(p, ref), lastEndorsedAt: p.LastEndorsedAt}
	insights := ScoreInsights{
		Score:      target.score,
		Percentile: 100,
		Rank:       1,
		TotalPins:  len(allPins),
		Trend:      TrendStable,
	}
	if len(allPins) == 0 {
		return insights
	}
	insights.Trend = e.ComputeTrend(p, ref)

	for _, other := range allPins {
		if other.ID == p.ID {
			continue
		}
		o := ranked{id: other.ID, score: e.ComputeScore(other, ref), lastEndorsedAt: other.LastEndorsedAt}
		if o.before(target) {
			insights.Rank++
		}
	}

	n := float64(len(allPins))
	insights.Percentile = math.Max(0, (n-float64(insights.Rank)+1)/n*100)
	return insights
}

// Rank orders pins by score at ref using the insights tie-break and returns
// the ids best first
func (e *Engine) Rank(pins []Pin, ref time.Time) []string {
	entries := make([]ranked, len(pins))
	for i, p := range pins {
		entries[i] = ranked{id: p.ID, score: e.ComputeScore(p, ref), lastEndorsedAt: p.LastEndorsedAt}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].before(entries[j]) })

	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.id
	}
	return ids
}

// ComputeTrend compares the score at ref with an estimate at ref-TrendLookback.
// A pin created after the look-back instant did not exist then; a pin
// endorsed after it is estimated with one endorsement fewer, last endorsed at
// creation.
func (e *Engine) ComputeTrend(p Pin, ref time.Time) Trend {
	current := e.ComputeScore(p, ref)
	past := e.pastScore(p, ref.Add(-e.cfg.TrendLookback))

	if past == 0 {
		if current > 0 {
			return TrendRising
		}
		return TrendStable
	}

	change := (current - past) / past
	switch {
	case change > e.cfg.TrendTolerance:
		return TrendRising
	case change < -e.cfg.TrendTolerance:
		return TrendFalling
	}
	return TrendStable
}

func (e *Engine) pastScore(p Pin, at time.Time) float64 {
	if p.CreatedAt.After(at) {
		return 0
	}
	if p.LastEndorsedAt.After(at) {
		return e.score(p.RecentEndorsements-1, p.TotalEndorsements-1, p.CreatedAt, at)
	}
	return e.score(p.RecentEndorsements, p.TotalEndorsements, p.LastEndorsedAt, at)
}
