package lifecycle

import (
	"math"
	"time"
)

// Classification is the lifecycle verdict for one pin at a reference time.
// Countdowns are nil once the threshold has been crossed or cannot apply.
type Classification struct {
	Tab                      Tab    `json:"tab"`
	Reason                   Reason `json:"reason"`
	DaysUntilExpiry          *int   `json:"days_until_expiry,omitempty"`
	DaysUntilClassic         *int   `json:"days_until_classic,omitempty"`
	EndorsementsUntilClassic *int   `json:"endorsements_until_classic,omitempty"`
}

// Expiring reports whether the pin is waiting out its grace period before
// being hidden
func (c Classification) Expiring() bool {
	return c.Reason == ReasonExpiring
}

// Classify assigns p to exactly one tab. Precedence: downvote removal, then
// Classics, Trending, Recent, and finally the aging pins which stay visible
// in Recent until their grace period runs out.
func (e *Engine) Classify(p Pin, score float64, ref time.Time) Classification {
	cfg := e.cfg
	age := days(ref.Sub(p.CreatedAt))
	idle := days(ref.Sub(p.LastEndorsedAt))

	c := Classification{}

	isClassic := p.TotalEndorsements >= cfg.ClassicEndorsementMin && age >= cfg.ClassicAgeDays
	if !isClassic {
		if age < cfg.ClassicAgeDays {
			c.DaysUntilClassic = ceilDays(cfg.ClassicAgeDays - age)
		}
		if p.TotalEndorsements < cfg.ClassicEndorsementMin {
			n := cfg.ClassicEndorsementMin - p.TotalEndorsements
			c.EndorsementsUntilClassic = &n
		}
	}

	switch {
	case p.Downvotes >= cfg.DownvoteHideThreshold:
		c.Tab, c.Reason = TabHidden, ReasonDownvoted
		return c
	case isClassic:
		c.Tab, c.Reason = TabClassics, ReasonClassic
		return c
	case age > cfg.RecentWindowDays && score >= cfg.TrendingScoreFloor && burstRatio(p) >= cfg.TrendingBurstRatio:
		c.Tab, c.Reason = TabTrending, ReasonTrending
	case age <= cfg.RecentWindowDays:
		c.Tab, c.Reason = TabRecent, ReasonNew
	case score < cfg.ExpiryScoreFloor && idle >= cfg.ExpiryGraceDays:
		c.Tab, c.Reason = TabHidden, ReasonExpired
		return c
	case score < cfg.ExpiryScoreFloor:
		c.Tab, c.Reason = TabRecent, ReasonExpiring
	default:
		c.Tab, c.Reason = TabRecent, ReasonFading
	}

	if idle < cfg.ExpiryGraceDays {
		c.DaysUntilExpiry = ceilDays(cfg.ExpiryGraceDays - idle)
	}
	return c
}

func burstRatio(p Pin) float64 {
	if p.TotalEndorsements <= 0 {
		return 0
	}
	return float64(p.RecentEndorsements) / float64(p.TotalEndorsements)
}

func ceilDays(d float64) *int {
	n := int(math.Ceil(d))
	return &n
}
