package lifecycle

import (
	"fmt"
	"math"
	"time"
)

// Coordinates is a WGS84 latitude/longitude pair
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Valid reports whether both components are finite and in range
func (c Coordinates) Valid() bool {
	return isFinite(c.Latitude) && isFinite(c.Longitude) &&
		math.Abs(c.Latitude) <= 90 && math.Abs(c.Longitude) <= 180
}

// Pin is a user-created geo pin.
//
// Score, tab and hidden flag are derived by Sweep and cannot be set directly;
// the exported counters are the only inputs to scoring and classification.
type Pin struct {
	ID                 string
	ExternalPlaceID    string
	Coordinates        Coordinates
	Category           string
	CreatedAt          time.Time
	LastEndorsedAt     time.Time
	TotalEndorsements  int
	RecentEndorsements int
	Downvotes          int

	score  float64
	tab    Tab
	hidden bool
}

// NewPin creates a pin carrying its creator's endorsement
func NewPin(id string, coords Coordinates, category, externalPlaceID string, createdAt time.Time) Pin {
	return Pin{
		ID:                 id,
		ExternalPlaceID:    externalPlaceID,
		Coordinates:        coords,
		Category:           category,
		CreatedAt:          createdAt,
		LastEndorsedAt:     createdAt,
		TotalEndorsements:  1,
		RecentEndorsements: 1,
	}
}

// Score returns the score computed by the last sweep
func (p Pin) Score() float64 { return p.score }

// Tab returns the tab assigned by the last sweep
func (p Pin) Tab() Tab { return p.tab }

// IsHidden reports whether the last sweep hid the pin
func (p Pin) IsHidden() bool { return p.hidden }

// Endorse returns a copy of p with a new endorsement at the given time.
// LastEndorsedAt never moves backwards.
func (p Pin) Endorse(at time.Time) Pin {
	p.TotalEndorsements++
	p.RecentEndorsements++
	if at.After(p.LastEndorsedAt) {
		p.LastEndorsedAt = at
	}
	return p
}

// Downvote returns a copy of p with one more "not relevant" signal
func (p Pin) Downvote() Pin {
	p.Downvotes++
	return p
}

// Validate checks the record invariants
func (p Pin) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidPin)
	case p.CreatedAt.IsZero():
		return fmt.Errorf("%w: %s: missing created_at", ErrInvalidPin, p.ID)
	case p.LastEndorsedAt.IsZero():
		return fmt.Errorf("%w: %s: missing last_endorsed_at", ErrInvalidPin, p.ID)
	case p.LastEndorsedAt.Before(p.CreatedAt):
		return fmt.Errorf("%w: %s: last_endorsed_at precedes created_at", ErrInvalidPin, p.ID)
	case p.TotalEndorsements < 0 || p.RecentEndorsements < 0 || p.Downvotes < 0:
		return fmt.Errorf("%w: %s: negative counter", ErrInvalidPin, p.ID)
	case p.RecentEndorsements > p.TotalEndorsements:
		return fmt.Errorf("%w: %s: recent endorsements exceed total", ErrInvalidPin, p.ID)
	case !p.Coordinates.Valid():
		return fmt.Errorf("%w: %s: coordinates out of range", ErrInvalidPin, p.ID)
	}
	return nil
}

func (p Pin) withDerived(score float64, tab Tab) Pin {
	p.score = score
	p.tab = tab
	p.hidden = tab == TabHidden
	return p
}

// Record is the flat shape pins take in storage and on the wire
type Record struct {
	ID                 string      `json:"id"`
	ExternalPlaceID    string      `json:"external_place_id,omitempty"`
	Coordinates        Coordinates `json:"coordinates"`
	Category           string      `json:"category,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	LastEndorsedAt     time.Time   `json:"last_endorsed_at"`
	TotalEndorsements  int         `json:"total_endorsements"`
	RecentEndorsements int         `json:"recent_endorsements"`
	Downvotes          int         `json:"downvotes"`
	Score              float64     `json:"score"`
	LifecycleTab       Tab         `json:"lifecycle_tab"`
	IsHidden           bool        `json:"is_hidden"`
}

// Record flattens p, derived fields included
func (p Pin) Record() Record {
	return Record{
		ID:                 p.ID,
		ExternalPlaceID:    p.ExternalPlaceID,
		Coordinates:        p.Coordinates,
		Category:           p.Category,
		CreatedAt:          p.CreatedAt,
		LastEndorsedAt:     p.LastEndorsedAt,
		TotalEndorsements:  p.TotalEndorsements,
		RecentEndorsements: p.RecentEndorsements,
		Downvotes:          p.Downvotes,
		Score:              p.score,
		LifecycleTab:       p.tab,
		IsHidden:           p.hidden,
	}
}

// Restore rehydrates a pin persisted after a sweep. The derived fields are
// trusted as-is and will be recomputed by the next sweep.
func Restore(r Record) Pin {
	return Pin{
		ID:                 r.ID,
		ExternalPlaceID:    r.ExternalPlaceID,
		Coordinates:        r.Coordinates,
		Category:           r.Category,
		CreatedAt:          r.CreatedAt,
		LastEndorsedAt:     r.LastEndorsedAt,
		TotalEndorsements:  r.TotalEndorsements,
		RecentEndorsements: r.RecentEndorsements,
		Downvotes:          r.Downvotes,
		score:              r.Score,
		tab:                r.LifecycleTab,
		hidden:             r.IsHidden,
	}
}

// Records flattens a pin slice
func Records(pins []Pin) []Record {
	out := make([]Record, len(pins))
	for i, p := range pins {
		out[i] = p.Record()
	}
	return out
}

// RestoreAll rehydrates a record slice
func RestoreAll(records []Record) []Pin {
	out := make([]Pin, len(records))
	for i, r := range records {
		out[i] = Restore(r)
	}
	return out
}
