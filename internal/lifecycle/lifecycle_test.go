package lifecycle

import (
	"time"
)

var testRef = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) time.Time {
	return testRef.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

// testPin builds a valid pin aged ageDays whose last endorsement was idleDays ago
func testPin(id string, ageDays, idleDays float64, recent, total int) Pin {
	p := NewPin(id, Coordinates{Latitude: 48.8566, Longitude: 2.3522}, "nature", "", daysAgo(ageDays))
	p.LastEndorsedAt = daysAgo(idleDays)
	p.RecentEndorsements = recent
	p.TotalEndorsements = total
	return p
}

func testEngine(t interface{ Fatalf(string, ...any) }) *Engine {
	e, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}
