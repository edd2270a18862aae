package lifecycle

import (
	"fmt"
	"strings"
)

// Tab is the lifecycle bucket a pin is classified into
type Tab uint8

const (
	// TabUnclassified is the zero value carried by pins that were never swept.
	// Classification never returns it.
	TabUnclassified Tab = iota
	TabRecent
	TabTrending
	TabClassics
	TabHidden
)

// Tabs lists every tab classification can produce, in display order
var Tabs = []Tab{TabRecent, TabTrending, TabClassics, TabHidden}

var tabNames = map[Tab]string{
	TabUnclassified: "",
	TabRecent:       "recent",
	TabTrending:     "trending",
	TabClassics:     "classics",
	TabHidden:       "hidden",
}

func (t Tab) String() string {
	if name, ok := tabNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tab(%d)", uint8(t))
}

// ParseTab parses a tab name. The empty string maps to TabUnclassified.
func ParseTab(s string) (Tab, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tab, name := range tabNames {
		if name == s {
			return tab, nil
		}
	}
	return TabUnclassified, fmt.Errorf("%w: %q", ErrUnknownTab, s)
}

// MarshalText implements encoding.TextMarshaler
func (t Tab) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tab) UnmarshalText(b []byte) error {
	parsed, err := ParseTab(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// View is a tab as seen by the UI: the three visible lifecycle tabs plus All
type View uint8

const (
	ViewRecent View = iota
	ViewTrending
	ViewClassics
	ViewAll
)

func (v View) String() string {
	switch v {
	case ViewRecent:
		return "recent"
	case ViewTrending:
		return "trending"
	case ViewClassics:
		return "classics"
	case ViewAll:
		return "all"
	}
	return fmt.Sprintf("view(%d)", uint8(v))
}

// Tab returns the lifecycle tab a view filters on. ok is false for ViewAll.
func (v View) Tab() (Tab, bool) {
	switch v {
	case ViewRecent:
		return TabRecent, true
	case ViewTrending:
		return TabTrending, true
	case ViewClassics:
		return TabClassics, true
	}
	return TabUnclassified, false
}

// ParseView parses a view name
func ParseView(s string) (View, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recent":
		return ViewRecent, nil
	case "trending":
		return ViewTrending, nil
	case "classics":
		return ViewClassics, nil
	case "all":
		return ViewAll, nil
	}
	return ViewRecent, fmt.Errorf("%w: %q", ErrUnknownTab, s)
}

// MarshalText implements encoding.TextMarshaler
func (v View) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *View) UnmarshalText(b []byte) error {
	parsed, err := ParseView(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Reason explains why a pin landed in its tab
type Reason string

const (
	ReasonDownvoted Reason = "downvoted"
	ReasonClassic   Reason = "classic"
	ReasonTrending  Reason = "trending"
	ReasonNew       Reason = "new"
	ReasonFading    Reason = "fading"
	ReasonExpiring  Reason = "expiring"
	ReasonExpired   Reason = "expired"
)
