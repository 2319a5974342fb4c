package slots

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfiguration = errors.New("invalid slot configuration")

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

func At(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// OfTime returns the time-of-day of t in t's own location.
func OfTime(t time.Time) TimeOfDay {
	return At(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return t + TimeOfDay(d/time.Minute)
}

// String renders the 12-hour form used in slot labels, e.g. "09:30 AM".
func (t TimeOfDay) String() string {
	h := t.Hour()
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, t.Minute(), suffix)
}

// Clock renders the 24-hour "HH:MM" form stored in availability windows.
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// ParseTimeOfDay accepts "HH:MM" (24h) and "hh:mm AM" / "hh:mm PM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	if raw == "" {
		return 0, fmt.Errorf("%w: empty time", ErrInvalidConfiguration)
	}

	meridiem := ""
	switch {
	case strings.HasSuffix(raw, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(raw, "PM"):
		meridiem = "PM"
	}
	clock := strings.TrimSpace(strings.TrimSuffix(raw, meridiem))

	hh, mm, ok := strings.Cut(clock, ":")
	if !ok {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidConfiguration, s)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidConfiguration, s)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: minute in %q", ErrInvalidConfiguration, s)
	}

	if meridiem == "" {
		if hour < 0 || hour > 23 {
			return 0, fmt.Errorf("%w: hour in %q", ErrInvalidConfiguration, s)
		}
		return At(hour, minute), nil
	}

	if hour < 1 || hour > 12 {
		return 0, fmt.Errorf("%w: hour in %q", ErrInvalidConfiguration, s)
	}
	hour %= 12
	if meridiem == "PM" {
		hour += 12
	}
	return At(hour, minute), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
