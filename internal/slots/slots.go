package slots

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultInterval = 30 * time.Minute
	DefaultLeadTime = 30 * time.Minute
)

// TimeSlot is a half-open [Start, End) interval on a single day.
type TimeSlot struct {
	Start TimeOfDay
	End   TimeOfDay
}

// String is the display label, e.g. "10:00 AM - 10:30 AM". Older records use it
// as the slot identity, so the format must not change.
func (s TimeSlot) String() string {
	return s.Start.String() + " - " + s.End.String()
}

func (s TimeSlot) Duration() time.Duration {
	return time.Duration(s.End-s.Start) * time.Minute
}

// ParseSlot parses a display label back into a TimeSlot. It also accepts the
// compact "HH:MM-HH:MM" form.
func ParseSlot(label string) (TimeSlot, error) {
	from, to, ok := strings.Cut(label, "-")
	if !ok {
		return TimeSlot{}, fmt.Errorf("%w: slot %q has no range separator", ErrInvalidConfiguration, label)
	}
	start, err := ParseTimeOfDay(from)
	if err != nil {
		return TimeSlot{}, err
	}
	end, err := ParseTimeOfDay(to)
	if err != nil {
		return TimeSlot{}, err
	}
	if start >= end {
		return TimeSlot{}, fmt.Errorf("%w: slot %q ends before it starts", ErrInvalidConfiguration, label)
	}
	return TimeSlot{Start: start, End: end}, nil
}

// Generate splits [start, end) into back-to-back slots of width interval.
// A trailing remainder shorter than interval is dropped.
func Generate(start, end TimeOfDay, interval time.Duration) ([]TimeSlot, error) {
	if interval < time.Minute {
		return nil, fmt.Errorf("%w: interval %s must be at least one minute", ErrInvalidConfiguration, interval)
	}
	if interval%time.Minute != 0 {
		return nil, fmt.Errorf("%w: interval %s is not a whole number of minutes", ErrInvalidConfiguration, interval)
	}
	step := TimeOfDay(interval / time.Minute)
	if start >= end {
		return []TimeSlot{}, nil
	}

	out := make([]TimeSlot, 0, int(end-start)/int(step))
	for cursor := start; cursor+step <= end; cursor += step {
		out = append(out, TimeSlot{Start: cursor, End: cursor + step})
	}
	return out, nil
}

// FilterElapsed drops slots that start less than lead after now, but only when
// date is the same calendar day as now. Other days pass through untouched.
func FilterElapsed(in []TimeSlot, date, now time.Time, lead time.Duration) []TimeSlot {
	if !sameDay(date, now) {
		return in
	}

	earliest := now.Add(lead)
	out := make([]TimeSlot, 0, len(in))
	for _, s := range in {
		start := time.Date(now.Year(), now.Month(), now.Day(), s.Start.Hour(), s.Start.Minute(), 0, 0, now.Location())
		if !start.Before(earliest) {
			out = append(out, s)
		}
	}
	return out
}

// Booking is the slot-relevant projection of an existing appointment.
type Booking struct {
	Time      string
	Cancelled bool
}

// ExcludeBooked removes every slot held by a non-cancelled booking. Booking
// times that do not parse are matched against slot labels verbatim.
func ExcludeBooked(in []TimeSlot, booked []Booking) []TimeSlot {
	taken := make(map[TimeSlot]struct{}, len(booked))
	takenLabels := make(map[string]struct{})
	for _, b := range booked {
		if b.Cancelled {
			continue
		}
		if s, err := ParseSlot(b.Time); err == nil {
			taken[s] = struct{}{}
			continue
		}
		takenLabels[strings.TrimSpace(b.Time)] = struct{}{}
	}

	out := make([]TimeSlot, 0, len(in))
	for _, s := range in {
		if _, ok := taken[s]; ok {
			continue
		}
		if _, ok := takenLabels[s.String()]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}
