package slots

import (
	"fmt"
	"strings"
	"time"
)

var (
	DefaultMorning = Range{From: "09:00", To: "13:00"}
	DefaultEvening = Range{From: "14:00", To: "18:00"}
)

// Range is one sub-window of a doctor's day, in "HH:MM" or "hh:mm AM" form.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r *Range) isSet() bool {
	return r != nil && strings.TrimSpace(r.From) != "" && strings.TrimSpace(r.To) != ""
}

// Bounds parses the range into times of day.
func (r Range) Bounds() (TimeOfDay, TimeOfDay, error) {
	from, err := ParseTimeOfDay(r.From)
	if err != nil {
		return 0, 0, err
	}
	to, err := ParseTimeOfDay(r.To)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// Window is a doctor's recurring weekly availability. An empty Days list
// means every day.
type Window struct {
	Days    []string `json:"available_days"`
	Morning *Range   `json:"morning,omitempty"`
	Evening *Range   `json:"evening,omitempty"`
}

// Validate checks day names and that each configured range is well formed.
func (w Window) Validate() error {
	for _, d := range w.Days {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidConfiguration, d)
		}
	}
	for _, sub := range []struct {
		label string
		r     *Range
	}{{"morning", w.Morning}, {"evening", w.Evening}} {
		label, r := sub.label, sub.r
		if r == nil {
			continue
		}
		if !r.isSet() {
			return fmt.Errorf("%w: %s window needs both from and to", ErrInvalidConfiguration, label)
		}
		from, to, err := r.Bounds()
		if err != nil {
			return fmt.Errorf("%s window: %w", label, err)
		}
		if from >= to {
			return fmt.Errorf("%w: %s window ends before it starts", ErrInvalidConfiguration, label)
		}
	}
	return nil
}

// AvailableOn reports whether the doctor works on the weekday of date.
func (w Window) AvailableOn(date time.Time) bool {
	if len(w.Days) == 0 {
		return true
	}
	want := date.Weekday()
	for _, d := range w.Days {
		if wd, ok := parseWeekday(d); ok && wd == want {
			return true
		}
	}
	return false
}

func (w Window) morning() Range {
	if w.Morning.isSet() {
		return *w.Morning
	}
	return DefaultMorning
}

func (w Window) evening() Range {
	if w.Evening.isSet() {
		return *w.Evening
	}
	return DefaultEvening
}

func parseWeekday(name string) (time.Weekday, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if len(n) < 3 {
		return 0, false
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		full := strings.ToLower(wd.String())
		if n == full || n == full[:3] {
			return wd, true
		}
	}
	return 0, false
}

// Offer is the resolved slot list, grouped by the sub-window it came from.
type Offer struct {
	Morning []TimeSlot
	Evening []TimeSlot
}

// All returns morning slots followed by evening slots.
func (o Offer) All() []TimeSlot {
	out := make([]TimeSlot, 0, len(o.Morning)+len(o.Evening))
	out = append(out, o.Morning...)
	return append(out, o.Evening...)
}

func (o Offer) Empty() bool {
	return len(o.Morning) == 0 && len(o.Evening) == 0
}

// Contains reports whether s is one of the offered slots.
func (o Offer) Contains(s TimeSlot) bool {
	for _, x := range o.All() {
		if x == s {
			return true
		}
	}
	return false
}

// NoLeadTime turns the same-day buffer off. A zero LeadTime means the default.
const NoLeadTime time.Duration = -1

// Options tunes Resolve. Zero fields take DefaultInterval and DefaultLeadTime.
type Options struct {
	Interval time.Duration
	LeadTime time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval == 0 {
		o.Interval = DefaultInterval
	}
	switch {
	case o.LeadTime == 0:
		o.LeadTime = DefaultLeadTime
	case o.LeadTime < 0:
		o.LeadTime = 0
	}
	return o
}

// Resolve computes the slots a doctor can offer on date: generate per
// sub-window, drop what has elapsed relative to now, then drop what is booked.
func Resolve(w Window, date time.Time, booked []Booking, now time.Time, opts Options) (Offer, error) {
	if !w.AvailableOn(date) {
		return Offer{}, nil
	}
	opts = opts.withDefaults()

	morning, err := generateRange(w.morning(), opts.Interval)
	if err != nil {
		return Offer{}, fmt.Errorf("morning window: %w", err)
	}
	evening, err := generateRange(w.evening(), opts.Interval)
	if err != nil {
		return Offer{}, fmt.Errorf("evening window: %w", err)
	}

	return Offer{
		Morning: ExcludeBooked(FilterElapsed(morning, date, now, opts.LeadTime), booked),
		Evening: ExcludeBooked(FilterElapsed(evening, date, now, opts.LeadTime), booked),
	}, nil
}

func generateRange(r Range, interval time.Duration) ([]TimeSlot, error) {
	from, to, err := r.Bounds()
	if err != nil {
		return nil, err
	}
	return Generate(from, to, interval)
}
