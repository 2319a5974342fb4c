package slots

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(in []TimeSlot) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.String())
	}
	return out
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
	}{
		{"09:00", At(9, 0)},
		{"9:05", At(9, 5)},
		{"13:30", At(13, 30)},
		{"00:00", At(0, 0)},
		{"09:00 AM", At(9, 0)},
		{"12:00 PM", At(12, 0)},
		{"12:15 am", At(0, 15)},
		{"06:45 PM", At(18, 45)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeOfDayRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "noon", "24:00", "10:60", "13:00 PM", "00:30 AM", "10:5", "10"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimeOfDay(in)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestTimeOfDayString(t *testing.T) {
	assert.Equal(t, "12:00 AM", At(0, 0).String())
	assert.Equal(t, "09:30 AM", At(9, 30).String())
	assert.Equal(t, "12:00 PM", At(12, 0).String())
	assert.Equal(t, "11:30 PM", At(23, 30).String())
	assert.Equal(t, "14:05", At(14, 5).Clock())
}

func TestParseSlot(t *testing.T) {
	s, err := ParseSlot("10:00 AM - 10:30 AM")
	require.NoError(t, err)
	assert.Equal(t, TimeSlot{Start: At(10, 0), End: At(10, 30)}, s)

	compact, err := ParseSlot("14:00-14:30")
	require.NoError(t, err)
	assert.Equal(t, TimeSlot{Start: At(14, 0), End: At(14, 30)}, compact)

	_, err = ParseSlot("10:30 AM - 10:00 AM")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = ParseSlot("tomorrow morning")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestGenerate_Boundary(t *testing.T) {
	got, err := Generate(At(9, 0), At(10, 0), 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00 AM - 09:30 AM", "09:30 AM - 10:00 AM"}, labels(got))

	got, err = Generate(At(9, 0), At(9, 29), 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate_OrderedNoGaps(t *testing.T) {
	for _, interval := range []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute, 45 * time.Minute} {
		got, err := Generate(At(8, 0), At(17, 10), interval)
		require.NoError(t, err)
		require.NotEmpty(t, got)

		assert.Equal(t, At(8, 0), got[0].Start)
		for i, s := range got {
			assert.Equal(t, interval, s.Duration())
			assert.LessOrEqual(t, s.End, At(17, 10))
			if i > 0 {
				assert.Equal(t, got[i-1].End, s.Start, "slots must be contiguous")
			}
		}
		assert.Greater(t, got[len(got)-1].End.Add(interval), At(17, 10), "no room left for another slot")
	}
}

func TestGenerate_EmptyAndInvalid(t *testing.T) {
	got, err := Generate(At(10, 0), At(10, 0), 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = Generate(At(11, 0), At(10, 0), 30*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Generate(At(9, 0), At(10, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Generate(At(9, 0), At(10, 0), -30*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestGenerate_RejectsFractionalMinutes(t *testing.T) {
	for _, interval := range []time.Duration{90 * time.Second, 30*time.Minute + time.Second, 59 * time.Second} {
		got, err := Generate(At(9, 0), At(9, 3), interval)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, interval.String())
		assert.Nil(t, got)
	}

	got, err := Generate(At(9, 0), At(9, 3), time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, s := range got {
		assert.Equal(t, time.Minute, s.Duration())
	}
}

func TestFilterElapsed_LeadTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	in := []TimeSlot{
		{Start: At(9, 30), End: At(10, 0)},
		{Start: At(10, 0), End: At(10, 30)},
		{Start: At(10, 30), End: At(11, 0)},
	}

	got := FilterElapsed(in, now, now, DefaultLeadTime)
	assert.Equal(t, []TimeSlot{{Start: At(10, 30), End: At(11, 0)}}, got)
}

func TestFilterElapsed_SubMinuteNow(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 45, 0, time.UTC)
	in := []TimeSlot{
		{Start: At(10, 30), End: At(11, 0)},
		{Start: At(11, 0), End: At(11, 30)},
	}

	// 10:30 is only 29m15s away
	got := FilterElapsed(in, now, now, 30*time.Minute)
	assert.Equal(t, []TimeSlot{{Start: At(11, 0), End: At(11, 30)}}, got)

	exact := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	assert.Len(t, FilterElapsed(in, exact, exact, 30*time.Minute), 2)

	late := time.Date(2026, 3, 10, 10, 0, 0, 1, time.UTC)
	assert.Len(t, FilterElapsed(in, late, late, 30*time.Minute), 1)
}

func TestFilterElapsed_OtherDaysUnchanged(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	in, err := Generate(At(0, 0), At(23, 30), 30*time.Minute)
	require.NoError(t, err)

	tomorrow := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, in, FilterElapsed(in, tomorrow, now, DefaultLeadTime))

	nextYear := time.Date(2027, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, in, FilterElapsed(in, nextYear, now, DefaultLeadTime))
}

func TestExcludeBooked_RespectsCancellation(t *testing.T) {
	in, err := Generate(At(10, 0), At(11, 0), 30*time.Minute)
	require.NoError(t, err)

	got := ExcludeBooked(in, []Booking{{Time: "10:00 AM - 10:30 AM", Cancelled: true}})
	assert.Equal(t, in, got)

	got = ExcludeBooked(in, []Booking{{Time: "10:00 AM - 10:30 AM"}})
	assert.Equal(t, []string{"10:30 AM - 11:00 AM"}, labels(got))
}

func TestExcludeBooked_StructuredAndOpaqueMatches(t *testing.T) {
	in, err := Generate(At(10, 0), At(12, 0), 30*time.Minute)
	require.NoError(t, err)

	got := ExcludeBooked(in, []Booking{
		{Time: "10:00-10:30"},          // compact form, same slot
		{Time: "11:00 am - 11:30 am"},  // lower-case meridiem
		{Time: "garbage that never parses"},
	})
	assert.Equal(t, []string{"10:30 AM - 11:00 AM", "11:30 AM - 12:00 PM"}, labels(got))
}
