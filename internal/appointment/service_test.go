package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/config"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/slots"
)

// 2026-03-09 is a Monday.
var (
	monday  = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	repo     *memRepository
	clock    *testClock
	doctorID uuid.UUID
	patient  uuid.UUID
}

func testConfig() config.Config {
	return config.Config{
		AppointmentTTL: 10 * time.Minute,
		LockTTL:        5 * time.Second,
		SlotInterval:   30 * time.Minute,
		SlotLeadTime:   30 * time.Minute,
		Location:       time.UTC,
	}
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repo := newMemRepository()
	clock := &testClock{now: monday.Add(8 * time.Hour)}
	doctorID := repo.addDoctor(&slots.Window{
		Days:    []string{"Monday", "Wednesday", "Friday"},
		Morning: &slots.Range{From: "09:00", To: "11:00"},
	})
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		svc:      NewService(repo, newMemLocker(), testConfig(), opts...),
		repo:     repo,
		clock:    clock,
		doctorID: doctorID,
		patient:  repo.addPatient(),
	}
}

func (f *fixture) book(t *testing.T, date time.Time, label string) *Appointment {
	t.Helper()
	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		DoctorID:  f.doctorID,
		PatientID: f.patient,
		Date:      date,
		Time:      label,
	})
	require.NoError(t, err)
	return appt
}

func slotLabels(in []slots.TimeSlot) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.String())
	}
	return out
}

func TestOfferableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00 AM - 09:30 AM",
		"09:30 AM - 10:00 AM",
		"10:00 AM - 10:30 AM",
		"10:30 AM - 11:00 AM",
	}, slotLabels(offer.Morning))
	assert.Len(t, offer.Evening, 8)

	offer, err = f.svc.OfferableSlots(ctx, f.doctorID, tuesday)
	require.NoError(t, err)
	assert.True(t, offer.Empty())
}

func TestOfferableSlots_LeadTimeToday(t *testing.T) {
	f := newFixture(t)
	f.clock.Advance(2 * time.Hour) // 10:00

	offer, err := f.svc.OfferableSlots(context.Background(), f.doctorID, monday)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:30 AM - 11:00 AM"}, slotLabels(offer.Morning))
}

func TestOfferableSlots_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.OfferableSlots(ctx, f.doctorID, monday.AddDate(0, 0, -1))
	assert.ErrorIs(t, err, ErrDateInPast)

	_, err = f.svc.OfferableSlots(ctx, uuid.New(), monday)
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	// a failed fetch is an error, never an empty offer
	storage := errors.New("connection reset")
	f.repo.listErr = storage
	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, monday)
	assert.ErrorIs(t, err, storage)
	assert.True(t, offer.Empty())
}

func TestOfferableSlots_DefaultWindowWhenUnset(t *testing.T) {
	f := newFixture(t)
	doctorID := f.repo.addDoctor(nil)

	offer, err := f.svc.OfferableSlots(context.Background(), doctorID, tuesday)
	require.NoError(t, err)
	assert.Len(t, offer.Morning, 8)
	assert.Len(t, offer.Evening, 8)
}

func TestBookAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, monday, "10:00 AM - 10:30 AM")
	assert.Equal(t, StatusWaiting, appt.Status)
	assert.Equal(t, "10:00 AM - 10:30 AM", appt.Time)
	require.NotNil(t, appt.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), *appt.ExpiresAt)
	assert.Equal(t, []string{EventAppointmentBooked}, f.repo.eventTypes())

	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.NotContains(t, slotLabels(offer.Morning), "10:00 AM - 10:30 AM")
	assert.Len(t, offer.Morning, 3)
}

func TestBookAppointment_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, monday, "09:00 AM - 09:30 AM")

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{"taken", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "09:00 AM - 09:30 AM"}, ErrSlotAlreadyBooked},
		{"taken compact form", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "09:00-09:30"}, ErrSlotAlreadyBooked},
		{"outside window", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "07:00 AM - 07:30 AM"}, ErrSlotUnavailable},
		{"day off", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: tuesday, Time: "09:00 AM - 09:30 AM"}, ErrSlotUnavailable},
		{"misaligned", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "09:15 AM - 09:45 AM"}, ErrSlotUnavailable},
		{"past date", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday.AddDate(0, 0, -7), Time: "09:30 AM - 10:00 AM"}, ErrDateInPast},
		{"bad label", BookingRequest{DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "soon"}, ErrInvalidSlot},
		{"unknown patient", BookingRequest{DoctorID: f.doctorID, PatientID: uuid.New(), Date: monday, Time: "09:30 AM - 10:00 AM"}, ErrPatientNotFound},
		{"unknown doctor", BookingRequest{DoctorID: uuid.New(), PatientID: f.patient, Date: monday, Time: "09:30 AM - 10:00 AM"}, ErrDoctorNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBookAppointment_CancelledSlotIsRebookable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.book(t, monday, "10:30 AM - 11:00 AM")
	_, err := f.svc.CancelAppointment(ctx, first.ID)
	require.NoError(t, err)

	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Contains(t, slotLabels(offer.Morning), "10:30 AM - 11:00 AM")

	second := f.book(t, monday, "10:30 AM - 11:00 AM")
	assert.NotEqual(t, first.ID, second.ID)
}

type busyLocker struct{}

func (busyLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestBookAppointment_LockHeld(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "09:00 AM - 09:30 AM",
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestBookAppointment_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.BookAppointment(context.Background(), BookingRequest{
				DoctorID: f.doctorID, PatientID: f.patient, Date: monday, Time: "09:30 AM - 10:00 AM",
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrSlotBeingBooked):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestConfirmAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, monday, "09:00 AM - 09:30 AM")
	confirmed, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, confirmed.Status)

	_, err = f.svc.ConfirmAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.ConfirmAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestConfirmAppointment_AfterHoldExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, monday, "09:00 AM - 09:30 AM")
	f.clock.Advance(11 * time.Minute)

	_, err := f.svc.ConfirmAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrAppointmentExpired)

	got, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentExpired)
}

func TestCompleteAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, monday, "09:00 AM - 09:30 AM")
	_, err := f.svc.CompleteAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = f.svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)
	done, err := f.svc.CompleteAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.CancelAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestRescheduleAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wednesday := monday.AddDate(0, 0, 2)

	appt := f.book(t, monday, "09:00 AM - 09:30 AM")
	other := f.book(t, monday, "09:30 AM - 10:00 AM")

	_, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday, "09:30 AM - 10:00 AM")
	assert.ErrorIs(t, err, ErrSlotAlreadyBooked)

	_, err = f.svc.RescheduleAppointment(ctx, appt.ID, tuesday, "09:00 AM - 09:30 AM")
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	same, err := f.svc.RescheduleAppointment(ctx, appt.ID, monday, "09:00 AM - 09:30 AM")
	require.NoError(t, err)
	assert.Equal(t, appt.Slot, same.Slot)

	moved, err := f.svc.RescheduleAppointment(ctx, appt.ID, wednesday, "02:00 PM - 02:30 PM")
	require.NoError(t, err)
	assert.Equal(t, "02:00 PM - 02:30 PM", moved.Time)
	assert.True(t, sameDate(moved.Date, wednesday))

	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Contains(t, slotLabels(offer.Morning), "09:00 AM - 09:30 AM")
	assert.NotContains(t, slotLabels(offer.Morning), other.Time)
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentRescheduled)
}

func TestRescheduleAppointment_AfterHoldExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wednesday := monday.AddDate(0, 0, 2)

	appt := f.book(t, monday, "09:00 AM - 09:30 AM")
	f.clock.Advance(11 * time.Minute)

	_, err := f.svc.RescheduleAppointment(ctx, appt.ID, wednesday, "02:00 PM - 02:30 PM")
	assert.ErrorIs(t, err, ErrAppointmentExpired)

	got, err := f.svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.True(t, sameDate(got.Date, monday))
	assert.Contains(t, f.repo.eventTypes(), EventAppointmentExpired)
	assert.NotContains(t, f.repo.eventTypes(), EventAppointmentRescheduled)

	// a confirmed appointment has no hold to expire
	confirmed := f.book(t, monday, "09:30 AM - 10:00 AM")
	_, err = f.svc.ConfirmAppointment(ctx, confirmed.ID)
	require.NoError(t, err)
	f.clock.Advance(11 * time.Minute)
	moved, err := f.svc.RescheduleAppointment(ctx, confirmed.ID, wednesday, "02:00 PM - 02:30 PM")
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, moved.Status)
}

func TestExpireWaitingAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	waiting := f.book(t, monday, "09:00 AM - 09:30 AM")
	confirmed := f.book(t, monday, "09:30 AM - 10:00 AM")
	_, err := f.svc.ConfirmAppointment(ctx, confirmed.ID)
	require.NoError(t, err)

	released, err := f.svc.ExpireWaitingAppointments(ctx)
	require.NoError(t, err)
	assert.Zero(t, released)

	f.clock.Advance(11 * time.Minute)
	released, err = f.svc.ExpireWaitingAppointments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := f.svc.GetAppointment(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	got, err = f.svc.GetAppointment(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, got.Status)
}

type countingCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]slots.Window
	invalidated int
}

func (c *countingCache) Get(_ context.Context, id uuid.UUID) (*slots.Window, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (c *countingCache) Put(_ context.Context, id uuid.UUID, w slots.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = w
	return nil
}

func (c *countingCache) Fill(_ context.Context, id uuid.UUID, w slots.Window) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[id]; !ok {
		c.entries[id] = w
	}
	return nil
}

func (c *countingCache) entry(id uuid.UUID) (slots.Window, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.entries[id]
	return w, ok
}

func (c *countingCache) Invalidate(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	c.invalidated++
	return nil
}

func TestAvailability_CacheAndUpdate(t *testing.T) {
	cache := &countingCache{entries: make(map[uuid.UUID]slots.Window)}
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	w, err := f.svc.GetAvailability(ctx, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Monday", "Wednesday", "Friday"}, w.Days)

	_, err = f.svc.OfferableSlots(ctx, f.doctorID, monday)
	require.NoError(t, err)
	assert.Equal(t, 1, f.repo.availabilityReads, "second read must hit the cache")

	_, err = f.svc.SetAvailability(ctx, f.doctorID, slots.Window{Days: []string{"Tue"}})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.invalidated)

	offer, err := f.svc.OfferableSlots(ctx, f.doctorID, tuesday)
	require.NoError(t, err)
	assert.False(t, offer.Empty())

	_, err = f.svc.SetAvailability(ctx, f.doctorID, slots.Window{Morning: &slots.Range{From: "12:00", To: "09:00"}})
	assert.ErrorIs(t, err, slots.ErrInvalidConfiguration)

	_, err = f.svc.SetAvailability(ctx, uuid.New(), slots.Window{})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestSetAvailability_StaleReaderCannotRepopulate(t *testing.T) {
	cache := &countingCache{entries: make(map[uuid.UUID]slots.Window)}
	f := newFixture(t, WithCache(cache))
	ctx := context.Background()

	old, err := f.svc.GetAvailability(ctx, f.doctorID)
	require.NoError(t, err)
	updated := slots.Window{Days: []string{"Tue", "Thu"}}

	// a reader that loaded the old row races the update on both sides of it
	f.repo.beforeUpsert = func() {
		_, cached := cache.entry(f.doctorID)
		assert.False(t, cached, "entry must be dropped before the write")
		require.NoError(t, cache.Fill(ctx, f.doctorID, old))
	}
	_, err = f.svc.SetAvailability(ctx, f.doctorID, updated)
	require.NoError(t, err)
	require.NoError(t, cache.Fill(ctx, f.doctorID, old))

	got, ok := cache.entry(f.doctorID)
	require.True(t, ok)
	assert.Equal(t, updated, got)

	w, err := f.svc.GetAvailability(ctx, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, updated.Days, w.Days)
}

func TestDoctorStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, monday, "09:00 AM - 09:30 AM")
	b := f.book(t, monday, "09:30 AM - 10:00 AM")
	f.book(t, monday.AddDate(0, 0, 2), "09:00 AM - 09:30 AM")
	_, err := f.svc.CancelAppointment(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmAppointment(ctx, b.ID)
	require.NoError(t, err)

	stats, err := f.svc.DoctorStats(ctx, f.doctorID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[StatusCancelled])
	assert.Equal(t, 1, stats.ByStatus[StatusUpcoming])
	assert.Equal(t, 1, stats.ByStatus[StatusWaiting])
	assert.Equal(t, 1, stats.ActiveToday)
}

func TestListAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, monday, "09:00 AM - 09:30 AM")
	f.book(t, monday, "02:00 PM - 02:30 PM")

	byPatient, err := f.svc.ListAppointmentsByPatient(ctx, f.patient, 0, -5)
	require.NoError(t, err)
	assert.Len(t, byPatient, 2)

	byDoctor, err := f.svc.ListAppointmentsByDoctor(ctx, f.doctorID, monday.Add(15*time.Hour))
	require.NoError(t, err)
	require.Len(t, byDoctor, 2)
	assert.Equal(t, "09:00 AM - 09:30 AM", byDoctor[0].Time)
}
