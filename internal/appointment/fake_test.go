package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/slots"
)

// memRepository is an in-memory Repository that enforces the same active-slot
// uniqueness as the Postgres index.
type memRepository struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	availability map[uuid.UUID]*Availability
	appointments map[uuid.UUID]*Appointment
	events       []EventLog

	availabilityReads int
	listErr           error
	beforeUpsert      func()
}

func newMemRepository() *memRepository {
	return &memRepository{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		availability: make(map[uuid.UUID]*Availability),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (r *memRepository) addPatient() uuid.UUID {
	id := uuid.New()
	r.patients[id] = &Patient{ID: id, Name: "Pat"}
	return id
}

func (r *memRepository) addDoctor(w *slots.Window) uuid.UUID {
	id := uuid.New()
	r.doctors[id] = &Doctor{ID: id, Name: "Dr. Who"}
	if w != nil {
		r.availability[id] = &Availability{DoctorID: id, Window: *w}
	}
	return id
}

func (r *memRepository) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (r *memRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return p, nil
}

func (r *memRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return d, nil
}

func (r *memRepository) GetAvailability(_ context.Context, doctorID uuid.UUID) (*Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availabilityReads++
	a, ok := r.availability[doctorID]
	if !ok {
		return nil, ErrAvailabilityNotFound
	}
	return a, nil
}

func (r *memRepository) UpsertAvailability(_ context.Context, doctorID uuid.UUID, w slots.Window) (*Availability, error) {
	if r.beforeUpsert != nil {
		r.beforeUpsert()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &Availability{DoctorID: doctorID, Window: w, UpdatedAt: time.Now()}
	r.availability[doctorID] = a
	return a, nil
}

func (r *memRepository) ListAppointmentsForDay(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && sameDate(a.Date, date) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Start < out[j].Slot.Start })
	return out, nil
}

func (r *memRepository) activeFor(doctorID uuid.UUID, date time.Time, start slots.TimeOfDay, except uuid.UUID) *Appointment {
	for _, a := range r.appointments {
		if a.ID != except && a.DoctorID == doctorID && sameDate(a.Date, date) && a.Slot.Start == start && a.Status.Holds() {
			return a
		}
	}
	return nil
}

func (r *memRepository) GetActiveAppointmentForSlot(_ context.Context, doctorID uuid.UUID, date time.Time, start slots.TimeOfDay) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a := r.activeFor(doctorID, date, start, uuid.Nil); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepository) CreateWaitingAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeFor(in.DoctorID, in.Date, in.Slot.Start, uuid.Nil) != nil {
		return nil, ErrSlotAlreadyBooked
	}
	expires := in.ExpiresAt
	a := &Appointment{
		ID:        uuid.New(),
		DoctorID:  in.DoctorID,
		PatientID: in.PatientID,
		Date:      in.Date,
		Slot:      in.Slot,
		Time:      in.Slot.String(),
		Status:    StatusWaiting,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		ExpiresAt: &expires,
	}
	r.appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *memRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (r *memRepository) MoveAppointment(_ context.Context, id uuid.UUID, from AppointmentStatus, date time.Time, slot slots.TimeSlot) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	if r.activeFor(a.DoctorID, date, slot.Start, id) != nil {
		return nil, ErrSlotAlreadyBooked
	}
	a.Date, a.Slot, a.Time = date, slot, slot.String()
	cp := *a
	return &cp, nil
}

func (r *memRepository) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepository) CountAppointmentsByStatus(_ context.Context, doctorID uuid.UUID) (map[AppointmentStatus]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[AppointmentStatus]int)
	for _, a := range r.appointments {
		if a.DoctorID == doctorID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

func (r *memRepository) CountActiveForDay(_ context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && sameDate(a.Date, date) && (a.Status == StatusWaiting || a.Status == StatusUpcoming) {
			n++
		}
	}
	return n, nil
}

func (r *memRepository) FindExpiredWaiting(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusWaiting && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *memRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// memLocker is a process-local Locker with the same contention semantics as
// the Redis one.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return redisclient.ErrLockNotAcquired
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()
	return fn(ctx)
}
