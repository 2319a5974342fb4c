package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/slots"
)

type AppointmentStatus string

const (
	StatusWaiting   AppointmentStatus = "Waiting"
	StatusUpcoming  AppointmentStatus = "Upcoming"
	StatusCompleted AppointmentStatus = "Completed"
	StatusCancelled AppointmentStatus = "Cancelled"
)

// Holds reports whether an appointment in this status occupies its slot.
func (s AppointmentStatus) Holds() bool {
	return s != StatusCancelled
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Availability is the current weekly schedule of a doctor. Only the latest
// value is kept.
type Availability struct {
	DoctorID  uuid.UUID
	Window    slots.Window
	UpdatedAt time.Time
}

type Appointment struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time // calendar date, time-of-day is zero
	Slot      slots.TimeSlot
	Time      string // display label of Slot as stored
	Status    AppointmentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt *time.Time
}

// NewAppointment carries the fields needed to insert a waiting appointment.
type NewAppointment struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Slot      slots.TimeSlot
	ExpiresAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// Stats are the dashboard aggregates for one doctor.
type Stats struct {
	DoctorID    uuid.UUID
	ByStatus    map[AppointmentStatus]int
	Total       int
	ActiveToday int
}
