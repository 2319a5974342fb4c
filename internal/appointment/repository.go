package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/slots"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrAvailabilityNotFound = errors.New("availability not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// Availability
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error)
	UpsertAvailability(ctx context.Context, doctorID uuid.UUID, w slots.Window) (*Availability, error)

	// For slot resolution and conflict checks
	ListAppointmentsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start slots.TimeOfDay) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// Creation and updates. Writes that would put two active appointments on
	// one slot fail with ErrSlotAlreadyBooked.
	CreateWaitingAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	MoveAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, date time.Time, slot slots.TimeSlot) (*Appointment, error)

	// Listing and dashboards
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	CountAppointmentsByStatus(ctx context.Context, doctorID uuid.UUID) (map[AppointmentStatus]int, error)
	CountActiveForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error)

	// Expiry worker
	FindExpiredWaiting(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// AvailabilityCache is an optional read-through cache in front of
// Repository.GetAvailability.
type AvailabilityCache interface {
	Get(ctx context.Context, doctorID uuid.UUID) (*slots.Window, error)
	Put(ctx context.Context, doctorID uuid.UUID, w slots.Window) error
	Fill(ctx context.Context, doctorID uuid.UUID, w slots.Window) error
	Invalidate(ctx context.Context, doctorID uuid.UUID) error
}
