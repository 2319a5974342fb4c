package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/metrics"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/slots"
)

const (
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentExpired     = "APPOINTMENT_EXPIRED"
)

var (
	ErrSlotAlreadyBooked       = errors.New("slot already has an active appointment")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrSlotUnavailable         = errors.New("slot is not offered on that date")
	ErrInvalidSlot             = errors.New("invalid slot")
	ErrDateInPast              = errors.New("date is in the past")
	ErrAppointmentExpired      = errors.New("appointment hold has expired")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

var tracer = otel.Tracer("clinic-booking/appointment")

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cache   AvailabilityCache
	metrics *metrics.BookingMetrics
	cfg     config.Config
	now     func() time.Time
}

type Option func(*Service)

func WithCache(c AvailabilityCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.BookingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BookingRequest asks for a doctor's slot on a calendar date. Time is the slot
// label, e.g. "10:00 AM - 10:30 AM".
type BookingRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      time.Time
	Time      string
}

// Day returns the calendar date of t pinned to midnight in the clinic's
// timezone. Only t's year, month and day are used.
func (s *Service) Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.cfg.Location)
}

func (s *Service) clinicNow() time.Time {
	return s.now().In(s.cfg.Location)
}

// slotOptions maps the config onto slots.Options. Config.Load always fills
// SlotLeadTime, so zero here was set on purpose and disables the buffer.
func (s *Service) slotOptions() slots.Options {
	lead := s.cfg.SlotLeadTime
	if lead == 0 {
		lead = slots.NoLeadTime
	}
	return slots.Options{Interval: s.cfg.SlotInterval, LeadTime: lead}
}

// OfferableSlots returns the slots a patient can currently book with a doctor
// on date, grouped into morning and evening.
func (s *Service) OfferableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (slots.Offer, error) {
	ctx, span := tracer.Start(ctx, "appointment.OfferableSlots")
	defer span.End()
	span.SetAttributes(attribute.String("doctor_id", doctorID.String()))

	start := time.Now()
	day := s.Day(date)
	now := s.clinicNow()
	if day.Before(s.Day(now)) {
		return slots.Offer{}, ErrDateInPast
	}

	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return slots.Offer{}, err
		}
		return slots.Offer{}, fmt.Errorf("load doctor: %w", err)
	}

	offer, _, err := s.resolve(ctx, doctorID, day, now, uuid.Nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve slots")
		return slots.Offer{}, err
	}

	s.metrics.ObserveResolve(len(offer.Morning)+len(offer.Evening), time.Since(start).Seconds())
	return offer, nil
}

// resolve loads availability and the day's appointments and runs the slot
// resolution. The appointment with id ignore, if any, does not occupy a slot.
func (s *Service) resolve(ctx context.Context, doctorID uuid.UUID, day, now time.Time, ignore uuid.UUID) (slots.Offer, []Appointment, error) {
	window, err := s.availability(ctx, doctorID)
	if err != nil {
		return slots.Offer{}, nil, err
	}

	appts, err := s.repo.ListAppointmentsForDay(ctx, doctorID, day)
	if err != nil {
		return slots.Offer{}, nil, fmt.Errorf("list appointments for day: %w", err)
	}

	booked := make([]slots.Booking, 0, len(appts))
	for _, a := range appts {
		if a.ID == ignore {
			continue
		}
		booked = append(booked, slots.Booking{Time: a.Time, Cancelled: !a.Status.Holds()})
	}

	offer, err := slots.Resolve(window, day, booked, now, s.slotOptions())
	if err != nil {
		return slots.Offer{}, nil, fmt.Errorf("resolve slots: %w", err)
	}
	return offer, appts, nil
}

// checkBookable tells apart a slot that is taken from one that is not offered.
func (s *Service) checkBookable(ctx context.Context, doctorID uuid.UUID, day time.Time, slot slots.TimeSlot, ignore uuid.UUID) error {
	now := s.clinicNow()
	if day.Before(s.Day(now)) {
		return ErrDateInPast
	}

	offer, appts, err := s.resolve(ctx, doctorID, day, now, ignore)
	if err != nil {
		return err
	}
	if offer.Contains(slot) {
		return nil
	}
	for _, a := range appts {
		if a.ID != ignore && a.Status.Holds() && a.Slot == slot {
			return ErrSlotAlreadyBooked
		}
	}
	return ErrSlotUnavailable
}

// BookAppointment places a waiting hold on a slot for a patient.
// The offerable check is only advisory; the slot is re-verified under a
// distributed lock and finally by the database's active-slot unique index.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.BookAppointment")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("slot", req.Time),
	)

	appt, err := s.bookAppointment(ctx, req)
	s.metrics.ObserveBooking(bookingOutcome(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "book appointment")
	}
	return appt, err
}

func (s *Service) bookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	slot, err := slots.ParseSlot(req.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	day := s.Day(req.Date)

	// Validate patient and doctor exist
	if _, err := s.repo.GetPatientByID(ctx, req.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if err := s.checkBookable(ctx, req.DoctorID, day, slot, uuid.Nil); err != nil {
		return nil, err
	}

	var created *Appointment

	err = s.locker.WithSlotLock(ctx, slotLockKey(req.DoctorID, day, slot), func(lockCtx context.Context) error {
		// Inside the critical section re-check for an active appointment on this slot
		existing, err := s.repo.GetActiveAppointmentForSlot(lockCtx, req.DoctorID, day, slot.Start)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotAlreadyBooked
		}

		expiresAt := s.now().Add(s.cfg.AppointmentTTL)
		appt, err := s.repo.CreateWaitingAppointment(lockCtx, NewAppointment{
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			Date:      day,
			Slot:      slot,
			ExpiresAt: expiresAt,
		})
		if err != nil {
			if errors.Is(err, ErrSlotAlreadyBooked) {
				return err
			}
			return fmt.Errorf("create waiting appointment: %w", err)
		}

		created = appt

		s.logEvent(lockCtx, appt.ID, EventAppointmentBooked, map[string]any{
			"doctor_id":  req.DoctorID.String(),
			"patient_id": req.PatientID.String(),
			"date":       day.Format(time.DateOnly),
			"time":       slot.String(),
			"expires_at": expiresAt,
		})

		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return created, nil
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrSlotAlreadyBooked), errors.Is(err, ErrSlotBeingBooked):
		return "conflict"
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrDateInPast), errors.Is(err, ErrInvalidSlot):
		return "rejected"
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDoctorNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func slotLockKey(doctorID uuid.UUID, day time.Time, slot slots.TimeSlot) string {
	return fmt.Sprintf("%s:%s:%d", doctorID, day.Format(time.DateOnly), int(slot.Start))
}

// ConfirmAppointment moves a waiting appointment to upcoming.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if s.releaseIfExpired(ctx, appt, "confirm_after_expiry") {
		return nil, ErrAppointmentExpired
	}

	if appt.Status != StatusWaiting {
		return nil, ErrInvalidStatusTransition
	}

	return s.transition(ctx, appt, StatusUpcoming, EventAppointmentConfirmed, map[string]any{})
}

// releaseIfExpired cancels a waiting hold whose TTL has passed and reports
// whether the hold was expired.
func (s *Service) releaseIfExpired(ctx context.Context, appt *Appointment, reason string) bool {
	if appt.Status != StatusWaiting || appt.ExpiresAt == nil || !appt.ExpiresAt.Before(s.now()) {
		return false
	}

	// Release the hold if nobody else has yet
	_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusWaiting, StatusCancelled)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		logging.FromContext(ctx).Warn().Err(err).
			Str("appointment_id", appt.ID.String()).
			Str("reason", reason).
			Msg("failed to expire appointment")
	} else if err == nil {
		s.metrics.ObserveTransition(string(StatusCancelled))
		s.logEvent(ctx, appt.ID, EventAppointmentExpired, map[string]any{
			"reason": reason,
		})
	}
	return true
}

// CancelAppointment frees the slot held by a waiting or upcoming appointment.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusWaiting && appt.Status != StatusUpcoming {
		return nil, ErrInvalidStatusTransition
	}

	return s.transition(ctx, appt, StatusCancelled, EventAppointmentCancelled, map[string]any{
		"from": string(appt.Status),
	})
}

// CompleteAppointment marks an upcoming appointment as attended.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusUpcoming {
		return nil, ErrInvalidStatusTransition
	}

	return s.transition(ctx, appt, StatusCompleted, EventAppointmentCompleted, map[string]any{})
}

func (s *Service) transition(ctx context.Context, appt *Appointment, to AppointmentStatus, event string, payload map[string]any) (*Appointment, error) {
	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// status moved underneath us
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.metrics.ObserveTransition(string(to))
	s.logEvent(ctx, updated.ID, event, payload)

	return updated, nil
}

// RescheduleAppointment moves a waiting or upcoming appointment to another
// offerable slot, possibly on another date.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, label string) (*Appointment, error) {
	slot, err := slots.ParseSlot(label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlot, err)
	}
	day := s.Day(date)

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if s.releaseIfExpired(ctx, appt, "reschedule_after_expiry") {
		return nil, ErrAppointmentExpired
	}
	if appt.Status != StatusWaiting && appt.Status != StatusUpcoming {
		return nil, ErrInvalidStatusTransition
	}
	if s.Day(appt.Date).Equal(day) && appt.Slot == slot {
		return appt, nil
	}

	if err := s.checkBookable(ctx, appt.DoctorID, day, slot, appt.ID); err != nil {
		return nil, err
	}

	var moved *Appointment

	err = s.locker.WithSlotLock(ctx, slotLockKey(appt.DoctorID, day, slot), func(lockCtx context.Context) error {
		existing, err := s.repo.GetActiveAppointmentForSlot(lockCtx, appt.DoctorID, day, slot.Start)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil && existing.ID != appt.ID {
			return ErrSlotAlreadyBooked
		}

		updated, err := s.repo.MoveAppointment(lockCtx, appt.ID, appt.Status, day, slot)
		if err != nil {
			switch {
			case errors.Is(err, ErrSlotAlreadyBooked):
				return err
			case errors.Is(err, ErrAppointmentNotFound):
				return ErrInvalidStatusTransition
			}
			return fmt.Errorf("move appointment: %w", err)
		}
		moved = updated

		s.logEvent(lockCtx, appt.ID, EventAppointmentRescheduled, map[string]any{
			"from_date": s.Day(appt.Date).Format(time.DateOnly),
			"from_time": appt.Time,
			"to_date":   day.Format(time.DateOnly),
			"to_time":   slot.String(),
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	return moved, nil
}

// ExpireWaitingAppointments is intended to be called by the worker periodically.
// It cancels holds that were never confirmed and returns how many it released.
func (s *Service) ExpireWaitingAppointments(ctx context.Context) (int, error) {
	now := s.now()
	expiredCandidates, err := s.repo.FindExpiredWaiting(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired waiting appointments: %w", err)
	}

	released := 0
	for _, appt := range expiredCandidates {
		_, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusWaiting, StatusCancelled)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				logging.FromContext(ctx).Error().Err(err).
					Str("appointment_id", appt.ID.String()).
					Msg("failed to expire appointment")
			}
			continue
		}
		released++
		s.metrics.ObserveTransition(string(StatusCancelled))
		s.logEvent(ctx, appt.ID, EventAppointmentExpired, map[string]any{
			"reason": "worker",
		})
	}

	return released, nil
}

// GetAvailability returns a doctor's weekly window. Doctors who never set one
// get the empty window, which means every day with the default hours.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID) (slots.Window, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return slots.Window{}, err
		}
		return slots.Window{}, fmt.Errorf("load doctor: %w", err)
	}
	return s.availability(ctx, doctorID)
}

func (s *Service) availability(ctx context.Context, doctorID uuid.UUID) (slots.Window, error) {
	if s.cache != nil {
		w, err := s.cache.Get(ctx, doctorID)
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache read failed")
		} else if w != nil {
			return *w, nil
		}
	}

	var window slots.Window
	av, err := s.repo.GetAvailability(ctx, doctorID)
	switch {
	case err == nil:
		window = av.Window
	case errors.Is(err, ErrAvailabilityNotFound):
	default:
		return slots.Window{}, fmt.Errorf("load availability: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Fill(ctx, doctorID, window); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache write failed")
		}
	}
	return window, nil
}

// SetAvailability validates and stores a doctor's weekly window.
func (s *Service) SetAvailability(ctx context.Context, doctorID uuid.UUID, w slots.Window) (*Availability, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	// Drop the entry before writing and overwrite it after. Readers only fill
	// an empty key, so a window read before the upsert cannot outlive it.
	s.invalidateAvailability(ctx, doctorID)
	av, err := s.repo.UpsertAvailability(ctx, doctorID, w)
	if err != nil {
		return nil, fmt.Errorf("save availability: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, doctorID, av.Window); err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache write failed")
			s.invalidateAvailability(ctx, doctorID)
		}
	}
	return av, nil
}

func (s *Service) invalidateAvailability(ctx context.Context, doctorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, doctorID); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("availability cache invalidate failed")
	}
}

// GetAppointment retrieves an appointment by ID
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

// ListAppointmentsByDoctor retrieves a doctor's appointments on one date
func (s *Service) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	appointments, err := s.repo.ListAppointmentsForDay(ctx, doctorID, s.Day(date))
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// DoctorStats aggregates a doctor's appointments for the dashboard.
func (s *Service) DoctorStats(ctx context.Context, doctorID uuid.UUID) (*Stats, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	counts, err := s.repo.CountAppointmentsByStatus(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	today, err := s.repo.CountActiveForDay(ctx, doctorID, s.Day(s.clinicNow()))
	if err != nil {
		return nil, err
	}

	stats := &Stats{DoctorID: doctorID, ByStatus: counts, ActiveToday: today}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		logging.FromContext(ctx).Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
