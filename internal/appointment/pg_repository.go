package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/hackgods/clinic-booking/internal/slots"
)

const uniqueViolation = "23505"

// DBTX is the subset of *pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const appointmentColumns = `id, doctor_id, patient_id, appointment_date, slot_start, slot_end, time_label, status, created_at, updated_at, expires_at`

// Helpers

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var days []string
	var morningFrom, morningTo, eveningFrom, eveningTo pgtype.Text

	err := row.Scan(
		&a.DoctorID,
		&days,
		&morningFrom,
		&morningTo,
		&eveningFrom,
		&eveningTo,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}

	a.Window = slots.Window{
		Days:    days,
		Morning: textRange(morningFrom, morningTo),
		Evening: textRange(eveningFrom, eveningTo),
	}
	return &a, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end int
	var status string
	var expiresAt pgtype.Timestamptz

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&start,
		&end,
		&a.Time,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Slot = slots.TimeSlot{Start: slots.TimeOfDay(start), End: slots.TimeOfDay(end)}
	a.Status = AppointmentStatus(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		a.ExpiresAt = &t
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func textRange(from, to pgtype.Text) *slots.Range {
	if !from.Valid || !to.Valid {
		return nil
	}
	return &slots.Range{From: from.String, To: to.String}
}

func rangeText(r *slots.Range) (pgtype.Text, pgtype.Text) {
	if r == nil || strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return pgtype.Text{}, pgtype.Text{}
	}
	return pgtype.Text{String: r.From, Valid: true}, pgtype.Text{String: r.To, Valid: true}
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetAvailability(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	row := r.db.QueryRow(ctx, `
		SELECT doctor_id, available_days, morning_from, morning_to, evening_from, evening_to, updated_at
		FROM doctor_availability
		WHERE doctor_id = $1
	`, doctorID)
	return scanAvailability(row)
}

func (r *PgRepository) UpsertAvailability(ctx context.Context, doctorID uuid.UUID, w slots.Window) (*Availability, error) {
	days := w.Days
	if days == nil {
		days = []string{}
	}
	morningFrom, morningTo := rangeText(w.Morning)
	eveningFrom, eveningTo := rangeText(w.Evening)

	row := r.db.QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_id, available_days, morning_from, morning_to, evening_from, evening_to, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (doctor_id) DO UPDATE
		SET available_days = EXCLUDED.available_days,
		    morning_from = EXCLUDED.morning_from,
		    morning_to = EXCLUDED.morning_to,
		    evening_from = EXCLUDED.evening_from,
		    evening_to = EXCLUDED.evening_to,
		    updated_at = now()
		RETURNING doctor_id, available_days, morning_from, morning_to, evening_from, evening_to, updated_at
	`, doctorID, days, morningFrom, morningTo, eveningFrom, eveningTo)

	return scanAvailability(row)
}

func (r *PgRepository) ListAppointmentsForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		ORDER BY slot_start, created_at
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start slots.TimeOfDay) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND slot_start = $3
		  AND status <> 'Cancelled'
	`, doctorID, date, int(start))
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) CreateWaitingAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	id := uuid.New()

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, appointment_date, slot_start, slot_end, time_label, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'Waiting', now(), now(), $8)
		RETURNING `+appointmentColumns+`
	`, id, in.DoctorID, in.PatientID, in.Date, int(in.Slot.Start), int(in.Slot.End), in.Slot.String(), in.ExpiresAt)

	appt, err := scanAppointment(row)
	if isUniqueViolation(err) {
		return nil, ErrSlotAlreadyBooked
	}
	return appt, err
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, string(to), string(from))

	return scanAppointment(row)
}

func (r *PgRepository) MoveAppointment(ctx context.Context, id uuid.UUID, from AppointmentStatus, date time.Time, slot slots.TimeSlot) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET appointment_date = $3,
		    slot_start = $4,
		    slot_end = $5,
		    time_label = $6,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, string(from), date, int(slot.Start), int(slot.End), slot.String())

	appt, err := scanAppointment(row)
	if isUniqueViolation(err) {
		return nil, ErrSlotAlreadyBooked
	}
	return appt, err
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, slot_start DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountAppointmentsByStatus(ctx context.Context, doctorID uuid.UUID) (map[AppointmentStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE doctor_id = $1
		GROUP BY status
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[AppointmentStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[AppointmentStatus(status)] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return counts, nil
}

func (r *PgRepository) CountActiveForDay(ctx context.Context, doctorID uuid.UUID, date time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('Waiting', 'Upcoming')
	`, doctorID, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func (r *PgRepository) FindExpiredWaiting(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'Waiting'
		  AND expires_at IS NOT NULL
		  AND expires_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
