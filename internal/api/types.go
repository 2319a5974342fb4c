package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/slots"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time"` // "10:00 AM - 10:30 AM"
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AppointmentResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	PatientID uuid.UUID  `json:"patient_id"`
	Date      string     `json:"date"`
	Time      string     `json:"time"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	Count        int                   `json:"count"`
}

type SlotsResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Morning  []string  `json:"morning"`
	Evening  []string  `json:"evening"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	slots.Window
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type StatsResponse struct {
	DoctorID    uuid.UUID      `json:"doctor_id"`
	Total       int            `json:"total"`
	ActiveToday int            `json:"active_today"`
	ByStatus    map[string]int `json:"by_status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		DoctorID:  a.DoctorID,
		PatientID: a.PatientID,
		Date:      a.Date.Format(time.DateOnly),
		Time:      a.Time,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		ExpiresAt: a.ExpiresAt,
	}
}

func toAppointmentList(in []appointment.Appointment) AppointmentListResponse {
	out := make([]AppointmentResponse, 0, len(in))
	for i := range in {
		out = append(out, toAppointmentResponse(&in[i]))
	}
	return AppointmentListResponse{Appointments: out, Count: len(out)}
}

func labels(in []slots.TimeSlot) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, s.String())
	}
	return out
}
