package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/slots"
)

func slotsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}
		date, err := parseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		offer, err := svc.OfferableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID: doctorID,
			Date:     date.Format(time.DateOnly),
			Morning:  labels(offer.Morning),
			Evening:  labels(offer.Evening),
		})
	}
}

func getAvailabilityHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		window, err := svc.GetAvailability(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{DoctorID: doctorID, Window: window})
	}
}

func putAvailabilityHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		var window slots.Window
		if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		av, err := svc.SetAvailability(r.Context(), doctorID, window)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		updated := av.UpdatedAt
		writeJSON(w, http.StatusOK, AvailabilityResponse{DoctorID: av.DoctorID, Window: av.Window, UpdatedAt: &updated})
	}
}

func statsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "id", "invalid_doctor_id")
		if !ok {
			return
		}

		stats, err := svc.DoctorStats(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		byStatus := make(map[string]int, len(stats.ByStatus))
		for status, n := range stats.ByStatus {
			byStatus[string(status)] = n
		}
		writeJSON(w, http.StatusOK, StatsResponse{
			DoctorID:    stats.DoctorID,
			Total:       stats.Total,
			ActiveToday: stats.ActiveToday,
			ByStatus:    byStatus,
		})
	}
}

func createAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.BookAppointment(r.Context(), appointment.BookingRequest{
			DoctorID:  doctorID,
			PatientID: patientID,
			Date:      date,
			Time:      req.Time,
		})
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if raw := q.Get("doctor_id"); raw != "" {
			doctorID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			date, err := parseDate(q.Get("date"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			appts, err := svc.ListAppointmentsByDoctor(r.Context(), doctorID, date)
			if err != nil {
				handleServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentList(appts))
			return
		}

		patientID, err := uuid.Parse(q.Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id or doctor_id query parameter is required")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// transitionHandler serves confirm and cancel, which only differ in the
// service call.
func transitionHandler(fn func(*http.Request, uuid.UUID) (*appointment.Appointment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := fn(r, id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func confirmAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.ConfirmAppointment(r.Context(), id)
	})
}

func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
		return svc.CancelAppointment(r.Context(), id)
	})
}

// completeAppointmentHandler only lets the appointment's own doctor mark it
// as completed.
func completeAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		doctorID, ok := DoctorIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "doctor token required")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if appt.DoctorID != doctorID {
			writeError(w, http.StatusForbidden, "forbidden", "appointment belongs to another doctor")
			return
		}

		done, err := svc.CompleteAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(done))
	}
}

func rescheduleAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := parseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), id, date, req.Time)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, slots.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_availability", err.Error())
	case errors.Is(err, appointment.ErrDateInPast):
		writeError(w, http.StatusUnprocessableEntity, "date_in_past", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusUnprocessableEntity, "slot_unavailable", err.Error())
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrAppointmentExpired):
		writeError(w, http.StatusConflict, "appointment_expired", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		logging.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
