package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/slots"
)

// AppointmentService is the part of *appointment.Service the handlers use.
type AppointmentService interface {
	OfferableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) (slots.Offer, error)
	GetAvailability(ctx context.Context, doctorID uuid.UUID) (slots.Window, error)
	SetAvailability(ctx context.Context, doctorID uuid.UUID, w slots.Window) (*appointment.Availability, error)
	DoctorStats(ctx context.Context, doctorID uuid.UUID) (*appointment.Stats, error)

	BookAppointment(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CompleteAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, label string) (*appointment.Appointment, error)
}

var _ AppointmentService = (*appointment.Service)(nil)

type RouterConfig struct {
	Service     AppointmentService
	Postgres    Pinger
	Redis       redis.UniversalClient
	Logger      zerolog.Logger
	JWTSecret   string
	RateLimiter *RateLimiter // nil disables rate limiting
	Metrics     http.Handler // nil leaves /metrics unrouted
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware
	}
	doctorAuth := DoctorJWT(cfg.JWTSecret)

	// Doctor endpoints
	r.Route("/doctors/{id}", func(r chi.Router) {
		r.Get("/slots", slotsHandler(cfg.Service))
		r.Get("/availability", getAvailabilityHandler(cfg.Service))
		r.Group(func(r chi.Router) {
			r.Use(doctorAuth, RequireSelf)
			r.With(limit).Put("/availability", putAvailabilityHandler(cfg.Service))
			r.Get("/stats", statsHandler(cfg.Service))
		})
	})

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))

		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/", createAppointmentHandler(cfg.Service))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Service))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
			r.Put("/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
			r.With(doctorAuth).Post("/{id}/complete", completeAppointmentHandler(cfg.Service))
		})
	})

	return r
}
