package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/booking"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/subscriptions"
)

type Handler struct {
	booking                *booking.Service
	subs                   *subscriptions.Service
	logger                 *slog.Logger
	loc                    *time.Location
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	localWebhookEnabled    bool
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	// LocalWebhookEnabled exposes an unsigned payment-approval endpoint for development.
	LocalWebhookEnabled bool
}

func New(bookingSvc *booking.Service, subs *subscriptions.Service, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		booking:                bookingSvc,
		subs:                   subs,
		logger:                 logger,
		loc:                    bookingSvc.Location(),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		localWebhookEnabled:    cfg.LocalWebhookEnabled,
	}
}

// Register mounts the API on mux. Calendar routes go through requireProfessional;
// webhooks authenticate by signature instead.
func (h *Handler) Register(mux *http.ServeMux, requireProfessional func(http.Handler) http.Handler) {
	authed := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, requireProfessional(fn))
	}

	authed("GET /api/v1/schedule-config", h.GetScheduleConfig)
	authed("PUT /api/v1/schedule-config", h.PutScheduleConfig)
	authed("GET /api/v1/slots", h.Slots)

	authed("GET /api/v1/appointments", h.ListAppointments)
	authed("POST /api/v1/appointments", h.CreateAppointment)
	authed("GET /api/v1/appointments/{id}", h.GetAppointment)
	authed("PATCH /api/v1/appointments/{id}", h.UpdateAppointment)
	authed("POST /api/v1/appointments/{id}/cancel", h.CancelAppointment)

	authed("GET /api/v1/subscription", h.Subscription)

	authed("GET /api/v1/blocked-times", h.ListBlockedTimes)
	authed("POST /api/v1/blocked-times", h.CreateBlockedTime)
	authed("DELETE /api/v1/blocked-times/{id}", h.DeleteBlockedTime)

	authed("GET /api/v1/patients", h.ListPatients)
	authed("POST /api/v1/patients", h.CreatePatient)
	authed("GET /api/v1/locations", h.ListLocations)
	authed("POST /api/v1/locations", h.CreateLocation)

	mux.HandleFunc("POST /api/v1/billing/webhooks/stripe", h.StripeWebhook)
	if h.localWebhookEnabled {
		mux.HandleFunc("POST /api/v1/billing/webhooks/local", h.LocalWebhook)
	}
}

const dateLayout = "2006-01-02"

func (h *Handler) parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Validation("%s is required", field)
	}
	t, err := time.ParseInLocation(dateLayout, raw, h.loc)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

// parseTimestamp accepts RFC 3339 or a zone-less local wall time as sent by
// datetime-local inputs, which is read in the service zone.
func (h *Handler) parseTimestamp(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, apperr.Validation("%s is required", field)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, h.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("%s must be an RFC 3339 timestamp", field)
}

// endOfDay makes a recurrence end date inclusive of every slot on that day.
func endOfDay(date time.Time) time.Time {
	return date.AddDate(0, 0, 1).Add(-time.Minute)
}
