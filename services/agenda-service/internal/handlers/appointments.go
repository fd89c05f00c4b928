package handlers

import (
	"net/http"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/booking"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

type appointmentResponse struct {
	ID           string  `json:"id"`
	PatientID    string  `json:"patient_id"`
	PatientName  string  `json:"patient_name,omitempty"`
	LocationID   string  `json:"location_id"`
	LocationName string  `json:"location_name,omitempty"`
	SeriesID     string  `json:"series_id,omitempty"`
	ScheduledAt  string  `json:"scheduled_at"`
	Status       string  `json:"status"`
	Notes        string  `json:"notes"`
	Recurring    bool    `json:"recurring"`
	Pattern      string  `json:"recurrence_pattern,omitempty"`
	CancelledAt  *string `json:"cancelled_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	out := appointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		PatientName:  a.PatientName,
		LocationID:   a.LocationID,
		LocationName: a.LocationName,
		SeriesID:     a.SeriesID,
		ScheduledAt:  a.ScheduledAt.Format(time.RFC3339),
		Status:       string(a.Status),
		Notes:        a.Notes,
		Recurring:    a.Recurring,
		Pattern:      string(a.Pattern),
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    a.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		s := a.CancelledAt.UTC().Format(time.RFC3339)
		out.CancelledAt = &s
	}
	return out
}

type recurrenceRequest struct {
	Pattern string `json:"pattern"`
	EndDate string `json:"end_date"`
}

type createAppointmentRequest struct {
	PatientID   string             `json:"patient_id"`
	LocationID  string             `json:"location_id"`
	ScheduledAt string             `json:"scheduled_at"`
	Notes       string             `json:"notes"`
	Recurrence  *recurrenceRequest `json:"recurrence"`
}

type skippedResponse struct {
	ScheduledAt string `json:"scheduled_at"`
	Error       string `json:"error"`
}

type createAppointmentResponse struct {
	Created []appointmentResponse `json:"created"`
	Skipped []skippedResponse     `json:"skipped"`
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	at, err := h.parseTimestamp("scheduled_at", req.ScheduledAt)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	in := booking.CreateRequest{
		ProfessionalID: ProfessionalFromContext(r.Context()),
		PatientID:      req.PatientID,
		LocationID:     req.LocationID,
		ScheduledAt:    at,
		Notes:          req.Notes,
	}
	if req.Recurrence != nil {
		pattern, ok := model.ParsePattern(req.Recurrence.Pattern)
		if !ok {
			writeError(w, r, h.logger, apperr.Validation("unknown recurrence pattern %q", req.Recurrence.Pattern))
			return
		}
		rec := &booking.Recurrence{Pattern: pattern}
		if req.Recurrence.EndDate != "" {
			end, err := h.parseDate("recurrence.end_date", req.Recurrence.EndDate)
			if err != nil {
				writeError(w, r, h.logger, err)
				return
			}
			until := endOfDay(end)
			rec.Until = &until
		}
		in.Recurrence = rec
	}

	res, err := h.booking.CreateAppointment(r.Context(), in)
	if err != nil && len(res.Created) == 0 {
		writeError(w, r, h.logger, err)
		return
	}
	if err != nil {
		// A later occurrence failed for a non-conflict reason; report what was booked.
		h.logger.Error("recurring booking stopped early", "err", err, "created", len(res.Created))
	}

	out := createAppointmentResponse{
		Created: make([]appointmentResponse, 0, len(res.Created)),
		Skipped: make([]skippedResponse, 0, len(res.Skipped)),
	}
	for _, a := range res.Created {
		out.Created = append(out.Created, toAppointmentResponse(a))
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, skippedResponse{
			ScheduledAt: s.At.Format(time.RFC3339),
			Error:       string(apperr.KindOf(s.Err)),
		})
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.GetAppointment(r.Context(), ProfessionalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type updateAppointmentRequest struct {
	ScheduledAt *string `json:"scheduled_at"`
	Status      *string `json:"status"`
	Notes       *string `json:"notes"`
}

func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req updateAppointmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var patch model.Patch
	if req.ScheduledAt != nil {
		at, err := h.parseTimestamp("scheduled_at", *req.ScheduledAt)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		patch.ScheduledAt = &at
	}
	if req.Status != nil {
		st := model.Status(*req.Status)
		patch.Status = &st
	}
	patch.Notes = req.Notes

	appt, err := h.booking.UpdateAppointment(r.Context(), ProfessionalFromContext(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.CancelAppointment(r.Context(), ProfessionalFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := h.parseDate("start", q.Get("start"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := h.parseDate("end", q.Get("end"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	appts, err := h.booking.ListAppointments(r.Context(), ProfessionalFromContext(r.Context()), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": out})
}
