package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/recurrence"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Recurrence struct {
	Pattern model.Pattern
	// Until is the last instant an occurrence may start at. Nil means the base only.
	Until *time.Time
}

type CreateRequest struct {
	ProfessionalID string
	PatientID      string
	LocationID     string
	ScheduledAt    time.Time
	Notes          string
	Recurrence     *Recurrence
}

// Skipped is an occurrence that was not booked; Err is a conflict error naming it.
type Skipped struct {
	At  time.Time
	Err error
}

// Result lists the occurrences created and those skipped. A recurring request
// succeeds when at least one occurrence is created.
type Result struct {
	Created []model.Appointment
	Skipped []Skipped
}

// CreateAppointment books one appointment, or one per occurrence of a recurrence.
// Checks run in order: patient link and location ownership, subscription, then
// per occurrence conflict check and insert.
func (s *Service) CreateAppointment(ctx context.Context, req CreateRequest) (res Result, err error) {
	started := s.now()
	ctx, span := s.tracer.Start(ctx, "booking.create_appointment",
		trace.WithAttributes(attribute.String("professional.id", req.ProfessionalID)))
	defer func() {
		outcome := "created"
		if err != nil {
			outcome = string(apperr.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.Int("appointments.created", len(res.Created)), attribute.Int("appointments.skipped", len(res.Skipped)))
		span.End()
		s.metrics.ObserveBooking(outcome, s.now().Sub(started).Seconds())
		s.metrics.ObserveSkipped(len(res.Skipped))
	}()

	profID, err := requireID("professional_id", req.ProfessionalID)
	if err != nil {
		return Result{}, err
	}
	patientID, err := requireID("patient_id", req.PatientID)
	if err != nil {
		return Result{}, err
	}
	locationID, err := requireID("location_id", req.LocationID)
	if err != nil {
		return Result{}, err
	}
	if req.ScheduledAt.IsZero() {
		return Result{}, apperr.Validation("scheduled_at is required")
	}
	if err := validateNotes(req.Notes); err != nil {
		return Result{}, err
	}

	base := s.normalize(req.ScheduledAt)
	pattern := model.PatternNone
	var until *time.Time
	if req.Recurrence != nil {
		pattern = req.Recurrence.Pattern
		until = req.Recurrence.Until
	}
	if _, ok := model.ParsePattern(string(pattern)); !ok {
		return Result{}, apperr.Validation("unknown recurrence pattern %q", string(pattern))
	}

	linked, err := s.store.PatientLinked(ctx, profID, patientID)
	if err != nil {
		return Result{}, storeErr("patient", err)
	}
	if !linked {
		return Result{}, apperr.Link(patientID)
	}
	owned, err := s.store.LocationOwned(ctx, profID, locationID)
	if err != nil {
		return Result{}, storeErr("location", err)
	}
	if !owned {
		return Result{}, apperr.NotFound("location")
	}

	if err := s.requireEntitlement(ctx, profID); err != nil {
		return Result{}, err
	}

	occurrences, err := recurrence.Expand(base, pattern, until)
	if err != nil {
		return Result{}, err
	}

	seriesID := ""
	if pattern != model.PatternNone {
		seriesID = uuid.NewString()
	}
	for _, at := range occurrences {
		appt := model.Appointment{
			ID:             uuid.NewString(),
			ProfessionalID: profID,
			PatientID:      patientID,
			LocationID:     locationID,
			SeriesID:       seriesID,
			ScheduledAt:    at,
			Status:         model.StatusScheduled,
			Notes:          req.Notes,
			Recurring:      pattern != model.PatternNone,
			Pattern:        pattern,
		}
		created, err := s.bookOccurrence(ctx, appt)
		var appErr *apperr.Error
		if errors.As(err, &appErr) && appErr.Kind == apperr.KindConflict {
			res.Skipped = append(res.Skipped, Skipped{At: at, Err: err})
			continue
		}
		if err != nil {
			return res, err
		}
		res.Created = append(res.Created, created)
	}

	if len(res.Created) == 0 {
		return res, res.Skipped[0].Err
	}
	s.logger.Info("appointments created",
		"professional_id", profID,
		"created", len(res.Created),
		"skipped", len(res.Skipped),
		"series_id", seriesID,
	)
	return res, nil
}

func (s *Service) bookOccurrence(ctx context.Context, appt model.Appointment) (model.Appointment, error) {
	taken, err := s.checker.HasConflict(ctx, appt.ProfessionalID, appt.ScheduledAt, "")
	if err != nil {
		return model.Appointment{}, storeErr("appointment", err)
	}
	if taken {
		return model.Appointment{}, apperr.Conflict(appt.ScheduledAt)
	}

	evt, err := outbox.NewEvent("appointment", appt.ID, outbox.TypeAppointmentBooked, appointmentPayload(appt))
	if err != nil {
		return model.Appointment{}, apperr.Persistence("encode event", err)
	}
	created, err := s.store.InsertAppointment(ctx, appt, evt)
	switch {
	case errors.Is(err, storage.ErrSlotTaken):
		// Lost a race with a concurrent booking after the check.
		return model.Appointment{}, apperr.Conflict(appt.ScheduledAt)
	case err != nil:
		return model.Appointment{}, storeErr("appointment", err)
	}
	return created, nil
}

func appointmentPayload(a model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id":  a.ID,
		"professional_id": a.ProfessionalID,
		"patient_id":      a.PatientID,
		"location_id":     a.LocationID,
		"series_id":       a.SeriesID,
		"scheduled_at":    a.ScheduledAt.UTC().Format(time.RFC3339),
		"status":          string(a.Status),
	}
}

// GetAppointment returns the joined view of one appointment.
func (s *Service) GetAppointment(ctx context.Context, professionalID, id string) (model.Appointment, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.Appointment{}, err
	}
	if id, err = requireID("appointment_id", id); err != nil {
		return model.Appointment{}, err
	}
	appt, err := s.store.GetAppointment(ctx, profID, id)
	if err != nil {
		return model.Appointment{}, storeErr("appointment", err)
	}
	return appt, nil
}

// UpdateAppointment applies a partial update. A timestamp change re-evaluates the
// subscription and the conflict check, excluding the appointment itself.
func (s *Service) UpdateAppointment(ctx context.Context, professionalID, id string, patch model.Patch) (out model.Appointment, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.update_appointment",
		trace.WithAttributes(attribute.String("appointment.id", id)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		}
		span.End()
	}()

	current, err := s.GetAppointment(ctx, professionalID, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if patch.Empty() {
		return current, nil
	}
	if patch.Notes != nil {
		if err := validateNotes(*patch.Notes); err != nil {
			return model.Appointment{}, err
		}
	}
	if patch.Status != nil {
		if _, ok := model.ParseStatus(string(*patch.Status)); !ok {
			return model.Appointment{}, apperr.Validation("unknown status %q", string(*patch.Status))
		}
		if err := checkTransition(current.Status, *patch.Status); err != nil {
			return model.Appointment{}, err
		}
	}

	var newAt time.Time
	moving := false
	if patch.ScheduledAt != nil {
		if patch.ScheduledAt.IsZero() {
			return model.Appointment{}, apperr.Validation("scheduled_at must not be empty")
		}
		newAt = s.normalize(*patch.ScheduledAt)
		moving = !newAt.Equal(current.ScheduledAt)
	}
	if moving {
		if current.Status.Terminal() {
			return model.Appointment{}, apperr.Validation("a %s appointment cannot be rescheduled", current.Status)
		}
		if err := s.requireEntitlement(ctx, current.ProfessionalID); err != nil {
			return model.Appointment{}, err
		}
		taken, err := s.checker.HasConflict(ctx, current.ProfessionalID, newAt, current.ID)
		if err != nil {
			return model.Appointment{}, storeErr("appointment", err)
		}
		if taken {
			return model.Appointment{}, apperr.Conflict(newAt)
		}
	}

	updated, err := s.store.UpdateAppointment(ctx, current.ProfessionalID, current.ID, func(a *model.Appointment) ([]outbox.Event, error) {
		var events []outbox.Event
		if moving && !a.ScheduledAt.Equal(newAt) {
			if a.Status.Terminal() {
				return nil, apperr.Validation("a %s appointment cannot be rescheduled", a.Status)
			}
			previous := a.ScheduledAt
			a.ScheduledAt = newAt
			payload := appointmentPayload(*a)
			payload["previous_scheduled_at"] = previous.UTC().Format(time.RFC3339)
			evt, err := outbox.NewEvent("appointment", a.ID, outbox.TypeAppointmentRescheduled, payload)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if patch.Status != nil && *patch.Status != a.Status {
			if err := checkTransition(a.Status, *patch.Status); err != nil {
				return nil, err
			}
			evt, err := s.applyStatus(a, *patch.Status)
			if err != nil {
				return nil, err
			}
			events = append(events, evt)
		}
		if patch.Notes != nil {
			a.Notes = *patch.Notes
		}
		return events, nil
	})
	if errors.Is(err, storage.ErrSlotTaken) {
		return model.Appointment{}, apperr.Conflict(newAt)
	}
	if err != nil {
		return model.Appointment{}, storeErr("appointment", err)
	}
	if patch.Status != nil && *patch.Status != current.Status {
		s.metrics.ObserveStatusChange(string(updated.Status))
	}
	s.logger.Info("appointment updated", "appointment_id", updated.ID, "status", updated.Status)
	return updated, nil
}

func checkTransition(from, to model.Status) error {
	if from == to {
		return nil
	}
	if !from.CanTransition(to) {
		return apperr.Validation("status cannot change from %s to %s", from, to)
	}
	return nil
}

// applyStatus sets the new status and returns the event describing it.
func (s *Service) applyStatus(a *model.Appointment, to model.Status) (outbox.Event, error) {
	from := a.Status
	a.Status = to
	eventType := outbox.TypeAppointmentStatusChanged
	if to == model.StatusCancelled {
		at := s.now().UTC()
		a.CancelledAt = &at
		eventType = outbox.TypeAppointmentCancelled
	}
	payload := appointmentPayload(*a)
	payload["previous_status"] = string(from)
	return outbox.NewEvent("appointment", a.ID, eventType, payload)
}

// CancelAppointment soft-cancels an appointment. Cancelling twice returns the
// cancelled appointment unchanged; a completed appointment cannot be cancelled.
func (s *Service) CancelAppointment(ctx context.Context, professionalID, id string) (model.Appointment, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.Appointment{}, err
	}
	if id, err = requireID("appointment_id", id); err != nil {
		return model.Appointment{}, err
	}

	cancelledNow := false
	updated, err := s.store.UpdateAppointment(ctx, profID, id, func(a *model.Appointment) ([]outbox.Event, error) {
		switch a.Status {
		case model.StatusCancelled:
			return nil, nil
		case model.StatusCompleted:
			return nil, apperr.Validation("a completed appointment cannot be cancelled")
		}
		evt, err := s.applyStatus(a, model.StatusCancelled)
		if err != nil {
			return nil, err
		}
		cancelledNow = true
		return []outbox.Event{evt}, nil
	})
	if err != nil {
		return model.Appointment{}, storeErr("appointment", err)
	}
	if cancelledNow {
		s.metrics.ObserveStatusChange(string(model.StatusCancelled))
		s.logger.Info("appointment cancelled", "appointment_id", updated.ID, "professional_id", profID)
	}
	return updated, nil
}

// ListAppointments returns appointments whose calendar day lies in [startDate, endDate], oldest first.
func (s *Service) ListAppointments(ctx context.Context, professionalID string, startDate, endDate time.Time) ([]model.Appointment, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return nil, err
	}
	from, to, err := s.dayRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.ListAppointments(ctx, profID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, storeErr("appointments", err)
	}
	return appts, nil
}

func (s *Service) dayRange(startDate, endDate time.Time) (time.Time, time.Time, error) {
	if startDate.IsZero() || endDate.IsZero() {
		return time.Time{}, time.Time{}, apperr.Validation("start and end dates are required")
	}
	from, to := s.dayStart(startDate), s.dayStart(endDate)
	if to.Before(from) {
		return time.Time{}, time.Time{}, apperr.Validation("end date must not be before start date")
	}
	if to.Sub(from) > maxListDays*24*time.Hour {
		return time.Time{}, time.Time{}, apperr.Validation("date range must not exceed %d days", maxListDays)
	}
	return from, to, nil
}
