package booking

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/availability"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

// GetScheduleConfig returns the stored configuration or the default one.
func (s *Service) GetScheduleConfig(ctx context.Context, professionalID string) (model.ScheduleConfig, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	cfg, _, err := s.store.GetScheduleConfig(ctx, profID)
	if err != nil {
		return model.ScheduleConfig{}, storeErr("schedule config", err)
	}
	return cfg, nil
}

// PutScheduleConfig validates and upserts the professional's configuration.
func (s *Service) PutScheduleConfig(ctx context.Context, professionalID string, cfg model.ScheduleConfig) (model.ScheduleConfig, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	cfg.ProfessionalID = profID
	if cfg.SlotMinutes <= 0 {
		cfg.SlotMinutes = model.DefaultSlotMinutes
	}
	if err := cfg.Validate(); err != nil {
		return model.ScheduleConfig{}, apperr.Validation("%s", err.Error())
	}
	stored, err := s.store.PutScheduleConfig(ctx, cfg)
	if err != nil {
		return model.ScheduleConfig{}, storeErr("schedule config", err)
	}
	s.logger.Info("schedule config saved", "professional_id", profID, "slot_minutes", stored.SlotMinutes)
	return stored, nil
}

// DaySlots renders the slot grid for one calendar day with booked and past flags.
func (s *Service) DaySlots(ctx context.Context, professionalID string, date time.Time) (availability.Day, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return availability.Day{}, err
	}
	if date.IsZero() {
		return availability.Day{}, apperr.Validation("date is required")
	}
	cfg, _, err := s.store.GetScheduleConfig(ctx, profID)
	if err != nil {
		return availability.Day{}, storeErr("schedule config", err)
	}

	day := s.dayStart(date)
	appts, err := s.store.ListAppointments(ctx, profID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return availability.Day{}, storeErr("appointments", err)
	}
	booked := make([]time.Time, 0, len(appts))
	for _, a := range appts {
		if a.Active() {
			booked = append(booked, a.ScheduledAt)
		}
	}

	calendarDay := calendarDate(day)
	blocked, err := s.store.ListBlockedTimes(ctx, profID, calendarDay, calendarDay)
	if err != nil {
		return availability.Day{}, storeErr("blocked times", err)
	}
	return availability.RenderDay(cfg, day, s.loc, booked, blocked, s.now()), nil
}

// calendarDate maps a local day onto UTC midnight, the representation used for date columns.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CreateBlockedTime records an advisory exclusion for a calendar day.
// It is shown on the slot grid but does not prevent booking.
func (s *Service) CreateBlockedTime(ctx context.Context, professionalID string, date time.Time, reason string) (model.BlockedTime, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return model.BlockedTime{}, err
	}
	if date.IsZero() {
		return model.BlockedTime{}, apperr.Validation("date is required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return model.BlockedTime{}, apperr.Validation("reason must be at most 500 characters")
	}
	bt, err := s.store.CreateBlockedTime(ctx, model.BlockedTime{
		ID:             uuid.NewString(),
		ProfessionalID: profID,
		Date:           calendarDate(s.dayStart(date)),
		Reason:         reason,
	})
	if err != nil {
		return model.BlockedTime{}, storeErr("blocked time", err)
	}
	return bt, nil
}

func (s *Service) ListBlockedTimes(ctx context.Context, professionalID string, startDate, endDate time.Time) ([]model.BlockedTime, error) {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return nil, err
	}
	from, to, err := s.dayRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListBlockedTimes(ctx, profID, calendarDate(from), calendarDate(to))
	if err != nil {
		return nil, storeErr("blocked times", err)
	}
	return out, nil
}

func (s *Service) DeleteBlockedTime(ctx context.Context, professionalID, id string) error {
	profID, err := requireID("professional_id", professionalID)
	if err != nil {
		return err
	}
	if id, err = requireID("blocked_time_id", id); err != nil {
		return err
	}
	return storeErr("blocked time", s.store.DeleteBlockedTime(ctx, profID, id))
}
