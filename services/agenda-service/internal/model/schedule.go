package model

import (
	"fmt"
	"time"
)

const DefaultSlotMinutes = 30

// Clock is a time of day in minutes since midnight.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

func ParseClock(raw string) (Clock, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	return NewClock(t.Hour(), t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On places the clock on the given calendar day in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, int(c)/60, int(c)%60, 0, 0, loc)
}

type DayHours struct {
	Start *Clock `json:"start"`
	End   *Clock `json:"end"`
}

// ScheduleConfig holds weekly working hours for one professional.
// Days is indexed by time.Weekday (Sunday = 0).
type ScheduleConfig struct {
	ProfessionalID string
	Days           [7]DayHours
	BreakStart     *Clock
	BreakEnd       *Clock
	SlotMinutes    int
	UpdatedAt      time.Time
}

func DefaultScheduleConfig(professionalID string) ScheduleConfig {
	return ScheduleConfig{ProfessionalID: professionalID, SlotMinutes: DefaultSlotMinutes}
}

// SlotDuration falls back to the default when unset or non-positive.
func (c ScheduleConfig) SlotDuration() int {
	if c.SlotMinutes <= 0 {
		return DefaultSlotMinutes
	}
	return c.SlotMinutes
}

// Validate rejects configurations that cannot be rendered. A break outside working
// hours, or one whose start is not before its end, is accepted and simply has no effect.
func (c ScheduleConfig) Validate() error {
	for wd, h := range c.Days {
		switch {
		case h.Start == nil && h.End == nil:
		case h.Start == nil:
			return fmt.Errorf("%s: end set without start", time.Weekday(wd))
		case h.End == nil:
			return fmt.Errorf("%s: start set without end", time.Weekday(wd))
		case *h.End <= *h.Start:
			return fmt.Errorf("%s: end must be after start", time.Weekday(wd))
		case *h.Start < 0 || *h.End > NewClock(24, 0):
			return fmt.Errorf("%s: hours out of range", time.Weekday(wd))
		}
	}
	if (c.BreakStart == nil) != (c.BreakEnd == nil) {
		return fmt.Errorf("break must have both start and end")
	}
	if c.SlotMinutes > 24*60 {
		return fmt.Errorf("slot duration must not exceed 24h")
	}
	return nil
}

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// SubscriptionRecord is append-only; the latest by CreatedAt is authoritative.
type SubscriptionRecord struct {
	ID             string
	ProfessionalID string
	Status         SubscriptionStatus
	StartsAt       time.Time
	ExpiresAt      time.Time
	Provider       string
	PaymentRef     string
	CreatedAt      time.Time
}
