package availability

import (
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

type Slot struct {
	Time   string
	At     time.Time
	Booked bool
	Past   bool
}

type Day struct {
	Date    time.Time
	Blocked bool
	Reason  string
	Slots   []Slot
}

// RenderDay places the generated slots on date in loc and flags each one as booked
// (an active appointment holds that exact timestamp) or past (start < now).
// A blocked day still lists its slots; the flag is advisory.
func RenderDay(cfg model.ScheduleConfig, date time.Time, loc *time.Location, booked []time.Time, blocked []model.BlockedTime, now time.Time) Day {
	y, m, d := date.In(loc).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc)

	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.Unix()] = struct{}{}
	}

	out := Day{Date: dayStart}
	for _, bt := range blocked {
		// Blocked dates are calendar dates; compare them in their own zone.
		by, bm, bd := bt.Date.Date()
		if by == y && bm == m && bd == d {
			out.Blocked = true
			out.Reason = bt.Reason
			break
		}
	}

	for _, c := range GenerateClocks(cfg, dayStart.Weekday()) {
		at := c.On(dayStart, loc)
		_, isBooked := taken[at.Unix()]
		out.Slots = append(out.Slots, Slot{
			Time:   c.String(),
			At:     at,
			Booked: isBooked,
			Past:   at.Before(now),
		})
	}
	return out
}

// Free returns the slots that are neither booked nor past.
func (d Day) Free() []Slot {
	var free []Slot
	for _, s := range d.Slots {
		if !s.Booked && !s.Past {
			free = append(free, s)
		}
	}
	return free
}
