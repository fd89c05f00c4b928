package availability

import (
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

// GenerateSlots returns the bookable start times for weekday, formatted "HH:MM".
//
// The cursor starts at the day's start and advances by the slot duration while it is
// strictly before the day's end. Emissions inside [break start, break end) are dropped
// but the cursor keeps its grid, so slots after a break are not re-aligned.
func GenerateSlots(cfg model.ScheduleConfig, weekday time.Weekday) []string {
	clocks := GenerateClocks(cfg, weekday)
	out := make([]string, 0, len(clocks))
	for _, c := range clocks {
		out = append(out, c.String())
	}
	return out
}

func GenerateClocks(cfg model.ScheduleConfig, weekday time.Weekday) []model.Clock {
	if weekday < time.Sunday || weekday > time.Saturday {
		return nil
	}
	day := cfg.Days[weekday]
	if day.Start == nil || day.End == nil {
		return nil
	}
	step := model.Clock(cfg.SlotDuration())
	breakStart, breakEnd, hasBreak := breakWindow(cfg)

	var slots []model.Clock
	for cursor := *day.Start; cursor < *day.End; cursor += step {
		if hasBreak && cursor >= breakStart && cursor < breakEnd {
			continue
		}
		slots = append(slots, cursor)
	}
	return slots
}

func breakWindow(cfg model.ScheduleConfig) (model.Clock, model.Clock, bool) {
	if cfg.BreakStart == nil || cfg.BreakEnd == nil {
		return 0, 0, false
	}
	if *cfg.BreakStart >= *cfg.BreakEnd {
		return 0, 0, false
	}
	return *cfg.BreakStart, *cfg.BreakEnd, true
}
