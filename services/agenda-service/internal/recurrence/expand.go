package recurrence

import (
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

// MaxOccurrences bounds a single expansion.
const MaxOccurrences = 120

// Expand turns a base timestamp and pattern into the ordered occurrence list.
// The base is always first. Candidates are produced until the next one would be
// after until; a nil until yields the base only.
func Expand(base time.Time, pattern model.Pattern, until *time.Time) ([]time.Time, error) {
	if pattern == model.PatternNone || until == nil {
		return []time.Time{base}, nil
	}
	if until.Before(base) {
		return nil, apperr.Validation("recurrence end %s is before the first occurrence", until.Format(time.DateOnly))
	}

	out := []time.Time{base}
	for k := 1; ; k++ {
		next, err := step(base, pattern, k)
		if err != nil {
			return nil, err
		}
		if next.After(*until) {
			return out, nil
		}
		if len(out) == MaxOccurrences {
			return nil, apperr.Validation("recurrence expands to more than %d occurrences", MaxOccurrences)
		}
		out = append(out, next)
	}
}

// step computes the k-th occurrence from the base so month clamping never drifts.
func step(base time.Time, pattern model.Pattern, k int) (time.Time, error) {
	switch pattern {
	case model.PatternWeekly:
		return base.AddDate(0, 0, 7*k), nil
	case model.PatternBiweekly:
		return base.AddDate(0, 0, 14*k), nil
	case model.PatternMonthly:
		return addMonthsClamped(base, k), nil
	default:
		return time.Time{}, apperr.Validation("unknown recurrence pattern %q", string(pattern))
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(firstOfTarget.Year(), firstOfTarget.Month()); d > last {
		d = last
	}
	return firstOfTarget.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
