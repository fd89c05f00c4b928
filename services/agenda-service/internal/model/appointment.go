package model

import "time"

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusScheduled:  0,
	StatusConfirmed:  1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	if s == StatusCancelled {
		return s, true
	}
	_, ok := statusRank[s]
	return s, ok
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition allows forward moves along the lifecycle and cancellation of any non-terminal state.
// Staying in the same non-terminal state is accepted.
func (s Status) CanTransition(to Status) bool {
	if s.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	next, ok := statusRank[to]
	return ok && next >= from
}

type Pattern string

const (
	PatternNone     Pattern = ""
	PatternWeekly   Pattern = "weekly"
	PatternBiweekly Pattern = "biweekly"
	PatternMonthly  Pattern = "monthly"
)

func ParsePattern(raw string) (Pattern, bool) {
	switch p := Pattern(raw); p {
	case PatternNone, PatternWeekly, PatternBiweekly, PatternMonthly:
		return p, true
	default:
		return "", false
	}
}

type Appointment struct {
	ID             string
	ProfessionalID string
	PatientID      string
	LocationID     string
	SeriesID       string
	ScheduledAt    time.Time
	Status         Status
	Notes          string
	Recurring      bool
	Pattern        Pattern
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Filled by joined reads only.
	PatientName  string
	LocationName string
}

// Active appointments take part in conflict detection.
func (a Appointment) Active() bool {
	return a.Status != StatusCancelled
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	ScheduledAt *time.Time
	Status      *Status
	Notes       *string
}

func (p Patch) Empty() bool {
	return p.ScheduledAt == nil && p.Status == nil && p.Notes == nil
}

type Patient struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type Location struct {
	ID             string
	ProfessionalID string
	Name           string
	Address        string
}

type BlockedTime struct {
	ID             string
	ProfessionalID string
	Date           time.Time
	Reason         string
	CreatedAt      time.Time
}
