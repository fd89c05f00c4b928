package conflict

import (
	"context"
	"time"
)

// Finder looks up an active (non-cancelled) appointment at an exact timestamp.
type Finder interface {
	ActiveAppointmentAt(ctx context.Context, professionalID string, at time.Time) (id string, found bool, err error)
}

type Checker struct {
	finder Finder
}

func NewChecker(finder Finder) *Checker {
	return &Checker{finder: finder}
}

// HasConflict reports whether another active appointment holds at for the professional.
// excludeID lets an appointment be moved onto its own timestamp.
func (c *Checker) HasConflict(ctx context.Context, professionalID string, at time.Time, excludeID string) (bool, error) {
	id, found, err := c.finder.ActiveAppointmentAt(ctx, professionalID, at)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return excludeID == "" || id != excludeID, nil
}
