package entitlement

import (
	"context"
	"math"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

// Window is the fixed coverage added by one approved payment.
const Window = 30 * 24 * time.Hour

type Status struct {
	Status        model.SubscriptionStatus
	ExpiresAt     *time.Time
	DaysRemaining int
	CanBook       bool
}

// Source returns the most recently created subscription record, or nil when none exists.
type Source interface {
	LatestSubscription(ctx context.Context, professionalID string) (*model.SubscriptionRecord, error)
}

// Project derives the current entitlement from the latest record. It never writes.
func Project(rec *model.SubscriptionRecord, now time.Time) Status {
	if rec == nil {
		return Status{Status: model.SubscriptionInactive}
	}
	expires := rec.ExpiresAt
	out := Status{
		Status:        rec.Status,
		ExpiresAt:     &expires,
		DaysRemaining: daysRemaining(expires, now),
		CanBook:       rec.Status == model.SubscriptionActive && expires.After(now),
	}
	if rec.Status == model.SubscriptionActive && !out.CanBook {
		out.Status = model.SubscriptionExpired
	}
	return out
}

func daysRemaining(expires, now time.Time) int {
	left := expires.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// Gate evaluates entitlement on every call; results are not cached.
type Gate struct {
	source Source
	now    func() time.Time
}

func NewGate(source Source, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{source: source, now: now}
}

func (g *Gate) Evaluate(ctx context.Context, professionalID string) (Status, error) {
	rec, err := g.source.LatestSubscription(ctx, professionalID)
	if err != nil {
		return Status{}, err
	}
	return Project(rec, g.now()), nil
}
