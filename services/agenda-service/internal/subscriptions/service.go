package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/entitlement"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
)

// ErrInvalidApproval marks approvals that can never be applied; retrying will not help.
var ErrInvalidApproval = errors.New("invalid payment approval")

type Store interface {
	AppendSubscription(ctx context.Context, rec model.SubscriptionRecord, evt outbox.Event) (model.SubscriptionRecord, error)
}

// PaymentApproved is the provider-neutral approval event.
type PaymentApproved struct {
	ProfessionalID string
	ApprovedAt     time.Time
	Provider       string
	PaymentRef     string
}

// Service turns payment approvals into subscription records. It is shared by the
// webhook and the Kafka consumer so both paths produce identical state.
type Service struct {
	store  Store
	logger *slog.Logger
	onNew  func(provider string)
}

func New(store Store, logger *slog.Logger, onNew func(provider string)) *Service {
	return &Service{store: store, logger: logger, onNew: onNew}
}

// ApplyPaymentApproved appends an active record covering [approvedAt, approvedAt+30d).
// Replays of the same (provider, payment ref) are ignored and report applied=false.
func (s *Service) ApplyPaymentApproved(ctx context.Context, evt PaymentApproved) (model.SubscriptionRecord, bool, error) {
	evt.ProfessionalID = strings.TrimSpace(evt.ProfessionalID)
	evt.PaymentRef = strings.TrimSpace(evt.PaymentRef)
	if evt.Provider == "" {
		evt.Provider = "manual"
	}
	if _, err := uuid.Parse(evt.ProfessionalID); err != nil {
		return model.SubscriptionRecord{}, false, fmt.Errorf("%w: professional id %q", ErrInvalidApproval, evt.ProfessionalID)
	}
	if evt.PaymentRef == "" {
		return model.SubscriptionRecord{}, false, fmt.Errorf("%w: payment reference is required", ErrInvalidApproval)
	}
	if evt.ApprovedAt.IsZero() {
		return model.SubscriptionRecord{}, false, fmt.Errorf("%w: approval time is required", ErrInvalidApproval)
	}

	approvedAt := evt.ApprovedAt.UTC()
	rec := model.SubscriptionRecord{
		ID:             uuid.NewString(),
		ProfessionalID: evt.ProfessionalID,
		Status:         model.SubscriptionActive,
		StartsAt:       approvedAt,
		ExpiresAt:      approvedAt.Add(entitlement.Window),
		Provider:       evt.Provider,
		PaymentRef:     evt.PaymentRef,
	}
	out, err := outbox.NewEvent("subscription", rec.ProfessionalID, outbox.TypeSubscriptionExtended, map[string]any{
		"professional_id": rec.ProfessionalID,
		"subscription_id": rec.ID,
		"starts_at":       rec.StartsAt.Format(time.RFC3339),
		"expires_at":      rec.ExpiresAt.Format(time.RFC3339),
		"provider":        rec.Provider,
		"payment_ref":     rec.PaymentRef,
	})
	if err != nil {
		return model.SubscriptionRecord{}, false, err
	}

	stored, err := s.store.AppendSubscription(ctx, rec, out)
	if errors.Is(err, storage.ErrDuplicate) {
		s.logger.Info("payment approval duplicate ignored", "provider", evt.Provider, "payment_ref", evt.PaymentRef)
		return model.SubscriptionRecord{}, false, nil
	}
	if err != nil {
		return model.SubscriptionRecord{}, false, err
	}
	s.logger.Info("subscription extended",
		"professional_id", stored.ProfessionalID,
		"provider", stored.Provider,
		"expires_at", stored.ExpiresAt.Format(time.RFC3339),
	)
	if s.onNew != nil {
		s.onNew(stored.Provider)
	}
	return stored, true, nil
}
