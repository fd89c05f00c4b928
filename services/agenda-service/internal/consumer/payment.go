package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/agenda/libs/kafkax"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/subscriptions"
	"github.com/segmentio/kafka-go"
)

const PaymentApprovedTopic = "billing.payment.approved.v1"

type paymentApprovedPayload struct {
	ProfessionalID string `json:"professional_id"`
	ApprovedAt     string `json:"approved_at"`
	PaymentID      string `json:"payment_id"`
	Provider       string `json:"provider"`
}

// PaymentApprovedHandler feeds billing approvals into the subscription service.
// Malformed payloads are logged and dropped since a retry cannot fix them.
func PaymentApprovedHandler(svc *subscriptions.Service, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload paymentApprovedPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		approvedAt, err := time.Parse(time.RFC3339, payload.ApprovedAt)
		if err != nil {
			logger.Error("invalid approved_at", "value", payload.ApprovedAt, "topic", msg.Topic)
			return nil
		}
		ref := payload.PaymentID
		if ref == "" {
			ref = kafkax.ExtractEventMeta(msg).EventID
		}
		provider := payload.Provider
		if provider == "" {
			provider = "billing"
		}

		_, _, err = svc.ApplyPaymentApproved(ctx, subscriptions.PaymentApproved{
			ProfessionalID: payload.ProfessionalID,
			ApprovedAt:     approvedAt,
			Provider:       provider,
			PaymentRef:     ref,
		})
		if errors.Is(err, subscriptions.ErrInvalidApproval) {
			logger.Error("payment approval dropped", "err", err, "topic", msg.Topic)
			return nil
		}
		return err
	}
}
