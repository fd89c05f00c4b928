package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/subscriptions"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const professionalMetadataKey = "professional_id"

// StripeWebhook handles Stripe webhooks (no JWT auth; signature verification is the auth).
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	approval, ok := h.stripeApproval(evt, occurredAt)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	h.applyApproval(w, r, approval)
}

// stripeApproval extracts a payment approval from the event types that grant coverage.
// Subscription-mode checkouts are left to invoice.paid so one payment extends once.
func (h *Handler) stripeApproval(evt stripe.Event, occurredAt time.Time) (subscriptions.PaymentApproved, bool) {
	out := subscriptions.PaymentApproved{Provider: "stripe", ApprovedAt: occurredAt}

	switch evt.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			h.logger.Error("stripe: invalid checkout session payload", "err", err)
			return out, false
		}
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid || session.Mode == stripe.CheckoutSessionModeSubscription {
			return out, false
		}
		out.ProfessionalID = strings.TrimSpace(session.Metadata[professionalMetadataKey])
		out.PaymentRef = session.ID
		if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
			out.PaymentRef = session.PaymentIntent.ID
		}

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			h.logger.Error("stripe: invalid invoice payload", "err", err)
			return out, false
		}
		out.ProfessionalID = strings.TrimSpace(inv.Metadata[professionalMetadataKey])
		if out.ProfessionalID == "" && inv.SubscriptionDetails != nil {
			out.ProfessionalID = strings.TrimSpace(inv.SubscriptionDetails.Metadata[professionalMetadataKey])
		}
		out.PaymentRef = inv.ID

	default:
		return out, false
	}

	if out.ProfessionalID == "" {
		h.logger.Warn("stripe: missing professional_id metadata", "provider_event_id", evt.ID, "event_type", string(evt.Type))
		return out, false
	}
	return out, true
}

func (h *Handler) applyApproval(w http.ResponseWriter, r *http.Request, approval subscriptions.PaymentApproved) {
	rec, applied, err := h.subs.ApplyPaymentApproved(r.Context(), approval)
	if errors.Is(err, subscriptions.ErrInvalidApproval) {
		h.logger.Warn("payment approval rejected", "err", err, "provider", approval.Provider)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		h.logger.Error("payment approval failed", "err", err, "provider", approval.Provider, "payment_ref", approval.PaymentRef)
		http.Error(w, "failed to apply payment", http.StatusInternalServerError)
		return
	}
	if !applied {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"expires_at": rec.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type localWebhookRequest struct {
	ProfessionalID string `json:"professional_id"`
	PaymentRef     string `json:"payment_ref"`
	ApprovedAt     string `json:"approved_at"`
}

// LocalWebhook lets a developer approve a payment without a provider round trip.
func (h *Handler) LocalWebhook(w http.ResponseWriter, r *http.Request) {
	var req localWebhookRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	approvedAt := time.Now().UTC()
	if strings.TrimSpace(req.ApprovedAt) != "" {
		t, err := time.Parse(time.RFC3339, req.ApprovedAt)
		if err != nil {
			http.Error(w, "approved_at must be RFC3339", http.StatusBadRequest)
			return
		}
		approvedAt = t
	}
	h.applyApproval(w, r, subscriptions.PaymentApproved{
		ProfessionalID: req.ProfessionalID,
		ApprovedAt:     approvedAt,
		Provider:       "local",
		PaymentRef:     req.PaymentRef,
	})
}
