package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agenda/libs/config"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// stripe-webhook-sim posts a signed payment event to a running agenda-service so the
// subscription flow can be exercised without a Stripe account.
func main() {
	var (
		baseURL      = flag.String("base-url", config.String("BASE_URL", "http://localhost:8080"), "agenda-service base url")
		evtType      = flag.String("type", config.String("STRIPE_EVENT_TYPE", "checkout.session.completed"), "checkout.session.completed | invoice.paid")
		professional = flag.String("professional-id", config.String("PROFESSIONAL_ID", ""), "professional_id metadata")
		secret       = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*professional) == "" {
		fatal("PROFESSIONAL_ID is required")
	}

	now := time.Now().UTC()
	eventID := fmt.Sprintf("evt_test_%d", now.UnixNano())

	payload, err := buildEventJSON(eventID, *evtType, now, *professional)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(eventID, eventType string, t time.Time, professionalID string) ([]byte, error) {
	metadata := map[string]any{"professional_id": professionalID}
	var object map[string]any
	switch eventType {
	case "checkout.session.completed":
		object = map[string]any{
			"id":             "cs_test_" + eventID,
			"object":         "checkout.session",
			"mode":           "payment",
			"payment_status": "paid",
			"metadata":       metadata,
		}
	case "invoice.paid":
		object = map[string]any{
			"id":                   "in_test_" + eventID,
			"object":               "invoice",
			"subscription_details": map[string]any{"metadata": metadata},
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
