package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/libs/auth"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/booking"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/subscriptions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

const webhookSecret = "whsec_test_secret"

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type testServer struct {
	t    *testing.T
	mux  *http.ServeMux
	prof string
}

func newTestServer(t *testing.T, authn *Authenticator) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return fixedNow }
	store := storage.NewMemory(clock)
	svc := booking.New(store, booking.Options{Location: time.UTC, Now: clock, Logger: logger})
	subs := subscriptions.New(store, logger, nil)

	h := New(svc, subs, logger, Config{StripeWebhookSecret: webhookSecret, LocalWebhookEnabled: true})
	mux := http.NewServeMux()
	if authn == nil {
		authn = NewAuthenticator("", clock)
	}
	h.Register(mux, authn.RequireProfessional)
	return &testServer{t: t, mux: mux, prof: uuid.NewString()}
}

func (s *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set(ProfessionalHeader, s.prof)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// seed creates a patient and a location through the API and returns their ids.
func (s *testServer) seed() (patientID, locationID string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/patients", map[string]any{"name": "Maria Silva"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	patientID = decode[patientBody](s.t, rec).ID

	rec = s.do(http.MethodPost, "/api/v1/locations", map[string]any{"name": "Downtown"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	locationID = decode[locationBody](s.t, rec).ID
	return patientID, locationID
}

func (s *testServer) subscribe(ref string) {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/billing/webhooks/local", map[string]any{
		"professional_id": s.prof,
		"payment_ref":     ref,
		"approved_at":     fixedNow.Add(-time.Hour).Format(time.RFC3339),
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRequiresProfessional(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscription", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerTokenAuth(t *testing.T) {
	const secret = "jwt-secret"
	s := newTestServer(t, NewAuthenticator(secret, func() time.Time { return fixedNow }))

	token, err := auth.SignHS256(auth.Claims{ProfessionalID: s.prof, Exp: fixedNow.Add(time.Hour).Unix()}, secret)
	require.NoError(t, err)

	rec := s.do(http.MethodGet, "/api/v1/subscription", nil, "Authorization", "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/api/v1/subscription", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "header identity is ignored once tokens are required")

	forged, err := auth.SignHS256(auth.Claims{ProfessionalID: s.prof}, "other-secret")
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/v1/subscription", nil, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAppointmentFlow(t *testing.T) {
	s := newTestServer(t, nil)
	patientID, locationID := s.seed()
	body := map[string]any{
		"patient_id":   patientID,
		"location_id":  locationID,
		"scheduled_at": "2026-03-02T09:00",
		"notes":        "first visit",
	}

	rec := s.do(http.MethodPost, "/api/v1/appointments", body)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "subscription_required", decode[errorResponse](t, rec).Error)

	rec = s.do(http.MethodGet, "/api/v1/subscription", nil)
	sub := decode[subscriptionResponse](t, rec)
	assert.Equal(t, "inactive", sub.Status)
	assert.False(t, sub.CanBook)

	s.subscribe("pay-1")
	rec = s.do(http.MethodGet, "/api/v1/subscription", nil)
	sub = decode[subscriptionResponse](t, rec)
	assert.True(t, sub.CanBook)
	assert.Equal(t, 30, sub.DaysRemaining)

	rec = s.do(http.MethodPost, "/api/v1/appointments", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[createAppointmentResponse](t, rec)
	require.Len(t, created.Created, 1)
	assert.Equal(t, "2026-03-02T09:00:00Z", created.Created[0].ScheduledAt)
	assert.Equal(t, "scheduled", created.Created[0].Status)
	assert.Equal(t, "Maria Silva", created.Created[0].PatientName)

	rec = s.do(http.MethodPost, "/api/v1/appointments", body, "Accept-Language", "pt-BR,pt;q=0.9")
	require.Equal(t, http.StatusConflict, rec.Code)
	conflict := decode[errorResponse](t, rec)
	assert.Equal(t, "conflict", conflict.Error)
	assert.Equal(t, "Este horário já está reservado.", conflict.Message)
	assert.Equal(t, "2026-03-02T09:00:00Z", conflict.Occurrence)
}

func TestCreateRecurringReportsSkipped(t *testing.T) {
	s := newTestServer(t, nil)
	patientID, locationID := s.seed()
	s.subscribe("pay-1")

	rec := s.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id":   patientID,
		"location_id":  locationID,
		"scheduled_at": "2026-03-09T10:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id":   patientID,
		"location_id":  locationID,
		"scheduled_at": "2026-03-02T10:00:00Z",
		"recurrence":   map[string]any{"pattern": "weekly", "end_date": "2026-03-23"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[createAppointmentResponse](t, rec)
	assert.Len(t, res.Created, 3)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "2026-03-09T10:00:00Z", res.Skipped[0].ScheduledAt)
	assert.Equal(t, "conflict", res.Skipped[0].Error)

	rec = s.do(http.MethodGet, "/api/v1/appointments?start=2026-03-01&end=2026-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Appointments []appointmentResponse `json:"appointments"`
	}](t, rec)
	assert.Len(t, list.Appointments, 4)
	assert.Equal(t, "2026-03-02T10:00:00Z", list.Appointments[0].ScheduledAt)
}

func TestCreateAppointmentValidation(t *testing.T) {
	s := newTestServer(t, nil)
	patientID, locationID := s.seed()
	s.subscribe("pay-1")

	cases := []map[string]any{
		{"patient_id": patientID, "location_id": locationID, "scheduled_at": "tomorrow"},
		{"patient_id": patientID, "location_id": locationID, "scheduled_at": "2026-03-02T09:00", "recurrence": map[string]any{"pattern": "daily"}},
		{"patient_id": patientID, "location_id": locationID, "scheduled_at": "2026-03-02T09:00", "unexpected": true},
	}
	for i, body := range cases {
		rec := s.do(http.MethodPost, "/api/v1/appointments", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}

	rec := s.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id": uuid.NewString(), "location_id": locationID, "scheduled_at": "2026-03-02T09:00",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "link", decode[errorResponse](t, rec).Error)
}

func TestUpdateAndCancelAppointment(t *testing.T) {
	s := newTestServer(t, nil)
	patientID, locationID := s.seed()
	s.subscribe("pay-1")

	rec := s.do(http.MethodPost, "/api/v1/appointments", map[string]any{
		"patient_id": patientID, "location_id": locationID, "scheduled_at": "2026-03-02T09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[createAppointmentResponse](t, rec).Created[0].ID
	path := "/api/v1/appointments/" + id

	rec = s.do(http.MethodPatch, path, map[string]any{"status": "confirmed", "notes": "bring exams"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[appointmentResponse](t, rec)
	assert.Equal(t, "confirmed", got.Status)
	assert.Equal(t, "bring exams", got.Notes)

	rec = s.do(http.MethodPatch, path, map[string]any{"status": "scheduled"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "backward transition")

	rec = s.do(http.MethodPatch, path, map[string]any{"scheduled_at": "2026-03-03T14:00:00Z"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "2026-03-03T14:00:00Z", decode[appointmentResponse](t, rec).ScheduledAt)

	rec = s.do(http.MethodPost, path+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[appointmentResponse](t, rec)
	assert.Equal(t, "cancelled", first.Status)
	require.NotNil(t, first.CancelledAt)

	rec = s.do(http.MethodPost, path+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first, decode[appointmentResponse](t, rec))

	rec = s.do(http.MethodGet, "/api/v1/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduleConfigAndSlots(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/api/v1/schedule-config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 30, decode[scheduleConfigBody](t, rec).SlotMinutes)

	rec = s.do(http.MethodPut, "/api/v1/schedule-config", map[string]any{
		"days": map[string]any{
			"monday": map[string]any{"start": "08:00", "end": "18:00"},
		},
		"break_start":  "12:00",
		"break_end":    "13:00",
		"slot_minutes": 30,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cfg := decode[scheduleConfigBody](t, rec)
	require.NotNil(t, cfg.Days["monday"].Start)
	assert.Equal(t, "08:00", cfg.Days["monday"].Start.String())
	assert.Nil(t, cfg.Days["sunday"].Start)

	rec = s.do(http.MethodGet, "/api/v1/slots?date=2026-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	day := decode[dayResponse](t, rec)
	assert.Equal(t, "2026-03-02", day.Date)
	require.Len(t, day.Slots, 18)
	assert.Equal(t, "08:00", day.Slots[0].Time)
	assert.Equal(t, "11:30", day.Slots[7].Time)
	assert.Equal(t, "13:00", day.Slots[8].Time)

	rec = s.do(http.MethodGet, "/api/v1/slots?date=2026-03-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[dayResponse](t, rec).Slots)

	rec = s.do(http.MethodPut, "/api/v1/schedule-config", map[string]any{
		"days": map[string]any{"monday": map[string]any{"start": "18:00", "end": "08:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/v1/schedule-config", map[string]any{
		"days": map[string]any{"someday": map[string]any{"start": "08:00", "end": "09:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/slots", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlockedTimes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/blocked-times", map[string]any{"date": "2026-03-10", "reason": "conference"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bt := decode[blockedTimeBody](t, rec)
	assert.Equal(t, "2026-03-10", bt.Date)

	rec = s.do(http.MethodGet, "/api/v1/blocked-times?start=2026-03-01&end=2026-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		BlockedTimes []blockedTimeBody `json:"blocked_times"`
	}](t, rec)
	require.Len(t, list.BlockedTimes, 1)
	assert.Equal(t, "conference", list.BlockedTimes[0].Reason)

	rec = s.do(http.MethodGet, "/api/v1/slots?date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	day := decode[dayResponse](t, rec)
	assert.True(t, day.Blocked)
	assert.Equal(t, "conference", day.Reason)

	rec = s.do(http.MethodDelete, "/api/v1/blocked-times/"+bt.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodDelete, "/api/v1/blocked-times/"+bt.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func stripeCheckoutEvent(t *testing.T, eventID, professionalID, paymentStatus string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     fixedNow.Add(-time.Hour).Unix(),
		"type":        "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_" + eventID,
				"object":         "checkout.session",
				"mode":           "payment",
				"payment_status": paymentStatus,
				"metadata":       map[string]any{"professional_id": professionalID},
			},
		},
	})
	require.NoError(t, err)
	return raw
}

func (s *testServer) postStripe(payload []byte, secret string) *httptest.ResponseRecorder {
	s.t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookExtendsSubscription(t *testing.T) {
	s := newTestServer(t, nil)
	payload := stripeCheckoutEvent(t, "evt_1", s.prof, "paid")

	rec := s.postStripe(payload, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	rec = s.postStripe(payload, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decode[map[string]any](t, rec)["status"])

	rec = s.do(http.MethodGet, "/api/v1/subscription", nil)
	sub := decode[subscriptionResponse](t, rec)
	assert.Equal(t, "active", sub.Status)
	assert.True(t, sub.CanBook)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, fixedNow.Add(-time.Hour).Add(30*24*time.Hour).Format(time.RFC3339), *sub.ExpiresAt)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, nil)
	payload := stripeCheckoutEvent(t, "evt_2", s.prof, "paid")

	rec := s.postStripe(payload, "whsec_wrong")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing signature header")

	rec = s.do(http.MethodGet, "/api/v1/subscription", nil)
	assert.Equal(t, "inactive", decode[subscriptionResponse](t, rec).Status)
}

func TestStripeWebhookIgnoresUnpaidAndUnknown(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.postStripe(stripeCheckoutEvent(t, "evt_3", s.prof, "unpaid"), webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[map[string]any](t, rec)["status"])

	rec = s.postStripe(stripeCheckoutEvent(t, "evt_4", "", "paid"), webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[map[string]any](t, rec)["status"])

	rec = s.postStripe(stripeCheckoutEvent(t, "evt_5", "not-a-uuid", "paid"), webhookSecret)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInvoicePaidUsesSubscriptionMetadata(t *testing.T) {
	s := newTestServer(t, nil)
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_inv",
		"object":      "event",
		"api_version": stripe.APIVersion,
		"created":     fixedNow.Unix(),
		"type":        "invoice.paid",
		"data": map[string]any{
			"object": map[string]any{
				"id":     "in_123",
				"object": "invoice",
				"subscription_details": map[string]any{
					"metadata": map[string]any{"professional_id": s.prof},
				},
			},
		},
	})
	require.NoError(t, err)

	rec := s.postStripe(payload, webhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
	assert.Equal(t, fixedNow.Add(30*24*time.Hour).Format(time.RFC3339), decode[map[string]any](t, rec)["expires_at"])
}
