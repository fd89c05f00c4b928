package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/entitlement"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	store    *storage.Memory
	prof     string
	patient  string
	location string
	now      time.Time
}

func newFixture(t *testing.T, subscribed bool) *fixture {
	t.Helper()
	f := &fixture{
		prof:     uuid.NewString(),
		patient:  uuid.NewString(),
		location: uuid.NewString(),
		now:      time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store = storage.NewMemory(clock)
	f.svc = New(f.store, Options{
		Location: time.UTC,
		Now:      clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	f.store.LinkPatient(f.prof, model.Patient{ID: f.patient, Name: "Maria Silva"})
	_, err := f.store.CreateLocation(context.Background(), model.Location{ID: f.location, ProfessionalID: f.prof, Name: "Downtown"})
	require.NoError(t, err)
	if subscribed {
		f.subscribe(t, f.now.Add(-time.Hour), "pay-1")
	}
	return f
}

func (f *fixture) subscribe(t *testing.T, approvedAt time.Time, ref string) {
	t.Helper()
	_, err := f.store.AppendSubscription(context.Background(), model.SubscriptionRecord{
		ID:             uuid.NewString(),
		ProfessionalID: f.prof,
		Status:         model.SubscriptionActive,
		StartsAt:       approvedAt,
		ExpiresAt:      approvedAt.Add(entitlement.Window),
		Provider:       "test",
		PaymentRef:     ref,
	}, outbox.Event{})
	require.NoError(t, err)
}

func (f *fixture) request(at time.Time) CreateRequest {
	return CreateRequest{
		ProfessionalID: f.prof,
		PatientID:      f.patient,
		LocationID:     f.location,
		ScheduledAt:    at,
		Notes:          "first visit",
	}
}

func kindOf(t *testing.T, err error) apperr.Kind {
	t.Helper()
	require.Error(t, err)
	return apperr.KindOf(err)
}

var monday9 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestCreateAppointment_ConflictThenRebookAfterCancel(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.svc.CreateAppointment(ctx, f.request(monday9))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	first := res.Created[0]
	assert.Equal(t, model.StatusScheduled, first.Status)
	assert.Equal(t, "Maria Silva", first.PatientName)
	assert.Equal(t, "Downtown", first.LocationName)

	_, err = f.svc.CreateAppointment(ctx, f.request(monday9))
	assert.Equal(t, apperr.KindConflict, kindOf(t, err))

	_, err = f.svc.CancelAppointment(ctx, f.prof, first.ID)
	require.NoError(t, err)

	res, err = f.svc.CreateAppointment(ctx, f.request(monday9))
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
}

func TestCreateAppointment_CheckOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	req := f.request(monday9)
	req.PatientID = uuid.NewString()
	_, err := f.svc.CreateAppointment(ctx, req)
	assert.Equal(t, apperr.KindLink, kindOf(t, err), "link is checked before the subscription")

	req = f.request(monday9)
	req.LocationID = uuid.NewString()
	_, err = f.svc.CreateAppointment(ctx, req)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))

	_, err = f.svc.CreateAppointment(ctx, f.request(monday9))
	assert.Equal(t, apperr.KindSubscriptionRequired, kindOf(t, err))

	req = f.request(monday9)
	req.ProfessionalID = "not-a-uuid"
	_, err = f.svc.CreateAppointment(ctx, req)
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestCreateAppointment_ExpiredSubscription(t *testing.T) {
	f := newFixture(t, true)
	f.now = f.now.Add(entitlement.Window)
	_, err := f.svc.CreateAppointment(context.Background(), f.request(monday9.AddDate(0, 1, 0)))
	assert.True(t, errors.Is(err, apperr.ErrSubscriptionRequired))

	f.subscribe(t, f.now, "pay-2")
	_, err = f.svc.CreateAppointment(context.Background(), f.request(monday9.AddDate(0, 1, 0)))
	require.NoError(t, err)
}

func TestCreateAppointment_TruncatesToMinute(t *testing.T) {
	f := newFixture(t, true)
	res, err := f.svc.CreateAppointment(context.Background(), f.request(monday9.Add(42*time.Second)))
	require.NoError(t, err)
	assert.True(t, res.Created[0].ScheduledAt.Equal(monday9))

	_, err = f.svc.CreateAppointment(context.Background(), f.request(monday9))
	assert.Equal(t, apperr.KindConflict, kindOf(t, err))
}

func TestCreateAppointment_RecurringPartialSuccess(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.request(monday9.AddDate(0, 0, 14)))
	require.NoError(t, err)

	until := monday9.AddDate(0, 0, 21)
	req := f.request(monday9)
	req.Recurrence = &Recurrence{Pattern: model.PatternWeekly, Until: &until}
	res, err := f.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Created, 3)
	require.Len(t, res.Skipped, 1)
	assert.True(t, res.Skipped[0].At.Equal(monday9.AddDate(0, 0, 14)))

	var appErr *apperr.Error
	require.True(t, errors.As(res.Skipped[0].Err, &appErr))
	require.NotNil(t, appErr.Occurrence)
	assert.True(t, appErr.Occurrence.Equal(monday9.AddDate(0, 0, 14)))

	series := res.Created[0].SeriesID
	assert.NotEmpty(t, series)
	for _, a := range res.Created {
		assert.Equal(t, series, a.SeriesID)
		assert.True(t, a.Recurring)
		assert.Equal(t, model.PatternWeekly, a.Pattern)
	}
}

func TestCreateAppointment_RecurringAllConflicting(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	until := monday9.AddDate(0, 0, 7)
	req := f.request(monday9)
	req.Recurrence = &Recurrence{Pattern: model.PatternWeekly, Until: &until}
	_, err := f.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)

	res, err := f.svc.CreateAppointment(ctx, req)
	assert.Equal(t, apperr.KindConflict, kindOf(t, err))
	assert.Empty(t, res.Created)
	assert.Len(t, res.Skipped, 2)
}

func TestCreateAppointment_RecurrenceCap(t *testing.T) {
	f := newFixture(t, true)
	until := monday9.AddDate(5, 0, 0)
	req := f.request(monday9)
	req.Recurrence = &Recurrence{Pattern: model.PatternWeekly, Until: &until}
	_, err := f.svc.CreateAppointment(context.Background(), req)
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestCreateAppointment_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	const workers = 24
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, conflicts := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(ctx, f.request(monday9))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
}

func TestUpdateAppointment_Reschedule(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	a, _ := f.svc.CreateAppointment(ctx, f.request(monday9))
	b, _ := f.svc.CreateAppointment(ctx, f.request(monday9.Add(time.Hour)))
	idB := b.Created[0].ID

	taken := monday9
	_, err := f.svc.UpdateAppointment(ctx, f.prof, idB, model.Patch{ScheduledAt: &taken})
	assert.Equal(t, apperr.KindConflict, kindOf(t, err))

	own := monday9.Add(time.Hour)
	notes := "bring exams"
	got, err := f.svc.UpdateAppointment(ctx, f.prof, idB, model.Patch{ScheduledAt: &own, Notes: &notes})
	require.NoError(t, err, "keeping its own timestamp is not a conflict")
	assert.Equal(t, "bring exams", got.Notes)

	free := monday9.Add(2 * time.Hour)
	got, err = f.svc.UpdateAppointment(ctx, f.prof, a.Created[0].ID, model.Patch{ScheduledAt: &free})
	require.NoError(t, err)
	assert.True(t, got.ScheduledAt.Equal(free))

	// The old slot is free again.
	_, err = f.svc.CreateAppointment(ctx, f.request(monday9))
	require.NoError(t, err)
}

func TestUpdateAppointment_StatusLifecycle(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	res, _ := f.svc.CreateAppointment(ctx, f.request(monday9))
	id := res.Created[0].ID

	confirmed := model.StatusConfirmed
	got, err := f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{Status: &confirmed})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)

	scheduled := model.StatusScheduled
	_, err = f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{Status: &scheduled})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))

	completed := model.StatusCompleted
	_, err = f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{Status: &completed})
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(ctx, f.prof, id)
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))

	later := monday9.Add(3 * time.Hour)
	_, err = f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{ScheduledAt: &later})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))

	bogus := model.Status("archived")
	_, err = f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{Status: &bogus})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestUpdateAppointment_GateOnlyForReschedule(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	res, _ := f.svc.CreateAppointment(ctx, f.request(monday9))
	id := res.Created[0].ID

	f.now = f.now.Add(entitlement.Window + time.Hour)

	confirmed := model.StatusConfirmed
	_, err := f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{Status: &confirmed})
	require.NoError(t, err, "status changes do not need an active subscription")

	later := monday9.Add(time.Hour)
	_, err = f.svc.UpdateAppointment(ctx, f.prof, id, model.Patch{ScheduledAt: &later})
	assert.Equal(t, apperr.KindSubscriptionRequired, kindOf(t, err))
}

func TestCancelAppointment_Idempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	res, _ := f.svc.CreateAppointment(ctx, f.request(monday9))
	id := res.Created[0].ID

	first, err := f.svc.CancelAppointment(ctx, f.prof, id)
	require.NoError(t, err)
	require.NotNil(t, first.CancelledAt)

	f.now = f.now.Add(time.Hour)
	second, err := f.svc.CancelAppointment(ctx, f.prof, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, second.Status)
	assert.True(t, first.CancelledAt.Equal(*second.CancelledAt))

	cancelled := 0
	for _, evt := range f.store.Events() {
		if evt.EventType == outbox.TypeAppointmentCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)

	_, err = f.svc.CancelAppointment(ctx, f.prof, uuid.NewString())
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestListAppointments_InclusiveAndOrdered(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for _, at := range []time.Time{
		monday9.AddDate(0, 0, 1).Add(8 * time.Hour),
		monday9,
		monday9.AddDate(0, 0, 2),
		monday9.AddDate(0, 0, 3),
	} {
		_, err := f.svc.CreateAppointment(ctx, f.request(at))
		require.NoError(t, err)
	}

	list, err := f.svc.ListAppointments(ctx, f.prof, monday9, monday9.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].ScheduledAt.Before(list[i].ScheduledAt))
	}

	_, err = f.svc.ListAppointments(ctx, f.prof, monday9, monday9.AddDate(0, 0, -1))
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestScheduleConfigAndDaySlots(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	cfg, err := f.svc.GetScheduleConfig(ctx, f.prof)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultSlotMinutes, cfg.SlotMinutes)

	start, end := model.NewClock(8, 0), model.NewClock(18, 0)
	bs, be := model.NewClock(12, 0), model.NewClock(13, 0)
	cfg.Days[time.Monday] = model.DayHours{Start: &start, End: &end}
	cfg.BreakStart, cfg.BreakEnd = &bs, &be
	_, err = f.svc.PutScheduleConfig(ctx, f.prof, cfg)
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(ctx, f.request(monday9))
	require.NoError(t, err)
	_, err = f.svc.CreateBlockedTime(ctx, f.prof, monday9, "training")
	require.NoError(t, err)

	day, err := f.svc.DaySlots(ctx, f.prof, monday9)
	require.NoError(t, err)
	require.Len(t, day.Slots, 18)
	assert.True(t, day.Blocked)
	assert.Equal(t, "training", day.Reason)
	booked := 0
	for _, s := range day.Slots {
		if s.Booked {
			booked++
			assert.Equal(t, "09:00", s.Time)
		}
	}
	assert.Equal(t, 1, booked)

	// Blocked days are advisory only.
	_, err = f.svc.CreateAppointment(ctx, f.request(monday9.Add(time.Hour)))
	require.NoError(t, err)

	bad := cfg
	inverted := model.NewClock(7, 0)
	bad.Days[time.Tuesday] = model.DayHours{Start: &start, End: &inverted}
	_, err = f.svc.PutScheduleConfig(ctx, f.prof, bad)
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}

func TestBlockedTimesCRUD(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	bt, err := f.svc.CreateBlockedTime(ctx, f.prof, monday9, "holiday")
	require.NoError(t, err)

	list, err := f.svc.ListBlockedTimes(ctx, f.prof, monday9, monday9)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteBlockedTime(ctx, f.prof, bt.ID))
	err = f.svc.DeleteBlockedTime(ctx, f.prof, bt.ID)
	assert.Equal(t, apperr.KindNotFound, kindOf(t, err))
}

func TestEvaluateSubscription(t *testing.T) {
	f := newFixture(t, false)
	st, err := f.svc.EvaluateSubscription(context.Background(), f.prof)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionInactive, st.Status)
	assert.False(t, st.CanBook)

	f.subscribe(t, f.now, "pay-9")
	st, err = f.svc.EvaluateSubscription(context.Background(), f.prof)
	require.NoError(t, err)
	assert.True(t, st.CanBook)
	assert.Equal(t, 30, st.DaysRemaining)
}

func TestDirectory(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	p, err := f.svc.CreatePatient(ctx, f.prof, model.Patient{Name: "  João  "})
	require.NoError(t, err)
	assert.Equal(t, "João", p.Name)

	loc, err := f.svc.CreateLocation(ctx, f.prof, model.Location{Name: "Uptown"})
	require.NoError(t, err)

	req := f.request(monday9)
	req.PatientID, req.LocationID = p.ID, loc.ID
	_, err = f.svc.CreateAppointment(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.CreatePatient(ctx, f.prof, model.Patient{})
	assert.Equal(t, apperr.KindValidation, kindOf(t, err))
}
