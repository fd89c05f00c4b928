package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/conflict"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/entitlement"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/metrics"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	maxNotesLength = 2000
	maxListDays    = 366
)

// Store is the persistence surface the booking service needs.
// storage.Postgres and storage.Memory both satisfy it.
type Store interface {
	conflict.Finder
	entitlement.Source

	PatientLinked(ctx context.Context, professionalID, patientID string) (bool, error)
	LocationOwned(ctx context.Context, professionalID, locationID string) (bool, error)

	InsertAppointment(ctx context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error)
	GetAppointment(ctx context.Context, professionalID, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, professionalID, id string, mutate func(*model.Appointment) ([]outbox.Event, error)) (model.Appointment, error)
	ListAppointments(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error)

	GetScheduleConfig(ctx context.Context, professionalID string) (model.ScheduleConfig, bool, error)
	PutScheduleConfig(ctx context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error)

	CreatePatient(ctx context.Context, professionalID string, p model.Patient) (model.Patient, error)
	ListPatients(ctx context.Context, professionalID string) ([]model.Patient, error)
	CreateLocation(ctx context.Context, loc model.Location) (model.Location, error)
	ListLocations(ctx context.Context, professionalID string) ([]model.Location, error)

	CreateBlockedTime(ctx context.Context, bt model.BlockedTime) (model.BlockedTime, error)
	ListBlockedTimes(ctx context.Context, professionalID string, from, to time.Time) ([]model.BlockedTime, error)
	DeleteBlockedTime(ctx context.Context, professionalID, id string) error
}

type Options struct {
	// Location is the single zone appointments and slots are expressed in.
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Agenda
}

type Service struct {
	store   Store
	checker *conflict.Checker
	gate    *entitlement.Gate
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Agenda
	tracer  trace.Tracer
}

func New(store Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:   store,
		checker: conflict.NewChecker(store),
		gate:    entitlement.NewGate(store, opts.Now),
		loc:     opts.Location,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		tracer:  otel.Tracer("agenda/booking"),
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// normalize puts t in the service zone at minute precision.
func (s *Service) normalize(t time.Time) time.Time {
	return t.In(s.loc).Truncate(time.Minute)
}

// dayStart returns local midnight of t's calendar day.
func (s *Service) dayStart(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func requireID(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", apperr.Validation("%s is required", name)
	}
	if _, err := uuid.Parse(value); err != nil {
		return "", apperr.Validation("%s must be a UUID", name)
	}
	return value, nil
}

func validateNotes(notes string) error {
	if len(notes) > maxNotesLength {
		return apperr.Validation("notes must be at most %d characters", maxNotesLength)
	}
	return nil
}

// storeErr maps storage sentinels to the domain taxonomy.
func storeErr(op string, err error) error {
	var appErr *apperr.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return apperr.Persistence(op, err)
	}
}

// EvaluateSubscription reports the professional's current entitlement.
func (s *Service) EvaluateSubscription(ctx context.Context, professionalID string) (entitlement.Status, error) {
	professionalID, err := requireID("professional_id", professionalID)
	if err != nil {
		return entitlement.Status{}, err
	}
	st, err := s.gate.Evaluate(ctx, professionalID)
	if err != nil {
		return entitlement.Status{}, storeErr("subscription", err)
	}
	return st, nil
}

func (s *Service) requireEntitlement(ctx context.Context, professionalID string) error {
	st, err := s.gate.Evaluate(ctx, professionalID)
	if err != nil {
		return storeErr("subscription", err)
	}
	if !st.CanBook {
		s.metrics.ObserveGateDenied()
		return apperr.SubscriptionRequired()
	}
	return nil
}
