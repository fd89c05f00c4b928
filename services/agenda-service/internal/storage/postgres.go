package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/agenda/libs/db"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
)

// DB is satisfied by *db.Pool and pgxmock pools.
type DB interface {
	db.Beginner
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	db     DB
	outbox *outbox.Repository
}

func NewPostgres(conn DB, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{db: conn, outbox: outboxRepo}
}

const appointmentColumns = `
	a.id::text, a.professional_id::text, a.patient_id::text, a.location_id::text,
	COALESCE(a.series_id::text, ''), a.scheduled_at, a.status, a.notes, a.recurring, a.pattern,
	a.cancelled_at, a.created_at, a.updated_at, p.name, l.name`

const appointmentFrom = `
	FROM appointments a
	JOIN patients p ON p.id = a.patient_id
	JOIN locations l ON l.id = a.location_id`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status, pattern string
	err := row.Scan(
		&appt.ID,
		&appt.ProfessionalID,
		&appt.PatientID,
		&appt.LocationID,
		&appt.SeriesID,
		&appt.ScheduledAt,
		&status,
		&appt.Notes,
		&appt.Recurring,
		&pattern,
		&appt.CancelledAt,
		&appt.CreatedAt,
		&appt.UpdatedAt,
		&appt.PatientName,
		&appt.LocationName,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.Pattern = model.Pattern(pattern)
	return appt, nil
}

func (s *Postgres) ActiveAppointmentAt(ctx context.Context, professionalID string, at time.Time) (string, bool, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		SELECT id::text
		FROM appointments
		WHERE professional_id = $1 AND scheduled_at = $2 AND status <> 'cancelled'
		LIMIT 1
	`, professionalID, at).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Postgres) PatientLinked(ctx context.Context, professionalID, patientID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM professional_patients WHERE professional_id = $1 AND patient_id = $2
		)
	`, professionalID, patientID).Scan(&ok)
	return ok, err
}

func (s *Postgres) LocationOwned(ctx context.Context, professionalID, locationID string) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM locations WHERE id = $2 AND professional_id = $1
		)
	`, professionalID, locationID).Scan(&ok)
	return ok, err
}

// InsertAppointment relies on the partial unique index over active rows, so the
// conflict check and the insert cannot interleave with a concurrent booking.
func (s *Postgres) InsertAppointment(ctx context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error) {
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		var seriesID *string
		if appt.SeriesID != "" {
			seriesID = &appt.SeriesID
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO appointments
				(id, professional_id, patient_id, location_id, series_id, scheduled_at, status, notes, recurring, pattern)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at
		`, appt.ID, appt.ProfessionalID, appt.PatientID, appt.LocationID, seriesID,
			appt.ScheduledAt, string(appt.Status), appt.Notes, appt.Recurring, string(appt.Pattern),
		).Scan(&appt.CreatedAt, &appt.UpdatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return ErrSlotTaken
			}
			if isFKViolation(err) {
				return ErrNotFound
			}
			return err
		}
		return s.outbox.Insert(ctx, tx, evt)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Postgres) GetAppointment(ctx context.Context, professionalID, id string) (model.Appointment, error) {
	appt, err := scanAppointment(s.db.QueryRow(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.id = $1 AND a.professional_id = $2
	`, id, professionalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, ErrNotFound
	}
	return appt, err
}

// UpdateAppointment locks the row, applies mutate and persists the result with
// any events mutate returns. Rows left unchanged by mutate are not written.
func (s *Postgres) UpdateAppointment(ctx context.Context, professionalID, id string, mutate func(*model.Appointment) ([]outbox.Event, error)) (model.Appointment, error) {
	var out model.Appointment
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		current, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
			WHERE a.id = $1 AND a.professional_id = $2
			FOR UPDATE OF a
		`, id, professionalID))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		next := current
		events, err := mutate(&next)
		if err != nil {
			return err
		}
		out = next
		if sameAppointmentState(current, next) {
			return nil
		}

		err = tx.QueryRow(ctx, `
			UPDATE appointments
			SET scheduled_at = $3,
				status = $4,
				notes = $5,
				cancelled_at = $6,
				updated_at = now()
			WHERE id = $1 AND professional_id = $2
			RETURNING updated_at
		`, id, professionalID, next.ScheduledAt, string(next.Status), next.Notes, next.CancelledAt).Scan(&out.UpdatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return ErrSlotTaken
			}
			return err
		}
		for _, evt := range events {
			if err := s.outbox.Insert(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return out, nil
}

func sameAppointmentState(a, b model.Appointment) bool {
	return a.ScheduledAt.Equal(b.ScheduledAt) && a.Status == b.Status && a.Notes == b.Notes
}

// ListAppointments returns appointments with from <= scheduled_at < to, oldest first.
func (s *Postgres) ListAppointments(ctx context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := s.db.Query(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.professional_id = $1 AND a.scheduled_at >= $2 AND a.scheduled_at < $3
		ORDER BY a.scheduled_at ASC, a.created_at ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func (s *Postgres) GetScheduleConfig(ctx context.Context, professionalID string) (model.ScheduleConfig, bool, error) {
	cfg := model.ScheduleConfig{ProfessionalID: professionalID}
	var days []byte
	var breakStart, breakEnd *int32
	err := s.db.QueryRow(ctx, `
		SELECT days, break_start, break_end, slot_minutes, updated_at
		FROM schedule_configs
		WHERE professional_id = $1
	`, professionalID).Scan(&days, &breakStart, &breakEnd, &cfg.SlotMinutes, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultScheduleConfig(professionalID), false, nil
	}
	if err != nil {
		return model.ScheduleConfig{}, false, err
	}
	if len(days) > 0 {
		if err := json.Unmarshal(days, &cfg.Days); err != nil {
			return model.ScheduleConfig{}, false, fmt.Errorf("decode schedule days: %w", err)
		}
	}
	cfg.BreakStart = clockFromMinutes(breakStart)
	cfg.BreakEnd = clockFromMinutes(breakEnd)
	return cfg, true, nil
}

func (s *Postgres) PutScheduleConfig(ctx context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error) {
	days, err := json.Marshal(cfg.Days)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO schedule_configs (professional_id, days, break_start, break_end, slot_minutes, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (professional_id) DO UPDATE
		SET days = EXCLUDED.days,
			break_start = EXCLUDED.break_start,
			break_end = EXCLUDED.break_end,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
		RETURNING updated_at
	`, cfg.ProfessionalID, days, minutesFromClock(cfg.BreakStart), minutesFromClock(cfg.BreakEnd), cfg.SlotMinutes).Scan(&cfg.UpdatedAt)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	return cfg, nil
}

func clockFromMinutes(v *int32) *model.Clock {
	if v == nil {
		return nil
	}
	c := model.Clock(*v)
	return &c
}

func minutesFromClock(c *model.Clock) *int32 {
	if c == nil {
		return nil
	}
	v := int32(*c)
	return &v
}

func (s *Postgres) CreatePatient(ctx context.Context, professionalID string, p model.Patient) (model.Patient, error) {
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO patients (id, name, email, phone)
			VALUES ($1, $2, $3, $4)
		`, p.ID, p.Name, p.Email, p.Phone); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO professional_patients (professional_id, patient_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, professionalID, p.ID)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return model.Patient{}, ErrDuplicate
		}
		return model.Patient{}, err
	}
	return p, nil
}

func (s *Postgres) ListPatients(ctx context.Context, professionalID string) ([]model.Patient, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id::text, p.name, p.email, p.phone
		FROM patients p
		JOIN professional_patients pp ON pp.patient_id = p.id
		WHERE pp.professional_id = $1
		ORDER BY p.name ASC
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Patient
	for rows.Next() {
		var p model.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Phone); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Postgres) CreateLocation(ctx context.Context, loc model.Location) (model.Location, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO locations (id, professional_id, name, address)
		VALUES ($1, $2, $3, $4)
	`, loc.ID, loc.ProfessionalID, loc.Name, loc.Address)
	if err != nil {
		if IsUniqueViolation(err) {
			return model.Location{}, ErrDuplicate
		}
		return model.Location{}, err
	}
	return loc, nil
}

func (s *Postgres) ListLocations(ctx context.Context, professionalID string) ([]model.Location, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, professional_id::text, name, address
		FROM locations
		WHERE professional_id = $1
		ORDER BY name ASC
	`, professionalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var l model.Location
		if err := rows.Scan(&l.ID, &l.ProfessionalID, &l.Name, &l.Address); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Postgres) CreateBlockedTime(ctx context.Context, bt model.BlockedTime) (model.BlockedTime, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO blocked_times (id, professional_id, blocked_on, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, bt.ID, bt.ProfessionalID, bt.Date, bt.Reason).Scan(&bt.CreatedAt)
	if err != nil {
		return model.BlockedTime{}, err
	}
	return bt, nil
}

// ListBlockedTimes returns entries with from <= date <= to.
func (s *Postgres) ListBlockedTimes(ctx context.Context, professionalID string, from, to time.Time) ([]model.BlockedTime, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, professional_id::text, blocked_on, reason, created_at
		FROM blocked_times
		WHERE professional_id = $1 AND blocked_on >= $2 AND blocked_on <= $3
		ORDER BY blocked_on ASC
	`, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BlockedTime
	for rows.Next() {
		var bt model.BlockedTime
		if err := rows.Scan(&bt.ID, &bt.ProfessionalID, &bt.Date, &bt.Reason, &bt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (s *Postgres) DeleteBlockedTime(ctx context.Context, professionalID, id string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM blocked_times WHERE id = $1 AND professional_id = $2
	`, id, professionalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) LatestSubscription(ctx context.Context, professionalID string) (*model.SubscriptionRecord, error) {
	var rec model.SubscriptionRecord
	var status string
	err := s.db.QueryRow(ctx, `
		SELECT id::text, professional_id::text, status, starts_at, expires_at, provider, payment_ref, created_at
		FROM subscriptions
		WHERE professional_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, professionalID).Scan(&rec.ID, &rec.ProfessionalID, &status, &rec.StartsAt, &rec.ExpiresAt, &rec.Provider, &rec.PaymentRef, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Status = model.SubscriptionStatus(status)
	return &rec, nil
}

// AppendSubscription adds a record; a replayed (provider, payment_ref) returns ErrDuplicate.
func (s *Postgres) AppendSubscription(ctx context.Context, rec model.SubscriptionRecord, evt outbox.Event) (model.SubscriptionRecord, error) {
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO subscriptions (id, professional_id, status, starts_at, expires_at, provider, payment_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (provider, payment_ref) DO NOTHING
			RETURNING created_at
		`, rec.ID, rec.ProfessionalID, string(rec.Status), rec.StartsAt, rec.ExpiresAt, rec.Provider, rec.PaymentRef).Scan(&rec.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicate
		}
		if err != nil {
			return err
		}
		return s.outbox.Insert(ctx, tx, evt)
	})
	if err != nil {
		return model.SubscriptionRecord{}, err
	}
	return rec, nil
}
