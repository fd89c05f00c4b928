package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/outbox"
)

// Memory keeps appointments in a per-professional arena with an index of active
// timestamps. Each professional has its own lock, so the conflict check and the
// insert happen under one critical section.
type Memory struct {
	now func() time.Time

	mu    sync.Mutex
	profs map[string]*profState

	dataMu    sync.Mutex
	patients  map[string]model.Patient
	paymentIx map[string]struct{}
	events    []outbox.Event
}

type profState struct {
	mu        sync.Mutex
	arena     []model.Appointment
	byID      map[string]int
	active    map[int64]int
	links     map[string]struct{}
	locations map[string]model.Location
	config    *model.ScheduleConfig
	blocked   []model.BlockedTime
	subs      []model.SubscriptionRecord
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:       now,
		profs:     make(map[string]*profState),
		patients:  make(map[string]model.Patient),
		paymentIx: make(map[string]struct{}),
	}
}

func (m *Memory) state(professionalID string) *profState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.profs[professionalID]
	if !ok {
		st = &profState{
			byID:      make(map[string]int),
			active:    make(map[int64]int),
			links:     make(map[string]struct{}),
			locations: make(map[string]model.Location),
		}
		m.profs[professionalID] = st
	}
	return st
}

func slotKey(t time.Time) int64 { return t.Unix() }

// Events returns a copy of the recorded outbox events.
func (m *Memory) Events() []outbox.Event {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return append([]outbox.Event(nil), m.events...)
}

func (m *Memory) record(events ...outbox.Event) {
	m.dataMu.Lock()
	m.events = append(m.events, events...)
	m.dataMu.Unlock()
}

// LinkPatient links an existing patient record to a professional.
func (m *Memory) LinkPatient(professionalID string, p model.Patient) {
	m.dataMu.Lock()
	m.patients[p.ID] = p
	m.dataMu.Unlock()

	st := m.state(professionalID)
	st.mu.Lock()
	st.links[p.ID] = struct{}{}
	st.mu.Unlock()
}

func (m *Memory) ActiveAppointmentAt(_ context.Context, professionalID string, at time.Time) (string, bool, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	idx, ok := st.active[slotKey(at)]
	if !ok {
		return "", false, nil
	}
	return st.arena[idx].ID, true, nil
}

func (m *Memory) PatientLinked(_ context.Context, professionalID, patientID string) (bool, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.links[patientID]
	return ok, nil
}

func (m *Memory) LocationOwned(_ context.Context, professionalID, locationID string) (bool, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.locations[locationID]
	return ok, nil
}

func (m *Memory) InsertAppointment(_ context.Context, appt model.Appointment, evt outbox.Event) (model.Appointment, error) {
	st := m.state(appt.ProfessionalID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, dup := st.byID[appt.ID]; dup {
		return model.Appointment{}, ErrDuplicate
	}
	if appt.Active() {
		if _, taken := st.active[slotKey(appt.ScheduledAt)]; taken {
			return model.Appointment{}, ErrSlotTaken
		}
	}
	now := m.now()
	appt.CreatedAt, appt.UpdatedAt = now, now

	st.arena = append(st.arena, appt)
	idx := len(st.arena) - 1
	st.byID[appt.ID] = idx
	if appt.Active() {
		st.active[slotKey(appt.ScheduledAt)] = idx
	}
	m.record(evt)
	return m.joined(st, appt), nil
}

func (m *Memory) joined(st *profState, appt model.Appointment) model.Appointment {
	m.dataMu.Lock()
	appt.PatientName = m.patients[appt.PatientID].Name
	m.dataMu.Unlock()
	appt.LocationName = st.locations[appt.LocationID].Name
	return appt
}

func (m *Memory) GetAppointment(_ context.Context, professionalID, id string) (model.Appointment, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	idx, ok := st.byID[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return m.joined(st, st.arena[idx]), nil
}

func (m *Memory) UpdateAppointment(_ context.Context, professionalID, id string, mutate func(*model.Appointment) ([]outbox.Event, error)) (model.Appointment, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()

	idx, ok := st.byID[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	current := m.joined(st, st.arena[idx])
	next := current
	events, err := mutate(&next)
	if err != nil {
		return model.Appointment{}, err
	}
	if sameAppointmentState(current, next) {
		return current, nil
	}

	oldKey, newKey := slotKey(current.ScheduledAt), slotKey(next.ScheduledAt)
	if next.Active() {
		if holder, taken := st.active[newKey]; taken && holder != idx {
			return model.Appointment{}, ErrSlotTaken
		}
	}
	if current.Active() && st.active[oldKey] == idx {
		delete(st.active, oldKey)
	}
	if next.Active() {
		st.active[newKey] = idx
	}

	next.UpdatedAt = m.now()
	st.arena[idx] = next
	m.record(events...)
	return next, nil
}

func (m *Memory) ListAppointments(_ context.Context, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []model.Appointment
	for _, appt := range st.arena {
		if appt.ScheduledAt.Before(from) || !appt.ScheduledAt.Before(to) {
			continue
		}
		out = append(out, m.joined(st, appt))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *Memory) GetScheduleConfig(_ context.Context, professionalID string) (model.ScheduleConfig, bool, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.config == nil {
		return model.DefaultScheduleConfig(professionalID), false, nil
	}
	return *st.config, true, nil
}

func (m *Memory) PutScheduleConfig(_ context.Context, cfg model.ScheduleConfig) (model.ScheduleConfig, error) {
	st := m.state(cfg.ProfessionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	cfg.UpdatedAt = m.now()
	st.config = &cfg
	return cfg, nil
}

func (m *Memory) CreatePatient(_ context.Context, professionalID string, p model.Patient) (model.Patient, error) {
	m.dataMu.Lock()
	if _, exists := m.patients[p.ID]; exists {
		m.dataMu.Unlock()
		return model.Patient{}, ErrDuplicate
	}
	m.dataMu.Unlock()
	m.LinkPatient(professionalID, p)
	return p, nil
}

func (m *Memory) ListPatients(_ context.Context, professionalID string) ([]model.Patient, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	ids := make([]string, 0, len(st.links))
	for id := range st.links {
		ids = append(ids, id)
	}
	st.mu.Unlock()

	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	out := make([]model.Patient, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.patients[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateLocation(_ context.Context, loc model.Location) (model.Location, error) {
	st := m.state(loc.ProfessionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, exists := st.locations[loc.ID]; exists {
		return model.Location{}, ErrDuplicate
	}
	st.locations[loc.ID] = loc
	return loc, nil
}

func (m *Memory) ListLocations(_ context.Context, professionalID string) ([]model.Location, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]model.Location, 0, len(st.locations))
	for _, l := range st.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) CreateBlockedTime(_ context.Context, bt model.BlockedTime) (model.BlockedTime, error) {
	st := m.state(bt.ProfessionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	bt.CreatedAt = m.now()
	st.blocked = append(st.blocked, bt)
	return bt, nil
}

func (m *Memory) ListBlockedTimes(_ context.Context, professionalID string, from, to time.Time) ([]model.BlockedTime, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []model.BlockedTime
	for _, bt := range st.blocked {
		if bt.Date.Before(from) || bt.Date.After(to) {
			continue
		}
		out = append(out, bt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) DeleteBlockedTime(_ context.Context, professionalID, id string) error {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, bt := range st.blocked {
		if bt.ID == id {
			st.blocked = append(st.blocked[:i], st.blocked[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) LatestSubscription(_ context.Context, professionalID string) (*model.SubscriptionRecord, error) {
	st := m.state(professionalID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.subs) == 0 {
		return nil, nil
	}
	// Appends are in creation order.
	rec := st.subs[len(st.subs)-1]
	return &rec, nil
}

func (m *Memory) AppendSubscription(_ context.Context, rec model.SubscriptionRecord, evt outbox.Event) (model.SubscriptionRecord, error) {
	key := rec.Provider + "/" + rec.PaymentRef
	m.dataMu.Lock()
	if _, seen := m.paymentIx[key]; seen {
		m.dataMu.Unlock()
		return model.SubscriptionRecord{}, ErrDuplicate
	}
	m.paymentIx[key] = struct{}{}
	m.dataMu.Unlock()

	st := m.state(rec.ProfessionalID)
	st.mu.Lock()
	rec.CreatedAt = m.now()
	st.subs = append(st.subs, rec)
	st.mu.Unlock()

	m.record(evt)
	return rec, nil
}
