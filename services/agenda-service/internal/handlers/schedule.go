package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

type scheduleConfigBody struct {
	Days        map[string]model.DayHours `json:"days"`
	BreakStart  *model.Clock              `json:"break_start"`
	BreakEnd    *model.Clock              `json:"break_end"`
	SlotMinutes int                       `json:"slot_minutes"`
	UpdatedAt   string                    `json:"updated_at,omitempty"`
}

func toScheduleConfigBody(cfg model.ScheduleConfig) scheduleConfigBody {
	out := scheduleConfigBody{
		Days:        make(map[string]model.DayHours, 7),
		BreakStart:  cfg.BreakStart,
		BreakEnd:    cfg.BreakEnd,
		SlotMinutes: cfg.SlotDuration(),
	}
	for wd, hours := range cfg.Days {
		out.Days[weekdayKey(time.Weekday(wd))] = hours
	}
	if !cfg.UpdatedAt.IsZero() {
		out.UpdatedAt = cfg.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func weekdayKey(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

func parseWeekday(key string) (time.Weekday, bool) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(key, wd.String()) {
			return wd, true
		}
	}
	return 0, false
}

func (h *Handler) GetScheduleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.booking.GetScheduleConfig(r.Context(), ProfessionalFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleConfigBody(cfg))
}

func (h *Handler) PutScheduleConfig(w http.ResponseWriter, r *http.Request) {
	var req scheduleConfigBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	cfg := model.ScheduleConfig{
		BreakStart:  req.BreakStart,
		BreakEnd:    req.BreakEnd,
		SlotMinutes: req.SlotMinutes,
	}
	for key, hours := range req.Days {
		wd, ok := parseWeekday(key)
		if !ok {
			writeError(w, r, h.logger, apperr.Validation("unknown weekday %q", key))
			return
		}
		cfg.Days[wd] = hours
	}

	stored, err := h.booking.PutScheduleConfig(r.Context(), ProfessionalFromContext(r.Context()), cfg)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleConfigBody(stored))
}

type slotResponse struct {
	Time   string `json:"time"`
	At     string `json:"at"`
	Booked bool   `json:"booked"`
	Past   bool   `json:"past"`
}

type dayResponse struct {
	Date    string         `json:"date"`
	Blocked bool           `json:"blocked"`
	Reason  string         `json:"reason,omitempty"`
	Free    int            `json:"free"`
	Slots   []slotResponse `json:"slots"`
}

func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	day, err := h.booking.DaySlots(r.Context(), ProfessionalFromContext(r.Context()), date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	out := dayResponse{
		Date:    day.Date.Format(dateLayout),
		Blocked: day.Blocked,
		Reason:  day.Reason,
		Free:    len(day.Free()),
		Slots:   make([]slotResponse, 0, len(day.Slots)),
	}
	for _, s := range day.Slots {
		out.Slots = append(out.Slots, slotResponse{
			Time:   s.Time,
			At:     s.At.Format(time.RFC3339),
			Booked: s.Booked,
			Past:   s.Past,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type blockedTimeBody struct {
	ID     string `json:"id,omitempty"`
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func toBlockedTimeBody(bt model.BlockedTime) blockedTimeBody {
	return blockedTimeBody{ID: bt.ID, Date: bt.Date.Format(dateLayout), Reason: bt.Reason}
}

func (h *Handler) CreateBlockedTime(w http.ResponseWriter, r *http.Request) {
	var req blockedTimeBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	date, err := h.parseDate("date", req.Date)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	bt, err := h.booking.CreateBlockedTime(r.Context(), ProfessionalFromContext(r.Context()), date, req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockedTimeBody(bt))
}

func (h *Handler) ListBlockedTimes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := h.parseDate("start", q.Get("start"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := h.parseDate("end", q.Get("end"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	items, err := h.booking.ListBlockedTimes(r.Context(), ProfessionalFromContext(r.Context()), start, end)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]blockedTimeBody, 0, len(items))
	for _, bt := range items {
		out = append(out, toBlockedTimeBody(bt))
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocked_times": out})
}

func (h *Handler) DeleteBlockedTime(w http.ResponseWriter, r *http.Request) {
	if err := h.booking.DeleteBlockedTime(r.Context(), ProfessionalFromContext(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
