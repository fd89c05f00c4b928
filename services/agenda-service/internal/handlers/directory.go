package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/model"
)

type patientBody struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type locationBody struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var req patientBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	p, err := h.booking.CreatePatient(r.Context(), ProfessionalFromContext(r.Context()), model.Patient{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, patientBody{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone})
}

func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	items, err := h.booking.ListPatients(r.Context(), ProfessionalFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]patientBody, 0, len(items))
	for _, p := range items {
		out = append(out, patientBody{ID: p.ID, Name: p.Name, Email: p.Email, Phone: p.Phone})
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": out})
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationBody
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	loc, err := h.booking.CreateLocation(r.Context(), ProfessionalFromContext(r.Context()), model.Location{
		Name:    req.Name,
		Address: req.Address,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, locationBody{ID: loc.ID, Name: loc.Name, Address: loc.Address})
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	items, err := h.booking.ListLocations(r.Context(), ProfessionalFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := make([]locationBody, 0, len(items))
	for _, l := range items {
		out = append(out, locationBody{ID: l.ID, Name: l.Name, Address: l.Address})
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": out})
}
