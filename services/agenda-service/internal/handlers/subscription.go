package handlers

import (
	"net/http"
	"time"
)

type subscriptionResponse struct {
	Status        string  `json:"status"`
	ExpiresAt     *string `json:"expires_at"`
	DaysRemaining int     `json:"days_remaining"`
	CanBook       bool    `json:"can_book"`
}

func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	st, err := h.booking.EvaluateSubscription(r.Context(), ProfessionalFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	out := subscriptionResponse{
		Status:        string(st.Status),
		DaysRemaining: st.DaysRemaining,
		CanBook:       st.CanBook,
	}
	if st.ExpiresAt != nil {
		s := st.ExpiresAt.UTC().Format(time.RFC3339)
		out.ExpiresAt = &s
	}
	writeJSON(w, http.StatusOK, out)
}
