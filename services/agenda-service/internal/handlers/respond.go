package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/agenda/libs/httpx"
	"github.com/md-rashed-zaman/agenda/services/agenda-service/internal/apperr"
)

type errorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Occurrence string `json:"occurrence,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with a localized message. Validation details are safe to
// echo; persistence causes are only logged.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	resp := errorResponse{
		Error:     string(kind),
		Message:   apperr.Message(kind, r.Header.Get("Accept-Language")),
		RequestID: httpx.RequestIDFromContext(r.Context()),
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if kind == apperr.KindValidation {
			resp.Detail = appErr.Message
		}
		if appErr.Occurrence != nil {
			resp.Occurrence = appErr.Occurrence.Format(time.RFC3339)
		}
	}
	if kind == apperr.KindPersistence {
		logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", resp.RequestID)
	}
	writeJSON(w, apperr.HTTPStatus(kind), resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid json body: %v", err)
	}
	return nil
}
