package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/agenda/libs/auth"
)

type ctxKey int

const professionalKey ctxKey = 1

const ProfessionalHeader = "X-Professional-Id"

func ProfessionalFromContext(ctx context.Context) string {
	v, _ := ctx.Value(professionalKey).(string)
	return v
}

func ContextWithProfessional(ctx context.Context, professionalID string) context.Context {
	return context.WithValue(ctx, professionalKey, professionalID)
}

// Authenticator resolves the calling professional. With a secret configured it
// requires an HS256 bearer token; otherwise it trusts the X-Professional-Id header
// set by an upstream gateway.
type Authenticator struct {
	secret string
	now    func() time.Time
}

func NewAuthenticator(secret string, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{secret: strings.TrimSpace(secret), now: now}
}

func (a *Authenticator) RequireProfessional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		professionalID, ok := a.resolve(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized", Message: "missing or invalid credentials"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithProfessional(r.Context(), professionalID)))
	})
}

func (a *Authenticator) resolve(r *http.Request) (string, bool) {
	if a.secret == "" {
		id := strings.TrimSpace(r.Header.Get(ProfessionalHeader))
		return id, id != ""
	}
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", false
	}
	claims, err := auth.ParseAndVerifyHS256(token, a.secret, a.now())
	if err != nil {
		return "", false
	}
	return claims.Professional(), true
}
