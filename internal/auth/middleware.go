package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hangarshare/backend-hangar/internal/common"
)

var errNoToken = errors.New("auth: token missing")

// Verifier authenticates bearer tokens issued by the identity provider and
// exposes the subject as the request principal. Identity lives elsewhere; this
// service only validates what it is handed.
type Verifier struct {
	Secret    []byte
	Validator TokenValidator
}

// Parse verifies the compact token and returns its subject.
func (v Verifier) Parse(token string) (string, error) {
	if len(v.Secret) == 0 {
		return "", errors.New("auth: verifier secret not configured")
	}
	algorithm := v.Validator.Algorithm
	if algorithm == "" {
		algorithm = jwa.HS256
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithKey(algorithm, v.Secret), jwt.WithValidate(false))
	if err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	msg, err := jws.Parse([]byte(token))
	if err != nil || len(msg.Signatures()) == 0 {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	tokenAlg := msg.Signatures()[0].ProtectedHeaders().Algorithm()
	if err := v.Validator.Validate(parsed, tokenAlg, time.Now()); err != nil {
		return "", common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return "", common.NewAppError("UNAUTHORIZED", "token missing subject", http.StatusUnauthorized, nil)
	}
	return subject, nil
}

// Middleware wires authentication context into HTTP handlers.
type Middleware struct {
	Verifier Verifier
}

// Authenticate attaches the user identifier to the request context when a
// valid token is present; anonymous requests pass through untouched.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth enforces that a valid token is present before executing the next handler.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticateRequest(r)
		if err != nil {
			var appErr *common.AppError
			if errors.As(err, &appErr) {
				status := appErr.HTTPStatus
				if status == 0 {
					status = http.StatusUnauthorized
				}
				common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
				return
			}
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) authenticateRequest(r *http.Request) (context.Context, error) {
	token := extractToken(r)
	if token == "" {
		return r.Context(), errNoToken
	}
	subject, err := m.Verifier.Parse(token)
	if err != nil {
		return r.Context(), err
	}
	return common.WithUserID(r.Context(), subject), nil
}

func extractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
