package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/hangarshare/backend-hangar/internal/common"
)

func signedToken(t *testing.T, secret []byte, mutate func(*jwt.Builder) *jwt.Builder) string {
	t.Helper()
	now := time.Now()
	builder := jwt.NewBuilder().
		Issuer("hangarshare").
		Audience([]string{"api"}).
		Subject("4f5c8e12-9c1a-4a50-9f7a-0b2d1c3e4f5a").
		IssuedAt(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		builder = mutate(builder)
	}
	token, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func testMiddleware(secret []byte) Middleware {
	return Middleware{Verifier: Verifier{
		Secret: secret,
		Validator: TokenValidator{
			Issuer:    "hangarshare",
			Audience:  "api",
			ClockSkew: 5 * time.Second,
			Algorithm: jwa.HS256,
		},
	}}
}

func TestRequireAuthAcceptsValidBearer(t *testing.T) {
	secret := []byte("super-secret")
	mw := testMiddleware(secret)

	var gotSubject string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rentals", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, secret, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSubject != "4f5c8e12-9c1a-4a50-9f7a-0b2d1c3e4f5a" {
		t.Fatalf("unexpected subject %q", gotSubject)
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	mw := testMiddleware([]byte("super-secret"))
	handler := mw.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/rentals", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsWrongKey(t *testing.T) {
	mw := testMiddleware([]byte("super-secret"))
	handler := mw.RequireAuth(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/rentals", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, []byte("other-secret"), nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticatePassesAnonymous(t *testing.T) {
	mw := testMiddleware([]byte("super-secret"))
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := common.UserID(r.Context()); ok {
			t.Fatal("unexpected principal on anonymous request")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/listings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
