package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestGenerateAPIToken(t *testing.T) {
	secret := []byte("test-secret")

	token, expiresAt, err := GenerateAPIToken(secret, 1, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("token should not be empty")
	}
	if !expiresAt.After(time.Now().Add(6 * 24 * time.Hour)) {
		t.Fatalf("expiry too soon: %v", expiresAt)
	}

	claims := &APIClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not parse: %v", err)
	}
	if claims.UserID != 1 || claims.Username != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "leadline" {
		t.Fatalf("expected issuer leadline, got %s", claims.Issuer)
	}
}

func TestRequireTokenAuthValid(t *testing.T) {
	secret := []byte("test-secret")
	token, _, err := GenerateAPIToken(secret, 7, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var gotUserID int64
	handler := RequireTokenAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = TokenUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotUserID != 7 {
		t.Fatalf("expected user ID 7 in context, got %d", gotUserID)
	}
}

func TestRequireTokenAuthMissingHeader(t *testing.T) {
	handler := RequireTokenAuth([]byte("s"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireTokenAuthWrongSecret(t *testing.T) {
	token, _, err := GenerateAPIToken([]byte("secret-a"), 1, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handler := RequireTokenAuth([]byte("secret-b"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRequireTokenAuthMalformedHeader(t *testing.T) {
	handler := RequireTokenAuth([]byte("s"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
