package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/loyalty_layer/internal/logging"
)

var testSecret = []byte("test-secret-with-enough-entropy")

func testLogger() *logging.Logger {
	return logging.NewWithOutput("test", "error", "json", io.Discard)
}

func signToken(t *testing.T, secret []byte, claims Claims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User", GetUserID(r.Context()))
		w.Header().Set("X-Role", GetUserRole(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	return body
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "", testLogger(), []string{"/healthz"})
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "pos-login", testLogger(), nil)
	handler := m.Handler(okHandler())

	expired := signToken(t, testSecret, Claims{
		UserID: "u1", Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pos-login",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	wrongKey := signToken(t, []byte("another-secret"), Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "pos-login"}})
	wrongIssuer := signToken(t, testSecret, Claims{UserID: "u1", RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}})
	noUser := signToken(t, testSecret, Claims{Role: RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: "pos-login"}})
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		code   string
	}{
		{"missing header", "", "UNAUTHORIZED"},
		{"no bearer prefix", "token123", "UNAUTHORIZED"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", "UNAUTHORIZED"},
		{"empty token", "Bearer ", "UNAUTHORIZED"},
		{"garbage token", "Bearer not.a.jwt", "INVALID_TOKEN"},
		{"expired", "Bearer " + expired, "INVALID_TOKEN"},
		{"wrong key", "Bearer " + wrongKey, "INVALID_TOKEN"},
		{"wrong issuer", "Bearer " + wrongIssuer, "INVALID_TOKEN"},
		{"missing user", "Bearer " + noUser, "INVALID_TOKEN"},
		{"alg none", "Bearer " + none, "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/settings", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			body := decodeError(t, rec)
			if body["code"] != tt.code {
				t.Errorf("code = %v, want %s", body["code"], tt.code)
			}
		})
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret, "pos-login", testLogger(), nil)
	token := signToken(t, testSecret, Claims{
		UserID: "manager-7", Role: RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "pos-login"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/loyalty/settings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.Handler(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := rec.Header().Get("X-User"); got != "manager-7" {
		t.Errorf("user id = %q, want manager-7", got)
	}
	if got := rec.Header().Get("X-Role"); got != RoleManager {
		t.Errorf("role = %q, want %s", got, RoleManager)
	}
}

func TestRequireRole(t *testing.T) {
	auth := NewAuthMiddleware(testSecret, "", testLogger(), nil)
	handler := auth.Handler(RequireRole(testLogger(), RoleAdmin, RoleManager)(okHandler()))

	tests := []struct {
		role string
		want int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleManager, http.StatusOK},
		{RoleCashier, http.StatusForbidden},
		{"", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run("role="+tt.role, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/loyalty/settings", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, Claims{UserID: "u1", Role: tt.role}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("Status code = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusForbidden {
				if body := decodeError(t, rec); body["code"] != "FORBIDDEN" {
					t.Errorf("code = %v, want FORBIDDEN", body["code"])
				}
			}
		})
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRole(testLogger(), RoleAdmin)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
