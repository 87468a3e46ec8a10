package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func signHS256(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func radiologistClaims(ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "rad-7",
			Issuer:    "https://auth.example",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Roles: []string{"radiologist"},
	}
}

type identity struct {
	userID string
	roles  []string
	token  string
}

// serve runs mw over a handler that records the identity it saw.
func serve(mw echo.MiddlewareFunc, authorization string) (identity, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/xrays", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen identity
	err := mw(func(c echo.Context) error {
		ctx := c.Request().Context()
		seen = identity{
			userID: UserIDFromContext(ctx),
			roles:  RolesFromContext(ctx),
			token:  TokenFromContext(ctx),
		}
		return nil
	})(c)
	return seen, err
}

func TestJWTMiddleware_Rejects(t *testing.T) {
	expired := radiologistClaims(-time.Hour)
	otherIssuer := radiologistClaims(time.Hour)
	otherIssuer.Issuer = "https://other.example"

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"scheme only", "Bearer"},
		{"blank token", "Bearer    "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired", "Bearer " + signHS256(t, expired, testSigningKey)},
		{"wrong key", "Bearer " + signHS256(t, radiologistClaims(time.Hour), []byte("some-other-key-of-enough-length!!"))},
		{"issuer mismatch", "Bearer " + signHS256(t, otherIssuer, testSigningKey)},
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen, err := serve(mw, tt.header)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %v", err)
			}
			if seen.userID != "" {
				t.Error("handler should not run")
			}
		})
	}
}

func TestJWTMiddleware_Identity(t *testing.T) {
	claims := radiologistClaims(time.Hour)
	claims.Roles = []string{"physician", "radiologist"}
	claims.Group = "technician"
	signed := signHS256(t, claims, testSigningKey)

	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://auth.example"})
	seen, err := serve(mw, "bearer "+signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.userID != "rad-7" {
		t.Errorf("expected rad-7, got %q", seen.userID)
	}
	if strings.Join(seen.roles, ",") != "physician,radiologist,technician" {
		t.Errorf("expected group appended to roles, got %v", seen.roles)
	}
	if seen.token != signed {
		t.Error("expected the bearer token to be kept for upstream calls")
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	seen, err := serve(DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.userID != "dev-user" || strings.Join(seen.roles, ",") != "admin" || seen.token != "" {
		t.Errorf("unexpected dev identity %+v", seen)
	}

	seen, _ = serve(DevAuthMiddleware(), "Bearer upstream-token")
	if seen.token != "upstream-token" {
		t.Errorf("expected upstream-token, got %q", seen.token)
	}
}

func TestClaims_AllRoles(t *testing.T) {
	tests := []struct {
		claims Claims
		want   string
	}{
		{Claims{Roles: []string{"viewer"}}, "viewer"},
		{Claims{Roles: []string{"viewer"}, Group: "viewer"}, "viewer"},
		{Claims{Group: "radiologist"}, "radiologist"},
		{Claims{Roles: []string{"physician"}, Group: "admin"}, "physician,admin"},
	}
	for _, tt := range tests {
		if got := strings.Join(tt.claims.AllRoles(), ","); got != tt.want {
			t.Errorf("%+v: expected %s, got %s", tt.claims, tt.want, got)
		}
	}
}
