package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{
				{"kty": "EC", "kid": "ignored"},
				{
					"kty": "RSA",
					"kid": kid,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		})
	}))
}

func TestJWKSCache_Key(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits atomic.Int32
	srv := jwksServer(t, "k1", &priv.PublicKey, &hits)
	defer srv.Close()

	cache := NewJWKSCache(srv.URL, time.Minute)
	key, err := cache.Key("k1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key.N.Cmp(priv.PublicKey.N) != 0 || key.E != priv.PublicKey.E {
		t.Error("decoded key does not match")
	}

	if _, err := cache.Key("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected one fetch while fresh, got %d", hits.Load())
	}

	if _, err := cache.Key("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
	if hits.Load() != 2 {
		t.Errorf("expected refetch for unknown kid, got %d", hits.Load())
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits atomic.Int32
	srv := jwksServer(t, "k1", &priv.PublicKey, &hits)
	defer srv.Close()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "radiologist-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"radiologist"},
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	h := JWTMiddleware(JWTConfig{JWKSURL: srv.URL})(func(c echo.Context) error {
		gotUser = UserIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "radiologist-1" {
		t.Errorf("expected subject on context, got %q", gotUser)
	}
}
