package permission

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/xray/xray/internal/platform/auth"
	"github.com/xray/xray/internal/platform/cache"
)

func userCtx(user string, roles ...string) context.Context {
	return auth.WithIdentity(context.Background(), user, roles, "tok-"+user)
}

func TestRemoteChecker_Granted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != checkPermissionPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("codename"); got != ViewXRay {
			t.Errorf("expected codename %s, got %s", ViewXRay, got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-ana" {
			t.Errorf("expected forwarded bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"has_permission": true, "codename": "view_xrayimage"}`))
	}))
	defer srv.Close()

	ok, err := NewRemoteChecker(srv.URL+"/", time.Second).HasPermission(userCtx("ana"), ViewXRay)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected permission to be granted")
	}
}

func TestRemoteChecker_OversizedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"has_permission": true, "codename": "`))
		w.Write([]byte(strings.Repeat("x", 2*maxResponseBytes)))
		w.Write([]byte(`"}`))
	}))
	defer srv.Close()

	ok, err := NewRemoteChecker(srv.URL, time.Second).HasPermission(userCtx("ana"), ViewXRay)
	if err == nil || ok {
		t.Fatalf("expected a truncated body to fail decoding, got ok=%v err=%v", ok, err)
	}
}

func TestRemoteChecker_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    bool
		wantErr error
		anyErr  bool
	}{
		{"denied in body", http.StatusOK, `{"has_permission": false}`, false, nil, false},
		{"missing field", http.StatusOK, `{}`, false, nil, false},
		{"forbidden", http.StatusForbidden, `{"error":"no"}`, false, nil, false},
		{"unauthorized", http.StatusUnauthorized, ``, false, ErrUnauthenticated, true},
		{"server error", http.StatusInternalServerError, ``, false, nil, true},
		{"bad json", http.StatusOK, `not-json`, false, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			ok, err := NewRemoteChecker(srv.URL, time.Second).HasPermission(userCtx("ana"), AddXRay)
			if ok != tt.want {
				t.Errorf("expected %v, got %v", tt.want, ok)
			}
			if tt.anyErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.anyErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRoleChecker(t *testing.T) {
	rc := NewRoleChecker(DefaultGrants())

	tests := []struct {
		name     string
		roles    []string
		codename string
		want     bool
	}{
		{"admin holds everything", []string{"admin"}, DeleteXRay, true},
		{"viewer can view", []string{"viewer"}, ViewXRay, true},
		{"viewer cannot delete", []string{"viewer"}, DeleteXRay, false},
		{"technician can change", []string{"technician"}, ChangeXRay, true},
		{"any role suffices", []string{"viewer", "radiologist"}, DeleteXRay, true},
		{"unknown role", []string{"janitor"}, ViewXRay, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rc.HasPermission(userCtx("u", tt.roles...), tt.codename)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRoleChecker_Anonymous(t *testing.T) {
	_, err := NewRoleChecker(DefaultGrants()).HasPermission(context.Background(), ViewXRay)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCached_MemoizesPerUser(t *testing.T) {
	var calls atomic.Int32
	inner := CheckerFunc(func(ctx context.Context, codename string) (bool, error) {
		calls.Add(1)
		return auth.UserIDFromContext(ctx) == "ana", nil
	})
	c := NewCached(inner, cache.New[bool](), time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := c.HasPermission(userCtx("ana"), ViewXRay); !ok {
			t.Fatal("expected ana to be granted")
		}
	}
	if ok, _ := c.HasPermission(userCtx("luis"), ViewXRay); ok {
		t.Fatal("expected luis to be denied")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 upstream calls, got %d", n)
	}

	c.Forget()
	c.HasPermission(userCtx("ana"), ViewXRay)
	if n := calls.Load(); n != 3 {
		t.Errorf("expected a fresh call after Forget, got %d calls", n)
	}
}

func TestCached_DoesNotStoreErrors(t *testing.T) {
	var calls atomic.Int32
	inner := CheckerFunc(func(context.Context, string) (bool, error) {
		calls.Add(1)
		return false, errors.New("unreachable")
	})
	c := NewCached(inner, cache.New[bool](), time.Minute)

	c.HasPermission(userCtx("ana"), ViewXRay)
	c.HasPermission(userCtx("ana"), ViewXRay)
	if n := calls.Load(); n != 2 {
		t.Errorf("expected errors to bypass the cache, got %d calls", n)
	}
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name       string
		checker    Checker
		wantCalled bool
		wantCode   int
	}{
		{"granted", CheckerFunc(func(context.Context, string) (bool, error) { return true, nil }), true, 0},
		{"denied", CheckerFunc(func(context.Context, string) (bool, error) { return false, nil }), false, http.StatusForbidden},
		{"error denies", CheckerFunc(func(context.Context, string) (bool, error) { return true, errors.New("down") }), false, http.StatusForbidden},
		{"unauthenticated", CheckerFunc(func(context.Context, string) (bool, error) { return false, ErrUnauthenticated }), false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

			called := false
			h := Require(tt.checker, ViewXRay, zerolog.Nop())(func(c echo.Context) error {
				called = true
				return nil
			})
			err := h(c)

			if called != tt.wantCalled {
				t.Errorf("expected called=%v, got %v", tt.wantCalled, called)
			}
			if tt.wantCode == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.wantCode {
				t.Errorf("expected HTTP %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	checker := CheckerFunc(func(_ context.Context, codename string) (bool, error) {
		switch codename {
		case ViewXRay, AddXRay:
			return true, nil
		case DeleteXRay:
			return true, errors.New("timeout")
		}
		return false, nil
	})

	got, err := Resolve(context.Background(), checker, ViewXRay, AddXRay, ChangeXRay, DeleteXRay)
	if err == nil {
		t.Error("expected the delete check error to be reported")
	}
	want := map[string]bool{ViewXRay: true, AddXRay: true, ChangeXRay: false, DeleteXRay: false}
	for code, w := range want {
		if got[code] != w {
			t.Errorf("%s: expected %v, got %v", code, w, got[code])
		}
	}
}
