package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "admin"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func serveAdmin(s *Server, setup func(*http.Request)) int {
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	if setup != nil {
		setup(req)
	}
	rr := httptest.NewRecorder()
	s.adminMiddleware(okHandler()).ServeHTTP(rr, req)
	return rr.Code
}

func TestAdminMiddleware_NoTokenConfigured(t *testing.T) {
	s := &Server{admin: adminAuth{}}
	if code := serveAdmin(s, nil); code != http.StatusOK {
		t.Fatalf("expected 200 when no admin token configured, got %d", code)
	}
}

func TestAdminMiddleware_MissingHeader(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	if code := serveAdmin(s, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAdminMiddleware_WrongKey(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	code := serveAdmin(s, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer wrong_key")
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestAdminMiddleware_CorrectKey(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	code := serveAdmin(s, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer secret123")
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAdminMiddleware_HeaderToken(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	code := serveAdmin(s, func(r *http.Request) {
		r.Header.Set(adminHeader, "secret123")
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestAdminMiddleware_NonBearerScheme(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	code := serveAdmin(s, func(r *http.Request) {
		r.Header.Set("Authorization", "Basic secret123")
		r.Header.Set(adminHeader, "secret123")
	})
	if code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-Bearer Authorization, got %d", code)
	}
}

func TestAdminMiddleware_JWT(t *testing.T) {
	s := &Server{admin: adminAuth{secret: "secret123"}}
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"valid", signToken(t, jwt.SigningMethodHS256, []byte("secret123"), future), http.StatusOK},
		{"wrong key", signToken(t, jwt.SigningMethodHS256, []byte("other"), future), http.StatusUnauthorized},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte("secret123"), time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"no expiry", signToken(t, jwt.SigningMethodHS256, []byte("secret123"), time.Time{}), http.StatusUnauthorized},
		{"HS512", signToken(t, jwt.SigningMethodHS512, []byte("secret123"), future), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := serveAdmin(s, func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			})
			if code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(okHandler(), "https://example.com")

	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for OPTIONS, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Fatalf("expected configured origin, got %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization, X-Admin-Token" {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestCORSMiddleware_DefaultOrigin(t *testing.T) {
	handler := corsMiddleware(okHandler(), "")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %q", got)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"limit=5", 5},
		{"limit=0", 100},
		{"limit=-3", 100},
		{"limit=abc", 100},
		{"limit=5000", maxQueryLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/logs?"+tt.query, nil)
		if got := parseLimit(req, 100); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
