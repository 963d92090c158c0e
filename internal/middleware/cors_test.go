package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantCreds  bool
		wantStatus int
	}{
		{"explicit origin", []string{"http://app.test"}, "http://app.test", http.MethodGet, "http://app.test", true, http.StatusTeapot},
		{"wildcard has no credentials", []string{"*"}, "http://other.test", http.MethodGet, "http://other.test", false, http.StatusTeapot},
		{"unknown origin", []string{"http://app.test"}, "http://evil.test", http.MethodGet, "", false, http.StatusTeapot},
		{"preflight short-circuits", []string{"http://app.test"}, "http://app.test", http.MethodOptions, "http://app.test", true, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/modules", nil)
			req.Header.Set("Origin", tt.origin)
			rec := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Fatalf("expected origin %q, got %q", tt.wantOrigin, got)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Fatalf("expected credentials %v, got %v", tt.wantCreds, got)
			}
			if tt.wantOrigin != "" && !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Companion-Session-ID") {
				t.Fatal("expected session header to be allowed")
			}
			if got := rec.Header().Get("Vary"); got != "Origin" {
				t.Fatalf("expected Vary Origin, got %q", got)
			}
		})
	}
}
