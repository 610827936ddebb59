package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"streamchat/internal/testutil"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_AllowedOrigin(t *testing.T) {
	tests := []struct {
		name           string
		allowedOrigins []string
		requestOrigin  string
		shouldAllow    bool
	}{
		{
			name:           "allowed origin",
			allowedOrigins: []string{"http://localhost:3000", "http://example.com"},
			requestOrigin:  "http://localhost:3000",
			shouldAllow:    true,
		},
		{
			name:           "allowed second origin",
			allowedOrigins: []string{"http://localhost:3000", "http://example.com"},
			requestOrigin:  "http://example.com",
			shouldAllow:    true,
		},
		{
			name:           "disallowed origin",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "http://malicious.com",
			shouldAllow:    false,
		},
		{
			name:           "empty origin",
			allowedOrigins: []string{"http://localhost:3000"},
			requestOrigin:  "",
			shouldAllow:    false,
		},
		{
			name:           "wildcard",
			allowedOrigins: []string{"*"},
			requestOrigin:  "https://any.site",
			shouldAllow:    true,
		},
		{
			name:           "no origins configured",
			allowedOrigins: nil,
			requestOrigin:  "http://localhost:3000",
			shouldAllow:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowedOrigins)(okHandler(nil))

			req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			want := ""
			if tt.shouldAllow {
				want = tt.requestOrigin
			}
			testutil.AssertHeader(t, w, "Access-Control-Allow-Origin", want)
			testutil.AssertHeader(t, w, "Vary", "Origin")
		})
	}
}

func TestCORS_AllowedHeaders(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/send", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	testutil.AssertHeader(t, w, "Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	testutil.AssertHeader(t, w, "Access-Control-Allow-Headers", "Content-Type")
	testutil.AssertHeader(t, w, "Access-Control-Max-Age", "600")
}

func TestCORS_Preflight(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantOrigin string
	}{
		{name: "allowed", origin: "http://localhost:3000", wantOrigin: "http://localhost:3000"},
		{name: "disallowed", origin: "http://malicious.com", wantOrigin: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS([]string{"http://localhost:3000"})(okHandler(&called))

			req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			testutil.AssertStatusCode(t, w, http.StatusNoContent)
			testutil.AssertHeader(t, w, "Access-Control-Allow-Origin", tt.wantOrigin)
			if called {
				t.Error("preflight should not call next handler")
			}
		})
	}
}

func TestCORS_PlainOptionsPassesThrough(t *testing.T) {
	called := false
	handler := CORS([]string{"http://localhost:3000"})(okHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "/api/send", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("OPTIONS without a preflight header should reach the next handler")
	}
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single", input: "http://localhost:3000", want: []string{"http://localhost:3000"}},
		{name: "multiple", input: "http://a.test,http://b.test", want: []string{"http://a.test", "http://b.test"}},
		{name: "trims spaces", input: "  http://a.test  ,  http://b.test ", want: []string{"http://a.test", "http://b.test"}},
		{name: "drops blanks", input: "http://a.test,, ,", want: []string{"http://a.test"}},
		{name: "wildcard", input: "*", want: []string{"*"}},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseOrigins(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseOrigins(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ParseOrigins(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func BenchmarkCORS(b *testing.B) {
	handler := CORS([]string{"http://localhost:3000", "http://example.com"})(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}
