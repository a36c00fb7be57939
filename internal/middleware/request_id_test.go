package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIDKeepsIncomingHeader(t *testing.T) {
	var fromCtx string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if fromCtx != "req-123" {
		t.Fatalf("expected request id in context, got %q", fromCtx)
	}
	if w.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected response header, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	w := httptest.NewRecorder()
	RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}
