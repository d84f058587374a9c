package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/v1/analyze": "/v1/analyze",
		"/v1/documents/4f9c2a9e-8a43-4c0e-9c1b-0c7c1d3f4b21": "/v1/documents/{id}",
		"/v1/tiers/career-pro": "/v1/tiers/{tierId}",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/usage", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/usage", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/usage", "418"))

	if after-before != 1 {
		t.Errorf("expected one counted request, got %v", after-before)
	}
}
