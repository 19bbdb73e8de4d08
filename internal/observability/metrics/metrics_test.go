package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/books/{id}", "404"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/books/abc", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/books/{id}", "404"))

	assert.Equal(t, before+1, after)
}

func TestLendingMetrics(t *testing.T) {
	before := testutil.ToFloat64(lendingOperations.WithLabelValues("borrow", "ok"))
	ObserveLending("borrow", "ok", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(lendingOperations.WithLabelValues("borrow", "ok")))

	SetLoans(3, -1)
	assert.Equal(t, 3.0, testutil.ToFloat64(activeLoans))
	assert.Equal(t, 0.0, testutil.ToFloat64(copiesOnLoan))
}
