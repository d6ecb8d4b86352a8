// internal/metrics/metrics_test.go
package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware("/metrics"))
	r.GET("/v1/streams/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", GinHandler())

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/streams/:id", "200"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/streams/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/v1/streams/:id", "200"))
	assert.Equal(t, before+1, after)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "asset_rental_http_requests_total")
}

func TestRecordPayoutIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(streamPaidOut.WithLabelValues("treasury"))
	RecordPayout("treasury", 0)
	RecordPayout("treasury", 25)
	assert.Equal(t, before+25, testutil.ToFloat64(streamPaidOut.WithLabelValues("treasury")))
}
