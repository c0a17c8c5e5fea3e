package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMiddlewareCountsByRouteTemplate(t *testing.T) {
	m := New("test")

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, id := range []string{"1", "2"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/items/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRecordStage(t *testing.T) {
	m := New("test")
	m.RecordStage("vision", OutcomeFallback)
	m.RecordStage("vision", OutcomeFallback)
	m.RecordStage("upload", OutcomeOK)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipelineStages.WithLabelValues("vision", OutcomeFallback)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineStages.WithLabelValues("upload", OutcomeOK)))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("portal")
	m.RecordMessage("text")
	m.ObserveSubmission(2 * time.Second)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, _ := io.ReadAll(w.Body)
	assert.True(t, strings.Contains(string(body), `portal_chat_messages_total{kind="text"} 1`))
	assert.Contains(t, string(body), "portal_maintenance_submission_duration_seconds_count 1")
}

func TestNewInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New("dup")
		New("dup")
	})
}
