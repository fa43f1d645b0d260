package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveUpload("success")
	m.ObserveUpload("success")
	m.ObserveUpload("transcription_service_error")
	m.ObserveRequest(http.MethodGet, "/healthz", http.StatusOK)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("transcription_service_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/healthz", "200")))
}

func TestHandlerExposesStages(t *testing.T) {
	m := New()
	m.ObserveStage("normalize", 150*time.Millisecond)
	m.SetQueueDepth(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `scribe_pipeline_stage_seconds_count{stage="normalize"} 1`)
	assert.Contains(t, string(body), "scribe_pipeline_queue_depth 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveUpload("success")
	m.ObserveStage("translate", time.Second)
	m.ObserveRequest("GET", "/", 200)
	m.SetQueueDepth(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
