package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveQueryCounts(t *testing.T) {
	m := New()
	m.ObserveQuery("ok", true, 120)
	m.ObserveQuery("generation_failed", false, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DegradedRetrievals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationFailures))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.TokensUsedTotal))
}

func TestObserveBatch(t *testing.T) {
	m := New()
	m.ObserveBatch(50, nil)
	m.ObserveBatch(50, errors.New("boom"))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.IndexedChunksTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailedBatchesTotal))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveStage("RETRIEVING", 15*time.Millisecond)
	m.SetActiveSessions(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lectern_query_stage_duration_seconds_count{stage="RETRIEVING"} 1`))
	assert.True(t, strings.Contains(body, "lectern_active_sessions 3"))
}
