package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder()
	r.ObserveCRMRequest("leads", "ok")
	r.ObserveCRMRequest("leads", "ok")
	r.ObserveCRMRequest("contacts", "error")
	r.ItemFailed("customers")
	r.PhaseItems("leads", 42)
	r.Imported("facts", 3)
	r.RunFinished(2*time.Second, nil)
	r.RunFinished(time.Second, errors.New("unauthorized"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.crmRequests.WithLabelValues("leads", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.crmRequests.WithLabelValues("contacts", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchFails.WithLabelValues("customers")))
	assert.Equal(t, 42.0, testutil.ToFloat64(r.phaseItems.WithLabelValues("leads")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.imported.WithLabelValues("facts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.PhaseItems("work_dates", 7)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `workdays_phase_items{phase="work_dates"} 7`)
}
