package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-signal-core/report"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveRequest("7E0", 20*time.Millisecond, nil)
	m.ObserveRequest("7E0", 0, errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("7E0", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("7E0", ResultError)))

	m.ObserveDecode("CAR_GEAR", report.New(report.UnmappedEnum, "CAR_GEAR", "raw 3"))
	m.ObserveDecode("CAR_GEAR", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decodes.WithLabelValues("CAR_GEAR", "UnmappedEnum")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decodes.WithLabelValues("CAR_GEAR", ResultOK)))

	var r report.Report
	r.Add(
		report.New(report.DuplicateSignalID, "A", "dup"),
		report.New(report.DuplicateSignalID, "B", "dup"),
		report.Advise(report.MultiplierStyle, "C", "div"),
	)
	m.ObserveReport(&r)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationIssues.WithLabelValues("DuplicateSignalId", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidationIssues.WithLabelValues("MultiplierStyle", "advisory")))

	m.ObservePublish(nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SamplesPublished.WithLabelValues(ResultOK)))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest("7DF", time.Millisecond, nil)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `obdsig_requests_total{header="7DF",result="ok"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
