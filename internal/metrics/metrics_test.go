package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.Triggers.Inc()

	assert.InDelta(t, 1, testutil.ToFloat64(a.Triggers), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(b.Triggers), 0)
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New()
	m.CapturesSaved.Inc()
	m.CapturesRejected.WithLabelValues("silent").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "gunshot_captures_saved_total 1")
	assert.Contains(t, string(body), `gunshot_captures_rejected_total{reason="silent"} 1`)
}
