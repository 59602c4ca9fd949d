package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFlush(t *testing.T) {
	c := New("keywords")

	c.ObserveFlush(100)
	c.ObserveFlush(40)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.Flushes))
	assert.Equal(t, float64(140), testutil.ToFloat64(c.RecordsWritten))
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := New("a")
	b := New("b")

	a.PagesFetched.Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(a.PagesFetched))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.PagesFetched))
}

func TestHandlerExposesJobLabel(t *testing.T) {
	c := New("regions")
	c.CheckpointPage.Set(7)
	c.TransportRetries.WithLabelValues("503").Inc()

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `boardscraper_checkpoint_page{job_name="regions"} 7`)
	assert.Contains(t, body, `boardscraper_transport_retries_total{code="503",job_name="regions"} 1`)
}
