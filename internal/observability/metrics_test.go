package observability

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

func TestQueueMetrics(t *testing.T) {
	m := getMetrics()
	enqueued := testutil.ToFloat64(m.commandsEnqueued.WithLabelValues("NAVIGATE"))
	drained := testutil.ToFloat64(m.commandsDrained)
	evicted := testutil.ToFloat64(m.commandsEvicted)

	RecordEnqueue("NAVIGATE", 1, 1)
	assert.Equal(t, enqueued+1, testutil.ToFloat64(m.commandsEnqueued.WithLabelValues("NAVIGATE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingCommands))

	RecordDrain(0, 1, 1)
	assert.Equal(t, drained, testutil.ToFloat64(m.commandsDrained), "empty drains are not counted")

	RecordDrain(1, 0, 0)
	assert.Equal(t, drained+1, testutil.ToFloat64(m.commandsDrained))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.pendingCommands))

	RecordEviction(3, 0, 0)
	assert.Equal(t, evicted+3, testutil.ToFloat64(m.commandsEvicted))
}

func TestToolAndHTTPMetrics(t *testing.T) {
	m := getMetrics()
	ok := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("navigate_to", "success"))
	failed := testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("navigate_to", "error"))
	limited := testutil.ToFloat64(m.rateLimitedTotal)
	reloads := testutil.ToFloat64(m.catalogReloads.WithLabelValues("catalog", "error"))

	RecordToolExecution("navigate_to", 5*time.Millisecond, true)
	RecordToolExecution("navigate_to", 5*time.Millisecond, false)
	RecordRateLimited()
	RecordCatalogReload("catalog", false)
	RecordHTTPRequest("/api/webhook", "200", time.Millisecond)

	assert.Equal(t, ok+1, testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("navigate_to", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(m.toolExecutionTotal.WithLabelValues("navigate_to", "error")))
	assert.Equal(t, limited+1, testutil.ToFloat64(m.rateLimitedTotal))
	assert.Equal(t, reloads+1, testutil.ToFloat64(m.catalogReloads.WithLabelValues("catalog", "error")))
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		EnsureRegistered()
		EnsureRegistered()
	})
	assert.Same(t, getMetrics(), getMetrics())
}

func TestMetricsHandler(t *testing.T) {
	RecordHTTPRequest("/api/commands", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "voxrelay_http_requests_total")
	assert.Contains(t, string(body), "voxrelay_pending_commands")
}
