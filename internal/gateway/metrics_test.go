package gateway

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, route, status string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, RequestsTotal.WithLabelValues(route, status).Write(m))
	return m.GetCounter().GetValue()
}

func TestRecordRequest(t *testing.T) {
	before := counterValue(t, "metrics-test", "200")

	RecordRequest("metrics-test", 200, 5*time.Millisecond)
	RecordRequest("metrics-test", 200, 7*time.Millisecond)

	assert.Equal(t, before+2, counterValue(t, "metrics-test", "200"))
}

func TestRecordRequestUnmatchedRoute(t *testing.T) {
	before := counterValue(t, "unmatched", "404")

	RecordRequest("", 404, time.Millisecond)

	assert.Equal(t, before+1, counterValue(t, "unmatched", "404"))
}

func TestRecordRejection(t *testing.T) {
	m := &dto.Metric{}

	RecordRejection("metrics-test", ReasonRateLimited)
	require.NoError(t, RejectionsTotal.WithLabelValues("metrics-test", "rate_limited").Write(m))

	assert.GreaterOrEqual(t, m.GetCounter().GetValue(), float64(1))
}
