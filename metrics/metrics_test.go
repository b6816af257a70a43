package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// Collectors are registered on the default registry at import time
	assert.NotNil(t, AppState)
	assert.NotNil(t, CapabilityActive)
	assert.NotNil(t, CapabilityActivations)
	assert.NotNil(t, CapabilityActivationDuration)
	assert.NotNil(t, CacheHits)
	assert.NotNil(t, AsyncTasksSubmitted)
	assert.NotNil(t, Transactions)
	assert.NotNil(t, AuditRecords)
}

func TestCapabilityActiveGauge(t *testing.T) {
	g := CapabilityActive.WithLabelValues("ResponseCaching")

	read := func() float64 {
		var m dto.Metric
		require.NoError(t, g.Write(&m))
		return m.GetGauge().GetValue()
	}

	g.Set(1)
	assert.Equal(t, float64(1), read())
	g.Set(0)
	assert.Equal(t, float64(0), read())
}
