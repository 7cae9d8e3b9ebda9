package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
)

func counterValue(t *testing.T, c interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestDecisionsTotalIncrements(t *testing.T) {
	before := counterValue(t, metrics.DecisionsTotal.WithLabelValues("allow", "device"))
	metrics.DecisionsTotal.WithLabelValues("allow", "device").Inc()
	after := counterValue(t, metrics.DecisionsTotal.WithLabelValues("allow", "device"))
	require.Equal(t, before+1, after)
}

func TestNewRegistryGathersRegisteredCollectors(t *testing.T) {
	reg := metrics.NewRegistry()
	metrics.QuotaDeniedTotal.WithLabelValues("org1", "ros-tool").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "aclmeter_quota_denied_total" {
			found = true
		}
	}
	require.True(t, found, "expected aclmeter_quota_denied_total to be registered")
}
