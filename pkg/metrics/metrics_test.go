package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	Register(r)
	// 第二次调用不会重复注册而 panic。
	Register(r)
	assert.Equal(t, prometheus.Registerer(r), GetRegisterer())

	StreamBytes.WithLabelValues(EncodeLabel).Add(12)
	assert.Equal(t, float64(12), testutil.ToFloat64(StreamBytes.WithLabelValues(EncodeLabel)))

	families, err := r.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "netser_context_stream_bytes_total")
	assert.Contains(t, names, "netser_logging_pending_write_length")
}
