package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	internaltelemetry "github.com/sushant-115/gojoheap/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.Nil(t, tel.Registry)
	require.Empty(t, tel.MetricsAddr)

	// No-op instruments accept writes.
	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	require.NoError(t, err)
	metrics.RecordHit()

	_, span := tel.Tracer.Start(context.Background(), "noop")
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ExportsBufferPoolMetrics(t *testing.T) {
	tel, shutdown, err := New(Config{
		Enabled:        true,
		ServiceName:    "gojoheap-test",
		PrometheusAddr: "127.0.0.1:0",
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, shutdown(context.Background())) })

	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	require.NoError(t, err)
	metrics.RecordHit()
	metrics.RecordHit()
	metrics.RecordEviction()
	metrics.PinnedDelta(3)

	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		// Dots may survive or be escaped depending on the name translation.
		names = append(names, strings.ReplaceAll(f.GetName(), ".", "_"))
	}
	joined := strings.Join(names, " ")
	require.Contains(t, joined, "bufferpool_hits")
	require.Contains(t, joined, "bufferpool_evictions")
	require.Contains(t, joined, "bufferpool_pinned_frames")

	resp, err := http.Get("http://" + tel.MetricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "bufferpool")

	ctx, span := tel.Tracer.Start(context.Background(), "insert")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, ctx.Err())
}
