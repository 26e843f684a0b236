package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/contractflow/agent/hitl"
	"github.com/BaSui01/contractflow/agent/run"
	"github.com/BaSui01/contractflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProviders snapshots the current global OTel providers
// and restores them via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProviders(t *testing.T) {
	t.Helper()
	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.False(t, p.Enabled())
}

func TestInit_EnabledWithoutEndpoint(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	_, err := Init(context.Background(), config.TelemetryConfig{Enabled: true}, nil)
	assert.Error(t, err)
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "contractflow-test",
		SampleRate:   0.5,
		Insecure:     true,
	}

	p, err := Init(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	assert.True(t, p.Enabled())
	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.False(t, p.Enabled())
}

func TestProviders_Shutdown_Noop(t *testing.T) {
	saveAndRestoreGlobalProviders(t)

	p, err := Init(context.Background(), config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestServiceVersion_TestBinary(t *testing.T) {
	// 测试二进制不带模块版本与 vcs 信息
	assert.Equal(t, "dev", serviceVersion())
}

// =============================================================================
// Instruments
// =============================================================================

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	s, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", agg)
	var total int64
	for _, dp := range s.DataPoints {
		total += dp.Value
	}
	return total
}

func TestInstruments_RecordsOrchestrationEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	in, err := NewInstrumentsWithMeter(mp.Meter("test"))
	require.NoError(t, err)

	in.ObserveAgent("sequential_team", "parser", "parse", "risk", 2*time.Millisecond, nil)
	in.ObserveAgent("sequential_team", "risk_analyzer", "risk_analysis", "risk", time.Millisecond, errors.New("boom"))
	in.ObserveTransition(run.StateCreated, run.StateRunning)
	in.ObserveGate(hitl.KindRisk, hitl.StatusPending, 0)
	in.ObserveGate(hitl.KindRisk, hitl.StatusResolved, time.Minute)

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["contractflow.agent.calls"]))
	assert.Equal(t, int64(1), sumOf(t, data["contractflow.run.transitions"]))
	assert.Equal(t, int64(2), sumOf(t, data["contractflow.gate.events"]))

	wait, ok := data["contractflow.gate.wait"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, wait.DataPoints, 1)
	assert.Equal(t, uint64(1), wait.DataPoints[0].Count)
}

func TestNewInstruments_GlobalNoop(t *testing.T) {
	in, err := NewInstruments()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		in.ObserveTransition(run.StateRunning, run.StateFailed)
	})
}
