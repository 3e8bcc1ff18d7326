package vacore

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veos-go/vacore/internal/sig"
)

func TestMetricsObserverRecordsTransfer(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveTransfer("ok", 4096, 0.002)
	obs.ObserveTransfer("ok", 1024, 0.001)
	obs.ObserveTransfer("canceled", 0, 0.0005)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transfersTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transfersTotal.WithLabelValues("canceled")))
	assert.Equal(t, float64(5120), testutil.ToFloat64(m.transferBytes.WithLabelValues("ok")))
}

func TestMetricsObserverRecordsTransferError(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveTransferError(string(CodeHardware))
	obs.ObserveTransferError(string(CodeHardware))
	obs.ObserveTransferError(string(CodeTimedOut))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.transferErrors.WithLabelValues(string(CodeHardware))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transferErrors.WithLabelValues(string(CodeTimedOut))))
}

func TestMetricsObserverRingOccupancyIsAGauge(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveRingOccupancy(5)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ringOccupancy))

	obs.ObserveRingOccupancy(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ringOccupancy))
}

func TestMetricsObserverSignalCounters(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveSignalDelivered(sig.SIGUSR1)
	obs.ObserveSignalDelivered(sig.SIGUSR1)
	obs.ObserveSignalDropped(sig.SIGRTMIN)
	obs.ObserveGroupAction("stop")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.signalsDelivered.WithLabelValues(signalLabel(sig.SIGUSR1))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.signalsDropped.WithLabelValues(signalLabel(sig.SIGRTMIN))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.groupActions.WithLabelValues("stop")))
}

func TestNoOpObserverDoesNothing(t *testing.T) {
	var obs Observer = NoOpObserver{}
	assert.NotPanics(t, func() {
		obs.ObserveTransfer("ok", 10, 0.1)
		obs.ObserveTransferError(string(CodeInvalid))
		obs.ObserveRingOccupancy(1)
		obs.ObserveSignalDelivered(sig.SIGTERM)
		obs.ObserveSignalDropped(sig.SIGTERM)
		obs.ObserveGroupAction("continue")
	})
}

func TestMetricsRegistryGathersRegisteredCollectors(t *testing.T) {
	m := NewMetrics()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
