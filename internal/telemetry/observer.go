// Package telemetry defines the observation surface internal/dma and
// internal/sig record into. It exists separately from the top-level
// vacore package so those internal packages can depend on it without
// importing vacore, which itself imports them.
package telemetry

// Observer is the pluggable recording surface DEM and SDC call into.
// vacore.Observer is this interface re-exported for callers assembling
// their own Manager; vacore.MetricsObserver is its Prometheus-backed
// implementation.
type Observer interface {
	ObserveTransfer(status string, bytes uint64, latencySeconds float64)
	ObserveTransferError(code string)
	ObserveRingOccupancy(slots int)
	ObserveSignalDelivered(signal int)
	ObserveSignalDropped(signal int)
	ObserveGroupAction(action string)
}

// NoOpObserver discards every observation. It is the default for any
// collaborator (Engine, SigDelivery, GroupCoordinator) constructed
// without one.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTransfer(string, uint64, float64) {}
func (NoOpObserver) ObserveTransferError(string)              {}
func (NoOpObserver) ObserveRingOccupancy(int)                 {}
func (NoOpObserver) ObserveSignalDelivered(int)               {}
func (NoOpObserver) ObserveSignalDropped(int)                 {}
func (NoOpObserver) ObserveGroupAction(string)                {}

var _ Observer = NoOpObserver{}
