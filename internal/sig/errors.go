// Package sig implements the Signal Delivery Core: per-process
// signal-pending machinery that chooses the next signal to deliver,
// builds and restores a handler stack frame inside accelerator memory
// via the DMA engine manager, and coordinates stop/continue/core-dump
// actions across every thread of a thread group.
package sig

import "errors"

// Sentinel error kinds, mirroring internal/dma/errors.go's shape so
// both subsystems' failures funnel through the same vacore.Error codes
// at the public boundary.
var (
	ErrInvalid  = errors.New("sig: invalid")
	ErrNoSignal = errors.New("sig: no pending signal")
)
