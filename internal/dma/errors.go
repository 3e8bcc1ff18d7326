package dma

import (
	"errors"
	"fmt"
)

// Sentinel error kinds a caller can match with errors.Is. These name the
// same categories the public vacore.Error codes surface; this package
// stays free of the top-level import so it can be tested standalone.
var (
	ErrInvalid     = errors.New("dma: invalid")
	ErrShutdown    = errors.New("dma: shutdown")
	ErrBusy        = errors.New("dma: busy")
	ErrTranslation = errors.New("dma: translation")
	ErrHardware    = errors.New("dma: hardware")
	ErrCanceled    = errors.New("dma: canceled")
	ErrTimedOut    = errors.New("dma: timed out")
)

var errReadOnlyDestination = errors.New("dma: destination is read-only")

// NewSplitError wraps a splitter-internal failure as ErrInvalid; the
// splitter never leaves partial state visible to the Engine on failure.
func NewSplitError(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalid, msg)
}

// NewTranslationError wraps a translate() failure for one endpoint.
func NewTranslationError(pid int32, addr uint64, cause error) error {
	return fmt.Errorf("%w: pid=%d addr=%#x: %v", ErrTranslation, pid, addr, cause)
}

// errorCodeLabel classifies err against the sentinel kinds above for
// Observer.ObserveTransferError, which records by code rather than by
// Go error value.
func errorCodeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalid):
		return "invalid"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrTranslation):
		return "translation"
	case errors.Is(err, ErrHardware):
		return "hardware"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	default:
		return "unknown"
	}
}
