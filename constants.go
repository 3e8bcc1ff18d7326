package vacore

import "github.com/veos-go/vacore/internal/constants"

// Re-exported tunables for callers that only need the numbers, not the
// internal package.
const (
	NumDesc        = constants.NumDesc
	HwMaxLength    = constants.HwMaxLength
	HostPageSize   = constants.HostPageSize
	AccelPageSize  = constants.AccelPageSize
	NumSignals     = constants.NumSignals
	NumSignalWords = constants.NumSignalWords
)
