// Package constants holds tunables shared across the DMA engine manager
// and the signal delivery core.
package constants

import "time"

// Hardware geometry. VH = host (vector host), VE = accelerator (vector
// engine), matching the naming the original implementation uses.
const (
	// NumDesc is the number of hardware descriptor slots in the DMA ring.
	NumDesc = 32

	// HwMaxLength is the maximum number of bytes a single hardware
	// descriptor can transfer.
	HwMaxLength = 0x1000000 // 16 MiB

	// HostPageShift / HostPageSize describe the host virtual memory page.
	HostPageShift = 12
	HostPageSize  = 1 << HostPageShift

	// AccelPageShift / AccelPageSize describe the accelerator's page,
	// which the hardware always treats as 2MiB regardless of the host's
	// actual huge-page size (huge pages are multiples of 2MiB, so the
	// DMA manager's splitting logic only ever needs to reason about one
	// accelerator page size).
	AccelPageShift = 21
	AccelPageSize  = 1 << AccelPageShift

	// MaxRequestLength is the largest length accepted by the DMA API
	// before splitting.
	MaxRequestLength = 0x7FFF_FFFF_FFFF_FFF8

	// AlignmentBytes is the mandatory alignment for request offsets and
	// lengths.
	AlignmentBytes = 8
)

// Timing constants for the interrupt helper worker and polling paths.
const (
	// InterruptPollTimeout bounds how long the interrupt helper worker
	// waits for a hardware completion interrupt before re-checking
	// should_stop and retrying. Guards against a lost interrupt wedging
	// shutdown.
	InterruptPollTimeout = 50 * time.Millisecond

	// HaltBusyWaitInterval is the spin interval while waiting for
	// ctl_status to report Halt after post_stop.
	HaltBusyWaitInterval = 10 * time.Microsecond

	// HaltBusyWaitTimeout bounds the post_stop busy-wait.
	HaltBusyWaitTimeout = 5 * time.Second

	// DeadTaskPollInterval is how often the stopping-monitor worker polls
	// the driver's death-notification attribute file when no processes
	// exist to wait on via poll(2).
	DeadTaskPollInterval = 200 * time.Millisecond
)

// Signal delivery constants.
const (
	// NumSignals is the size of the signal-handler table; signal numbers
	// are 1..NumSignals inclusive, word 0 covers 1-64.
	NumSignals = 128

	// NumSignalWords is the number of 64-bit words needed to hold a
	// pending/blocked mask covering NumSignals signals. The original
	// implementation's psm_get_next_ve_signal only examined word 0; this
	// reimplementation iterates every word (see DESIGN.md open question).
	NumSignalWords = NumSignals / 64

	// LshmScratchSize is the size in bytes of the local-shared-memory
	// scratch region saved and restored across signal delivery.
	LshmScratchSize = 256

	// HandlerStackFrameSize is the handler-local scratch area reserved
	// below the saved context in the sigframe.
	HandlerStackFrameSize = 176
)

// Environment variable names consumed by the core-dump session.
const (
	EnvCorePattern = "CORE_FILE"
	EnvSysfsRoot   = "VE_SYSFS_PATH"
	EnvHelperPath  = "HELPER_PATH"
)
