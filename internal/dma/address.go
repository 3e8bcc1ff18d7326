// Package dma implements the DMA Engine Manager: an asynchronous
// request manager over a hardware DMA descriptor ring that moves bytes
// between six address spaces.
package dma

import (
	"fmt"

	"github.com/veos-go/vacore/internal/constants"
)

// Kind is the closed enumeration of address spaces a Request endpoint
// can name.
type Kind int

const (
	// HostVirt is a virtual address in the host supervisor's own
	// address space.
	HostVirt Kind = iota
	// HostPhys is a physical address on the host.
	HostPhys
	// VaVirt is a virtual address in an accelerator process's address
	// space, protection-checked.
	VaVirt
	// VaVirtNoProtCheck is the same as VaVirt but skips the
	// protection-bit verification during translation.
	VaVirtNoProtCheck
	// VaPhys is a physical address on the accelerator.
	VaPhys
	// VaRegPhys is a physical address in the accelerator's register
	// array.
	VaRegPhys
)

func (k Kind) String() string {
	switch k {
	case HostVirt:
		return "HostVirt"
	case HostPhys:
		return "HostPhys"
	case VaVirt:
		return "VaVirt"
	case VaVirtNoProtCheck:
		return "VaVirtNoProtCheck"
	case VaPhys:
		return "VaPhys"
	case VaRegPhys:
		return "VaRegPhys"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// IsVirtual reports whether addresses of this kind carry process-owned
// virtual addresses requiring translation, as opposed to physical
// addresses used directly.
func (k Kind) IsVirtual() bool {
	return k == HostVirt || k == VaVirt || k == VaVirtNoProtCheck
}

// Valid reports whether k is one of the closed set of address kinds.
func (k Kind) Valid() bool {
	return k >= HostVirt && k <= VaRegPhys
}

// Address names one endpoint of a transfer. Pid is meaningful only for
// virtual kinds; physical kinds ignore it.
type Address struct {
	Kind Kind
	Pid  int32
	Addr uint64
}

// Request is a user-level DMA submission: a byte range to copy from one
// address space to another.
type Request struct {
	Src    Address
	Dst    Address
	Length uint64
}

// Validate checks the alignment, length-bound and address-kind
// constraints a Request must satisfy before any state changes. It never
// performs translation; that is the splitter's job.
func (r Request) Validate() error {
	if r.Length == 0 {
		return fmt.Errorf("%w: zero-length request", ErrInvalid)
	}
	if r.Length > constants.MaxRequestLength {
		return fmt.Errorf("%w: length %#x exceeds max %#x", ErrInvalid, r.Length, uint64(constants.MaxRequestLength))
	}
	if r.Length%constants.AlignmentBytes != 0 {
		return fmt.Errorf("%w: length %#x not 8-byte aligned", ErrInvalid, r.Length)
	}
	if r.Src.Addr%constants.AlignmentBytes != 0 {
		return fmt.Errorf("%w: src addr %#x not 8-byte aligned", ErrInvalid, r.Src.Addr)
	}
	if r.Dst.Addr%constants.AlignmentBytes != 0 {
		return fmt.Errorf("%w: dst addr %#x not 8-byte aligned", ErrInvalid, r.Dst.Addr)
	}
	if !r.Src.Kind.Valid() {
		return fmt.Errorf("%w: unknown src kind %d", ErrInvalid, int(r.Src.Kind))
	}
	if !r.Dst.Kind.Valid() {
		return fmt.Errorf("%w: unknown dst kind %d", ErrInvalid, int(r.Dst.Kind))
	}
	return nil
}
