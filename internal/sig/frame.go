package sig

import (
	"encoding/binary"
	"fmt"

	"github.com/veos-go/vacore/internal/constants"
)

// Trampoline is the bit-exact 40-byte instruction sequence (spec
// section 6) placed at the start of every signal frame. The accelerator
// executes it when a handler returns, re-entering the supervisor to
// restore context. These are part of the ABI with the accelerator's
// user-mode code, not emitted machine code this package generates, so
// they're carried as a constant byte pattern rather than assembled.
var Trampoline = [5]uint64{
	0x462eaeae00000000,
	0x012e008e00000018,
	0x45000f0000000000,
	0x310003ae00000000,
	0x3f00000000000000,
}

// Register-file geometry. The accelerator's saved context is a fixed
// number of general-purpose registers plus a smaller flag-register
// file; the exact count is part of the hardware ABI and, like the
// trampoline, is treated as a specification constant.
const (
	numGPRegs   = 64
	numFlagRegs = 8
)

// Wire byte sizes, summed into FrameSize below. Computed the way
// xport.go's DMASubmissionRequest sizes its wire record: named byte
// constants rather than unsafe.Sizeof, since SigFrame carries bool
// fields (AltStack.OnStack, Fatal) that have no wire
// representation of their own and are instead folded into flag bits.
const (
	trampolineSize = 5 * 8
	sigInfoSize    = 4 + 4 + 4 + 4 + 4 + 4 + 8 // Signo,Code,Errno,Pid,Uid,pad,Addr
	stackWireSize  = 8 + 4 + 4 + 8             // ss_sp, ss_flags, pad, ss_size
	mcontextSize   = numGPRegs*8 + numFlagRegs*8
	ucontextSize   = 8 /*flags*/ + 8 /*link*/ + stackWireSize + 8 /*sigmask*/ + mcontextSize

	// FrameSize is the fixed, bit-stable size of a sigframe (spec
	// section 3: "Size is fixed at compile time").
	FrameSize = trampolineSize + sigInfoSize + ucontextSize + constants.LshmScratchSize + 4 /*fatal*/ + 4 /*signum*/
)

const (
	stackFlagOnStack = 1 << 0
)

// MContext is the saved accelerator register file: every general and
// flag register, captured verbatim on handler entry and restored
// bit-exact by RestoreContext (spec section 8 round-trip law).
type MContext struct {
	GPRegs   [numGPRegs]uint64
	FlagRegs [numFlagRegs]uint64
}

// SigFrame is the stack frame written to accelerator memory on handler
// entry (spec section 3/6): trampoline, saved siginfo, saved user
// context, saved signal mask, alt-stack descriptor, local-shared-memory
// scratch, a fatal flag and the signal number.
type SigFrame struct {
	Trampoline  [5]uint64
	Info        SigInfo
	CtxFlags    uint64
	CtxLink     uint64 // points at Trampoline: the handler's return address
	AltStack    AltStack
	SavedMask   uint64 // word 0 of the blocked mask at delivery time
	MContext    MContext
	LshmScratch [constants.LshmScratchSize]byte
	Fatal       bool
	Signum      int32
}

// Marshal encodes f in the wire's native little-endian layout,
// following the same manual field-by-field idiom as
// xport.DMASubmissionRequest.Marshal.
func (f *SigFrame) Marshal() []byte {
	buf := make([]byte, FrameSize)
	off := 0

	for _, w := range f.Trampoline {
		binary.LittleEndian.PutUint64(buf[off:off+8], w)
		off += 8
	}

	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(f.Info.Signo))
	binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(f.Info.Code))
	binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(f.Info.Errno))
	binary.LittleEndian.PutUint32(buf[off+12:off+16], uint32(f.Info.PID))
	binary.LittleEndian.PutUint32(buf[off+16:off+20], uint32(f.Info.UID))
	off += sigInfoSize - 8
	binary.LittleEndian.PutUint64(buf[off:off+8], f.Info.Addr)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:off+8], f.CtxFlags)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], f.CtxLink)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:off+8], f.AltStack.SP)
	off += 8
	flags := uint32(0)
	if f.AltStack.OnStack {
		flags |= stackFlagOnStack
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], flags)
	off += 8 // ss_flags + pad
	binary.LittleEndian.PutUint64(buf[off:off+8], f.AltStack.Size)
	off += 8

	binary.LittleEndian.PutUint64(buf[off:off+8], f.SavedMask)
	off += 8

	for _, r := range f.MContext.GPRegs {
		binary.LittleEndian.PutUint64(buf[off:off+8], r)
		off += 8
	}
	for _, r := range f.MContext.FlagRegs {
		binary.LittleEndian.PutUint64(buf[off:off+8], r)
		off += 8
	}

	copy(buf[off:off+constants.LshmScratchSize], f.LshmScratch[:])
	off += constants.LshmScratchSize

	fatal := uint32(0)
	if f.Fatal {
		fatal = 1
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], fatal)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(f.Signum))
	off += 4

	return buf
}

// Unmarshal decodes a SigFrame from its wire encoding, the inverse of
// Marshal.
func Unmarshal(buf []byte) (*SigFrame, error) {
	if len(buf) < FrameSize {
		return nil, fmt.Errorf("%w: short sigframe: %d bytes, want %d", ErrInvalid, len(buf), FrameSize)
	}

	f := &SigFrame{}
	off := 0

	for i := range f.Trampoline {
		f.Trampoline[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}

	f.Info.Signo = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	f.Info.Code = int32(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
	f.Info.Errno = int32(binary.LittleEndian.Uint32(buf[off+8 : off+12]))
	f.Info.PID = int32(binary.LittleEndian.Uint32(buf[off+12 : off+16]))
	f.Info.UID = int32(binary.LittleEndian.Uint32(buf[off+16 : off+20]))
	off += sigInfoSize - 8
	f.Info.Addr = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	f.CtxFlags = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	f.CtxLink = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	f.AltStack.SP = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	flags := binary.LittleEndian.Uint32(buf[off : off+4])
	f.AltStack.OnStack = flags&stackFlagOnStack != 0
	off += 8
	f.AltStack.Size = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	f.SavedMask = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8

	for i := range f.MContext.GPRegs {
		f.MContext.GPRegs[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}
	for i := range f.MContext.FlagRegs {
		f.MContext.FlagRegs[i] = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
	}

	copy(f.LshmScratch[:], buf[off:off+constants.LshmScratchSize])
	off += constants.LshmScratchSize

	f.Fatal = binary.LittleEndian.Uint32(buf[off:off+4]) != 0
	off += 4
	f.Signum = int32(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4

	return f, nil
}
