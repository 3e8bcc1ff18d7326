package dma

import (
	"time"

	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/hwreg"
)

// Register layout. A small fixed control header precedes NumDesc
// fixed-stride slot records; every field is a 32-bit register, matching
// hwreg.Registers' flat Load32/Store32 contract. Addresses that don't
// fit one register are split across two consecutive ones, low word
// first.
const (
	regCtrl       = 0x00 // bit0 START, bit1 STOP
	regStatus     = 0x04 // bit0 Halted
	regReadPtr    = 0x08 // current hardware read cursor (slot index)
	slotHeaderEnd = 0x10

	slotStride = 0x20 // 8 words per slot, room for headroom/reserved

	slotOffValid     = 0x00 // bit0 valid, bit1 skip-prot-check, bits4-7 src kind, bits8-11 dst kind
	slotOffLength     = 0x04
	slotOffSrcAddrLo  = 0x08
	slotOffSrcAddrHi  = 0x0C
	slotOffDstAddrLo  = 0x10
	slotOffDstAddrHi  = 0x14
	slotOffStatus     = 0x18 // bit0 transfer-complete, bit1 transfer-error

	ctrlBitStart = 1 << 0
	ctrlBitStop  = 1 << 1

	statusBitHalted = 1 << 0

	slotValidBit     = 1 << 0
	slotSkipProtBit  = 1 << 1
	slotSrcKindShift = 4
	slotDstKindShift = 8

	slotStatusComplete = 1 << 0
	slotStatusError    = 1 << 1
)

// HwDescRing is the typed view over the hardware descriptor table: a
// fixed-size array of numDesc slots plus a handful of control registers.
// It performs no synchronization of its own; the Engine serializes all
// access under its mutex. numDesc is configurable per ring (rather than
// a single package constant) so the same code can drive both the
// production geometry and the small rings integration tests use to
// exercise wait-queue behavior without posting thousands of fragments.
type HwDescRing struct {
	regs    hwreg.Registers
	numDesc int
}

// NewHwDescRing wraps a mapped register file as a descriptor ring with
// numDesc slots. numDesc <= 0 defaults to constants.NumDesc.
func NewHwDescRing(regs hwreg.Registers, numDesc int) *HwDescRing {
	if numDesc <= 0 {
		numDesc = constants.NumDesc
	}
	return &HwDescRing{regs: regs, numDesc: numDesc}
}

// NumDesc returns the ring's slot count.
func (r *HwDescRing) NumDesc() int {
	return r.numDesc
}

func (r *HwDescRing) slotBase(i int) uintptr {
	return slotHeaderEnd + uintptr(i)*slotStride
}

// Clear writes an all-zero descriptor into slot i, required before
// reuse so a stale back-pointer or valid bit can never be observed.
func (r *HwDescRing) Clear(i int) {
	base := r.slotBase(i)
	r.regs.Store32(base+slotOffValid, 0)
	r.regs.Store32(base+slotOffLength, 0)
	r.regs.Store32(base+slotOffSrcAddrLo, 0)
	r.regs.Store32(base+slotOffSrcAddrHi, 0)
	r.regs.Store32(base+slotOffDstAddrLo, 0)
	r.regs.Store32(base+slotOffDstAddrHi, 0)
	r.regs.Store32(base+slotOffStatus, 0)
}

// Write populates slot i with the fragment's source/destination
// kind+physical address, length and protection-check flag. The store is
// finalized with hwreg.Fence before the valid bit is set, so the
// hardware never observes a partially-written descriptor as valid.
func (r *HwDescRing) Write(i int, e *ReqEntry) {
	base := r.slotBase(i)
	r.regs.Store32(base+slotOffLength, uint32(e.LengthFragment))
	r.regs.Store32(base+slotOffSrcAddrLo, uint32(e.SrcPhys.Addr))
	r.regs.Store32(base+slotOffSrcAddrHi, uint32(e.SrcPhys.Addr>>32))
	r.regs.Store32(base+slotOffDstAddrLo, uint32(e.DstPhys.Addr))
	r.regs.Store32(base+slotOffDstAddrHi, uint32(e.DstPhys.Addr>>32))
	r.regs.Store32(base+slotOffStatus, 0)

	ctrl := uint32(0)
	if e.SkipProtCheck {
		ctrl |= slotSkipProtBit
	}
	ctrl |= uint32(e.SrcPhys.Kind) << slotSrcKindShift
	ctrl |= uint32(e.DstPhys.Kind) << slotDstKindShift

	hwreg.Fence()
	r.regs.Store32(base+slotOffValid, ctrl|slotValidBit)
}

// SlotValid reports whether slot i's valid bit is currently set.
func (r *HwDescRing) SlotValid(i int) bool {
	return r.regs.Load32(r.slotBase(i)+slotOffValid)&slotValidBit != 0
}

// SlotTransferOK reports whether a retired slot's status word indicates
// a successful, error-free transfer.
func (r *HwDescRing) SlotTransferOK(i int) bool {
	status := r.regs.Load32(r.slotBase(i) + slotOffStatus)
	return status&slotStatusComplete != 0 && status&slotStatusError == 0
}

// CopySlot copies every field of slot src into slot dst verbatim,
// including the valid bit, without re-fencing. Used only while the
// engine is halted, to compact the used range after a mid-range
// cancellation closes a gap (see Engine.removeSlotLocked).
func (r *HwDescRing) CopySlot(dst, src int) {
	if dst == src {
		return
	}
	srcBase := r.slotBase(src)
	dstBase := r.slotBase(dst)
	for _, off := range []uintptr{slotOffValid, slotOffLength, slotOffSrcAddrLo, slotOffSrcAddrHi, slotOffDstAddrLo, slotOffDstAddrHi, slotOffStatus} {
		r.regs.Store32(dstBase+off, r.regs.Load32(srcBase+off))
	}
}

// PostStart sets the engine's start bit in the control register.
func (r *HwDescRing) PostStart() {
	r.regs.Store32(regCtrl, r.regs.Load32(regCtrl)|ctrlBitStart)
}

// PostStop sets the stop bit and busy-waits until the status register
// reports Halted, giving up after constants.HaltBusyWaitTimeout.
func (r *HwDescRing) PostStop(busyWait func()) {
	r.regs.Store32(regCtrl, r.regs.Load32(regCtrl)|ctrlBitStop)
	deadline := time.Now().Add(constants.HaltBusyWaitTimeout)
	for r.regs.Load32(regStatus)&statusBitHalted == 0 && time.Now().Before(deadline) {
		busyWait()
	}
}

// ReadPtr returns the hardware's current read cursor: the index of the
// next slot the engine will fetch.
func (r *HwDescRing) ReadPtr() int {
	return int(r.regs.Load32(regReadPtr)) % r.numDesc
}

// CtlStatus returns the masked control-status word.
func (r *HwDescRing) CtlStatus() uint32 {
	return r.regs.Load32(regStatus)
}
