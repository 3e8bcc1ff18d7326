package dma

import (
	"math"

	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/xlate"
)

// FragmentSpec is one physically-contiguous piece produced by splitting
// a Request, before it has been attached to a ReqList or posted to a
// slot.
type FragmentSpec struct {
	SrcPhys       PhysFragment
	DstPhys       PhysFragment
	Length        uint64
	SkipProtCheck bool
}

// Split walks src and dst in lockstep, producing ReqEntry fragments such
// that every fragment is physically contiguous, no fragment exceeds
// hwMax, and the concatenation exactly reproduces the original request.
// On any translation failure it returns an error and no partial result;
// nothing is exposed to the Engine. hwMax is a parameter (rather than a
// package constant) so callers — and tests — can exercise the hardware's
// actual per-descriptor maximum.
func Split(req Request, translator xlate.Translator, hwMax uint64) ([]FragmentSpec, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	skipProtCheck := req.Src.Kind == VaVirtNoProtCheck || req.Dst.Kind == VaVirtNoProtCheck

	var fragments []FragmentSpec
	remaining := req.Length
	srcPtr := req.Src.Addr
	dstPtr := req.Dst.Addr

	for remaining > 0 {
		srcPhysAddr, srcPageEnd, err := resolve(translator, spaceFor(req.Src.Kind), req.Src.Kind, req.Src.Pid, srcPtr, false, false)
		if err != nil {
			return nil, err
		}
		dstPhysAddr, dstPageEnd, err := resolve(translator, spaceFor(req.Dst.Kind), req.Dst.Kind, req.Dst.Pid, dstPtr, true, skipProtCheck)
		if err != nil {
			return nil, err
		}

		length := minUint64(remaining, srcPageEnd-srcPtr, dstPageEnd-dstPtr, hwMax)
		length -= length % constants.AlignmentBytes
		if length == 0 {
			return nil, NewSplitError("fragment computed to zero length")
		}

		fragments = append(fragments, FragmentSpec{
			SrcPhys:       PhysFragment{Kind: physKindFor(req.Src.Kind), Addr: srcPhysAddr},
			DstPhys:       PhysFragment{Kind: physKindFor(req.Dst.Kind), Addr: dstPhysAddr},
			Length:        length,
			SkipProtCheck: skipProtCheck,
		})

		srcPtr += length
		dstPtr += length
		remaining -= length
	}

	return fragments, nil
}

// spaceFor reports which page table a given address kind resolves
// against.
func spaceFor(kind Kind) xlate.Space {
	if kind == HostVirt {
		return xlate.Host
	}
	return xlate.Accelerator
}

// resolve returns the physical address and the page end (exclusive
// upper bound at which a new translation would be required) for one
// endpoint. Physical kinds resolve by identity with no page boundary.
func resolve(translator xlate.Translator, space xlate.Space, kind Kind, pid int32, addr uint64, wantWrite, skipProt bool) (phys, pageEnd uint64, err error) {
	if !kind.IsVirtual() {
		return addr, math.MaxUint64, nil
	}

	res, terr := translator.Translate(space, pid, addr, wantWrite)
	if terr != nil {
		return 0, 0, NewTranslationError(pid, addr, terr)
	}
	if wantWrite && !skipProt && !res.Protection.Write {
		return 0, 0, NewTranslationError(pid, addr, errReadOnlyDestination)
	}
	return res.PhysAddr, xlate.PageEnd(addr, res.PageSize), nil
}

// physKindFor maps a request-level address kind to the physical kind a
// descriptor slot records once translation has resolved it.
func physKindFor(kind Kind) Kind {
	switch kind {
	case HostVirt:
		return HostPhys
	case VaVirt, VaVirtNoProtCheck:
		return VaPhys
	default:
		return kind
	}
}

func minUint64(vs ...uint64) uint64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
