package dma

import "time"

// Status is the terminal-or-not state of a single ReqEntry.
type Status int

const (
	StatusPending Status = iota
	StatusPosted
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusPosted:
		return "Posted"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is one of the three states a ReqEntry
// never leaves once reached.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// PhysFragment is one endpoint of a ReqEntry after translation: a
// physical address plus the kind context the descriptor needs to
// interpret it (VaPhys vs VaRegPhys vs HostPhys). Whether the
// protection check is skipped is carried by ReqEntry.SkipProtCheck.
type PhysFragment struct {
	Kind Kind
	Addr uint64
}

// ReqEntry is a single hardware-descriptor-sized sub-request produced
// by splitting a user Request along page and length limits. Invariant
// (spec section 3): a ReqEntry is either (a) sitting in the Engine's
// wait queue with Status Pending, or (b) occupying exactly one
// descriptor slot with Status Posted, or (c) terminal, owned by
// neither. SlotIndex is -1 except while Posted.
type ReqEntry struct {
	SrcPhys        PhysFragment
	DstPhys        PhysFragment
	LengthFragment uint64
	SkipProtCheck  bool

	Status    Status
	SlotIndex int

	// PostedAt is when this fragment first occupied a descriptor slot,
	// used to compute ObserveTransfer's latency on terminal status.
	PostedAt time.Time

	// List and Index let the Engine report completion back to the
	// owning ReqList without holding a strong reference cycle
	// (ReqEntry -> ReqList -> ReqEntry); the back-pointer is a plain
	// pointer plus a stable index, resolved only under the Engine
	// mutex which the ReqList's owner never holds concurrently with
	// the Engine (see design note on cyclic references).
	List  *ReqList
	Index int
}

// newReqEntry builds a fragment in Pending status, not yet owned by any
// slot or queue.
func newReqEntry(list *ReqList, index int, src, dst PhysFragment, length uint64, skipProtCheck bool) *ReqEntry {
	return &ReqEntry{
		SrcPhys:        src,
		DstPhys:        dst,
		LengthFragment: length,
		SkipProtCheck:  skipProtCheck,
		Status:         StatusPending,
		SlotIndex:      -1,
		List:           list,
		Index:          index,
	}
}
