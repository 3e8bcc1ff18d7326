package sig

import "sync"

// SigInfo is the payload captured at generation time and carried
// through to the handler's siginfo frame field. Code/addr mirror the
// subset of POSIX siginfo_t fields the accelerator ABI actually reads;
// the rest of the frame's siginfo area is opaque bytes this package
// never interprets.
type SigInfo struct {
	Signo int32
	Code  int32
	Errno int32
	PID   int32
	UID   int32
	Addr  uint64 // faulting address for synchronous signals
}

// SigRecord is one pending signal in a task's queue: a signal number, a
// flag distinguishing synchronous-from-exception from asynchronously
// generated, and the siginfo payload (spec section 3).
type SigRecord struct {
	Signal        int
	Synchronous   bool
	Info          SigInfo
}

// SigQueue is a task's per-signal ordered list of pending records plus
// the aggregated pending mask (spec section 4.4). It owns its records
// directly by value in a slice, not via the intrusive doubly-linked
// list the original implementation uses: a record belongs to exactly
// one queue for its lifetime, so a plain owned slice already encodes
// that invariant without pointer bookkeeping (see DESIGN.md note on
// intrusive linked lists).
type SigQueue struct {
	mu      sync.Mutex
	pending Mask
	records []SigRecord

	// MaxPending is the process's signal-pending resource limit: once
	// len(records) would exceed it, Enqueue drops the record (but still
	// sets the mask bit) unless overrideRlimit is true. Zero means
	// unlimited.
	MaxPending int
}

// NewSigQueue creates an empty queue with the given pending-record
// limit (0 = unlimited).
func NewSigQueue(maxPending int) *SigQueue {
	return &SigQueue{MaxPending: maxPending}
}

// Enqueue allocates a record for sig. Non-real-time signals coalesce:
// if a record with the same number is already queued, Enqueue is a
// no-op beyond ensuring the mask bit is set (spec section 4.4), and
// reports queued=true since the signal is still represented. If the
// pending-record count would exceed MaxPending and overrideRlimit is
// false, the record is dropped but the mask bit is still set — the one
// documented exception to invariant 4 (a pending bit with no backing
// record) — and Enqueue reports queued=false so a caller can
// distinguish a genuine rlimit drop from a coalesced duplicate.
func (q *SigQueue) Enqueue(sigNum int, info SigInfo, synchronous bool, overrideRlimit bool) (queued bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending.Set(sigNum)

	if !IsRealTime(sigNum) {
		for _, r := range q.records {
			if r.Signal == sigNum {
				return true
			}
		}
	}

	if q.MaxPending > 0 && len(q.records) >= q.MaxPending && !overrideRlimit {
		return false
	}

	q.records = append(q.records, SigRecord{Signal: sigNum, Synchronous: synchronous, Info: info})
	return true
}

// Dequeue returns the next signal to deliver given the task's currently
// blocked mask, following spec section 4.4's tie-break rules:
//  1. effective = pending &^ blocked; none pending if empty.
//  2. restrict to the synchronous subset if it intersects effective.
//  3. choose the lowest-numbered member.
//  4. remove the oldest record with that number (or just clear the bit
//     if rate-limiting had already dropped every record of it).
//
// It returns signal 0 and ok=false if nothing is deliverable.
func (q *SigQueue) Dequeue(blocked Mask) (sig int, info SigInfo, synchronous bool, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	effective := q.pending.AndNot(blocked)
	if effective.IsZero() {
		return 0, SigInfo{}, false, false
	}

	if sync := effective.And(SynchronousSignals); !sync.IsZero() {
		effective = sync
	}

	chosen, ok := effective.LowestSet()
	if !ok {
		return 0, SigInfo{}, false, false
	}

	for i, r := range q.records {
		if r.Signal == chosen {
			q.records = append(q.records[:i], q.records[i+1:]...)
			if !q.hasRecordLocked(chosen) {
				q.pending.Clear(chosen)
			}
			return chosen, r.Info, r.Synchronous, true
		}
	}

	// Rate-limit exception: the bit was set with no backing record.
	q.pending.Clear(chosen)
	return chosen, SigInfo{}, false, true
}

// Remove deletes every record of sig and clears its mask bit (spec
// section 4.4, used by GroupCoordinator's MaskSignal action).
func (q *SigQueue) Remove(sig int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(sig)
}

func (q *SigQueue) removeLocked(sig int) {
	kept := q.records[:0]
	for _, r := range q.records {
		if r.Signal != sig {
			kept = append(kept, r)
		}
	}
	q.records = kept
	q.pending.Clear(sig)
}

// RemoveSet removes every record whose signal is in set, clearing each
// bit (used by GroupCoordinator's Continue action to drop stopping
// signals).
func (q *SigQueue) RemoveSet(set Mask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.records[:0]
	for _, r := range q.records {
		if !set.Test(r.Signal) {
			kept = append(kept, r)
		}
	}
	q.records = kept
	q.pending = q.pending.AndNot(set)
}

func (q *SigQueue) hasRecordLocked(sig int) bool {
	for _, r := range q.records {
		if r.Signal == sig {
			return true
		}
	}
	return false
}

// PendingMask returns a snapshot of the aggregated pending mask.
func (q *SigQueue) PendingMask() Mask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Len returns the number of backing records currently queued (for
// tests exercising the coalesce-vs-realtime behavior, spec S3).
func (q *SigQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}
