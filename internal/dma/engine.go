package dma

import (
	"sync"
	"time"

	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/hwreg"
	"github.com/veos-go/vacore/internal/logging"
	"github.com/veos-go/vacore/internal/telemetry"
	"github.com/veos-go/vacore/internal/xlate"
)

// Config gathers an Engine's collaborators. Regs and Interrupt are the
// only hardware-facing pieces; Translator is the virtual-to-physical
// collaborator the splitter calls into.
type Config struct {
	Regs       hwreg.Registers
	Translator xlate.Translator
	// Interrupt delivers a value each time the hardware raises a
	// completion interrupt. A nil channel is valid: the helper worker
	// then relies solely on its poll timeout to make progress.
	Interrupt <-chan struct{}
	Logger    *logging.Logger

	// HwMax overrides the hardware per-descriptor length maximum the
	// splitter enforces. Zero means constants.HwMaxLength.
	HwMax uint64

	// RingSize overrides the descriptor ring's slot count. Zero means
	// constants.NumDesc. Tests use a small ring to exercise wait-queue
	// and cancellation behavior without posting thousands of fragments.
	RingSize int

	// Observer records transfer and ring-occupancy observations. Nil
	// means telemetry.NoOpObserver.
	Observer telemetry.Observer
}

// Engine owns a HwDescRing, a FIFO wait queue of not-yet-posted
// ReqEntry, and an interrupt helper worker. One mutex protects the
// ring, the wait queue, used_begin, used_count and shouldStop; no other
// lock is acquired while holding it (spec section 5).
type Engine struct {
	mu sync.Mutex

	ring       *HwDescRing
	regs       hwreg.Registers
	translator xlate.Translator
	interrupt  <-chan struct{}
	logger     *logging.Logger
	observer   telemetry.Observer

	hwMax   uint64
	numDesc int

	slots     []*ReqEntry
	usedBegin int
	usedCount int
	waitQueue []*ReqEntry

	shouldStop bool
	helperDone chan struct{}
}

// Open creates the engine: maps control registers (via cfg.Regs, already
// mapped by the caller), clears every descriptor slot — stopping the
// ring first if it was not already halted — initializes used_begin from
// the hardware read cursor, and launches the interrupt helper worker.
func Open(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = telemetry.NoOpObserver{}
	}
	ring := NewHwDescRing(cfg.Regs, cfg.RingSize)
	hwMax := cfg.HwMax
	if hwMax == 0 {
		hwMax = constants.HwMaxLength
	}

	if ring.CtlStatus()&statusBitHalted == 0 {
		ring.PostStop(busyWaitSpin)
	}
	for i := 0; i < ring.NumDesc(); i++ {
		ring.Clear(i)
	}

	e := &Engine{
		ring:       ring,
		regs:       cfg.Regs,
		translator: cfg.Translator,
		interrupt:  cfg.Interrupt,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		hwMax:      hwMax,
		numDesc:    ring.NumDesc(),
		slots:      make([]*ReqEntry, ring.NumDesc()),
		usedBegin:  ring.ReadPtr(),
		helperDone: make(chan struct{}),
	}

	go e.helperLoop()
	return e, nil
}

func busyWaitSpin() {
	time.Sleep(constants.HaltBusyWaitInterval)
}

// Submit validates and splits req, then places as many fragments as fit
// into free descriptor slots, pushing the remainder to the wait queue,
// and posts the start bit if anything was placed. The mutex is held from
// the point fragments begin landing in the ring until post_start.
func (e *Engine) Submit(req Request) (*ReqList, error) {
	fragments, err := Split(req, e.translator, e.hwMax)
	if err != nil {
		e.observer.ObserveTransferError(errorCodeLabel(err))
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.shouldStop {
		e.observer.ObserveTransferError(errorCodeLabel(ErrShutdown))
		return nil, ErrShutdown
	}

	rl := newReqList(&e.mu)
	rl.Entries = make([]*ReqEntry, 0, len(fragments))

	posted := false
	for i, frag := range fragments {
		entry := newReqEntry(rl, i, frag.SrcPhys, frag.DstPhys, frag.Length, frag.SkipProtCheck)
		rl.Entries = append(rl.Entries, entry)

		if e.usedCount < e.numDesc {
			slot := (e.usedBegin + e.usedCount) % e.numDesc
			e.postEntryLocked(slot, entry)
			posted = true
		} else {
			e.waitQueue = append(e.waitQueue, entry)
		}
	}

	if posted {
		e.ring.PostStart()
	}
	return rl, nil
}

// postEntryLocked writes entry into slot, marks it Posted and grows the
// used range. Caller holds e.mu.
func (e *Engine) postEntryLocked(slot int, entry *ReqEntry) {
	e.ring.Write(slot, entry)
	entry.Status = StatusPosted
	entry.SlotIndex = slot
	entry.PostedAt = time.Now()
	e.slots[slot] = entry
	e.usedCount++
	e.observer.ObserveRingOccupancy(e.usedCount)
}

// observeTerminalLocked reports a fragment's terminal status and, if it
// was ever posted, the latency from posting to a descriptor slot to the
// terminal status.
func (e *Engine) observeTerminalLocked(entry *ReqEntry) {
	var latency float64
	if !entry.PostedAt.IsZero() {
		latency = time.Since(entry.PostedAt).Seconds()
	}
	e.observer.ObserveTransfer(terminalStatusLabel(entry.Status), entry.LengthFragment, latency)
	if entry.Status == StatusFailed {
		e.observer.ObserveTransferError(errorCodeLabel(ErrHardware))
	}
}

func terminalStatusLabel(s Status) string {
	switch s {
	case StatusCompleted:
		return "ok"
	case StatusFailed:
		return "error"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Test derives rl's aggregated status without blocking.
func (e *Engine) Test(rl *ReqList) AggregatedStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return rl.derive()
}

// Wait blocks on rl's condition variable while its status is
// NotFinished and the engine is not shutting down. A NotFinished status
// at exit (because the engine shut down) is reported as Canceled.
func (e *Engine) Wait(rl *ReqList) AggregatedStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	for rl.derive() == AggNotFinished && !e.shouldStop {
		rl.cond.Wait()
	}
	if st := rl.derive(); st != AggNotFinished {
		return st
	}
	return AggCanceled
}

// TimedWait is Wait bounded by deadline; if it elapses before rl
// finishes, NotFinished is reported as TimedOut instead of Canceled.
func (e *Engine) TimedWait(rl *ReqList, deadline time.Time) AggregatedStatus {
	timer := time.AfterFunc(time.Until(deadline), func() {
		e.mu.Lock()
		rl.cond.Broadcast()
		e.mu.Unlock()
	})
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	for rl.derive() == AggNotFinished && !e.shouldStop && time.Now().Before(deadline) {
		rl.cond.Wait()
	}
	st := rl.derive()
	if st != AggNotFinished {
		return st
	}
	if e.shouldStop {
		return AggCanceled
	}
	return AggTimedOut
}

// Terminate stops the engine, cancels every ReqEntry of rl (removing it
// from the wait queue or clearing its descriptor slot), drains the wait
// queue into the slots that frees, restarts the engine unless shutting
// down, and broadcasts rl's condvar.
func (e *Engine) Terminate(rl *ReqList) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.terminateLocked(rl)
}

func (e *Engine) terminateLocked(rl *ReqList) {
	e.stopRingLocked()

	for _, entry := range rl.Entries {
		switch entry.Status {
		case StatusPending:
			e.removeFromWaitQueueLocked(entry)
			entry.Status = StatusCanceled
			e.observeTerminalLocked(entry)
		case StatusPosted:
			e.removeSlotLocked(entry.SlotIndex)
			entry.Status = StatusCanceled
			entry.SlotIndex = -1
			e.observeTerminalLocked(entry)
		}
	}

	e.drainWaitQueueLocked()
	if !e.shouldStop {
		e.restartRingLocked()
	}
	rl.cond.Broadcast()
}

// TerminateAll cancels every request currently known to the engine: all
// entries posted to a slot and all entries in the wait queue.
func (e *Engine) TerminateAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopRingLocked()

	seen := make(map[*ReqList]bool)
	for i := 0; i < e.numDesc; i++ {
		if entry := e.slots[i]; entry != nil {
			entry.Status = StatusCanceled
			entry.SlotIndex = -1
			e.ring.Clear(i)
			e.slots[i] = nil
			seen[entry.List] = true
			e.observeTerminalLocked(entry)
		}
	}
	e.usedCount = 0
	e.observer.ObserveRingOccupancy(0)

	for _, entry := range e.waitQueue {
		entry.Status = StatusCanceled
		seen[entry.List] = true
		e.observeTerminalLocked(entry)
	}
	e.waitQueue = nil

	if !e.shouldStop {
		e.restartRingLocked()
	}
	for rl := range seen {
		rl.cond.Broadcast()
	}
}

// Close requires used_count == 0; it sets shouldStop, stops the ring,
// and joins the helper worker. It returns ErrBusy if requests are still
// in flight.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.usedCount != 0 {
		e.mu.Unlock()
		return ErrBusy
	}
	e.shouldStop = true
	e.stopRingLocked()
	e.mu.Unlock()

	<-e.helperDone
	return e.regs.Close()
}

func (e *Engine) stopRingLocked() {
	e.ring.PostStop(busyWaitSpin)
}

func (e *Engine) restartRingLocked() {
	if e.usedCount > 0 {
		e.ring.PostStart()
	}
}

func (e *Engine) removeFromWaitQueueLocked(entry *ReqEntry) {
	for i, q := range e.waitQueue {
		if q == entry {
			e.waitQueue = append(e.waitQueue[:i], e.waitQueue[i+1:]...)
			return
		}
	}
}

// removeSlotLocked clears the descriptor at the given absolute slot
// index and compacts the used range so it stays contiguous, shifting
// every entry after it back by one slot. The engine must already be
// halted (see stopRingLocked) so no fetch can race the register copies.
func (e *Engine) removeSlotLocked(slot int) {
	pos := ((slot-e.usedBegin)%e.numDesc + e.numDesc) % e.numDesc

	for p := pos; p < e.usedCount-1; p++ {
		curIdx := (e.usedBegin + p) % e.numDesc
		nextIdx := (e.usedBegin + p + 1) % e.numDesc

		next := e.slots[nextIdx]
		e.ring.CopySlot(curIdx, nextIdx)
		e.slots[curIdx] = next
		if next != nil {
			next.SlotIndex = curIdx
		}
	}

	lastIdx := (e.usedBegin + e.usedCount - 1) % e.numDesc
	e.ring.Clear(lastIdx)
	e.slots[lastIdx] = nil
	e.usedCount--
	e.observer.ObserveRingOccupancy(e.usedCount)
}

// drainWaitQueueLocked posts as many queued entries as there are free
// slots, preserving FIFO order, and posts start if anything moved.
func (e *Engine) drainWaitQueueLocked() {
	posted := false
	for len(e.waitQueue) > 0 && e.usedCount < e.numDesc {
		entry := e.waitQueue[0]
		e.waitQueue = e.waitQueue[1:]
		slot := (e.usedBegin + e.usedCount) % e.numDesc
		e.postEntryLocked(slot, entry)
		posted = true
	}
	if posted {
		e.ring.PostStart()
	}
}
