package dma

import (
	"time"

	"github.com/veos-go/vacore/internal/constants"
)

// helperLoop is the Engine's single interrupt helper worker. It waits
// for a hardware completion interrupt (or the poll timeout, so a lost
// interrupt can't stall progress), retires every fetched slot between
// used_begin and the hardware's read cursor, drains the wait queue into
// whatever it frees, and wakes any ReqList whose status just became
// terminal.
func (e *Engine) helperLoop() {
	defer close(e.helperDone)

	for {
		e.awaitInterruptOrTimeout()

		e.mu.Lock()
		stop := e.retireAndDrainLocked()
		e.mu.Unlock()

		if stop {
			return
		}
	}
}

func (e *Engine) awaitInterruptOrTimeout() {
	if e.interrupt == nil {
		<-time.After(constants.InterruptPollTimeout)
		return
	}
	select {
	case <-e.interrupt:
	case <-time.After(constants.InterruptPollTimeout):
	}
}

// retireAndDrainLocked performs one helper iteration under the engine
// mutex and returns whether the worker should exit afterward.
func (e *Engine) retireAndDrainLocked() bool {
	cursor := e.ring.ReadPtr()
	terminated := make(map[*ReqList]bool)

	for e.usedCount > 0 {
		slot := e.usedBegin
		if slot == cursor {
			break
		}

		entry := e.slots[slot]
		if entry != nil {
			if e.ring.SlotTransferOK(slot) {
				entry.Status = StatusCompleted
			} else {
				entry.Status = StatusFailed
			}
			entry.SlotIndex = -1
			if entry.List != nil {
				terminated[entry.List] = true
			}
			e.observeTerminalLocked(entry)
		}

		e.slots[slot] = nil
		e.ring.Clear(slot)
		e.usedBegin = (e.usedBegin + 1) % e.numDesc
		e.usedCount--
		e.observer.ObserveRingOccupancy(e.usedCount)
	}

	e.drainWaitQueueLocked()

	for rl := range terminated {
		if rl.derive() != AggNotFinished {
			rl.cond.Broadcast()
		}
	}

	return e.shouldStop
}
