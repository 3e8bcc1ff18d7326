package sig

import (
	"github.com/veos-go/vacore/internal/proctab"
	"github.com/veos-go/vacore/internal/telemetry"
)

// Action is one of GroupCoordinator's group-wide operations (spec
// section 4.6).
type Action int

const (
	ActContinue Action = iota
	ActStop
	ActStopIfHostStopped
	ActCleanThread
	ActMaskSignal
)

func (a Action) String() string {
	switch a {
	case ActContinue:
		return "continue"
	case ActStop:
		return "stop"
	case ActStopIfHostStopped:
		return "stop_if_host_stopped"
	case ActCleanThread:
		return "clean_thread"
	case ActMaskSignal:
		return "mask_signal"
	default:
		return "unknown"
	}
}

// GroupCoordinator applies stop/continue/mask-clear actions to every
// task of a thread group with the documented lock order: registry
// (global_task_list) -> sighand -> task -> mm -> core (core write lock
// taken outside task where both are needed).
type GroupCoordinator struct {
	registry *Registry
	proctab  *proctab.Table
	observer telemetry.Observer
}

// NewGroupCoordinator creates a coordinator over registry and proctab.
// A nil observer defaults to telemetry.NoOpObserver.
func NewGroupCoordinator(registry *Registry, pt *proctab.Table, observer telemetry.Observer) *GroupCoordinator {
	if observer == nil {
		observer = telemetry.NoOpObserver{}
	}
	return &GroupCoordinator{registry: registry, proctab: pt, observer: observer}
}

// Apply runs action against every thread of the group led by
// groupLeaderPid. sig is only meaningful for ActMaskSignal.
func (g *GroupCoordinator) Apply(groupLeaderPid int32, action Action, sig int) {
	g.observer.ObserveGroupAction(action.String())

	guard := newOrderGuard()
	guard.acquire(levelGlobalTaskList)
	members := g.registry.GroupMembers(groupLeaderPid)
	guard.release()

	for _, ts := range members {
		if !g.applyOne(ts, action, sig, groupLeaderPid) {
			break
		}
	}
}

// applyOne applies action to a single thread, returning false if
// iteration should stop early (StopIfHostStopped's "break" semantics,
// spec section 4.6).
func (g *GroupCoordinator) applyOne(ts *TaskState, action Action, sig int, requestingPid int32) bool {
	guard := newOrderGuard()

	guard.acquire(levelSighand)
	ts.SighandMu.Lock()
	defer func() {
		ts.SighandMu.Unlock()
		guard.release()
	}()

	switch action {
	case ActContinue:
		ts.Queue.RemoveSet(StoppingSignals)
		g.setRunningLocked(ts, guard)

	case ActStop:
		g.stopLocked(ts, guard)

	case ActStopIfHostStopped:
		if g.proctab != nil {
			task, ok := g.proctab.FindTask(ts.Pid)
			if !ok || task.HostState != proctab.HostStateStopped {
				return false
			}
		}
		g.stopLocked(ts, guard)

	case ActCleanThread:
		if ts.Pid == requestingPid {
			return true
		}
		g.stopLocked(ts, guard)

	case ActMaskSignal:
		ts.Queue.Remove(sig)
	}

	return true
}

// setRunningLocked sets the task's state to Running, unless a mid-flight
// exception requires Wait (spec section 4.6's Continue caveat): modeled
// here as "set Wait instead while a core dump is in flight
// (OngoingAction == ActionCoreDump)."
func (g *GroupCoordinator) setRunningLocked(ts *TaskState, guard *orderGuard) {
	guard.acquire(levelTask)
	ts.TaskMu.Lock()
	if ts.OngoingAction == ActionCoreDump {
		ts.State = StateWait
	} else {
		ts.State = StateRunning
	}
	ts.TaskMu.Unlock()
	guard.release()
}

// stopLocked sets state to Stop and, if the thread is current on its
// core, halts the core and snapshots registers (spec section 4.6).
// Core is acquired outside task per spec section 5's "core (write)
// taken outside task_lock where both are needed" — here that means
// after releasing the task lock, the core write lock is taken to
// perform the halt/snapshot, matching the five-level order
// (task=3, mm=4, core=5) without holding task across it.
func (g *GroupCoordinator) stopLocked(ts *TaskState, guard *orderGuard) {
	guard.acquire(levelTask)
	ts.TaskMu.Lock()
	ts.State = StateStop
	onCore := ts.OnCore
	ts.TaskMu.Unlock()
	guard.release()

	if onCore {
		guard.acquire(levelCore)
		ts.CoreMu.Lock()
		// Real hardware halt + register snapshot happens here; this
		// reimplementation has no physical core to halt, so the
		// snapshot is a no-op beyond recording that the halt occurred.
		ts.CoreMu.Unlock()
		guard.release()
	}
}
