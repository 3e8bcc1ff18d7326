package sig

import (
	"sync"

	"github.com/veos-go/vacore/internal/constants"
)

// OngoingAction records a task's in-flight cross-cutting action (spec
// section 3: ongoing_action).
type OngoingAction int

const (
	ActionNone OngoingAction = iota
	ActionCoreDump
	ActionGroupExit
)

// RunState is the coarse scheduling state SigDelivery and
// GroupCoordinator drive a task through.
type RunState int

const (
	StateRunning RunState = iota
	StateStop
	StateWait
)

// Registers is the subset of accelerator task registers SigDelivery
// reads and mutates while delivering or restoring a handler frame. The
// real register file lives in the per-core hardware context; this is
// the host-side shadow copy the scheduling loop keeps when the task is
// not current on a core, and what setup_frame/restore_context operate
// on directly (spec section 4.5).
type Registers struct {
	IC        uint64 // instruction counter / program counter
	SP        uint64 // stack pointer
	LR        uint64 // link register
	OuterCtx  uint64 // outer-context register, set to handler address on entry
	ArgSig    uint64 // argument register 0: signal number
	ArgInfo   uint64 // argument register 1: frame address of siginfo
	ArgCtx    uint64 // argument register 2: frame address of context
	AltStackR uint64 // dedicated alt-stack-base register, set when on altstack
	SR0       int64  // syscall return register, used for restart detection
}

// TaskState is the per-accelerator-process signal-pending machinery
// (spec section 3). Four mutexes stand in for the four innermost
// levels of the documented lock order (global_task_list -> sighand ->
// task -> mm -> core): SighandMu guards the signal queue, handler
// table and masks; TaskMu guards scheduling state and the register
// shadow; MmMu guards the alt-stack descriptor and lshm scratch (both
// thread-group-memory resident); CoreMu serializes halting the task's
// core, while OnCore itself is read under TaskMu. A real implementation shares SighandMu across
// every thread of a group (POSIX sighand_struct semantics); this
// reimplementation keeps one queue per task and relies on
// GroupCoordinator to fan operations out, per spec section 4.6.
type TaskState struct {
	Pid            int32
	GroupLeaderPid int32

	SighandMu sync.Mutex
	Queue     *SigQueue
	Blocked   Mask
	SavedMask Mask
	SavedMaskValid bool
	Handlers  [constants.NumSignals]SigAction

	TaskMu         sync.Mutex
	Regs           Registers
	State          RunState
	OngoingAction  OngoingAction
	SyscallRestart RestartClass
	SigPending     bool

	MmMu        sync.Mutex
	AltStack    AltStack
	LshmScratch [constants.LshmScratchSize]byte

	CoreMu    sync.RWMutex
	OnCore    bool
	CoreID    int32
}

// NewTaskState creates a task's signal state with an empty pending
// queue bounded by maxPending.
func NewTaskState(pid, groupLeaderPid int32, maxPending int) *TaskState {
	return &TaskState{
		Pid:            pid,
		GroupLeaderPid: groupLeaderPid,
		Queue:          NewSigQueue(maxPending),
	}
}

// Registry owns the live set of TaskState by pid: the explicit-lifetime
// replacement for the original implementation's static, globally
// mutable ve_init_task.tasks registry (design note, same treatment as
// internal/proctab.Table). Registry's mutex is the outermost
// global_task_list level of the five-lock order.
type Registry struct {
	mu    sync.RWMutex
	tasks map[int32]*TaskState
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[int32]*TaskState)}
}

// Insert adds a task's signal state, replacing any existing entry for
// the same pid.
func (r *Registry) Insert(ts *TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[ts.Pid] = ts
}

// Remove deletes a task's signal state.
func (r *Registry) Remove(pid int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, pid)
}

// Lookup returns the task state for pid, if present.
func (r *Registry) Lookup(pid int32) (*TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.tasks[pid]
	return ts, ok
}

// GroupMembers returns every task state sharing groupLeaderPid,
// including the leader itself.
func (r *Registry) GroupMembers(groupLeaderPid int32) []*TaskState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []*TaskState
	for _, ts := range r.tasks {
		if ts.GroupLeaderPid == groupLeaderPid {
			members = append(members, ts)
		}
	}
	return members
}

// Close releases the registry. Safe to call once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = nil
}
