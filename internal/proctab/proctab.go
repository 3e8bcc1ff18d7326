// Package proctab implements the read-only process/thread table
// accessors the DMA engine manager and signal delivery core depend on
// as an external collaborator: find_task(pid), task_group_leader(task),
// iterate_thread_group(leader).
//
// The real table lives in the host process/thread subsystem and is out
// of scope here; this package gives that contract an explicit-lifetime
// home (init on startup, Close on shutdown) rather than the static,
// globally-mutable registry the original implementation uses (see
// DESIGN.md, design note on ve_init_task.tasks).
package proctab

import "sync"

// HostState mirrors the coarse state character the host process table
// reports for a task (matching /proc's state letters).
type HostState byte

const (
	HostStateRunning HostState = 'R'
	HostStateSleep   HostState = 'S'
	HostStateStopped HostState = 'T'
	HostStateZombie  HostState = 'Z'
)

// Task is a read-only snapshot of one accelerator process entry.
type Task struct {
	Pid            int32
	GroupLeaderPid int32
	HostState      HostState
}

// IsGroupLeader reports whether this task is its own thread-group leader.
func (t Task) IsGroupLeader() bool {
	return t.Pid == t.GroupLeaderPid
}

// Table is the process/thread registry. Callers construct one at
// startup and Close it at shutdown; there is no package-level singleton.
type Table struct {
	mu    sync.RWMutex
	tasks map[int32]Task
}

// New creates an empty table.
func New() *Table {
	return &Table{tasks: make(map[int32]Task)}
}

// Close releases the table. Safe to call once; subsequent lookups
// return not-found.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = nil
}

// Insert adds or updates a task entry.
func (t *Table) Insert(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tasks == nil {
		return
	}
	t.tasks[task.Pid] = task
}

// Remove deletes a task entry.
func (t *Table) Remove(pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, pid)
}

// SetHostState updates the coarse host-visible state of a task, used by
// GroupCoordinator's StopIfHostStopped action.
func (t *Table) SetHostState(pid int32, state HostState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[pid]
	if !ok {
		return
	}
	task.HostState = state
	t.tasks[pid] = task
}

// FindTask looks up a task by pid.
func (t *Table) FindTask(pid int32) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[pid]
	return task, ok
}

// TaskGroupLeader returns the group leader of the thread group task
// belongs to.
func (t *Table) TaskGroupLeader(task Task) (Task, bool) {
	return t.FindTask(task.GroupLeaderPid)
}

// IterateThreadGroup calls fn once for every task sharing leader's group,
// including leader itself, in an unspecified order. Iteration stops
// early if fn returns false, mirroring the group coordinator's
// StopIfHostStopped action which breaks the iteration when the
// host-side pseudo process is not observed stopped.
func (t *Table) IterateThreadGroup(leaderPid int32, fn func(Task) bool) {
	t.mu.RLock()
	members := make([]Task, 0, 4)
	for _, task := range t.tasks {
		if task.GroupLeaderPid == leaderPid {
			members = append(members, task)
		}
	}
	t.mu.RUnlock()

	for _, task := range members {
		if !fn(task) {
			return
		}
	}
}
