package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/veos-go/vacore/internal/proctab"
)

func newGroupFixture() (*Registry, *GroupCoordinator) {
	registry := NewRegistry()
	return registry, NewGroupCoordinator(registry, nil, nil)
}

type fakeGroupObserver struct {
	actions []string
}

func (f *fakeGroupObserver) ObserveTransfer(string, uint64, float64) {}
func (f *fakeGroupObserver) ObserveTransferError(string)              {}
func (f *fakeGroupObserver) ObserveRingOccupancy(int)                 {}
func (f *fakeGroupObserver) ObserveSignalDelivered(int)               {}
func (f *fakeGroupObserver) ObserveSignalDropped(int)                 {}
func (f *fakeGroupObserver) ObserveGroupAction(action string) {
	f.actions = append(f.actions, action)
}

// TestGroupApplyObservesAction exercises the maintainer-requested
// Observer wiring: every Apply call reports its action kind once.
func TestGroupApplyObservesAction(t *testing.T) {
	registry := NewRegistry()
	obs := &fakeGroupObserver{}
	g := NewGroupCoordinator(registry, nil, obs)
	task := NewTaskState(700, 700, 0)
	registry.Insert(task)

	g.Apply(700, ActStop, 0)
	g.Apply(700, ActContinue, 0)

	assert.Equal(t, []string{"stop", "continue"}, obs.actions)
}

func TestGroupApplyStopSetsEveryMember(t *testing.T) {
	registry, g := newGroupFixture()
	leader := NewTaskState(100, 100, 0)
	follower := NewTaskState(101, 100, 0)
	registry.Insert(leader)
	registry.Insert(follower)

	g.Apply(100, ActStop, 0)

	assert.Equal(t, StateStop, leader.State)
	assert.Equal(t, StateStop, follower.State)
}

func TestGroupApplyContinueClearsStoppingSignals(t *testing.T) {
	registry, g := newGroupFixture()
	task := NewTaskState(200, 200, 0)
	task.Queue.Enqueue(SIGSTOP, SigInfo{Signo: SIGSTOP}, false, false)
	task.State = StateStop
	registry.Insert(task)

	g.Apply(200, ActContinue, 0)

	assert.Equal(t, StateRunning, task.State)
	assert.False(t, task.Queue.PendingMask().Test(SIGSTOP))
}

// TestGroupApplyContinueDefersToCoreDump exercises the Continue caveat
// (spec section 4.6): a task with an in-flight core dump is set to Wait
// rather than to Running.
func TestGroupApplyContinueDefersToCoreDump(t *testing.T) {
	registry, g := newGroupFixture()
	task := NewTaskState(300, 300, 0)
	task.OngoingAction = ActionCoreDump
	registry.Insert(task)

	g.Apply(300, ActContinue, 0)

	assert.Equal(t, StateWait, task.State)
}

func TestGroupApplyStopIfHostStoppedSkipsWhenNotStopped(t *testing.T) {
	registry, _ := newGroupFixture()
	pt := proctab.New()
	t.Cleanup(pt.Close)
	pt.Insert(proctab.Task{Pid: 400, GroupLeaderPid: 400, HostState: proctab.HostStateRunning})

	g := NewGroupCoordinator(registry, pt, nil)
	task := NewTaskState(400, 400, 0)
	registry.Insert(task)

	g.Apply(400, ActStopIfHostStopped, 0)

	assert.Equal(t, StateRunning, task.State)
}

func TestGroupApplyStopIfHostStoppedAppliesWhenStopped(t *testing.T) {
	registry, _ := newGroupFixture()
	pt := proctab.New()
	t.Cleanup(pt.Close)
	pt.Insert(proctab.Task{Pid: 401, GroupLeaderPid: 401, HostState: proctab.HostStateStopped})

	g := NewGroupCoordinator(registry, pt, nil)
	task := NewTaskState(401, 401, 0)
	registry.Insert(task)

	g.Apply(401, ActStopIfHostStopped, 0)

	assert.Equal(t, StateStop, task.State)
}

func TestGroupApplyCleanThreadSkipsRequester(t *testing.T) {
	registry, g := newGroupFixture()
	requester := NewTaskState(500, 500, 0)
	other := NewTaskState(501, 500, 0)
	registry.Insert(requester)
	registry.Insert(other)

	g.Apply(500, ActCleanThread, 0)

	assert.Equal(t, StateRunning, requester.State)
	assert.Equal(t, StateStop, other.State)
}

func TestGroupApplyMaskSignalRemovesOnlyThatSignal(t *testing.T) {
	registry, g := newGroupFixture()
	task := NewTaskState(600, 600, 0)
	task.Queue.Enqueue(SIGUSR1, SigInfo{}, false, false)
	task.Queue.Enqueue(SIGUSR2, SigInfo{}, false, false)
	registry.Insert(task)

	g.Apply(600, ActMaskSignal, SIGUSR1)

	assert.False(t, task.Queue.PendingMask().Test(SIGUSR1))
	assert.True(t, task.Queue.PendingMask().Test(SIGUSR2))
}
