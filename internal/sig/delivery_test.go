package sig

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veos-go/vacore/internal/telemetry"
)

type fakeDeliveryObserver struct {
	telemetry.NoOpObserver
	delivered []int
	dropped   []int
}

func (f *fakeDeliveryObserver) ObserveSignalDelivered(signal int) {
	f.delivered = append(f.delivered, signal)
}

func (f *fakeDeliveryObserver) ObserveSignalDropped(signal int) {
	f.dropped = append(f.dropped, signal)
}

type fakeTerminator struct {
	calls []struct {
		pid int32
		sig int
	}
	err error
}

func (f *fakeTerminator) Terminate(pid int32, sig int) error {
	f.calls = append(f.calls, struct {
		pid int32
		sig int
	}{pid, sig})
	return f.err
}

type fakeCoreDumper struct {
	dumped bool
	sig    int
}

func (f *fakeCoreDumper) Dump(task *TaskState, sig int, synchronous bool) {
	f.dumped = true
	f.sig = sig
}

func newTestDelivery(term Terminator, dumper CoreDumper) *SigDelivery {
	return New(Config{
		Group:      NewGroupCoordinator(NewRegistry(), nil, nil),
		Terminator: term,
		CoreDumper: dumper,
	})
}

// TestDeliverPendingIgnoredSignalSkipped exercises the HandlerDefault +
// IgnoredByDefaultSignals path: DeliverPending keeps scanning and ends
// with OutcomeNone once the queue drains.
func TestDeliverPendingIgnoredSignalSkipped(t *testing.T) {
	task := NewTaskState(1, 1, 0)
	task.Queue.Enqueue(SIGCHLD, SigInfo{Signo: SIGCHLD}, false, false)

	d := newTestDelivery(nil, nil)
	outcome, err := d.DeliverPending(task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, outcome)
}

// TestDeliverPendingStopsOnStoppingSignal exercises the default-stop
// path: a StoppingSignals member with HandlerDefault reports
// OutcomeStopped.
func TestDeliverPendingStopsOnStoppingSignal(t *testing.T) {
	task := NewTaskState(5, 5, 0)
	task.Queue.Enqueue(SIGTSTP, SigInfo{Signo: SIGTSTP}, false, false)

	registry := NewRegistry()
	registry.Insert(task)
	d := New(Config{Group: NewGroupCoordinator(registry, nil, nil)})

	outcome, err := d.DeliverPending(task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, outcome)
	assert.Equal(t, StateStop, task.State)
}

// TestDeliverPendingCoreDumpsOnDefaultHandler exercises the core-dump
// default path: OngoingAction is set and the CoreDumper is invoked.
func TestDeliverPendingCoreDumpsOnDefaultHandler(t *testing.T) {
	task := NewTaskState(7, 7, 0)
	task.Queue.Enqueue(SIGSEGV, SigInfo{Signo: SIGSEGV}, true, true)

	dumper := &fakeCoreDumper{}
	d := newTestDelivery(nil, dumper)

	outcome, err := d.DeliverPending(task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminating, outcome)
	assert.Equal(t, ActionCoreDump, task.OngoingAction)
	assert.True(t, dumper.dumped)
	assert.Equal(t, SIGSEGV, dumper.sig)
}

// TestDeliverPendingTerminatesAsyncWithSigkill exercises the plain
// terminate default path: an asynchronous fatal signal is reported to
// the host as SIGKILL, not the original number.
func TestDeliverPendingTerminatesAsyncWithSigkill(t *testing.T) {
	task := NewTaskState(9, 9, 0)
	task.Queue.Enqueue(SIGTERM, SigInfo{Signo: SIGTERM}, false, false)

	term := &fakeTerminator{}
	d := newTestDelivery(term, nil)

	outcome, err := d.DeliverPending(task)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTerminating, outcome)
	require.Len(t, term.calls, 1)
	assert.Equal(t, SIGKILL, term.calls[0].sig)
}

func TestDeliverPendingTerminateErrorPropagates(t *testing.T) {
	task := NewTaskState(11, 11, 0)
	task.Queue.Enqueue(SIGTERM, SigInfo{Signo: SIGTERM}, false, false)

	term := &fakeTerminator{err: errors.New("host refused")}
	d := newTestDelivery(term, nil)

	_, err := d.DeliverPending(task)
	require.Error(t, err)
}

// TestFinishNoSignalRewindsOnRestart exercises S5: RestartSys rewinds
// the instruction counter by 8 so a restartable syscall re-executes.
func TestFinishNoSignalRewindsOnRestart(t *testing.T) {
	task := NewTaskState(3, 3, 0)
	task.Regs.IC = 0x1000
	task.SyscallRestart = RestartSys

	d := newTestDelivery(nil, nil)
	d.finishNoSignal(task)

	assert.Equal(t, uint64(0x1000-8), task.Regs.IC)
	assert.Equal(t, RestartNone, task.SyscallRestart)
}

func TestFinishNoSignalReturnsEINTR(t *testing.T) {
	task := NewTaskState(4, 4, 0)
	task.SyscallRestart = RestartNoIntr

	d := newTestDelivery(nil, nil)
	d.finishNoSignal(task)

	assert.Equal(t, -int64(errEINTR), task.Regs.SR0)
}

func TestFinishNoSignalRestoresSavedMask(t *testing.T) {
	task := NewTaskState(6, 6, 0)
	task.SavedMask = MaskOf(SIGUSR1)
	task.SavedMaskValid = true
	task.Blocked = MaskOf(SIGTERM)

	d := newTestDelivery(nil, nil)
	d.finishNoSignal(task)

	assert.True(t, task.Blocked.Test(SIGUSR1))
	assert.False(t, task.Blocked.Test(SIGTERM))
	assert.False(t, task.SavedMaskValid)
}

func TestApplyPostDeliveryMasksBlocksDeliveredSignalByDefault(t *testing.T) {
	task := NewTaskState(8, 8, 0)
	d := newTestDelivery(nil, nil)

	action := SigAction{SigMask: MaskOf(SIGUSR2)}
	d.applyPostDeliveryMasks(task, SIGUSR1, action)

	assert.True(t, task.Blocked.Test(SIGUSR1))
	assert.True(t, task.Blocked.Test(SIGUSR2))
}

func TestApplyPostDeliveryMasksNoDeferSkipsSelfBlock(t *testing.T) {
	task := NewTaskState(10, 10, 0)
	d := newTestDelivery(nil, nil)

	action := SigAction{Flags: FlagNoDefer}
	d.applyPostDeliveryMasks(task, SIGUSR1, action)

	assert.False(t, task.Blocked.Test(SIGUSR1))
}

func TestApplyPostDeliveryMasksResetHandRestoresDefault(t *testing.T) {
	task := NewTaskState(12, 12, 0)
	task.Handlers[SIGUSR1-1] = SigAction{Handler: HandlerUser, UserAddr: 0x500, Flags: FlagResetHand}
	d := newTestDelivery(nil, nil)

	d.applyPostDeliveryMasks(task, SIGUSR1, task.Handlers[SIGUSR1-1])

	assert.Equal(t, HandlerDefault, task.Handlers[SIGUSR1-1].Handler)
}

// TestRaiseSignalObservesDrop exercises the maintainer-requested
// Observer wiring: RaiseSignal reports a drop when the per-task rlimit
// rejects a realtime signal, which doesn't coalesce with one already
// queued.
func TestRaiseSignalObservesDrop(t *testing.T) {
	task := NewTaskState(14, 14, 1)
	task.Queue.MaxPending = 1
	rt := SIGRTMIN + 1
	task.Queue.Enqueue(rt, SigInfo{}, false, false)

	obs := &fakeDeliveryObserver{}
	d := New(Config{Group: NewGroupCoordinator(NewRegistry(), nil, nil), Observer: obs})

	d.RaiseSignal(task, rt, SigInfo{}, false, false)

	require.Len(t, obs.dropped, 1)
	assert.Equal(t, rt, obs.dropped[0])
}

func TestRecomputeSigPending(t *testing.T) {
	task := NewTaskState(13, 13, 0)
	task.Queue.Enqueue(SIGUSR1, SigInfo{}, false, false)
	task.Blocked = MaskOf(SIGUSR1)

	d := newTestDelivery(nil, nil)
	d.recomputeSigPending(task)
	assert.False(t, task.SigPending)

	task.Blocked = Mask{}
	d.recomputeSigPending(task)
	assert.True(t, task.SigPending)
}
