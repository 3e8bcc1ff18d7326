package sig

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/dma"
	"github.com/veos-go/vacore/internal/logging"
	"github.com/veos-go/vacore/internal/telemetry"
	"github.com/veos-go/vacore/internal/xlate"
)

// Outcome is what DeliverPending did for one call.
type Outcome int

const (
	OutcomeNone        Outcome = iota // nothing delivered; task resumes normally
	OutcomeDelivered                  // a user handler frame was set up
	OutcomeStopped                    // the thread group was stopped
	OutcomeTerminating                // core-dump or termination is in flight
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "None"
	case OutcomeDelivered:
		return "Delivered"
	case OutcomeStopped:
		return "Stopped"
	case OutcomeTerminating:
		return "Terminating"
	default:
		return "Unknown"
	}
}

// CoreDumper hands a task off to a core-dump worker (spec section 4.5,
// 4.7); internal/sig/coredump.go's CoreDumpSession implements it.
// Decoupled as an interface so SigDelivery doesn't need to know about
// the helper-process handshake.
type CoreDumper interface {
	Dump(task *TaskState, sig int, synchronous bool)
}

// Terminator asks the host to end the accelerator process's host-side
// pseudo process (spec section 4.5's "request host to kill").
type Terminator interface {
	Terminate(pid int32, sig int) error
}

// Config gathers SigDelivery's collaborators.
type Config struct {
	DMA        *dma.API
	Translator xlate.Translator
	Group      *GroupCoordinator
	CoreDumper CoreDumper
	Terminator Terminator
	Logger     *logging.Logger
	// DMATimeout bounds each frame setup/restore DMA transfer. Zero
	// means constants.HaltBusyWaitTimeout.
	DMATimeout time.Duration
	// Observer records delivered/dropped signal observations. Nil means
	// telemetry.NoOpObserver.
	Observer telemetry.Observer
}

// SigDelivery chooses and dequeues a signal, builds/restores handler
// frames via DEM, updates masks, and drives default actions (spec
// section 4.5).
type SigDelivery struct {
	dma        *dma.API
	translator xlate.Translator
	group      *GroupCoordinator
	coreDumper CoreDumper
	terminator Terminator
	logger     *logging.Logger
	dmaTimeout time.Duration
	observer   telemetry.Observer
}

// New creates a SigDelivery from its collaborators.
func New(cfg Config) *SigDelivery {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = telemetry.NoOpObserver{}
	}
	timeout := cfg.DMATimeout
	if timeout == 0 {
		timeout = constants.HaltBusyWaitTimeout
	}
	return &SigDelivery{
		dma:        cfg.DMA,
		translator: cfg.Translator,
		group:      cfg.Group,
		coreDumper: cfg.CoreDumper,
		terminator: cfg.Terminator,
		logger:     cfg.Logger,
		dmaTimeout: timeout,
		observer:   cfg.Observer,
	}
}

// DeliverPending is called by the per-core scheduling loop on behalf of
// a task about to resume (spec section 4.5).
func (d *SigDelivery) DeliverPending(task *TaskState) (Outcome, error) {
	task.TaskMu.Lock()
	ongoing := task.OngoingAction
	task.TaskMu.Unlock()

	if ongoing == ActionCoreDump {
		task.TaskMu.Lock()
		task.State = StateStop
		task.TaskMu.Unlock()
		return OutcomeNone, nil
	}

	for {
		task.SighandMu.Lock()
		blocked := task.Blocked
		task.SighandMu.Unlock()

		sigNum, info, synchronous, ok := task.Queue.Dequeue(blocked)
		if !ok {
			d.finishNoSignal(task)
			return OutcomeNone, nil
		}

		task.SighandMu.Lock()
		action := task.Handlers[sigNum-1]
		task.SighandMu.Unlock()

		switch {
		case action.Handler == HandlerIgnore:
			continue

		case action.Handler == HandlerUser:
			if err := d.setupFrame(task, sigNum, info, synchronous, action); err != nil {
				d.logger.Errorf("sig: setup_frame failed for pid=%d sig=%d: %v", task.Pid, sigNum, err)
				d.forceSegv(task)
				continue
			}
			d.applyPostDeliveryMasks(task, sigNum, action)
			d.observer.ObserveSignalDelivered(sigNum)
			return OutcomeDelivered, nil

		case action.Handler == HandlerDefault && IgnoredByDefaultSignals.Test(sigNum):
			continue

		case action.Handler == HandlerDefault && StoppingSignals.Test(sigNum):
			d.group.Apply(task.GroupLeaderPid, ActStop, 0)
			return OutcomeStopped, nil

		case action.Handler == HandlerDefault && CoreDumpByDefaultSignals.Test(sigNum):
			task.TaskMu.Lock()
			task.OngoingAction = ActionCoreDump
			task.State = StateStop
			task.TaskMu.Unlock()
			if d.coreDumper != nil {
				d.coreDumper.Dump(task, sigNum, synchronous)
			}
			return OutcomeTerminating, nil

		default: // HandlerDefault, terminate
			sigToReport := sigNum
			if synchronous {
				// a shell sees the true cause for exceptions
			} else {
				sigToReport = SIGKILL
			}
			if d.terminator != nil {
				if err := d.terminator.Terminate(task.Pid, sigToReport); err != nil {
					return OutcomeTerminating, errors.Wrap(err, "sig: terminate")
				}
			}
			return OutcomeTerminating, nil
		}
	}
}

// finishNoSignal implements spec section 4.5's "sig == 0" path: restore
// the saved mask if one is pending, and act on the last syscall's
// restart classification.
func (d *SigDelivery) finishNoSignal(task *TaskState) {
	task.SighandMu.Lock()
	if task.SavedMaskValid {
		task.Blocked = task.SavedMask
		task.SavedMaskValid = false
	}
	task.SighandMu.Unlock()

	task.TaskMu.Lock()
	defer task.TaskMu.Unlock()
	switch task.SyscallRestart {
	case RestartSys:
		task.Regs.IC -= 8
	case RestartNoIntr:
		task.Regs.SR0 = -int64(errEINTR)
	}
	task.SyscallRestart = RestartNone
}

// errEINTR mirrors the errno value returned to a task's syscall-return
// register on RestartNoIntr; kept local rather than importing
// syscall.EINTR so this package stays portable.
const errEINTR = 4

func (d *SigDelivery) applyPostDeliveryMasks(task *TaskState, sigNum int, action SigAction) {
	task.SighandMu.Lock()
	defer task.SighandMu.Unlock()

	task.Blocked = task.Blocked.Or(action.SigMask)
	if action.Flags&FlagNoDefer == 0 {
		task.Blocked.Set(sigNum)
	}
	if action.Flags&FlagResetHand != 0 {
		task.Handlers[sigNum-1] = SigAction{Handler: HandlerDefault}
	}
	task.SavedMaskValid = false
}

// RaiseSignal enqueues sigNum on task's queue and reports a drop to the
// observer when the per-task rlimit rejected it (spec section 4.4).
func (d *SigDelivery) RaiseSignal(task *TaskState, sigNum int, info SigInfo, synchronous bool, overrideRlimit bool) {
	if !task.Queue.Enqueue(sigNum, info, synchronous, overrideRlimit) {
		d.observer.ObserveSignalDropped(sigNum)
	}
}

// forceSegv is setup_frame's failure path (spec section 7): a frame
// setup failure forces SIGSEGV with the default handler, which then
// proceeds to terminate through the normal pathway.
func (d *SigDelivery) forceSegv(task *TaskState) {
	task.SighandMu.Lock()
	task.Handlers[SIGSEGV-1] = SigAction{Handler: HandlerDefault}
	task.SighandMu.Unlock()
	d.RaiseSignal(task, SIGSEGV, SigInfo{Signo: SIGSEGV}, true, true)
}

// setupFrame builds a handler stack frame in accelerator memory and
// points the task's registers at it (spec section 4.5).
func (d *SigDelivery) setupFrame(task *TaskState, sigNum int, info SigInfo, synchronous bool, action SigAction) error {
	task.MmMu.Lock()
	altStack := task.AltStack
	lshm := task.LshmScratch
	task.MmMu.Unlock()

	task.TaskMu.Lock()
	sp := task.Regs.SP
	task.TaskMu.Unlock()

	onStack := altStack.OnStack
	useAltStack := !onStack && action.has(FlagOnStack) && altStack.Active()

	var frameAddr uint64
	if useAltStack {
		frameAddr = altStack.SP + altStack.Size - frameSizeAligned
	} else {
		frameAddr = sp - frameSizeAligned
	}

	res, err := d.translator.Translate(xlate.Accelerator, task.Pid, frameAddr, true)
	if err != nil {
		return errors.Wrap(err, "sig: translate frame address")
	}

	task.SighandMu.Lock()
	savedMask := task.Blocked
	if task.SavedMaskValid {
		savedMask = task.SavedMask
	}
	task.SighandMu.Unlock()

	frame := &SigFrame{
		Trampoline: Trampoline,
		Info:       info,
		CtxLink:    frameAddr, // points at the trampoline, at the frame's start
		AltStack: AltStack{
			SP:      altStack.SP,
			Size:    altStack.Size,
			OnStack: useAltStack,
		},
		SavedMask:   savedMask[0],
		LshmScratch: lshm,
		Signum:      int32(sigNum),
	}
	if synchronous {
		frame.CtxFlags = 1
	}
	task.TaskMu.Lock()
	frame.MContext = registersToMContext(task.Regs)
	task.TaskMu.Unlock()

	if err := d.dmaOut(res.PhysAddr, frame); err != nil {
		return err
	}

	task.TaskMu.Lock()
	task.Regs.IC = action.UserAddr
	task.Regs.OuterCtx = action.UserAddr
	task.Regs.ArgSig = uint64(sigNum)
	task.Regs.ArgInfo = frameAddr + trampolineSize
	task.Regs.ArgCtx = frameAddr + trampolineSize + sigInfoSize
	task.Regs.LR = frameAddr
	task.Regs.SP = frameAddr - constants.HandlerStackFrameSize
	if useAltStack {
		task.Regs.AltStackR = altStack.SP
	}
	task.TaskMu.Unlock()

	task.MmMu.Lock()
	task.AltStack.OnStack = useAltStack || onStack
	task.MmMu.Unlock()

	return nil
}

// frameSizeAligned rounds FrameSize up to the 8-byte alignment the DMA
// path and the handler ABI both require; FrameSize is already a
// multiple of 8 by construction, kept as a distinct name for clarity at
// call sites that reason about stack placement.
const frameSizeAligned = FrameSize

// RestoreContext is invoked when the accelerator executes the
// trampoline's sigreturn equivalent (spec section 4.5).
func (d *SigDelivery) RestoreContext(task *TaskState) error {
	task.TaskMu.Lock()
	sp := task.Regs.SP
	task.TaskMu.Unlock()

	frameAddr := sp + constants.HandlerStackFrameSize
	res, err := d.translator.Translate(xlate.Accelerator, task.Pid, frameAddr, false)
	if err != nil {
		return errors.Wrap(err, "sig: translate frame address")
	}

	frame, err := d.dmaIn(res.PhysAddr)
	if err != nil {
		return err
	}

	task.TaskMu.Lock()
	task.Regs = mcontextToRegisters(task.Regs, frame.MContext)
	sr0 := task.Regs.SR0
	task.TaskMu.Unlock()

	task.MmMu.Lock()
	task.LshmScratch = frame.LshmScratch
	task.AltStack.OnStack = frame.AltStack.OnStack
	task.MmMu.Unlock()

	task.SighandMu.Lock()
	var restored Mask
	restored[0] = frame.SavedMask
	task.Blocked = restored
	task.SighandMu.Unlock()

	// S5: a restartable syscall interrupted by this signal rewinds the
	// instruction counter by 8 so it re-executes on return.
	if sr0 == -restartSysErrno {
		task.TaskMu.Lock()
		task.Regs.IC -= 8
		task.TaskMu.Unlock()
	}

	if frame.Fatal {
		if d.terminator != nil {
			return d.terminator.Terminate(task.Pid, int(frame.Signum))
		}
	}

	d.recomputeSigPending(task)

	return nil
}

// restartSysErrno mirrors the original implementation's
// -VE_ERESTARTSYS convention on the syscall-return register.
const restartSysErrno = 512

// recomputeSigPending recomputes sigpending_flag per spec 4.5 step 6:
// pending_mask & ~blocked_mask != 0.
func (d *SigDelivery) recomputeSigPending(task *TaskState) {
	task.SighandMu.Lock()
	defer task.SighandMu.Unlock()
	effective := task.Queue.PendingMask().AndNot(task.Blocked)
	task.SigPending = !effective.IsZero()
}

func registersToMContext(r Registers) MContext {
	var mc MContext
	mc.GPRegs[0] = r.IC
	mc.GPRegs[1] = r.SP
	mc.GPRegs[2] = r.LR
	mc.GPRegs[3] = r.OuterCtx
	mc.GPRegs[4] = r.ArgSig
	mc.GPRegs[5] = r.ArgInfo
	mc.GPRegs[6] = r.ArgCtx
	mc.GPRegs[7] = r.AltStackR
	mc.FlagRegs[0] = uint64(r.SR0)
	return mc
}

func mcontextToRegisters(prev Registers, mc MContext) Registers {
	return Registers{
		IC:        mc.GPRegs[0],
		SP:        mc.GPRegs[1],
		LR:        mc.GPRegs[2],
		OuterCtx:  mc.GPRegs[3],
		ArgSig:    mc.GPRegs[4],
		ArgInfo:   mc.GPRegs[5],
		ArgCtx:    mc.GPRegs[6],
		AltStackR: mc.GPRegs[7],
		SR0:       int64(mc.FlagRegs[0]),
	}
}

// dmaOut copies frame into accelerator physical memory at phys,
// direction HostVirt -> VaPhys (spec section 4.5 step 4), by pinning
// frame's marshaled bytes and handing their host address to the DMA
// engine manager — the same path S1/round-trip tests exercise.
func (d *SigDelivery) dmaOut(phys uint64, frame *SigFrame) error {
	buf := frame.Marshal()
	req := dma.Request{
		Src: dma.Address{Kind: dma.HostVirt, Addr: uint64(uintptr(unsafe.Pointer(&buf[0])))},
		Dst: dma.Address{Kind: dma.VaPhys, Addr: phys},
		Length: uint64(len(buf)),
	}
	_, status, err := d.dma.SubmitTransfer(req, deadlineIn(d.dmaTimeout))
	runtime.KeepAlive(buf)
	if err != nil {
		return errors.Wrap(err, "sig: dma frame out")
	}
	if status != dma.AggOk {
		return errors.Errorf("sig: dma frame out: status %s", status)
	}
	return nil
}

// dmaIn copies FrameSize bytes out of accelerator physical memory at
// phys, direction VaPhys -> HostVirt, and decodes the frame.
func (d *SigDelivery) dmaIn(phys uint64) (*SigFrame, error) {
	buf := make([]byte, FrameSize)
	req := dma.Request{
		Src: dma.Address{Kind: dma.VaPhys, Addr: phys},
		Dst: dma.Address{Kind: dma.HostVirt, Addr: uint64(uintptr(unsafe.Pointer(&buf[0])))},
		Length: uint64(len(buf)),
	}
	_, status, err := d.dma.SubmitTransfer(req, deadlineIn(d.dmaTimeout))
	runtime.KeepAlive(buf)
	if err != nil {
		return nil, errors.Wrap(err, "sig: dma frame in")
	}
	if status != dma.AggOk {
		return nil, errors.Errorf("sig: dma frame in: status %s", status)
	}
	return Unmarshal(buf)
}

func deadlineIn(d time.Duration) *time.Time {
	t := time.Now().Add(d)
	return &t
}
