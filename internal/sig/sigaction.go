package sig

// HandlerKind is the three-way disposition of a signal's action.
type HandlerKind int

const (
	// HandlerDefault means the kernel-equivalent default action
	// applies: ignore, stop, core-dump or terminate depending on the
	// signal (see the *ByDefaultSignals sets in signal.go).
	HandlerDefault HandlerKind = iota
	// HandlerIgnore means the signal is discarded on delivery.
	HandlerIgnore
	// HandlerUser means a user-mode handler address should be invoked
	// via setup_frame.
	HandlerUser
)

// Flag bits for SigAction.Flags, named after their POSIX sigaction
// counterparts.
type Flag uint32

const (
	FlagRestart   Flag = 1 << 0 // SA_RESTART
	FlagResetHand Flag = 1 << 1 // SA_RESETHAND
	FlagNoDefer   Flag = 1 << 2 // SA_NODEFER
	FlagOnStack   Flag = 1 << 3 // SA_ONSTACK
)

// SigAction is one entry of a task's NumSignals-wide handler table
// (sig_handlers in spec section 3).
type SigAction struct {
	Handler   HandlerKind
	UserAddr  uint64
	SigMask   Mask // sa_mask: additional signals blocked during the handler
	Flags     Flag
}

func (a SigAction) has(f Flag) bool { return a.Flags&f != 0 }

// AltStack is a task's alternate signal stack descriptor
// (sigaltstack-equivalent).
type AltStack struct {
	SP      uint64
	Size    uint64
	OnStack bool
}

// Active reports whether the alternate stack is usable: registered
// (non-zero size) and not already in use.
func (a AltStack) Active() bool {
	return a.Size > 0 && !a.OnStack
}

// RestartClass records what the last syscall's return value means for
// the "no signal pending" path of DeliverPending (spec section 4, the
// original implementation's -VE_ERESTARTSYS / -VE_ENORESTART handling,
// supplemented per SPEC_FULL.md section 4).
type RestartClass int

const (
	RestartNone    RestartClass = iota
	RestartSys                  // rewind IC by 8 and retry the syscall
	RestartNoIntr                // return EINTR to the caller
)
