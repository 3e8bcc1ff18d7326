package sig

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/veos-go/vacore/internal/logging"
	"github.com/veos-go/vacore/internal/proctab"
)

// coreDumpExt is the filename extension core-dump files carry on this
// platform (spec section 8, S6: "core.<pid>.ve").
const coreDumpExt = "ve"

// ELFDumper writes task's memory image to an already-open, privilege-
// dropped file. The real ELF core writer is out of scope for this
// module; CoreDumpSession only owns the handshake that gets it an open
// fd with the right owner.
type ELFDumper interface {
	Dump(task *TaskState, file *os.File) error
}

// CoreLimiter reports a task's core-dump resource limit. Zero means
// core dumping is disabled (spec section 4.7 step 2). Modeled as a
// collaborator because process resource limits are out of scope for
// this module (spec section 1, Non-goals).
type CoreLimiter interface {
	CoreRlimit(pid int32) uint64
}

// CoreDumpSessionConfig gathers a CoreDumpSession's collaborators.
type CoreDumpSessionConfig struct {
	Group       *GroupCoordinator
	Proctab     *proctab.Table
	Terminator  Terminator
	CoreLimiter CoreLimiter
	Dumper      ELFDumper
	// HelperPath is the external privilege-dropping helper binary
	// (env HELPER_PATH, spec section 6).
	HelperPath string
	// CorePattern is the host's core_pattern string (env CORE_FILE).
	CorePattern string
	// BinDir is the accelerator binary's directory, used to prefix
	// non-absolute core_pattern filenames.
	BinDir   string
	Hostname func() (string, error)
	Logger   *logging.Logger
}

// CoreDumpSession spawns a privilege-dropping helper process that opens
// the dump file and returns a descriptor via SCM_RIGHTS, then streams
// the dump (spec section 4.7).
type CoreDumpSession struct {
	group       *GroupCoordinator
	proctab     *proctab.Table
	terminator  Terminator
	coreLimiter CoreLimiter
	dumper      ELFDumper
	helperPath  string
	corePattern string
	binDir      string
	hostname    func() (string, error)
	logger      *logging.Logger

	deleteMu sync.Mutex // "group-delete lock", spec step 1
}

// NewCoreDumpSession creates a session from its collaborators.
func NewCoreDumpSession(cfg CoreDumpSessionConfig) *CoreDumpSession {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Hostname == nil {
		cfg.Hostname = os.Hostname
	}
	return &CoreDumpSession{
		group:       cfg.Group,
		proctab:     cfg.Proctab,
		terminator:  cfg.Terminator,
		coreLimiter: cfg.CoreLimiter,
		dumper:      cfg.Dumper,
		helperPath:  cfg.HelperPath,
		corePattern: cfg.CorePattern,
		binDir:      cfg.BinDir,
		hostname:    cfg.Hostname,
		logger:      cfg.Logger,
	}
}

// Dump runs the full core-dump sequence for task as a detached worker
// (spec section 4.7). It never blocks the caller past kicking off the
// goroutine; termination is always reached, even on failure.
func (c *CoreDumpSession) Dump(task *TaskState, sigNum int, synchronous bool) {
	go c.run(task, sigNum, synchronous)
}

func (c *CoreDumpSession) run(task *TaskState, sigNum int, synchronous bool) {
	c.deleteMu.Lock()
	c.group.Apply(task.GroupLeaderPid, ActCleanThread, 0)
	c.deleteMu.Unlock()

	if err := c.dumpFile(task); err != nil {
		c.logger.Warnf("sig: coredump for pid=%d: %v", task.Pid, err)
	}

	sigToDeliver := SIGKILL
	if synchronous {
		sigToDeliver = sigNum
	}
	if c.terminator != nil {
		if err := c.terminator.Terminate(task.Pid, sigToDeliver); err != nil {
			c.logger.Errorf("sig: terminate pid=%d after coredump: %v", task.Pid, err)
		}
	}
}

func (c *CoreDumpSession) dumpFile(task *TaskState) error {
	if c.coreLimiter != nil && c.coreLimiter.CoreRlimit(task.Pid) == 0 {
		return nil
	}

	hostname := ""
	if c.hostname != nil {
		if h, err := c.hostname(); err == nil {
			hostname = h
		}
	}
	filename := expandCorePattern(c.corePattern, task.GroupLeaderPid, hostname, c.binDir)

	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return errors.Wrap(err, "sig: socketpair")
	}
	parentFd, childFd := sp[0], sp[1]
	defer unix.Close(parentFd)

	uid, gid, err := c.credentialsFor(task.Pid)
	if err != nil {
		unix.Close(childFd)
		return errors.Wrap(err, "sig: resolve task credentials")
	}

	var g errgroup.Group
	g.Go(func() error {
		defer unix.Close(childFd)
		cmd := exec.Command(c.helperPath, filename, strconv.Itoa(childFd))
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uid, Gid: gid},
		}
		cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(childFd), "helper-sock")}
		return cmd.Run()
	})

	var fd int
	g.Go(func() error {
		var err2 error
		fd, err2 = recvDumpFD(parentFd)
		return err2
	})

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "sig: coredump helper handshake")
	}

	file := os.NewFile(uintptr(fd), filename)
	defer file.Close()

	if c.dumper != nil {
		return c.dumper.Dump(task, file)
	}
	return nil
}

// recvDumpFD receives the file descriptor the helper sends back over
// sock via SCM_RIGHTS ancillary data, alongside its 4-byte dummy
// payload, using MSG_WAITALL per spec section 6.
func recvDumpFD(sock int) (int, error) {
	payload := make([]byte, 4)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(sock, payload, oob, unix.MSG_WAITALL)
	if err != nil {
		return 0, errors.Wrap(err, "sig: recvmsg")
	}
	if n < 4 {
		return 0, errors.New("sig: short dummy payload from coredump helper")
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, errors.Wrap(err, "sig: parse control message")
	}
	for _, cmsg := range cmsgs {
		fds, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return 0, errors.New("sig: coredump helper sent no SCM_RIGHTS fd")
}

// credentialsFor returns the uid/gid the helper drops to. It always
// returns the current process's uid/gid; the task's owner is not looked
// up (proctab tracks only pid and state).
func (c *CoreDumpSession) credentialsFor(pid int32) (uid, gid uint32, err error) {
	return uint32(os.Getuid()), uint32(os.Getgid()), nil
}

// expandCorePattern builds a dump filename from the host's
// core_pattern (spec section 4.7 step 4): %% -> literal %, %p ->
// thread-group id, %h -> hostname, other %x specifiers are recognized
// but emit nothing. Non-absolute results are prefixed with binDir. An
// implicit .<pid>.ve is appended if %p was never used, else just .ve.
func expandCorePattern(pattern string, pid int32, hostname, binDir string) string {
	var b strings.Builder
	usedPid := false

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 >= len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case '%':
			b.WriteByte('%')
		case 'p':
			b.WriteString(strconv.Itoa(int(pid)))
			usedPid = true
		case 'h':
			b.WriteString(hostname)
		default:
			// recognized-but-empty specifier: consume both bytes, emit nothing
		}
	}

	if usedPid {
		b.WriteString("." + coreDumpExt)
	} else {
		b.WriteString(fmt.Sprintf(".%d.%s", pid, coreDumpExt))
	}

	name := b.String()
	if !strings.HasPrefix(name, "/") {
		name = strings.TrimSuffix(binDir, "/") + "/" + name
	}
	return name
}
