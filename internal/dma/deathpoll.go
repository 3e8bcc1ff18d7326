package dma

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/logging"
)

// TaskRemover is the process-table collaborator DeathPoller retires
// dead accelerator processes from (internal/proctab.Table implements
// it).
type TaskRemover interface {
	Remove(pid int32)
}

// DeathPoller watches the accelerator driver's task_id_dead attribute
// file (spec section 6's driver attribute files) and removes every
// reported pid from its TaskRemover. It is the stopping-monitor worker
// of spec section 5: its sleep between poll(2) calls is the documented
// suspension point when no processes exist to wait on.
type DeathPoller struct {
	fd      int
	remover TaskRemover
	logger  *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// OpenDeathPoller opens <sysfsRoot>/task_id_dead and returns a poller
// ready to run. sysfsRoot is VE_SYSFS_PATH(0), spec section 6.
func OpenDeathPoller(sysfsRoot string, remover TaskRemover, logger *logging.Logger) (*DeathPoller, error) {
	if logger == nil {
		logger = logging.Default()
	}
	path := strings.TrimSuffix(sysfsRoot, "/") + "/task_id_dead"
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return &DeathPoller{
		fd:      fd,
		remover: remover,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Run polls for POLLPRI on the death-notification file and retires
// every pid it reports, until Close is called. Intended to run on its
// own goroutine.
func (p *DeathPoller) Run() {
	defer close(p.done)

	pollFds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLPRI}}
	timeoutMs := int(constants.DeadTaskPollInterval / time.Millisecond)

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		n, err := unix.Poll(pollFds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			p.logger.Errorf("dma: death-poll: poll: %v", err)
			return
		}
		if n == 0 || pollFds[0].Revents&unix.POLLPRI == 0 {
			continue // stopping-monitor worker's sleep when no processes exist
		}

		for _, pid := range p.readDeadPids() {
			p.remover.Remove(pid)
		}
	}
}

// readDeadPids performs the documented access pattern (spec section 6,
// section 9 open question): a ten-byte dummy read whose purpose the
// original implementation never documents, lseek back to 0, then the
// real whitespace-separated read.
func (p *DeathPoller) readDeadPids() []int32 {
	dummy := make([]byte, 10)
	_, _ = unix.Read(p.fd, dummy)

	if _, err := unix.Seek(p.fd, 0, 0); err != nil {
		p.logger.Errorf("dma: death-poll: seek: %v", err)
		return nil
	}

	buf := make([]byte, 4096)
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		p.logger.Errorf("dma: death-poll: read: %v", err)
		return nil
	}

	var pids []int32
	for _, field := range strings.Fields(string(buf[:n])) {
		pid, err := strconv.ParseInt(field, 10, 32)
		if err != nil {
			continue
		}
		pids = append(pids, int32(pid))
	}
	return pids
}

// Close stops Run, joins it, and releases the underlying fd.
func (p *DeathPoller) Close() error {
	close(p.stop)
	<-p.done
	return unix.Close(p.fd)
}
