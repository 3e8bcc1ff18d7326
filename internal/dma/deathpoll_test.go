package dma

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/veos-go/vacore/internal/logging"
)

type fakeRemover struct {
	removed []int32
}

func (f *fakeRemover) Remove(pid int32) {
	f.removed = append(f.removed, pid)
}

// TestDeathPollerReadDeadPidsSurvivesDummyRead exercises spec section
// 6's documented access pattern: a ten-byte dummy read followed by an
// lseek back to 0 must not lose any of the real content, regardless of
// how long the dummy read makes the file's read cursor.
func TestDeathPollerReadDeadPidsSurvivesDummyRead(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "task_id_dead")
	require.NoError(t, err)
	_, err = f.WriteString("100 200  300\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fd, err := unix.Open(f.Name(), unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	p := &DeathPoller{fd: fd, logger: logging.Default()}

	pids := p.readDeadPids()
	assert.Equal(t, []int32{100, 200, 300}, pids)
}

func TestDeathPollerReadDeadPidsIgnoresMalformedFields(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "task_id_dead")
	require.NoError(t, err)
	_, err = f.WriteString("100 notapid 300")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fd, err := unix.Open(f.Name(), unix.O_RDONLY, 0)
	require.NoError(t, err)
	defer unix.Close(fd)

	p := &DeathPoller{fd: fd, logger: logging.Default()}

	pids := p.readDeadPids()
	assert.Equal(t, []int32{100, 300}, pids)
}

func TestOpenDeathPollerOpensSysfsRootRelativeFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/task_id_dead", []byte("42"), 0o644))

	remover := &fakeRemover{}
	p, err := OpenDeathPoller(dir, remover, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, []int32{42}, p.readDeadPids())
}

func TestOpenDeathPollerMissingFileFails(t *testing.T) {
	_, err := OpenDeathPoller(t.TempDir(), &fakeRemover{}, nil)
	assert.Error(t, err)
}

func TestDeathPollerCloseStopsRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/task_id_dead", []byte(""), 0o644))

	remover := &fakeRemover{}
	p, err := OpenDeathPoller(dir, remover, nil)
	require.NoError(t, err)

	runDone := make(chan struct{})
	go func() {
		p.Run()
		close(runDone)
	}()

	require.NoError(t, p.Close())
	<-runDone
}
