// Package hwreg carries the hardware register I/O contract the DMA
// engine manager depends on as an external collaborator: mapped
// control-register reads/writes and one fence primitive. It
// deliberately knows nothing about descriptor layout or DMA semantics —
// callers in internal/dma interpret the bytes.
package hwreg

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Registers is a flat array of 32-bit memory-mapped registers.
// Implementations must make Load32 observe the effects of any Store32
// that happened-before it according to Fence, i.e. a caller that calls
// Store32, then Fence, then signals another goroutine, is guaranteed
// that a subsequent Load32 by that goroutine observes the store.
type Registers interface {
	Load32(offset uintptr) uint32
	Store32(offset uintptr, value uint32)
	Close() error
}

// MappedRegisters maps a node's control-register BAR via mmap over a
// character device file descriptor.
type MappedRegisters struct {
	mem []byte
}

// MapRegisters mmaps size bytes of the control-register region from fd
// at the given file offset.
func MapRegisters(fd int, fileOffset int64, size int) (*MappedRegisters, error) {
	mem, err := unix.Mmap(fd, fileOffset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hwreg: mmap control registers: %w", err)
	}
	return &MappedRegisters{mem: mem}, nil
}

func (r *MappedRegisters) Load32(offset uintptr) uint32 {
	return le32(r.mem[offset : offset+4])
}

func (r *MappedRegisters) Store32(offset uintptr, value uint32) {
	putLe32(r.mem[offset:offset+4], value)
}

func (r *MappedRegisters) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
