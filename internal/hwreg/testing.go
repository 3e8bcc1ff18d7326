package hwreg

import "sync"

// FakeRegisters is an in-process Registers implementation for tests. It
// behaves like plain memory; it does not simulate hardware-initiated
// changes (e.g. a completed descriptor clearing its valid bit) — tests
// that need that drive it explicitly via Store32.
type FakeRegisters struct {
	mu  sync.Mutex
	mem map[uintptr]uint32
}

// NewFakeRegisters creates an empty fake register file; every offset
// reads as zero until written.
func NewFakeRegisters() *FakeRegisters {
	return &FakeRegisters{mem: make(map[uintptr]uint32)}
}

func (f *FakeRegisters) Load32(offset uintptr) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[offset]
}

func (f *FakeRegisters) Store32(offset uintptr, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mem[offset] = value
}

func (f *FakeRegisters) Close() error { return nil }

var _ Registers = (*FakeRegisters)(nil)
