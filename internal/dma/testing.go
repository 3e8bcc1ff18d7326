package dma

import (
	"sync"

	"github.com/veos-go/vacore/internal/xlate"
)

// FakeTranslator is an in-memory Translator for tests: it maps
// (space, pid, page-aligned virtual address) to a physical base,
// reporting a configurable page size per space and a single protection
// shared by every mapped page.
type FakeTranslator struct {
	mu          sync.Mutex
	HostPageSize  uint64
	AccelPageSize uint64
	Protection    xlate.Protection
	pages         map[fakeKey]uint64
	Fail          map[fakeKey]error
}

type fakeKey struct {
	space    xlate.Space
	pid      int32
	pageBase uint64
}

// NewFakeTranslator creates a translator defaulting to read+write
// protection and the given per-space page sizes.
func NewFakeTranslator(hostPageSize, accelPageSize uint64) *FakeTranslator {
	return &FakeTranslator{
		HostPageSize:  hostPageSize,
		AccelPageSize: accelPageSize,
		Protection:    xlate.Protection{Read: true, Write: true},
		pages:         make(map[fakeKey]uint64),
		Fail:          make(map[fakeKey]error),
	}
}

func (f *FakeTranslator) pageSize(space xlate.Space) uint64 {
	if space == xlate.Host {
		return f.HostPageSize
	}
	return f.AccelPageSize
}

// MapPage installs an identity-like mapping: virtAddr's containing page
// resolves to physBase + (virtAddr - pageStart).
func (f *FakeTranslator) MapPage(space xlate.Space, pid int32, virtPageStart, physBase uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[fakeKey{space, pid, virtPageStart}] = physBase
}

// FailAt makes every later translation of virtAddr's page return err;
// the failure is not cleared after it fires.
func (f *FakeTranslator) FailAt(space xlate.Space, pid int32, virtPageStart uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fail[fakeKey{space, pid, virtPageStart}] = err
}

func (f *FakeTranslator) Translate(space xlate.Space, pid int32, virtAddr uint64, wantWrite bool) (xlate.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pageSize := f.pageSize(space)
	pageStart := virtAddr &^ (pageSize - 1)
	key := fakeKey{space, pid, pageStart}
	if err, ok := f.Fail[key]; ok {
		return xlate.Resolution{}, err
	}
	physBase, ok := f.pages[key]
	if !ok {
		return xlate.Resolution{}, &xlate.Error{Pid: pid, VirtAddr: virtAddr, Reason: "no mapping"}
	}
	return xlate.Resolution{
		PhysAddr:   physBase + (virtAddr - pageStart),
		PageSize:   pageSize,
		Protection: f.Protection,
	}, nil
}

var _ xlate.Translator = (*FakeTranslator)(nil)
