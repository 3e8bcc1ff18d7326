package vacore

import (
	"github.com/veos-go/vacore/internal/dma"
	"github.com/veos-go/vacore/internal/hwreg"
	"github.com/veos-go/vacore/internal/proctab"
	"github.com/veos-go/vacore/internal/xport"
)

// Top-level aliases for the per-package test doubles, so a caller
// assembling a full in-process vacore stack for its own tests doesn't
// need to import every internal package directly.
type (
	MockTransport  = xport.MockTransport
	FakeRegisters  = hwreg.FakeRegisters
	FakeTranslator = dma.FakeTranslator
)

var (
	NewMockTransport  = xport.NewMockTransport
	NewFakeRegisters  = hwreg.NewFakeRegisters
	NewFakeTranslator = dma.NewFakeTranslator
)

// NewTestProctab creates an empty process/thread table seeded with the
// given tasks, for tests that exercise GroupCoordinator's
// StopIfHostStopped action without a real host collaborator.
func NewTestProctab(tasks ...proctab.Task) *proctab.Table {
	t := proctab.New()
	for _, task := range tasks {
		t.Insert(task)
	}
	return t
}
