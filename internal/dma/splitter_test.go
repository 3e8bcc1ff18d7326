package dma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veos-go/vacore/internal/xlate"
)

const (
	testHostPageSize  = 4096
	testAccelPageSize = 2097152
)

func newIdentityTranslator() *FakeTranslator {
	tr := NewFakeTranslator(testHostPageSize, testAccelPageSize)
	// Identity-map every page a test touches by mapping a broad
	// contiguous physical range that spans several pages either side
	// of the addresses the fragmented-transfer scenario exercises.
	for base := uint64(0); base < 0x400_0000; base += testHostPageSize {
		tr.MapPage(xlate.Host, 100, base, base)
	}
	for base := uint64(0); base < 0x400_0000; base += testAccelPageSize {
		tr.MapPage(xlate.Accelerator, 200, base, base)
	}
	return tr
}

// TestSplitFragmentedTransfer exercises a request whose source crosses a
// host page boundary and whose destination crosses an accelerator page
// boundary within the same 48-byte request, with no binding hardware
// maximum. The fragment lengths are driven purely by the two page
// boundaries: the source's host-page end binds first (16 bytes), then
// the destination's accelerator-page end binds (8 bytes), and the
// remaining 24 bytes form the last fragment.
func TestSplitFragmentedTransfer(t *testing.T) {
	translator := newIdentityTranslator()

	req := Request{
		Src:    Address{Kind: HostVirt, Pid: 100, Addr: 0xFFF0},
		Dst:    Address{Kind: VaVirt, Pid: 200, Addr: 0x200_0000 - 0x18},
		Length: 0x30,
	}

	fragments, err := Split(req, translator, 0x1000000)
	require.NoError(t, err)
	require.Len(t, fragments, 3)

	assert.Equal(t, uint64(0x10), fragments[0].Length)
	assert.Equal(t, uint64(0x08), fragments[1].Length)
	assert.Equal(t, uint64(0x18), fragments[2].Length)

	var total uint64
	for _, f := range fragments {
		total += f.Length
	}
	assert.Equal(t, req.Length, total)

	assert.Equal(t, HostPhys, fragments[0].SrcPhys.Kind)
	assert.Equal(t, VaPhys, fragments[0].DstPhys.Kind)
}

func TestSplitHwMaxBinds(t *testing.T) {
	translator := newIdentityTranslator()
	req := Request{
		Src:    Address{Kind: HostPhys, Addr: 0x1000},
		Dst:    Address{Kind: VaPhys, Addr: 0x2000},
		Length: 0x20,
	}

	fragments, err := Split(req, translator, 0x08)
	require.NoError(t, err)
	require.Len(t, fragments, 4)
	for _, f := range fragments {
		assert.Equal(t, uint64(0x08), f.Length)
	}
}

func TestSplitZeroLengthInvalid(t *testing.T) {
	req := Request{Src: Address{Kind: HostPhys}, Dst: Address{Kind: VaPhys}, Length: 0}
	_, err := Split(req, newIdentityTranslator(), 0x1000000)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSplitMisalignedInvalid(t *testing.T) {
	for _, off := range []uint64{1, 2, 3, 4, 5, 6, 7} {
		req := Request{
			Src:    Address{Kind: HostPhys, Addr: off},
			Dst:    Address{Kind: VaPhys},
			Length: 8,
		}
		_, err := Split(req, newIdentityTranslator(), 0x1000000)
		assert.ErrorIsf(t, err, ErrInvalid, "offset %d should be rejected", off)
	}
}

func TestSplitUnknownKindInvalid(t *testing.T) {
	req := Request{Src: Address{Kind: Kind(99)}, Dst: Address{Kind: VaPhys}, Length: 8}
	_, err := Split(req, newIdentityTranslator(), 0x1000000)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSplitMaxLengthSingleFragment(t *testing.T) {
	req := Request{
		Src:    Address{Kind: HostPhys, Addr: 0},
		Dst:    Address{Kind: VaPhys, Addr: 0},
		Length: 0x1000000,
	}
	fragments, err := Split(req, newIdentityTranslator(), 0x1000000)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, uint64(0x1000000), fragments[0].Length)
}

func TestSplitMaxLengthPlusEightTwoFragments(t *testing.T) {
	req := Request{
		Src:    Address{Kind: HostPhys, Addr: 0},
		Dst:    Address{Kind: VaPhys, Addr: 0},
		Length: 0x1000008,
	}
	fragments, err := Split(req, newIdentityTranslator(), 0x1000000)
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	var total uint64
	for _, f := range fragments {
		total += f.Length
	}
	assert.Equal(t, req.Length, total)
}

func TestSplitTranslationFailureRollsBack(t *testing.T) {
	translator := NewFakeTranslator(testHostPageSize, testAccelPageSize)
	// deliberately no mappings installed: every translate call fails.
	req := Request{
		Src:    Address{Kind: HostVirt, Pid: 100, Addr: 0x1000},
		Dst:    Address{Kind: VaPhys, Addr: 0},
		Length: 8,
	}
	fragments, err := Split(req, translator, 0x1000000)
	assert.ErrorIs(t, err, ErrTranslation)
	assert.Nil(t, fragments)
}

func TestSplitReadOnlyDestinationFails(t *testing.T) {
	translator := NewFakeTranslator(testHostPageSize, testAccelPageSize)
	translator.MapPage(xlate.Host, 100, 0, 0)
	translator.MapPage(xlate.Accelerator, 200, 0, 0)
	translator.Protection = xlate.Protection{Read: true, Write: false}

	req := Request{
		Src:    Address{Kind: HostVirt, Pid: 100, Addr: 0},
		Dst:    Address{Kind: VaVirt, Pid: 200, Addr: 0},
		Length: 8,
	}
	_, err := Split(req, translator, 0x1000000)
	assert.ErrorIs(t, err, ErrTranslation)
}

func TestSplitNoProtCheckSkipsWriteCheck(t *testing.T) {
	translator := NewFakeTranslator(testHostPageSize, testAccelPageSize)
	translator.MapPage(xlate.Host, 100, 0, 0)
	translator.MapPage(xlate.Accelerator, 200, 0, 0)
	translator.Protection = xlate.Protection{Read: true, Write: false}

	req := Request{
		Src:    Address{Kind: HostVirt, Pid: 100, Addr: 0},
		Dst:    Address{Kind: VaVirtNoProtCheck, Pid: 200, Addr: 0},
		Length: 8,
	}
	fragments, err := Split(req, translator, 0x1000000)
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.True(t, fragments[0].SkipProtCheck)
}
