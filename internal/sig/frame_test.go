package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSigFrameMarshalRoundTrip exercises the spec section 8 round-trip
// law: encoding then decoding a frame must reproduce it bit-exact,
// including every register and the trampoline's literal byte pattern.
func TestSigFrameMarshalRoundTrip(t *testing.T) {
	frame := &SigFrame{
		Trampoline: Trampoline,
		Info: SigInfo{
			Signo: SIGSEGV,
			Code:  1,
			Errno: 0,
			PID:   4242,
			UID:   1000,
			Addr:  0x7fff00001234,
		},
		CtxFlags: 1,
		CtxLink:  0x1000,
		AltStack: AltStack{SP: 0x2000, Size: 0x4000, OnStack: true},
		SavedMask: 0x0f0f0f0f,
		MContext: MContext{
			GPRegs:   [numGPRegs]uint64{0: 0xaaaa, 1: 0xbbbb, 63: 0xffff},
			FlagRegs: [numFlagRegs]uint64{0: 1},
		},
		Fatal:  true,
		Signum: SIGSEGV,
	}
	frame.LshmScratch[0] = 0x42
	frame.LshmScratch[255] = 0x24

	buf := frame.Marshal()
	require.Len(t, buf, FrameSize)

	decoded, err := Unmarshal(buf)
	require.NoError(t, err)

	assert.Equal(t, frame.Trampoline, decoded.Trampoline)
	assert.Equal(t, frame.Info, decoded.Info)
	assert.Equal(t, frame.CtxFlags, decoded.CtxFlags)
	assert.Equal(t, frame.CtxLink, decoded.CtxLink)
	assert.Equal(t, frame.AltStack, decoded.AltStack)
	assert.Equal(t, frame.SavedMask, decoded.SavedMask)
	assert.Equal(t, frame.MContext, decoded.MContext)
	assert.Equal(t, frame.LshmScratch, decoded.LshmScratch)
	assert.Equal(t, frame.Fatal, decoded.Fatal)
	assert.Equal(t, frame.Signum, decoded.Signum)
}

func TestSigFrameUnmarshalShortBufferFails(t *testing.T) {
	_, err := Unmarshal(make([]byte, FrameSize-1))
	require.Error(t, err)
}

func TestTrampolineBitExact(t *testing.T) {
	assert.Equal(t, [5]uint64{
		0x462eaeae00000000,
		0x012e008e00000018,
		0x45000f0000000000,
		0x310003ae00000000,
		0x3f00000000000000,
	}, Trampoline)
}
