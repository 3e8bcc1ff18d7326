//go:build !(linux && cgo && amd64)

package hwreg

import "sync/atomic"

var fenceSeq atomic.Uint64

// Fence issues a full compiler + memory barrier via an atomic
// read-modify-write, which Go's memory model guarantees is sequentially
// consistent with respect to other atomic operations. This is weaker
// than a native SFENCE on non-x86 builds; flagged for review when
// porting to a new architecture.
func Fence() {
	fenceSeq.Add(1)
}
