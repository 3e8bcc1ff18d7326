//go:build linux && cgo && amd64

package hwreg

/*
#include <stdint.h>

// x86-64 store fence: ensures all prior stores are globally visible
// before any later store. Required so a descriptor's fields are visible
// to the accelerator before its valid bit is set.
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}
*/
import "C"

// Fence issues a store fence (x86 SFENCE). All stores issued before the
// call are globally visible before any store issued after it.
func Fence() {
	C.sfence_impl()
}
