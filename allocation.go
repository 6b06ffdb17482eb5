package mempool

import (
	"sync/atomic"
	"unsafe"
)

// Allocation is a single block issued by a pool. It keeps the issuing pool
// alive and must be released exactly once via Free; releasing through any
// copy of the handle is rejected with ErrDoubleRelease.
type Allocation[H comparable] struct {
	pool     *Pool[H]
	handle   H
	bin      uint32
	size     uint64
	released atomic.Bool
}

// Size returns the quantized size actually backing this allocation. It is at
// least the requested size; callers must not assume exact-size blocks.
func (a *Allocation[H]) Size() uint64 {
	return a.size
}

// Ptr returns the raw backend handle for interop with native APIs. The block
// remains owned by the allocation; the handle must not outlive it.
func (a *Allocation[H]) Ptr() H {
	return a.handle
}

// Uintptr returns the handle's numeric value for pointer-like handle types,
// and 0 for handle types with no numeric representation.
func (a *Allocation[H]) Uintptr() uintptr {
	return handleAddr(a.handle)
}

// Free returns the block to the pool, or directly to the backend once the
// pool has stopped holding blocks. Calling Free more than once returns
// ErrDoubleRelease without touching pool state.
func (a *Allocation[H]) Free() error {
	if a.released.Swap(true) {
		return ErrDoubleRelease
	}
	return a.pool.release(a.handle, a.bin)
}

func handleAddr[H comparable](h H) uintptr {
	switch p := any(h).(type) {
	case uintptr:
		return p
	case unsafe.Pointer:
		return uintptr(p)
	}
	return 0
}
