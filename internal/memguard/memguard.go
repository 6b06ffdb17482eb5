// Package memguard detects writes to memory blocks while they sit unused in
// a pool's cache. A block is sealed with a content fingerprint when it enters
// the cache and verified when it leaves; a mismatch means some caller kept
// writing through a handle it had already released.
package memguard

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

var ErrBlockModified = errors.New("block was modified while cached")

// Tracker records content fingerprints for host-addressable memory regions.
// It is not safe for concurrent use; callers serialize access.
type Tracker struct {
	sums map[uintptr]uint64
}

func New() *Tracker {
	return &Tracker{sums: make(map[uintptr]uint64)}
}

// Seal fingerprints the region starting at addr. Regions without a host
// address (addr 0) are ignored.
func (t *Tracker) Seal(addr uintptr, size uint64) {
	if addr == 0 || size == 0 {
		return
	}
	t.sums[addr] = sum(addr, size)
}

// Verify re-fingerprints a sealed region and removes the seal. It returns an
// error wrapping ErrBlockModified if the contents changed since Seal, and nil
// for regions that were never sealed.
func (t *Tracker) Verify(addr uintptr, size uint64) error {
	want, ok := t.sums[addr]
	if !ok {
		return nil
	}
	delete(t.sums, addr)
	if got := sum(addr, size); got != want {
		return fmt.Errorf("%w: block %#x (%d bytes)", ErrBlockModified, addr, size)
	}
	return nil
}

// Drop discards the seal for addr, if any.
func (t *Tracker) Drop(addr uintptr) {
	delete(t.sums, addr)
}

func sum(addr uintptr, size uint64) uint64 {
	return xxhash.Sum64(unsafe.Slice((*byte)(unsafe.Pointer(addr)), size))
}
