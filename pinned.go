package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PinnedBackend allocates page-locked host memory outside the Go heap via
// unix.Mmap, optionally pinning pages with mlock(2). It is context-free and
// satisfies Backend[uintptr]; handles are the base addresses of the mappings.
type PinnedBackend struct {
	mu     sync.Mutex
	lock   bool
	logger *slog.Logger

	// regions maps a block's base address to its mapping, which is needed to
	// munmap it again.
	regions map[uintptr][]byte
}

// NewPinnedBackend creates a pinned host-memory backend.
func NewPinnedBackend(config PinnedConfig) *PinnedBackend {
	return &PinnedBackend{
		lock:    config.Lock,
		logger:  slog.Default(),
		regions: make(map[uintptr][]byte),
	}
}

// Allocate maps size bytes of anonymous memory and, if configured, locks the
// pages. Address-space or pinning exhaustion is reported as ErrOutOfResource.
func (b *PinnedBackend) Allocate(size uint64) (uintptr, error) {
	if size == 0 {
		size = 1
	}
	// Use unix.Mmap to allocate virtual memory that is not part of the Go
	// heap, so large pinned buffers do not add GOGC scan pressure.
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return 0, fmt.Errorf("mmap %d bytes: %w", size, mapResourceErr(err))
	}
	if b.lock {
		if err := unix.Mlock(data); err != nil {
			if uerr := unix.Munmap(data); uerr != nil {
				b.logger.Error("failed to unmap after mlock failure", "error", uerr)
			}
			return 0, fmt.Errorf("mlock %d bytes: %w", size, mapResourceErr(err))
		}
	}

	addr := uintptr(unsafe.Pointer(&data[0]))
	b.mu.Lock()
	b.regions[addr] = data
	b.mu.Unlock()
	return addr, nil
}

// Free unmaps a block previously returned by Allocate.
func (b *PinnedBackend) Free(h uintptr) error {
	b.mu.Lock()
	data, ok := b.regions[h]
	delete(b.regions, h)
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("freeing block %#x: %w", h, ErrInvalidHandle)
	}
	if b.lock {
		if err := unix.Munlock(data); err != nil {
			b.logger.Error("failed to munlock block", "addr", h, "error", err)
		}
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap block %#x: %w", h, err)
	}
	return nil
}

// Bytes returns the pinned memory backing a as a byte slice. The slice
// aliases the allocation and must not be used after the allocation is freed.
func Bytes(a *Allocation[uintptr]) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(a.Ptr())), a.Size())
}

// mapResourceErr folds the errnos mmap/mlock return under memory pressure
// into ErrOutOfResource so the pool's reclaim-and-retry path recognizes them.
func mapResourceErr(err error) error {
	if errors.Is(err, unix.ENOMEM) || errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("%w: %v", ErrOutOfResource, err)
	}
	return err
}
