// Package mempool implements a caching memory-block allocator for scarce,
// expensive-to-acquire memory such as device memory or pinned host pages.
// Freed blocks are retained in size-classed bins for fast reuse instead of
// being returned to the backend, and the pool trims its own cache to recover
// from backend out-of-resource conditions.
package mempool

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/holmberd/go-mempool/internal/memguard"
)

// Pool is a caching allocator over a Backend. Freed blocks are retained in
// per-bin free lists for fast reuse instead of being returned to the backend,
// and the most recently freed block of a bin is reused first.
//
// A pool serves one logical thread of control at a time; the internal mutex
// makes individual operations safe, but callers sharing a pool across
// goroutines must not assume any cross-call ordering beyond that.
type Pool[H comparable] struct {
	mu      sync.Mutex
	backend Backend[H]
	logger  *slog.Logger
	guard   *memguard.Tracker
	hook    func()
	dep     contextDependent

	// bins contains the per-bin free lists of cached blocks, popped LIFO.
	bins    map[uint32][]H
	held    int
	active  int
	stopped bool

	// trimThreshold is the number of cached blocks a bin can hold before the
	// pool starts releasing memory. 0 disables trimming.
	trimThreshold int
}

// New creates a new, empty pool over the given backend with the default
// configuration. If the backend is context-bound, the pool retains the
// context for as long as it caches at least one block.
func New[H comparable](backend Backend[H]) *Pool[H] {
	return Custom(backend, DefaultConfig())
}

// Custom creates a new pool over the given backend with a custom config.
func Custom[H comparable](backend Backend[H], config Config) *Pool[H] {
	p := &Pool[H]{
		backend:       backend,
		logger:        config.Logger,
		hook:          config.ReleaseHook,
		bins:          make(map[uint32][]H),
		trimThreshold: config.TrimThreshold,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if ch, ok := any(backend).(contextHolder); ok {
		p.dep.ctx = ch.Context()
	}
	if config.Guard {
		if p.dep.ctx != nil {
			// Context-bound handles are device addresses, not host memory;
			// fingerprinting them would fault.
			p.logger.Warn("guard disabled: backend handles are not host-addressable")
		} else {
			p.guard = memguard.New()
		}
	}
	return p
}

// Allocate returns a block of at least size bytes, reusing a cached block of
// the same bin when one is available. On a cache miss the backend is asked
// for AllocSize(BinNumber(size)) bytes; if that fails with ErrOutOfResource
// the pool frees every cached block, invokes the release hook, and retries
// exactly once before propagating the failure.
func (p *Pool[H]) Allocate(size uint64) (*Allocation[H], error) {
	bin := BinNumber(size)
	allocSize := AllocSize(bin)

	p.mu.Lock()
	if blocks := p.bins[bin]; len(blocks) > 0 {
		n := len(blocks) - 1
		h := blocks[n]
		p.bins[bin] = blocks[:n]
		p.decHeldLocked()
		p.active++
		p.mu.Unlock()
		if err := p.verifySeal(h, allocSize); err != nil {
			return nil, err
		}
		return &Allocation[H]{pool: p, handle: h, bin: bin, size: allocSize}, nil
	}

	h, err := p.backend.Allocate(allocSize)
	if err == nil {
		p.active++
		p.mu.Unlock()
		return &Allocation[H]{pool: p, handle: h, bin: bin, size: allocSize}, nil
	}
	if !errors.Is(err, ErrOutOfResource) {
		p.mu.Unlock()
		return nil, fmt.Errorf("allocating %d bytes: %w", allocSize, err)
	}

	// Reclaim: drain the cache back to the backend, give external holders a
	// chance to let go, then retry once. A second failure is terminal.
	p.logger.Debug("backend allocation failed, reclaiming cached blocks",
		"size", allocSize, "held", p.held)
	toFree := p.drainLocked()
	hook := p.reliefHook()
	p.mu.Unlock()

	p.freeBlocks(toFree)
	p.releaseDepIfIdle()
	if hook != nil {
		hook()
	}

	h, err = p.backend.Allocate(allocSize)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes after reclaim: %w", allocSize, err)
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	return &Allocation[H]{pool: p, handle: h, bin: bin, size: allocSize}, nil
}

// FreeHeld frees every cached block back to the backend. Active allocations
// are unaffected. The context keep-alive reference, if any, is dropped once
// no block remains held.
func (p *Pool[H]) FreeHeld() {
	p.mu.Lock()
	toFree := p.drainLocked()
	p.mu.Unlock()
	p.freeBlocks(toFree)
	p.releaseDepIfIdle()
}

// StopHolding irreversibly switches the pool into pass-through mode: cached
// blocks are freed now and releasing an allocation frees its block
// immediately instead of caching it. Used when the pool is being torn down
// while outstanding handles may still release later.
func (p *Pool[H]) StopHolding() {
	p.mu.Lock()
	p.stopped = true
	toFree := p.drainLocked()
	p.mu.Unlock()
	p.freeBlocks(toFree)
	p.releaseDepIfIdle()
}

// HeldBlocks returns the number of cached, currently-unused blocks.
func (p *Pool[H]) HeldBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// ActiveBlocks returns the number of blocks currently issued to callers.
func (p *Pool[H]) ActiveBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// release returns an issued block to the pool. Called by Allocation.Free
// exactly once per handle.
func (p *Pool[H]) release(h H, bin uint32) error {
	p.mu.Lock()
	if p.active == 0 {
		p.mu.Unlock()
		return fmt.Errorf("releasing block %v: %w", h, ErrInvalidHandle)
	}
	p.active--

	if p.stopped {
		p.mu.Unlock()
		if err := p.backend.Free(h); err != nil {
			return fmt.Errorf("freeing block %v: %w", h, err)
		}
		return nil
	}

	if p.guard != nil {
		p.guard.Seal(handleAddr(h), AllocSize(bin))
	}
	p.bins[bin] = append(p.bins[bin], h)
	p.incHeldLocked()

	var toFree []H
	if p.trimThreshold > 0 && len(p.bins[bin]) > p.trimThreshold {
		// Release the oldest half of the bin to prevent thrashing around the
		// threshold.
		blocks := p.bins[bin]
		freeCount := len(blocks) / 2
		toFree = slices.Clone(blocks[:freeCount])
		p.bins[bin] = slices.Clone(blocks[freeCount:])
		for range toFree {
			p.decHeldLocked()
		}
		if p.guard != nil {
			for _, fh := range toFree {
				p.guard.Drop(handleAddr(fh))
			}
		}
	}
	p.mu.Unlock()

	// Free trimmed blocks outside of the lock to avoid blocking other
	// operations on a slow backend.
	p.freeBlocks(toFree)
	return nil
}

// drainLocked empties every free list, returning the blocks for the caller
// to free to the backend after the lock is dropped. The context keep-alive
// reference is deliberately not released here: the backend frees still need
// a live context, so callers drop the reference via releaseDepIfIdle after
// freeBlocks returns.
// It assumes the caller holds the mutex.
func (p *Pool[H]) drainLocked() []H {
	var all []H
	for bin, blocks := range p.bins {
		all = append(all, blocks...)
		delete(p.bins, bin)
	}
	for _, h := range all {
		if p.guard != nil {
			p.guard.Drop(handleAddr(h))
		}
	}
	p.held -= len(all)
	return all
}

// releaseDepIfIdle drops the context keep-alive reference if the cache is
// still empty. Runs only after drained blocks were freed to the backend, so
// the pool never tears down a context that blocks still live in.
func (p *Pool[H]) releaseDepIfIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held == 0 {
		p.dep.release()
	}
}

func (p *Pool[H]) freeBlocks(blocks []H) {
	for _, h := range blocks {
		if err := p.backend.Free(h); err != nil {
			p.logger.Error("failed to free cached block", "block", h, "error", err)
		}
	}
}

// verifySeal checks a cached block's fingerprint before it is reused. A
// mismatch means something wrote to the block while it sat in the cache; the
// block is discarded and the allocation fails loudly.
func (p *Pool[H]) verifySeal(h H, size uint64) error {
	if p.guard == nil {
		return nil
	}
	if err := p.guard.Verify(handleAddr(h), size); err != nil {
		p.logger.Error("cached block was modified while free", "addr", handleAddr(h), "error", err)
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		if ferr := p.backend.Free(h); ferr != nil {
			p.logger.Error("failed to free tampered block", "addr", handleAddr(h), "error", ferr)
		}
		return fmt.Errorf("reusing cached block: %w", err)
	}
	return nil
}

// incHeldLocked and decHeldLocked keep the held counter and the context
// keep-alive reference in sync: the reference is acquired when the pool
// begins holding blocks and dropped when it stops holding all of them.
// They assume the caller holds the mutex.
func (p *Pool[H]) incHeldLocked() {
	if p.held == 0 {
		p.dep.acquire()
	}
	p.held++
}

func (p *Pool[H]) decHeldLocked() {
	p.held--
	if p.held == 0 {
		p.dep.release()
	}
}

func (p *Pool[H]) reliefHook() func() {
	if p.hook != nil {
		return p.hook
	}
	if r, ok := any(p.backend).(BlockReleaser); ok {
		return r.TryReleaseBlocks
	}
	return globalReleaseHook()
}
