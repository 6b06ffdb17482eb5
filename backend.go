package mempool

import "sync"

// Backend is the underlying slow or expensive allocation primitive a pool
// draws from, such as device memory or pinned host pages. H is the
// backend-native handle representation for a block.
//
// Allocate returns a block of at least size bytes, or an error wrapping
// ErrOutOfResource when the resource is exhausted. Free releases a block
// previously returned by Allocate; the pool guarantees it never frees the
// same handle twice.
type Backend[H comparable] interface {
	Allocate(size uint64) (H, error)
	Free(h H) error
}

// BlockReleaser is implemented by backends that can nudge external holders
// into giving up blocks, e.g. by triggering a host-language collector. A pool
// without its own release hook invokes it before retrying a failed
// allocation.
type BlockReleaser interface {
	TryReleaseBlocks()
}

var (
	releaseHookMu sync.Mutex
	releaseHook   func()
)

// SetReleaseHook installs a process-wide release hook, used by pools that
// have neither a per-pool hook nor a BlockReleaser backend. The hook is
// best-effort: it is invoked after a failed backend allocation has drained
// the pool's cache, and its only contract is that it may cause some external
// allocation handles to be released soon. Passing nil removes the hook.
func SetReleaseHook(hook func()) {
	releaseHookMu.Lock()
	defer releaseHookMu.Unlock()
	releaseHook = hook
}

func globalReleaseHook() func() {
	releaseHookMu.Lock()
	defer releaseHookMu.Unlock()
	return releaseHook
}
