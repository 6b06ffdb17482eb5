package mempool

import "fmt"

// Context is an execution/address-space handle that must be current for
// backend calls on context-bound backends.
//
// Push makes the context current for the calling goroutine's backend calls
// and Pop restores the previous one; the two always pair. Retain and Release
// manage a strong keep-alive reference, decoupled from currency: a pool
// retains the context for as long as it caches at least one block, so the
// context cannot be torn down underneath memory the pool still owns.
type Context interface {
	Push() error
	Pop() error
	Retain()
	Release()
}

// WithCurrent runs fn with ctx current, restoring the previous context on
// every exit path. A restore failure is surfaced only when fn itself
// succeeded.
func WithCurrent(ctx Context, fn func() error) (err error) {
	if err := ctx.Push(); err != nil {
		return fmt.Errorf("activating context: %w", err)
	}
	defer func() {
		if popErr := ctx.Pop(); popErr != nil && err == nil {
			err = fmt.Errorf("restoring context: %w", popErr)
		}
	}()
	return fn()
}

// contextDependent tracks the keep-alive reference a pool holds on its
// backend's context while it caches blocks. acquire and release are
// idempotent so the reference is held once, not once per block.
type contextDependent struct {
	ctx  Context
	held bool
}

func (d *contextDependent) acquire() {
	if d.ctx == nil || d.held {
		return
	}
	d.ctx.Retain()
	d.held = true
}

func (d *contextDependent) release() {
	if !d.held {
		return
	}
	d.ctx.Release()
	d.held = false
}

// contextHolder is implemented by context-bound backends so pools can wire
// the cache's keep-alive reference automatically.
type contextHolder interface {
	Context() Context
}

// DeviceBackend adapts raw device alloc/free primitives into a Backend,
// activating the bound context around every call. The primitives are
// injected since the concrete device API varies per driver binding.
type DeviceBackend[H comparable] struct {
	ctx   Context
	alloc func(size uint64) (H, error)
	free  func(h H) error
}

// NewDeviceBackend creates a context-bound backend from raw device memory
// primitives. alloc must report exhaustion with an error wrapping
// ErrOutOfResource.
func NewDeviceBackend[H comparable](ctx Context, alloc func(size uint64) (H, error), free func(h H) error) *DeviceBackend[H] {
	return &DeviceBackend[H]{ctx: ctx, alloc: alloc, free: free}
}

// Context returns the bound execution context.
func (b *DeviceBackend[H]) Context() Context {
	return b.ctx
}

func (b *DeviceBackend[H]) Allocate(size uint64) (H, error) {
	var h H
	err := WithCurrent(b.ctx, func() error {
		var err error
		h, err = b.alloc(size)
		return err
	})
	return h, err
}

func (b *DeviceBackend[H]) Free(h H) error {
	return WithCurrent(b.ctx, func() error {
		return b.free(h)
	})
}
