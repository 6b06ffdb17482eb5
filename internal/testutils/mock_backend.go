package testutils

import (
	"sync"
	"sync/atomic"
)

// MockBackend is a scriptable in-memory backend. Handles are opaque
// monotonically increasing numbers; no real memory changes hands.
type MockBackend struct {
	mu           sync.Mutex
	allocCalls   atomic.Int64
	freeCalls    atomic.Int64
	next         uint64
	failuresLeft int
	failErr      error
	issued       map[uint64]bool
}

func NewMockBackend() *MockBackend {
	return &MockBackend{issued: make(map[uint64]bool)}
}

// Fail makes the next n Allocate calls return err.
func (b *MockBackend) Fail(n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failuresLeft = n
	b.failErr = err
}

func (b *MockBackend) Allocate(size uint64) (uint64, error) {
	b.allocCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failuresLeft > 0 {
		b.failuresLeft--
		return 0, b.failErr
	}
	b.next++
	b.issued[b.next] = true
	return b.next, nil
}

func (b *MockBackend) Free(h uint64) error {
	b.freeCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.issued, h)
	return nil
}

func (b *MockBackend) AllocCalls() int64 {
	return b.allocCalls.Load()
}

func (b *MockBackend) FreeCalls() int64 {
	return b.freeCalls.Load()
}

// BlocksInUse returns the number of blocks handed out and not yet freed.
func (b *MockBackend) BlocksInUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.issued)
}

func (b *MockBackend) Reset() {
	b.allocCalls.Store(0)
	b.freeCalls.Store(0)
}

// MockContext counts context stack and reference operations. PushErr and
// PopErr, when set, are returned by the corresponding calls.
type MockContext struct {
	Pushes   atomic.Int64
	Pops     atomic.Int64
	Retains  atomic.Int64
	Releases atomic.Int64
	PushErr  error
	PopErr   error
}

func (c *MockContext) Push() error {
	c.Pushes.Add(1)
	return c.PushErr
}

func (c *MockContext) Pop() error {
	c.Pops.Add(1)
	return c.PopErr
}

func (c *MockContext) Retain() {
	c.Retains.Add(1)
}

func (c *MockContext) Release() {
	c.Releases.Add(1)
}

// Refs returns the current strong reference count.
func (c *MockContext) Refs() int64 {
	return c.Retains.Load() - c.Releases.Load()
}
