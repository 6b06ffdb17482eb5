package memguard

import (
	"errors"
	"testing"
	"unsafe"
)

func blockAddr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func TestTracker(t *testing.T) {
	t.Run("unmodified blocks verify clean", func(t *testing.T) {
		tracker := New()
		block := []byte{1, 2, 3, 4}
		tracker.Seal(blockAddr(block), uint64(len(block)))
		if err := tracker.Verify(blockAddr(block), uint64(len(block))); err != nil {
			t.Fatalf("expected clean verification, got %v", err)
		}
	})

	t.Run("modified blocks are detected", func(t *testing.T) {
		tracker := New()
		block := []byte{1, 2, 3, 4}
		tracker.Seal(blockAddr(block), uint64(len(block)))
		block[2] = 0xff
		if err := tracker.Verify(blockAddr(block), uint64(len(block))); !errors.Is(err, ErrBlockModified) {
			t.Fatalf("expected ErrBlockModified, got %v", err)
		}
	})

	t.Run("verify removes the seal", func(t *testing.T) {
		tracker := New()
		block := []byte{1, 2, 3, 4}
		tracker.Seal(blockAddr(block), uint64(len(block)))
		_ = tracker.Verify(blockAddr(block), uint64(len(block)))

		block[0] = 0xff
		if err := tracker.Verify(blockAddr(block), uint64(len(block))); err != nil {
			t.Fatalf("expected unsealed blocks to verify clean, got %v", err)
		}
	})

	t.Run("unsealed blocks verify clean", func(t *testing.T) {
		tracker := New()
		block := []byte{1, 2, 3, 4}
		if err := tracker.Verify(blockAddr(block), uint64(len(block))); err != nil {
			t.Fatalf("expected nil for a block that was never sealed, got %v", err)
		}
	})

	t.Run("dropped seals are forgotten", func(t *testing.T) {
		tracker := New()
		block := []byte{1, 2, 3, 4}
		tracker.Seal(blockAddr(block), uint64(len(block)))
		tracker.Drop(blockAddr(block))
		block[0] = 0xff
		if err := tracker.Verify(blockAddr(block), uint64(len(block))); err != nil {
			t.Fatalf("expected no error after Drop, got %v", err)
		}
	})

	t.Run("zero addresses are ignored", func(t *testing.T) {
		tracker := New()
		tracker.Seal(0, 16)
		if err := tracker.Verify(0, 16); err != nil {
			t.Fatalf("expected zero addresses ignored, got %v", err)
		}
	})
}
