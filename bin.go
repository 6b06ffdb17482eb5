package mempool

import "math/bits"

// Size bins grow geometrically, doubling every 1<<mantissaBits steps. This
// keeps the number of distinct bins small while bounding worst-case internal
// fragmentation to the ratio between consecutive bin sizes (~25%).
const (
	mantissaBits = 2
	mantissaMask = (1 << mantissaBits) - 1
)

// Bitlog2 returns floor(log2(v)). Bitlog2(0) is 0.
func Bitlog2(v uint64) uint32 {
	if v == 0 {
		return 0
	}
	return uint32(bits.Len64(v) - 1)
}

// BinNumber maps a requested size in bytes to its size bin.
// It is monotonically non-decreasing in size. Sizes below one byte are
// treated as one byte.
func BinNumber(size uint64) uint32 {
	if size < 1 {
		size = 1
	}
	l := int32(Bitlog2(size))
	// Line the mantissaBits bits below the leading one up at the bottom.
	shifted := shiftRight(size, l-mantissaBits)
	chopped := uint32(shifted) & mantissaMask
	return uint32(l)<<mantissaBits | chopped
}

// AllocSize returns the quantized allocation size for a bin: the largest size
// that maps to it. For every size s, AllocSize(BinNumber(s)) >= s.
func AllocSize(bin uint32) uint64 {
	exponent := int32(bin >> mantissaBits)
	mantissa := uint64(bin & mantissaMask)

	ones := shiftLeft(1, exponent-mantissaBits)
	if ones > 0 {
		ones--
	}
	head := shiftLeft((1<<mantissaBits)|mantissa, exponent-mantissaBits)
	return head | ones
}

// shiftRight shifts v right by sh bits, shifting left for negative sh.
func shiftRight(v uint64, sh int32) uint64 {
	if sh < 0 {
		return v << -sh
	}
	return v >> sh
}

func shiftLeft(v uint64, sh int32) uint64 {
	if sh < 0 {
		return v >> -sh
	}
	return v << sh
}
