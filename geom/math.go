package geom

import "math/bits"

// Pow2Ceil returns the smallest power of two >= x (1 for x <= 1).
func Pow2Ceil(x uint64) uint64 {
	if x <= 1 {
		return 1
	}

	return 1 << bits.Len64(x-1)
}

// Log2 returns floor(log2(x)); x must be positive.
func Log2(x uint64) int {
	return bits.Len64(x) - 1
}

// IsPow2 reports whether x is a power of two.
func IsPow2(x uint64) bool {
	return x != 0 && x&(x-1) == 0
}

// CeilDiv returns ceil(a / b).
func CeilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// Pow2Extent rounds every component up to a power of two.
func Pow2Extent(p Point) Point {
	for d := range p {
		p[d] = Pow2Ceil(p[d])
	}

	return p
}
