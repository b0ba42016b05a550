package util

// NextPow2 returns the smallest power of two >= x (1 for x <= 1). Ring
// buffers sized with it can wrap with a mask instead of a modulo.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}
