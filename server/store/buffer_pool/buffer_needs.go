package buffer_pool

import "math"

// reservedBuffers 为其他扫描预留的缓冲数
const reservedBuffers = 2

// BestRoot returns the largest k <= available-2 of the form ceil(size^(1/i)),
// the number of buffers a multi-pass operator should use per pass.
func BestRoot(available, size int) int {
	avail := available - reservedBuffers
	if avail <= 1 {
		return 1
	}
	k := math.MaxInt32
	for i := 1.0; k > avail; {
		i++
		k = int(math.Ceil(math.Pow(float64(size), 1/i)))
	}
	return k
}

// BestFactor returns the largest k <= available-2 of the form ceil(size/i),
// the chunk size for an operator that splits its input into equal parts.
func BestFactor(available, size int) int {
	avail := available - reservedBuffers
	if avail <= 1 {
		return 1
	}
	k := size
	for i := 1.0; k > avail; {
		i++
		k = int(math.Ceil(float64(size) / i))
	}
	return k
}
