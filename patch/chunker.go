package patch

// Chunking parameters for deltas. Changing them changes chunk boundaries,
// so existing signatures stop matching, but patches stay valid because they
// only reference byte ranges.
const (
	minChunkSize = 256
	maxChunkSize = 16 * 1024

	// boundaryMask has 11 high bits set, giving a boundary probability of
	// 1/2048 per byte past minChunkSize.
	boundaryMask uint64 = 0xFFE0000000000000
)

// gearTable holds the per-byte constants of the GearHash rolling hash.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	// splitmix64 with a fixed seed keeps boundaries stable across builds.
	x := uint64(0x6d6f646c697374)
	for i := range t {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		t[i] = z ^ (z >> 31)
	}
	return t
}()

// chunk is a byte range of the chunked input.
type chunk struct {
	offset int
	length int
}

// chunks splits data at content-defined boundaries.
func chunks(data []byte) []chunk {
	var out []chunk
	for pos := 0; pos < len(data); {
		n := findBoundary(data[pos:])
		out = append(out, chunk{offset: pos, length: n})
		pos += n
	}
	return out
}

// findBoundary returns the length of the first chunk of data.
func findBoundary(data []byte) int {
	if len(data) <= minChunkSize {
		return len(data)
	}
	var h uint64
	limit := min(len(data), maxChunkSize)
	// The hash window is 64 bytes wide, so hashing can start just before
	// the first position a boundary may occur.
	for i := max(0, minChunkSize-64); i < limit; i++ {
		h = (h << 1) + gearTable[data[i]]
		if i+1 >= minChunkSize && h&boundaryMask == 0 {
			return i + 1
		}
	}
	return limit
}
