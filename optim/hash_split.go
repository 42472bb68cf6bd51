package optim

import "bytes"

// A Hasher is a SampleList with the added capability to
// produce a hash for a given sample.
type Hasher interface {
	SampleList
	Hash(i int) []byte
}

// HashSplit partitions a Hasher.
// It can be used to deterministically split data up into
// separate validation and training samples: a sample
// always lands on the same side, no matter which other
// samples are in the list.
//
// The Hasher h will be re-ordered as needed.
//
// The leftRatio argument specifies the expected fraction
// of samples that should end up on the left partition.
func HashSplit(h Hasher, leftRatio float64) (left, right SampleList) {
	if leftRatio <= 0 {
		return h.Slice(0, 0), h
	} else if leftRatio >= 1 {
		return h, h.Slice(0, 0)
	}
	cutoff := hashCutoff(leftRatio)
	splitIdx := 0
	for i := 0; i < h.Len(); i++ {
		if compareHashes(h.Hash(i), cutoff) < 0 {
			h.Swap(splitIdx, i)
			splitIdx++
		}
	}
	return h.Slice(0, splitIdx), h.Slice(splitIdx, h.Len())
}

// hashCutoff expresses ratio as a big-endian fraction of
// the hash space.
func hashCutoff(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		value := int(ratio)
		ratio -= float64(value)
		if value == 256 {
			value = 255
		}
		res[i] = byte(value)
	}
	return res
}

// compareHashes compares two hashes as if the shorter
// one were padded with trailing zeros.
func compareHashes(h1, h2 []byte) int {
	n := len(h1)
	if len(h2) > n {
		n = len(h2)
	}
	p1 := make([]byte, n)
	p2 := make([]byte, n)
	copy(p1, h1)
	copy(p2, h2)
	return bytes.Compare(p1, p2)
}
