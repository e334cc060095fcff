package checksum

import "github.com/zeebo/xxh3"

// Block computes the XXH3-64 checksum appended as a block or footer trailer
// when a store is configured with BlockChecksums enabled. This is the
// detection mechanism behind the CorruptBlock and CorruptFooter error kinds:
// the value stored on disk, not the algorithm, is what the reader checks.
func Block(data []byte) uint64 {
	return xxh3.Hash(data)
}
