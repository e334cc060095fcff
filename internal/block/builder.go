// builder.go accumulates entries for one block and finishes them into the
// bit-exact layout data section + offset section + extra footer (+ optional
// checksum trailer). Grounded on the flush-on-threshold control flow of a
// classic block builder: Add tracks a running size estimate so the caller
// knows when to Finish and start a new block.
package block

import (
	"errors"

	"github.com/aalhour/stratumkv/internal/checksum"
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/encoding"
)

// ErrOutOfOrder is returned when Add is called with a key that does not
// strictly increase (ties broken by txn descending) over the previous Add.
var ErrOutOfOrder = errors.New("block: keys must be added in ascending order")

// Builder accumulates entries for a single block.
type Builder struct {
	data        []byte
	offsets     []uint64 // interleaved start,length pairs
	numEntries  int
	withChecksum bool

	hasLast bool
	lastKey []byte
	lastTxn dbformat.TxnID
}

// NewBuilder returns an empty Builder. withChecksum controls whether
// Finish appends the optional XXH3-64 trailer.
func NewBuilder(withChecksum bool) *Builder {
	return &Builder{withChecksum: withChecksum}
}

// Add appends one entry. Keys must be added in strictly ascending order,
// with ties at the same user key broken by descending txn.
func (b *Builder) Add(key, value []byte, txn dbformat.TxnID, kind dbformat.ValueKind) error {
	if b.hasLast {
		cmp := dbformat.UserKeyCompare(b.lastKey, key)
		if cmp > 0 || (cmp == 0 && txn >= b.lastTxn) {
			return ErrOutOfOrder
		}
	}

	start := uint64(len(b.data))
	b.data = AppendEntry(b.data, key, value, txn, kind)
	length := uint64(len(b.data)) - start
	b.offsets = append(b.offsets, start, length)
	b.numEntries++

	b.hasLast = true
	b.lastKey = append(b.lastKey[:0], key...)
	b.lastTxn = txn
	return nil
}

// CurrentSize estimates the size of the block if Finish were called now.
func (b *Builder) CurrentSize() int {
	size := len(b.data) + 16*b.numEntries + ExtraSize
	if b.withChecksum {
		size += ChecksumSize
	}
	return size
}

// Empty reports whether any entries have been added.
func (b *Builder) Empty() bool { return b.numEntries == 0 }

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() int { return b.numEntries }

// Finish encodes the complete block: data section, offset section, extra
// footer, and (if enabled) a trailing XXH3-64 checksum of everything before
// it.
func (b *Builder) Finish() []byte {
	offsetSectionStart := uint64(len(b.data))
	out := make([]byte, 0, b.CurrentSize())
	out = append(out, b.data...)
	for i := 0; i < b.numEntries; i++ {
		out = encoding.AppendFixed64(out, b.offsets[2*i])
		out = encoding.AppendFixed64(out, b.offsets[2*i+1])
	}
	out = encoding.AppendFixed64(out, uint64(b.numEntries))
	out = encoding.AppendFixed64(out, offsetSectionStart)

	if b.withChecksum {
		out = encoding.AppendFixed64(out, checksum.Block(out))
	}
	return out
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.data = b.data[:0]
	b.offsets = b.offsets[:0]
	b.numEntries = 0
	b.hasLast = false
}
