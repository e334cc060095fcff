// Package table implements the SST (sorted string table) file format: a
// sequence of blocks, a block index, and a 32-byte footer. See
// stratumkv's SPEC_FULL.md §6.2.
//
// Grounded on the teacher's table.Builder flush-on-threshold control flow
// (internal/table/builder.go): buffer entries into a block.Builder, flush
// to a new block once it crosses a size threshold, and track each
// flushed block's first/last key and file offset for the index.
package table

import (
	"errors"

	"github.com/aalhour/stratumkv/internal/block"
	"github.com/aalhour/stratumkv/internal/checksum"
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/encoding"
	"github.com/bits-and-blooms/bloom/v3"
)

// FooterSize is the size in bytes of the fixed SST footer:
// u64 index_offset, u64 index_length, u64 min_txn, u64 max_txn.
const FooterSize = 32

// ErrEmptyTable is returned by Finish when no entries were added.
var ErrEmptyTable = errors.New("table: cannot finish an empty table")

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// BlockSize is the approximate size, in bytes, at which a block is
	// flushed and a new one started.
	BlockSize int
	// BlockChecksums enables the optional XXH3-64 trailer on each block.
	BlockChecksums bool
	// UseBloomFilter enables a per-file bloom filter built over user keys.
	UseBloomFilter bool
	// BloomFilterBitsPerKey sizes the bloom filter when enabled.
	BloomFilterBitsPerKey uint
}

// DefaultBuilderOptions returns the teacher's usual block size with
// checksums and bloom filters disabled.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{BlockSize: 4096, BloomFilterBitsPerKey: 10}
}

type indexEntry struct {
	firstKey    []byte
	lastKey     []byte
	blockOffset uint64
	blockSize   uint64
}

// Builder assembles one SST file: a stream of finished blocks followed by
// a block index and footer.
type Builder struct {
	opts BuilderOptions

	out    []byte // accumulated file content
	block  *block.Builder
	index  []indexEntry
	filter *bloom.BloomFilter

	numEntries int
	minTxn     dbformat.TxnID
	maxTxn     dbformat.TxnID
	haveTxn    bool

	curFirstKey []byte
	curLastKey  []byte
}

// NewBuilder creates an empty Builder. estimatedKeys sizes the optional
// bloom filter and may be zero when unknown.
func NewBuilder(opts BuilderOptions, estimatedKeys int) *Builder {
	b := &Builder{
		opts:  opts,
		block: block.NewBuilder(opts.BlockChecksums),
	}
	if opts.UseBloomFilter {
		if estimatedKeys < 1 {
			estimatedKeys = 1
		}
		b.filter = bloom.NewWithEstimates(uint(estimatedKeys), falsePositiveRate(opts.BloomFilterBitsPerKey))
	}
	return b
}

// falsePositiveRate approximates the false-positive rate bits-per-key
// implies, since bloom/v3 is parameterized by rate rather than bits/key.
func falsePositiveRate(bitsPerKey uint) float64 {
	if bitsPerKey == 0 {
		bitsPerKey = 10
	}
	// Standard approximation: fp ~= 0.6185^(bits/key).
	rate := 1.0
	for range bitsPerKey {
		rate *= 0.6185
	}
	return rate
}

// Add appends one entry. Keys must be added in ascending internal-key
// order across the whole table's lifetime.
func (b *Builder) Add(key, value []byte, txn dbformat.TxnID, kind dbformat.ValueKind) error {
	if err := b.block.Add(key, value, txn, kind); err != nil {
		return err
	}
	if b.filter != nil {
		b.filter.Add(key)
	}
	if b.curFirstKey == nil {
		b.curFirstKey = append([]byte(nil), key...)
	}
	b.curLastKey = append(b.curLastKey[:0], key...)

	if !b.haveTxn || txn < b.minTxn {
		b.minTxn = txn
		b.haveTxn = true
	}
	if txn > b.maxTxn {
		b.maxTxn = txn
	}
	b.numEntries++

	if b.block.CurrentSize() >= b.opts.BlockSize {
		b.flushBlock()
	}
	return nil
}

func (b *Builder) flushBlock() {
	if b.block.Empty() {
		return
	}
	offset := uint64(len(b.out))
	data := b.block.Finish()
	b.out = append(b.out, data...)
	b.index = append(b.index, indexEntry{
		firstKey:    b.curFirstKey,
		lastKey:     b.curLastKey,
		blockOffset: offset,
		blockSize:   uint64(len(data)),
	})
	b.block.Reset()
	b.curFirstKey = nil
	b.curLastKey = nil
}

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() int { return b.numEntries }

// CurrentSize estimates the size of the file if Finish were called now.
func (b *Builder) CurrentSize() int {
	return len(b.out) + b.block.CurrentSize()
}

// FirstKey and LastKey return the smallest/largest user key added so far.
func (b *Builder) FirstKey() []byte {
	if len(b.index) > 0 {
		return b.index[0].firstKey
	}
	return b.curFirstKey
}

func (b *Builder) LastKey() []byte {
	if b.curLastKey != nil {
		return b.curLastKey
	}
	if len(b.index) > 0 {
		return b.index[len(b.index)-1].lastKey
	}
	return nil
}

// Finish flushes any buffered block, appends the block index and footer,
// and returns the complete file content. Returns ErrEmptyTable if no
// entries were ever added.
func (b *Builder) Finish() ([]byte, error) {
	if b.numEntries == 0 {
		return nil, ErrEmptyTable
	}
	b.flushBlock()

	indexOffset := uint64(len(b.out))
	for _, e := range b.index {
		b.out = encoding.AppendFixed32(b.out, uint32(len(e.firstKey)))
		b.out = append(b.out, e.firstKey...)
		b.out = encoding.AppendFixed32(b.out, uint32(len(e.lastKey)))
		b.out = append(b.out, e.lastKey...)
		b.out = encoding.AppendFixed64(b.out, e.blockOffset)
		b.out = encoding.AppendFixed64(b.out, e.blockSize)
	}
	indexLength := uint64(len(b.out)) - indexOffset

	b.out = encoding.AppendFixed64(b.out, indexOffset)
	b.out = encoding.AppendFixed64(b.out, indexLength)
	b.out = encoding.AppendFixed64(b.out, uint64(b.minTxn))
	b.out = encoding.AppendFixed64(b.out, uint64(b.maxTxn))

	if b.opts.BlockChecksums {
		b.out = encoding.AppendFixed64(b.out, checksum.Block(b.out))
	}
	return b.out, nil
}

// FilterBytes serializes the bloom filter, if one was built, for storage
// as a sidecar alongside the SST file. Returns nil if no filter was
// configured.
func (b *Builder) FilterBytes() ([]byte, error) {
	if b.filter == nil {
		return nil, nil
	}
	return b.filter.MarshalBinary()
}

// Abandon discards the builder's state without producing output.
func (b *Builder) Abandon() {
	b.out = nil
	b.index = nil
	b.block.Reset()
}
