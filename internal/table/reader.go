package table

import (
	"errors"

	"github.com/aalhour/stratumkv/internal/block"
	"github.com/aalhour/stratumkv/internal/checksum"
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/encoding"
	"github.com/bits-and-blooms/bloom/v3"
)

// ErrChecksumMismatch is returned when the optional footer checksum
// trailer does not match the file's content.
var ErrChecksumMismatch = errors.New("table: checksum mismatch")

// ErrCorrupt is returned when a table's footer or index is malformed.
var ErrCorrupt = errors.New("table: corrupt table file")

type blockIndexEntry struct {
	firstKey []byte
	lastKey  []byte
	offset   uint64
	size     uint64
}

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	// VerifyChecksums enables XXH3-64 verification of the footer trailer,
	// when present. Block trailers are verified whenever BlockChecksums
	// is set, whatever this flag says.
	VerifyChecksums bool
	// BlockChecksums must match whatever BuilderOptions.BlockChecksums
	// was used to produce the file: it determines whether a checksum
	// trailer follows the footer and is passed down to each block.Reader.
	BlockChecksums bool
}

// Reader reads an already-built SST file held fully in memory (raw).
// Grounded on the teacher's table.Reader index-then-block-lookup flow
// (internal/table/reader.go), adapted to the spec's literal block-index
// and footer layout (SPEC_FULL.md §6.2) in place of RocksDB's
// metaindex/properties-block machinery.
type Reader struct {
	raw    []byte
	index  []blockIndexEntry
	minTxn dbformat.TxnID
	maxTxn dbformat.TxnID
	opts   ReaderOptions
	filter *bloom.BloomFilter
}

// NewReader parses raw (the complete file content) into a Reader. filter,
// if non-nil, is the deserialized bloom filter sidecar for this file.
func NewReader(raw []byte, opts ReaderOptions, filter *bloom.BloomFilter) (*Reader, error) {
	footerSize := FooterSize
	if opts.BlockChecksums {
		footerSize += 8
	}
	if len(raw) < footerSize {
		return nil, ErrCorrupt
	}

	body := raw
	if opts.BlockChecksums {
		body = raw[:len(raw)-8]
		if opts.VerifyChecksums {
			want := encoding.DecodeFixed64(raw[len(raw)-8:])
			if checksum.Block(body) != want {
				return nil, ErrChecksumMismatch
			}
		}
	}
	raw = body

	footer := raw[len(raw)-FooterSize:]
	indexOffset := encoding.DecodeFixed64(footer[0:8])
	indexLength := encoding.DecodeFixed64(footer[8:16])
	minTxn := dbformat.TxnID(encoding.DecodeFixed64(footer[16:24]))
	maxTxn := dbformat.TxnID(encoding.DecodeFixed64(footer[24:32]))

	if indexOffset+indexLength > uint64(len(raw)-FooterSize) {
		return nil, ErrCorrupt
	}
	indexData := raw[indexOffset : indexOffset+indexLength]

	var entries []blockIndexEntry
	pos := 0
	for pos < len(indexData) {
		if pos+4 > len(indexData) {
			return nil, ErrCorrupt
		}
		firstLen := int(encoding.DecodeFixed32(indexData[pos:]))
		pos += 4
		if pos+firstLen > len(indexData) {
			return nil, ErrCorrupt
		}
		firstKey := indexData[pos : pos+firstLen]
		pos += firstLen

		if pos+4 > len(indexData) {
			return nil, ErrCorrupt
		}
		lastLen := int(encoding.DecodeFixed32(indexData[pos:]))
		pos += 4
		if pos+lastLen > len(indexData) {
			return nil, ErrCorrupt
		}
		lastKey := indexData[pos : pos+lastLen]
		pos += lastLen

		if pos+16 > len(indexData) {
			return nil, ErrCorrupt
		}
		offset := encoding.DecodeFixed64(indexData[pos:])
		size := encoding.DecodeFixed64(indexData[pos+8:])
		pos += 16

		entries = append(entries, blockIndexEntry{firstKey, lastKey, offset, size})
	}

	return &Reader{raw: raw, index: entries, minTxn: minTxn, maxTxn: maxTxn, opts: opts, filter: filter}, nil
}

// MinTxn and MaxTxn return the footer's recorded transaction range.
func (r *Reader) MinTxn() dbformat.TxnID { return r.minTxn }
func (r *Reader) MaxTxn() dbformat.TxnID { return r.maxTxn }

// FirstKey and LastKey return the table's overall key range.
func (r *Reader) FirstKey() []byte {
	if len(r.index) == 0 {
		return nil
	}
	return r.index[0].firstKey
}

func (r *Reader) LastKey() []byte {
	if len(r.index) == 0 {
		return nil
	}
	return r.index[len(r.index)-1].lastKey
}

// MayContain reports whether key could be present, consulting the bloom
// filter sidecar when one was loaded. Returns true (must check) when no
// filter is available.
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.Test(key)
}

// findBlock returns the index of the block whose range may contain key,
// or -1 if key falls after the table's last key.
func (r *Reader) findBlock(key []byte) int {
	lo, hi := 0, len(r.index)
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.UserKeyCompare(r.index[mid].lastKey, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(r.index) {
		return -1
	}
	return lo
}

func (r *Reader) blockReader(i int) (*block.Reader, error) {
	e := r.index[i]
	return block.NewReader(r.raw[e.offset:e.offset+e.size], r.opts.BlockChecksums)
}

// Get returns the entry visible at (key, txnCeil), or ok=false if absent.
func (r *Reader) Get(key []byte, txnCeil dbformat.TxnID) (block.Entry, bool, error) {
	if !r.MayContain(key) {
		return block.Entry{}, false, nil
	}
	i := r.findBlock(key)
	if i < 0 {
		return block.Entry{}, false, nil
	}
	br, err := r.blockReader(i)
	if err != nil {
		return block.Entry{}, false, err
	}
	return br.Get(key, txnCeil)
}

// Iterator walks the whole table's entries in key order.
type Iterator struct {
	r       *Reader
	blockID int
	bi      *block.Iterator
	err     error
}

// NewIterator returns an iterator positioned before the first entry.
func NewIterator(r *Reader) *Iterator {
	return &Iterator{r: r, blockID: -1}
}

func (it *Iterator) Valid() bool { return it.err == nil && it.bi != nil && it.bi.Valid() }
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.bi != nil {
		return it.bi.Error()
	}
	return nil
}
func (it *Iterator) UserKey() []byte         { return it.bi.UserKey() }
func (it *Iterator) Value() []byte           { return it.bi.Value() }
func (it *Iterator) Txn() dbformat.TxnID      { return it.bi.Txn() }
func (it *Iterator) Kind() dbformat.ValueKind { return it.bi.Kind() }

func (it *Iterator) SeekToFirst() {
	it.blockID = 0
	it.loadBlock()
	if it.bi != nil {
		it.bi.SeekToFirst()
	}
}

func (it *Iterator) SeekToLast() {
	it.blockID = len(it.r.index) - 1
	it.loadBlock()
	if it.bi != nil {
		it.bi.SeekToLast()
	}
}

func (it *Iterator) Seek(target []byte) {
	it.blockID = it.r.findBlock(target)
	if it.blockID < 0 {
		it.bi = nil
		return
	}
	it.loadBlock()
	if it.bi == nil {
		return
	}
	it.bi.Seek(target)
	if !it.bi.Valid() && it.bi.Error() == nil {
		it.Next()
	}
}

func (it *Iterator) Next() {
	if it.bi == nil {
		return
	}
	it.bi.Next()
	for !it.bi.Valid() && it.bi.Error() == nil && it.blockID < len(it.r.index)-1 {
		it.blockID++
		it.loadBlock()
		if it.bi == nil {
			return
		}
		it.bi.SeekToFirst()
	}
}

func (it *Iterator) Prev() {
	if it.bi == nil {
		return
	}
	it.bi.Prev()
	for !it.bi.Valid() && it.bi.Error() == nil && it.blockID > 0 {
		it.blockID--
		it.loadBlock()
		if it.bi == nil {
			return
		}
		it.bi.SeekToLast()
	}
}

func (it *Iterator) loadBlock() {
	if it.blockID < 0 || it.blockID >= len(it.r.index) {
		it.bi = nil
		return
	}
	br, err := it.r.blockReader(it.blockID)
	if err != nil {
		it.err = err
		it.bi = nil
		return
	}
	it.bi = block.NewIterator(br)
}
