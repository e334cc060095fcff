// Package block implements the bit-exact on-disk block layout: a sequence
// of entries, an offset section for binary search, and a 16-byte extra
// footer recording the layout of the two. See stratumkv's SPEC_FULL.md §6.1.
package block

import (
	"errors"

	"github.com/aalhour/stratumkv/internal/checksum"
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/encoding"
)

// ExtraSize is the size in bytes of the trailing {num_entries,
// offset_section_start} pair every block carries.
const ExtraSize = 16

// ChecksumSize is the size of the optional XXH3-64 trailer appended after
// the extra footer when checksums are enabled for the store.
const ChecksumSize = 8

var (
	// ErrCorrupt is returned when a block's trailer or offset section is
	// malformed or truncated.
	ErrCorrupt = errors.New("block: corrupt block")
	// ErrChecksumMismatch is returned when the optional trailing checksum
	// does not match the block's content.
	ErrChecksumMismatch = errors.New("block: checksum mismatch")
)

// Entry is one decoded block record.
type Entry struct {
	Key   []byte
	Value []byte // nil when Kind == Deleted
	Txn   dbformat.TxnID
	Kind  dbformat.ValueKind
}

// AppendEntry appends the bit-exact encoding of one entry to dst and returns
// the extended slice. Layout:
//
//	u8 value_kind, u32 key_len, key_bytes,
//	[u32 value_len, value_bytes]  // only if kind = Put
//	u64 txn_id
func AppendEntry(dst []byte, key, value []byte, txn dbformat.TxnID, kind dbformat.ValueKind) []byte {
	dst = append(dst, byte(kind))
	dst = encoding.AppendFixed32(dst, uint32(len(key)))
	dst = append(dst, key...)
	if kind == dbformat.Put {
		dst = encoding.AppendFixed32(dst, uint32(len(value)))
		dst = append(dst, value...)
	}
	return encoding.AppendFixed64(dst, uint64(txn))
}

// decodeEntryAt decodes one entry starting at offset off in data, returning
// the entry and the number of bytes it occupies.
func decodeEntryAt(data []byte, off uint64) (Entry, int, error) {
	if off >= uint64(len(data)) {
		return Entry{}, 0, ErrCorrupt
	}
	buf := data[off:]
	if len(buf) < 1+4 {
		return Entry{}, 0, ErrCorrupt
	}
	kind := dbformat.ValueKind(buf[0])
	pos := 1
	keyLen := int(encoding.DecodeFixed32(buf[pos:]))
	pos += 4
	if pos+keyLen > len(buf) {
		return Entry{}, 0, ErrCorrupt
	}
	key := buf[pos : pos+keyLen]
	pos += keyLen

	var value []byte
	if kind == dbformat.Put {
		if pos+4 > len(buf) {
			return Entry{}, 0, ErrCorrupt
		}
		valLen := int(encoding.DecodeFixed32(buf[pos:]))
		pos += 4
		if pos+valLen > len(buf) {
			return Entry{}, 0, ErrCorrupt
		}
		value = buf[pos : pos+valLen]
		pos += valLen
	}

	if pos+8 > len(buf) {
		return Entry{}, 0, ErrCorrupt
	}
	txn := dbformat.TxnID(encoding.DecodeFixed64(buf[pos:]))
	pos += 8

	return Entry{Key: key, Value: value, Txn: txn, Kind: kind}, pos, nil
}

// Reader decodes a block previously produced by Builder.Finish.
type Reader struct {
	data           []byte // the data section only (trailer stripped)
	offsetSecStart uint64
	numEntries     uint64
}

// NewReader wraps raw into a Reader, validating the trailing footer (and,
// if withChecksum is true, the XXH3-64 trailer appended after it).
func NewReader(raw []byte, withChecksum bool) (*Reader, error) {
	trailerSize := ExtraSize
	if withChecksum {
		trailerSize += ChecksumSize
	}
	if len(raw) < trailerSize {
		return nil, ErrCorrupt
	}

	body := raw
	if withChecksum {
		body = raw[:len(raw)-ChecksumSize]
		want := encoding.DecodeFixed64(raw[len(raw)-ChecksumSize:])
		if checksum.Block(body) != want {
			return nil, ErrChecksumMismatch
		}
	}

	extra := body[len(body)-ExtraSize:]
	numEntries := encoding.DecodeFixed64(extra[:8])
	offsetSecStart := encoding.DecodeFixed64(extra[8:16])
	if offsetSecStart > uint64(len(body)-ExtraSize) {
		return nil, ErrCorrupt
	}

	return &Reader{
		data:           body[:len(body)-ExtraSize],
		offsetSecStart: offsetSecStart,
		numEntries:     numEntries,
	}, nil
}

// NumEntries returns the number of entries in the block.
func (r *Reader) NumEntries() int { return int(r.numEntries) }

func (r *Reader) offsetAt(i int) (start, length uint64) {
	off := r.offsetSecStart + uint64(i)*16
	start = encoding.DecodeFixed64(r.data[off:])
	length = encoding.DecodeFixed64(r.data[off+8:])
	return
}

// entryAt decodes the i-th entry by offset-section index.
func (r *Reader) entryAt(i int) (Entry, error) {
	if i < 0 || i >= int(r.numEntries) {
		return Entry{}, ErrCorrupt
	}
	start, _ := r.offsetAt(i)
	e, _, err := decodeEntryAt(r.data, start)
	return e, err
}

// Get performs a binary search for the entry visible at (key, txnCeil): the
// entry with the greatest txn <= txnCeil among all entries at that key.
// Returns ok=false if no such entry is present in this block.
func (r *Reader) Get(key []byte, txnCeil dbformat.TxnID) (Entry, bool, error) {
	n := int(r.numEntries)
	// Binary search for the first entry whose key >= target.
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := r.entryAt(mid)
		if err != nil {
			return Entry{}, false, err
		}
		if dbformat.UserKeyCompare(e.Key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	// Scan forward through the (possibly several) versions of this key,
	// which are contiguous and ordered by txn descending.
	for i := lo; i < n; i++ {
		e, err := r.entryAt(i)
		if err != nil {
			return Entry{}, false, err
		}
		if dbformat.UserKeyCompare(e.Key, key) != 0 {
			break
		}
		if e.Txn <= txnCeil {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Iterator walks a block's entries in order by offset-section index.
type Iterator struct {
	r   *Reader
	idx int
	cur Entry
	err error
}

// NewIterator returns an iterator over r.
func NewIterator(r *Reader) *Iterator {
	return &Iterator{r: r, idx: -1}
}

func (it *Iterator) Valid() bool {
	return it.err == nil && it.idx >= 0 && it.idx < it.r.NumEntries()
}
func (it *Iterator) Error() error             { return it.err }
func (it *Iterator) UserKey() []byte          { return it.cur.Key }
func (it *Iterator) Value() []byte            { return it.cur.Value }
func (it *Iterator) Txn() dbformat.TxnID       { return it.cur.Txn }
func (it *Iterator) Kind() dbformat.ValueKind  { return it.cur.Kind }

func (it *Iterator) SeekToFirst() {
	it.idx = 0
	it.load()
}

func (it *Iterator) SeekToLast() {
	it.idx = it.r.NumEntries() - 1
	it.load()
}

// Seek positions at the first entry with user key >= target.
func (it *Iterator) Seek(target []byte) {
	n := it.r.NumEntries()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		e, err := it.r.entryAt(mid)
		if err != nil {
			it.err = err
			return
		}
		if dbformat.UserKeyCompare(e.Key, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	it.idx = lo
	it.load()
}

func (it *Iterator) Next() {
	it.idx++
	it.load()
}

func (it *Iterator) Prev() {
	it.idx--
	it.load()
}

func (it *Iterator) load() {
	if it.idx < 0 || it.idx >= it.r.NumEntries() {
		return
	}
	e, err := it.r.entryAt(it.idx)
	if err != nil {
		it.err = err
		return
	}
	it.cur = e
}
