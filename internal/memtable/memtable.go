package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/stratumkv/internal/dbformat"
)

// MemTable is the mutable in-memory buffer entries land in before they are
// flushed to an SST file. It wraps a SkipList ordered by internal key
// (user key ascending, txn descending at ties).
//
// Entry format stored in the SkipList:
//
//	internal_key_len : varint32 (user_key_len + 8)
//	internal_key     : user_key bytes + 8-byte trailer (txn << 8 | kind)
//	value_len        : varint32
//	value            : value_len bytes (omitted when kind == Deleted)
type MemTable struct {
	skiplist *SkipList

	// byteSize is the running sum of spec's per-entry encoded size:
	// 1 + 4 + key_len + 4 + value_len + 8, with value_len/value omitted
	// for tombstones.
	byteSize int64

	refs int32

	mu sync.Mutex
}

// NewMemTable creates an empty MemTable.
func NewMemTable() *MemTable {
	return &MemTable{
		skiplist: NewSkipList(compareEntries),
		refs:     1,
	}
}

// compareEntries orders two raw skiplist entries by their internal key:
// user key ascending, then (txn, kind) trailer descending.
func compareEntries(a, b []byte) int {
	aKey, aOK := entryInternalKey(a)
	bKey, bOK := entryInternalKey(b)
	if !aOK || !bOK {
		return BytewiseComparator(a, b)
	}
	return dbformat.CompareInternalKeys(aKey, bKey)
}

func entryInternalKey(entry []byte) ([]byte, bool) {
	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n {
		return nil, false
	}
	return entry[n : n+int(keyLen)], true
}

// Ref increments the reference count.
func (mt *MemTable) Ref() { atomic.AddInt32(&mt.refs, 1) }

// Unref decrements the reference count; returns true when it drops to zero.
func (mt *MemTable) Unref() bool { return atomic.AddInt32(&mt.refs, -1) == 0 }

// Add inserts one entry. kind == Deleted encodes a tombstone with no value.
func (mt *MemTable) Add(txn dbformat.TxnID, kind dbformat.ValueKind, key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	internalKey := dbformat.NewInternalKey(key, txn, kind)

	entry := make([]byte, 0, 5+len(internalKey)+5+len(value))
	entry = appendVarint32(entry, uint32(len(internalKey)))
	entry = append(entry, internalKey...)
	if kind == dbformat.Put {
		entry = appendVarint32(entry, uint32(len(value)))
		entry = append(entry, value...)
	} else {
		entry = appendVarint32(entry, 0)
	}

	mt.skiplist.Insert(entry)

	size := int64(1 + 4 + len(key) + 8)
	if kind == dbformat.Put {
		size += int64(4 + len(value))
	}
	atomic.AddInt64(&mt.byteSize, size)
}

// Put is shorthand for Add(txn, Put, key, value).
func (mt *MemTable) Put(txn dbformat.TxnID, key, value []byte) {
	mt.Add(txn, dbformat.Put, key, value)
}

// Delete is shorthand for Add(txn, Deleted, key, nil).
func (mt *MemTable) Delete(txn dbformat.TxnID, key []byte) {
	mt.Add(txn, dbformat.Deleted, key, nil)
}

// Get returns the entry visible at (key, txnCeil): the version with the
// greatest txn <= txnCeil. found reports whether any version was visible;
// deleted reports whether that version is a tombstone.
func (mt *MemTable) Get(key []byte, txnCeil dbformat.TxnID) (value []byte, found bool, deleted bool) {
	seekKey := dbformat.NewInternalKey(key, txnCeil, dbformat.KindForSeek)
	seekEntry := buildLookupEntry(seekKey)

	iter := mt.skiplist.NewIterator()
	iter.Seek(seekEntry)

	for iter.Valid() {
		userKey, val, txn, kind, ok := parseEntry(iter.Key())
		if !ok || dbformat.UserKeyCompare(userKey, key) != 0 {
			break
		}
		if txn <= txnCeil {
			return val, true, kind == dbformat.Deleted
		}
		iter.Next()
	}
	return nil, false, false
}

// ByteSize returns the running sum of entry encoded sizes, per spec's
// formula (1 + 4 + key_len + 4 + value_len + 8 per entry; tombstones omit
// value_len and value).
func (mt *MemTable) ByteSize() int64 { return atomic.LoadInt64(&mt.byteSize) }

// Count returns the number of entries in the memtable.
func (mt *MemTable) Count() int64 { return mt.skiplist.Count() }

// Empty reports whether the memtable has no entries.
func (mt *MemTable) Empty() bool { return mt.Count() == 0 }

// NewIterator returns an iterator positioned before the first entry.
func (mt *MemTable) NewIterator() *MemTableIterator {
	return &MemTableIterator{iter: mt.skiplist.NewIterator()}
}

// MemTableIterator satisfies the shared cursor contract
// {is_valid, key, value, kind, txn, next, prev, seek*}.
type MemTableIterator struct {
	iter *Iterator

	userKey []byte
	value   []byte
	txn     dbformat.TxnID
	kind    dbformat.ValueKind
	valid   bool
}

func (it *MemTableIterator) Valid() bool { return it.valid && it.iter.Valid() }

func (it *MemTableIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.parseCurrentEntry()
}

func (it *MemTableIterator) SeekToLast() {
	it.iter.SeekToLast()
	it.parseCurrentEntry()
}

// Seek positions the iterator at the first entry with user key >= target,
// scanning the newest version of that key first.
func (it *MemTableIterator) Seek(target []byte) {
	seekKey := dbformat.NewInternalKey(target, ^dbformat.TxnID(0)>>8, dbformat.KindForSeek)
	it.iter.Seek(buildLookupEntry(seekKey))
	it.parseCurrentEntry()
}

func (it *MemTableIterator) Next() {
	it.iter.Next()
	it.parseCurrentEntry()
}

func (it *MemTableIterator) Prev() {
	it.iter.Prev()
	it.parseCurrentEntry()
}

// UserKey returns the user key, stripped of its internal trailer.
func (it *MemTableIterator) UserKey() []byte { return it.userKey }

// Key reconstructs the full internal key (user key + trailer).
func (it *MemTableIterator) Key() dbformat.InternalKey {
	return dbformat.NewInternalKey(it.userKey, it.txn, it.kind)
}

func (it *MemTableIterator) Value() []byte        { return it.value }
func (it *MemTableIterator) Txn() dbformat.TxnID   { return it.txn }
func (it *MemTableIterator) Kind() dbformat.ValueKind { return it.kind }
func (it *MemTableIterator) Error() error          { return nil }

func (it *MemTableIterator) parseCurrentEntry() {
	if !it.iter.Valid() {
		it.valid = false
		it.userKey, it.value = nil, nil
		return
	}
	var ok bool
	it.userKey, it.value, it.txn, it.kind, ok = parseEntry(it.iter.Key())
	it.valid = ok
}

// buildLookupEntry wraps an internal key in the varint-length-prefixed
// envelope SkipList entries use, for seeking.
func buildLookupEntry(internalKey []byte) []byte {
	entry := make([]byte, 0, len(internalKey)+5)
	entry = appendVarint32(entry, uint32(len(internalKey)))
	entry = append(entry, internalKey...)
	return entry
}

// parseEntry decodes a raw skiplist entry into its user key, value, txn, and kind.
func parseEntry(entry []byte) (key, value []byte, txn dbformat.TxnID, kind dbformat.ValueKind, ok bool) {
	keyLen, n := decodeVarint32(entry)
	if n <= 0 || int(keyLen) > len(entry)-n || keyLen < dbformat.NumInternalBytes {
		return nil, nil, 0, 0, false
	}
	internalKey := entry[n : n+int(keyLen)]
	rest := entry[n+int(keyLen):]

	key = internalKey[:len(internalKey)-dbformat.NumInternalBytes]
	txn, kind = dbformat.UnpackTrailer(decodeFixed64(internalKey[len(internalKey)-dbformat.NumInternalBytes:]))

	valueLen, n2 := decodeVarint32(rest)
	if n2 <= 0 || int(valueLen) > len(rest)-n2 {
		return nil, nil, 0, 0, false
	}
	if valueLen > 0 {
		value = rest[n2 : n2+int(valueLen)]
	}
	return key, value, txn, kind, true
}

func decodeFixed64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func appendVarint32(buf []byte, v uint32) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

func decodeVarint32(data []byte) (uint32, int) {
	var v uint32
	for i := 0; i < 5 && i < len(data); i++ {
		b := data[i]
		v |= uint32(b&0x7F) << (7 * i)
		if b < 0x80 {
			return v, i + 1
		}
	}
	return 0, 0
}
