// iterator.go implements Engine.IterRange: a forward cursor over
// [begin, end) that merges the memtable, every immutable memtable, and
// every on-disk file whose range can hold a key in range, collapsing
// each user key down to the newest version visible at txn and
// dropping tombstones. See stratumkv's SPEC_FULL.md §4.7/§6.5.
//
// Grounded on the teacher's table/merging_iterator.go consumer side
// (db_iter.go's DBIter, which layers tombstone-skipping and snapshot
// visibility on top of a raw MergingIterator): the same shape, adapted
// to this engine's memtable/version types instead of RocksDB's.
package engine

import (
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/flush"
	"github.com/aalhour/stratumkv/internal/iterator"
	"github.com/aalhour/stratumkv/internal/manifest"
	"github.com/aalhour/stratumkv/internal/memtable"
	"github.com/aalhour/stratumkv/internal/table"
	"github.com/aalhour/stratumkv/internal/version"
)

// RangeIterator is a forward cursor over a key range as of one
// transaction's read snapshot. The zero value is not usable; obtain one
// from Engine.IterRange. Close must be called once the caller is done
// with it to release pinned memtables, the version, and any open table
// handles.
type RangeIterator struct {
	e        *Engine
	ceil     dbformat.TxnID
	end      []byte
	merged   *iterator.MergingIterator
	handles  []*table.Handle
	mem      *memtable.MemTable
	imms     []*memtable.MemTable
	v        *version.Version
	valid    bool
	key      []byte
	value    []byte
	err      error
	closed   bool
}

// IterRange returns a cursor over every live key k with begin <= k <
// end (a nil end means unbounded) visible at txn (0 for the latest
// committed state).
func (e *Engine) IterRange(begin, end []byte, txn dbformat.TxnID) (*RangeIterator, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	ceil := e.readCeiling(txn)

	e.mu.RLock()
	mem := e.mem
	mem.Ref()
	imms := append([]*memtable.MemTable(nil), e.imm...)
	for _, m := range imms {
		m.Ref()
	}
	v := e.versions.Current()
	e.mu.RUnlock()

	ri := &RangeIterator{e: e, ceil: ceil, end: end, mem: mem, imms: imms, v: v}

	var children []iterator.Iterator
	children = append(children, mem.NewIterator())
	for _, m := range imms {
		children = append(children, m.NewIterator())
	}

	for level := 0; level < e.cfg.NumLevels; level++ {
		for _, f := range overlappingFiles(v, level, begin, end) {
			h, err := e.tableCache.Get(f.ID, flush.SSTPath(e.cfg.DataPath, f.ID))
			if err != nil {
				ri.Close()
				return nil, mapIOError(err)
			}
			ri.handles = append(ri.handles, h)
			children = append(children, table.NewIterator(h.Reader()))
		}
	}

	ri.merged = iterator.NewMergingIterator(children)
	if begin != nil {
		ri.merged.Seek(begin)
	} else {
		ri.merged.SeekToFirst()
	}
	ri.advance(true)
	return ri, nil
}

// overlappingFiles returns level's files that might hold a key in
// [begin, end): L0 is scanned directly since its files can overlap one
// another; L1+ uses the version's disjoint-range binary search.
func overlappingFiles(v *version.Version, level int, begin, end []byte) []*manifest.SSTMetadata {
	if level == 0 {
		var out []*manifest.SSTMetadata
		for _, f := range v.Files(0) {
			if end != nil && dbformat.UserKeyCompare(dbformat.ExtractUserKey(f.Smallest), end) >= 0 {
				continue
			}
			if begin != nil && dbformat.UserKeyCompare(dbformat.ExtractUserKey(f.Largest), begin) < 0 {
				continue
			}
			out = append(out, f)
		}
		return out
	}
	var beginIK, endIK []byte
	if begin != nil {
		beginIK = dbformat.NewInternalKey(begin, ^dbformat.TxnID(0)>>8, dbformat.KindForSeek)
	}
	if end != nil {
		endIK = dbformat.NewInternalKey(end, ^dbformat.TxnID(0)>>8, dbformat.KindForSeek)
	}
	return v.OverlappingInputs(level, beginIK, endIK)
}

// advance positions the iterator at the next live, visible key. first
// is true on the initial call right after the merge was seeded, when
// the merge cursor may already sit on the first candidate entry rather
// than one Next() past a previously returned key.
func (ri *RangeIterator) advance(first bool) {
	if !first {
		ri.skipCurrentKey()
	}
	for {
		if ri.merged.Error() != nil {
			ri.err = ri.merged.Error()
			ri.valid = false
			return
		}
		if !ri.merged.Valid() {
			ri.valid = false
			return
		}
		userKey := ri.merged.UserKey()
		if ri.end != nil && dbformat.UserKeyCompare(userKey, ri.end) >= 0 {
			ri.valid = false
			return
		}

		// Within this key's run, the merge yields versions txn-
		// descending; skip any newer than the snapshot ceiling, then
		// take the first one at or below it.
		for ri.merged.Valid() && dbformat.UserKeyCompare(ri.merged.UserKey(), userKey) == 0 && ri.merged.Txn() > ri.ceil {
			ri.merged.Next()
		}
		if !ri.merged.Valid() || dbformat.UserKeyCompare(ri.merged.UserKey(), userKey) != 0 {
			continue
		}

		if ri.merged.Kind() == dbformat.Deleted {
			ri.skipCurrentKeyFrom(userKey)
			continue
		}

		ri.key = append([]byte(nil), userKey...)
		ri.value = append([]byte(nil), ri.merged.Value()...)
		ri.valid = true
		return
	}
}

func (ri *RangeIterator) skipCurrentKey() {
	if !ri.merged.Valid() {
		return
	}
	ri.skipCurrentKeyFrom(ri.merged.UserKey())
}

func (ri *RangeIterator) skipCurrentKeyFrom(userKey []byte) {
	key := append([]byte(nil), userKey...)
	for ri.merged.Valid() && dbformat.UserKeyCompare(ri.merged.UserKey(), key) == 0 {
		ri.merged.Next()
	}
}

// Valid reports whether Key/Value refer to a live entry.
func (ri *RangeIterator) Valid() bool { return ri.valid }

// Key returns the current entry's user key. Only valid while Valid()
// is true.
func (ri *RangeIterator) Key() []byte { return ri.key }

// Value returns the current entry's value. Only valid while Valid()
// is true.
func (ri *RangeIterator) Value() []byte { return ri.value }

// Next advances to the next live, visible key.
func (ri *RangeIterator) Next() {
	if !ri.valid {
		return
	}
	ri.advance(false)
}

// Error returns the first I/O or corruption error encountered, if any.
func (ri *RangeIterator) Error() error { return ri.err }

// Close releases every resource the cursor pinned. Safe to call more
// than once.
func (ri *RangeIterator) Close() {
	if ri.closed {
		return
	}
	ri.closed = true
	for _, h := range ri.handles {
		ri.e.tableCache.Release(h)
	}
	ri.mem.Unref()
	for _, m := range ri.imms {
		m.Unref()
	}
	ri.v.Unref()
}
