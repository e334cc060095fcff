// Package iterator provides the shared cursor contract used across
// memtables, blocks, and tables, and MergingIterator, the k-way merge
// used by compaction and by range reads over the write-path components.
//
// Grounded on the teacher's table/merging_iterator.{h,cc}
// (internal/iterator/merging_iterator.go): a min-heap of child cursors,
// advancing the heap's root and re-heapifying on Next. Child iterators
// here compare by (user key, txn descending) rather than a single
// packed internal-key comparator, since block and table iterators
// already expose UserKey/Txn/Kind separately and reconstructing a
// packed internal key on every heap comparison would be wasted work.
package iterator

import (
	"container/heap"

	"github.com/aalhour/stratumkv/internal/dbformat"
)

// Iterator is the shared cursor contract: UserKey/Value/Txn/Kind after a
// successful Seek*/Next/Prev, Valid reporting position, Error reporting
// any fault.
type Iterator interface {
	Valid() bool
	UserKey() []byte
	Value() []byte
	Txn() dbformat.TxnID
	Kind() dbformat.ValueKind

	SeekToFirst()
	SeekToLast()
	Seek(userKey []byte)
	Next()
	Prev()

	Error() error
}

// compareEntries orders two positioned iterators by user key ascending,
// then by txn descending so the newest version of a key is visited
// first — the same ordering CompareInternalKeys gives a packed internal
// key, without needing one.
func compareEntries(a, b Iterator) int {
	if c := dbformat.UserKeyCompare(a.UserKey(), b.UserKey()); c != 0 {
		return c
	}
	if a.Txn() > b.Txn() {
		return -1
	}
	if a.Txn() < b.Txn() {
		return 1
	}
	return 0
}

// MergingIterator merges multiple sorted child iterators into one
// sorted stream ordered by (user key, txn descending), using a min-heap
// to find the next entry in O(log n) per step.
type MergingIterator struct {
	children []Iterator
	h        *iterHeap
	current  int
	err      error
}

// NewMergingIterator returns a MergingIterator over children, positioned
// before the first entry.
func NewMergingIterator(children []Iterator) *MergingIterator {
	return &MergingIterator{
		children: children,
		h:        &iterHeap{},
		current:  -1,
	}
}

func (mi *MergingIterator) Valid() bool { return mi.current >= 0 }

func (mi *MergingIterator) UserKey() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].UserKey()
}

func (mi *MergingIterator) Value() []byte {
	if !mi.Valid() {
		return nil
	}
	return mi.children[mi.current].Value()
}

func (mi *MergingIterator) Txn() dbformat.TxnID {
	if !mi.Valid() {
		return 0
	}
	return mi.children[mi.current].Txn()
}

func (mi *MergingIterator) Kind() dbformat.ValueKind {
	if !mi.Valid() {
		return 0
	}
	return mi.children[mi.current].Kind()
}

func (mi *MergingIterator) Error() error { return mi.err }

func (mi *MergingIterator) SeekToFirst() {
	mi.err = nil
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		c.SeekToFirst()
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.h)
	mi.findSmallest()
}

func (mi *MergingIterator) Seek(target []byte) {
	mi.err = nil
	mi.h.items = mi.h.items[:0]
	for i, c := range mi.children {
		c.Seek(target)
		mi.pushIfValid(i, c)
	}
	heap.Init(mi.h)
	mi.findSmallest()
}

// SeekToLast positions at the largest entry. Compaction and flush only
// ever scan forward; this is provided for interface symmetry and falls
// back to a linear scan of each child's tail.
func (mi *MergingIterator) SeekToLast() {
	mi.err = nil
	mi.current = -1
	largest := -1
	for i, c := range mi.children {
		c.SeekToLast()
		if !c.Valid() {
			if err := c.Error(); err != nil {
				mi.err = err
				return
			}
			continue
		}
		if largest < 0 || compareEntries(c, mi.children[largest]) > 0 {
			largest = i
		}
	}
	mi.current = largest
}

func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	cur := mi.children[mi.current]
	cur.Next()
	if cur.Valid() {
		mi.h.items[0].iter = cur
		heap.Fix(mi.h, 0)
	} else {
		heap.Pop(mi.h)
	}
	if err := cur.Error(); err != nil {
		mi.err = err
		mi.current = -1
		return
	}
	mi.findSmallest()
}

// Prev moves to the previous entry. Like SeekToLast, this is not on
// compaction's hot path; it rescans every child rather than maintaining
// a parallel max-heap.
func (mi *MergingIterator) Prev() {
	if !mi.Valid() {
		return
	}
	curKey := append([]byte(nil), mi.children[mi.current].UserKey()...)
	curTxn := mi.children[mi.current].Txn()
	mi.children[mi.current].Prev()

	largest := -1
	for i, c := range mi.children {
		if !c.Valid() {
			if err := c.Error(); err != nil {
				mi.err = err
				mi.current = -1
				return
			}
			continue
		}
		if before(c.UserKey(), c.Txn(), curKey, curTxn) {
			if largest < 0 || compareEntries(c, mi.children[largest]) > 0 {
				largest = i
			}
		}
	}
	mi.current = largest
}

func before(key []byte, txn dbformat.TxnID, refKey []byte, refTxn dbformat.TxnID) bool {
	if c := dbformat.UserKeyCompare(key, refKey); c != 0 {
		return c < 0
	}
	return txn < refTxn
}

func (mi *MergingIterator) pushIfValid(i int, c Iterator) {
	if c.Valid() {
		mi.h.items = append(mi.h.items, heapEntry{index: i, iter: c})
	}
	if err := c.Error(); err != nil {
		mi.err = err
	}
}

func (mi *MergingIterator) findSmallest() {
	if mi.h.Len() == 0 {
		mi.current = -1
		return
	}
	mi.current = mi.h.items[0].index
}

type heapEntry struct {
	index int
	iter  Iterator
}

type iterHeap struct {
	items []heapEntry
}

func (h *iterHeap) Len() int { return len(h.items) }
func (h *iterHeap) Less(i, j int) bool {
	return compareEntries(h.items[i].iter, h.items[j].iter) < 0
}
func (h *iterHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *iterHeap) Push(x any)    { h.items = append(h.items, x.(heapEntry)) }
func (h *iterHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
