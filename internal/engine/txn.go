// txn.go implements transaction id allocation and the Txn handle
// returned by Engine.Begin. See stratumkv's SPEC_FULL.md §4.11/§6.5.
//
// The spec scopes the transaction manager's isolation surface beyond
// read-snapshot selection as an external collaborator (spec.md §1): Txn
// here only fixes a read snapshot at Begin and, on Commit, allocates
// and applies a single commit txn id to every buffered write — there is
// no multi-statement write isolation beyond that.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/aalhour/stratumkv/internal/dbformat"
)

// allocCommitTxn allocates the next monotone commit txn id and advances
// lastCommitted to it, so a subsequent autocommit Get immediately
// observes the write.
func (e *Engine) allocCommitTxn() dbformat.TxnID {
	txn := dbformat.TxnID(atomic.AddUint64(&e.txnCounter, 1))
	e.bumpLastCommitted(txn)
	return txn
}

// bumpLastCommitted advances lastCommitted to txn if txn is newer,
// so an autocommit Get (txn=0) immediately observes it. Safe to call
// with a txn id allocated by anything monotone, not just
// allocCommitTxn — a multi-write Txn.Commit shares one id across
// several write calls and must still advance this watermark.
func (e *Engine) bumpLastCommitted(txn dbformat.TxnID) {
	for {
		prev := atomic.LoadUint64(&e.lastCommitted)
		if uint64(txn) <= prev {
			return
		}
		if atomic.CompareAndSwapUint64(&e.lastCommitted, prev, uint64(txn)) {
			return
		}
	}
}

// pin records that txn's read snapshot is open, so compaction's
// min-live-txn floor never collapses a version it might still read.
func (e *Engine) pin(txn dbformat.TxnID) {
	e.liveMu.Lock()
	e.liveTxns[txn]++
	e.liveMu.Unlock()
}

// unpin releases one reference to txn's snapshot, taken by pin.
func (e *Engine) unpin(txn dbformat.TxnID) {
	e.liveMu.Lock()
	if n := e.liveTxns[txn]; n <= 1 {
		delete(e.liveTxns, txn)
	} else {
		e.liveTxns[txn] = n - 1
	}
	e.liveMu.Unlock()
}

// pendingWrite buffers one Txn.Put/Delete call until Commit.
type pendingWrite struct {
	key   []byte
	value []byte
	kind  dbformat.ValueKind
}

// Txn is a single-statement transaction handle: Get reads are pinned to
// the snapshot fixed at Begin, and buffered Put/Delete calls are applied
// under one commit txn id at Commit, one write at a time: a concurrent
// reader can see some of them before the rest land, and a failed write
// leaves the earlier ones applied.
type Txn struct {
	mu       sync.Mutex
	e        *Engine
	snapshot dbformat.TxnID
	pending  []pendingWrite
	resolved bool // true once Commit or Abort has run
}

// Begin fixes a read snapshot at the engine's current last-committed
// txn and returns a Txn that reads through it until Commit or Abort.
func (e *Engine) Begin() (*Txn, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	snap := dbformat.TxnID(atomic.LoadUint64(&e.lastCommitted))
	e.pin(snap)
	return &Txn{e: e, snapshot: snap}, nil
}

// Get reads key as of the transaction's snapshot: any buffered,
// uncommitted write from this same Txn is visible first, then the
// engine's state as of Begin.
func (t *Txn) Get(key []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return nil, ErrTransactionUnknown
	}
	for i := len(t.pending) - 1; i >= 0; i-- {
		w := t.pending[i]
		if dbformat.UserKeyCompare(w.key, key) == 0 {
			if w.kind == dbformat.Deleted {
				return nil, ErrNotFound
			}
			return cloneBytes(w.value), nil
		}
	}
	return t.e.Get(key, t.snapshot)
}

// Put buffers a write, applied at Commit.
func (t *Txn) Put(key, value []byte) error {
	return t.buffer(key, value, dbformat.Put)
}

// Delete buffers a tombstone, applied at Commit.
func (t *Txn) Delete(key []byte) error {
	return t.buffer(key, nil, dbformat.Deleted)
}

func (t *Txn) buffer(key, value []byte, kind dbformat.ValueKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return ErrTransactionUnknown
	}
	t.pending = append(t.pending, pendingWrite{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
		kind:  kind,
	})
	return nil
}

// Commit allocates one commit txn id and applies every buffered write
// under it, then releases the read snapshot.
func (t *Txn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return ErrTransactionUnknown
	}
	t.resolved = true
	t.e.unpin(t.snapshot)

	if len(t.pending) == 0 {
		return nil
	}
	commitTxn := t.e.allocCommitTxn()
	for _, w := range t.pending {
		if err := t.e.write(w.key, w.value, w.kind, commitTxn); err != nil {
			return err
		}
	}
	return nil
}

// Abort discards every buffered write and releases the read snapshot.
func (t *Txn) Abort() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.resolved {
		return ErrTransactionUnknown
	}
	t.resolved = true
	t.e.unpin(t.snapshot)
	t.pending = nil
	return nil
}
