// Package stratumkv is an embedded, ordered key-value storage engine
// built on the log-structured merge-tree discipline with multi-version
// concurrency control. See SPEC_FULL.md for the full specification; DB
// here is intentionally thin and delegates every operation to
// internal/engine.Engine, per SPEC_FULL.md §1's "public API shell"
// collaborator.
package stratumkv

import (
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/engine"
	"github.com/aalhour/stratumkv/internal/logging"
	"github.com/aalhour/stratumkv/internal/vfs"
)

// Re-exported so callers need not import internal/engine or
// internal/dbformat directly.
type (
	// Config holds every tunable the engine accepts. See
	// engine.DefaultConfig for defaults.
	Config = engine.Config
	// TxnID is a monotonically increasing transaction identifier. 0 is
	// reserved for the implicit autocommit transaction.
	TxnID = dbformat.TxnID
	// Txn is a single-statement transaction handle returned by Begin.
	Txn = engine.Txn
	// RangeIterator is a forward cursor returned by IterRange.
	RangeIterator = engine.RangeIterator
	// Stats is a snapshot of engine-wide properties, returned by Stats.
	Stats = engine.Stats
	// LevelStats describes one level's file count and byte size.
	LevelStats = engine.LevelStats
)

// Errors re-exported from internal/engine so callers can errors.Is
// against them without an extra import.
var (
	ErrNotFound             = engine.ErrNotFound
	ErrClosed               = engine.ErrClosed
	ErrIoFailure            = engine.ErrIoFailure
	ErrFileNotFound         = engine.ErrFileNotFound
	ErrTooManyOpenFiles     = engine.ErrTooManyOpenFiles
	ErrCorruptBlock         = engine.ErrCorruptBlock
	ErrCorruptFooter        = engine.ErrCorruptFooter
	ErrCorruptManifest      = engine.ErrCorruptManifest
	ErrInvalidConfig        = engine.ErrInvalidConfig
	ErrKeyTooLarge          = engine.ErrKeyTooLarge
	ErrValueTooLarge        = engine.ErrValueTooLarge
	ErrTransactionUnknown   = engine.ErrTransactionUnknown
	ErrBackPressureShutdown = engine.ErrBackPressureShutdown
)

// DefaultConfig returns a Config with every spec-mandated default
// applied for a store rooted at dataPath.
func DefaultConfig(dataPath string) Config { return engine.DefaultConfig(dataPath) }

// NewDefaultLogger returns a logging.Logger writing to stderr at the
// given minimum level, suitable for Config.Logger.
func NewDefaultLogger(level logging.Level) logging.Logger {
	return logging.NewDefaultLogger(level)
}

// DefaultFS returns the real OS-backed vfs.FS, suitable for Config.FS.
func DefaultFS() vfs.FS { return vfs.Default() }

// MemFS returns an in-memory vfs.FS, useful for tests.
func MemFS() vfs.FS { return vfs.NewMemFS() }

// DB is the embedded store. Obtain one with Open.
type DB struct {
	e *engine.Engine
}

// Open creates or recovers a database rooted at cfg.DataPath and
// returns the running DB.
func Open(cfg Config) (*DB, error) {
	e, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// Put writes key=value at txn, or at a freshly allocated commit id if
// txn is 0 (autocommit).
func (db *DB) Put(key, value []byte, txn TxnID) error { return db.e.Put(key, value, txn) }

// Delete writes a tombstone for key at txn (or autocommit if txn is 0).
func (db *DB) Delete(key []byte, txn TxnID) error { return db.e.Delete(key, txn) }

// Get returns the value visible at (key, txn), or ErrNotFound. txn of 0
// reads the latest committed state.
func (db *DB) Get(key []byte, txn TxnID) ([]byte, error) { return db.e.Get(key, txn) }

// Begin opens a transaction reading a snapshot fixed at the store's
// current committed state.
func (db *DB) Begin() (*Txn, error) { return db.e.Begin() }

// IterRange returns a cursor over every live key k with begin <= k <
// end (a nil end means unbounded) visible at txn (0 for the latest
// committed state). The caller must Close it.
func (db *DB) IterRange(begin, end []byte, txn TxnID) (*RangeIterator, error) {
	return db.e.IterRange(begin, end, txn)
}

// ForceFlush rotates and flushes the current memtable (even if under
// its size limit) and blocks until every pending flush has completed.
func (db *DB) ForceFlush() error { return db.e.ForceFlush() }

// Stats reports the store's current level layout, memtable occupancy,
// and background error state. Intended for introspection tools such as
// cmd/stratumctl, not for hot-path decisions.
func (db *DB) Stats() Stats { return db.e.Stats() }

// Close stops accepting writes, drains the background worker pool, and
// closes the manifest and caches. It is idempotent.
func (db *DB) Close() error { return db.e.Close() }
