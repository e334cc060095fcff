// Package flush writes an immutable memtable out as a new L0 SST file
// and records it via a VersionEdit. See stratumkv's SPEC_FULL.md §4.11.
//
// Grounded on the teacher's db/flush_job.{h,cc} (internal/flush/job.go):
// allocate a file number, stream the memtable into a table.Builder,
// sync the file before the directory, then hand the resulting
// SSTMetadata to the version manager. Range-tombstone and
// compaction-filter plumbing from the teacher's flush path is dropped;
// the spec has no range deletes.
package flush

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/manifest"
	"github.com/aalhour/stratumkv/internal/memtable"
	"github.com/aalhour/stratumkv/internal/table"
	"github.com/aalhour/stratumkv/internal/vfs"
)

// ErrNoOutput is returned when a flush produces no output because the
// memtable was empty.
var ErrNoOutput = errors.New("flush: no output")

// DB is what a flush job needs from its owning database.
type DB interface {
	NextSSTID() uint64
	DBPath() string
	FS() vfs.FS
	BuilderOptions() table.BuilderOptions
}

// Job flushes one immutable memtable to an SST file.
type Job struct {
	db  DB
	mem *memtable.MemTable
}

// NewJob returns a flush job for mem.
func NewJob(db DB, mem *memtable.MemTable) *Job {
	return &Job{db: db, mem: mem}
}

// SSTPath returns the on-disk path for an SST file with the given id.
func SSTPath(dbPath string, id uint64) string {
	return filepath.Join(dbPath, fmt.Sprintf("%d.sst", id))
}

// Run writes the memtable's entries to a new SST file in internal-key
// order and returns its metadata. Returns ErrNoOutput without creating a
// file if the memtable is empty.
func (fj *Job) Run() (*manifest.SSTMetadata, error) {
	if fj.mem.Empty() {
		return nil, ErrNoOutput
	}

	id := fj.db.NextSSTID()
	path := SSTPath(fj.db.DBPath(), id)

	file, err := fj.db.FS().Create(path)
	if err != nil {
		return nil, fmt.Errorf("flush: create sst file: %w", err)
	}

	opts := fj.db.BuilderOptions()
	builder := table.NewBuilder(opts, fj.mem.Count())

	var smallest, largest []byte
	var minTxn, maxTxn dbformat.TxnID
	haveEntry := false

	iter := fj.mem.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		userKey, value, txn, kind := iter.UserKey(), iter.Value(), iter.Txn(), iter.Kind()
		if err := builder.Add(userKey, value, txn, kind); err != nil {
			builder.Abandon()
			_ = file.Close()
			_ = fj.db.FS().Remove(path)
			return nil, fmt.Errorf("flush: add entry: %w", err)
		}

		ik := dbformat.NewInternalKey(userKey, txn, kind)
		if !haveEntry {
			smallest = ik
			minTxn, maxTxn = txn, txn
			haveEntry = true
		} else {
			if txn < minTxn {
				minTxn = txn
			}
			if txn > maxTxn {
				maxTxn = txn
			}
		}
		largest = ik
	}
	if err := iter.Error(); err != nil {
		builder.Abandon()
		_ = file.Close()
		_ = fj.db.FS().Remove(path)
		return nil, fmt.Errorf("flush: memtable iteration: %w", err)
	}

	if builder.NumEntries() == 0 {
		builder.Abandon()
		_ = file.Close()
		_ = fj.db.FS().Remove(path)
		return nil, ErrNoOutput
	}

	data, err := builder.Finish()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flush: finish sst: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flush: write sst: %w", err)
	}

	if err := writeFilterSidecar(fj.db, path, builder); err != nil {
		_ = file.Close()
		return nil, err
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("flush: sync sst: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("flush: close sst: %w", err)
	}

	// Syncing the directory after the file is itself synced, and before
	// any manifest record refers to it, is what keeps a crash from
	// leaving the manifest pointing at a file that was never made
	// durable.
	if err := fj.db.FS().SyncDir(fj.db.DBPath()); err != nil {
		return nil, fmt.Errorf("flush: sync directory: %w", err)
	}

	return &manifest.SSTMetadata{
		ID:         id,
		Smallest:   smallest,
		Largest:    largest,
		FileSize:   uint64(len(data)),
		MinTxn:     minTxn,
		MaxTxn:     maxTxn,
		NumEntries: uint64(builder.NumEntries()),
	}, nil
}

func writeFilterSidecar(db DB, sstPath string, builder *table.Builder) error {
	filterData, err := builder.FilterBytes()
	if err != nil {
		return fmt.Errorf("flush: encode filter: %w", err)
	}
	if filterData == nil {
		return nil
	}
	f, err := db.FS().Create(sstPath + ".filter")
	if err != nil {
		return fmt.Errorf("flush: create filter sidecar: %w", err)
	}
	if _, err := f.Write(filterData); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush: write filter sidecar: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush: sync filter sidecar: %w", err)
	}
	return f.Close()
}
