// job.go implements CompactionJob, which executes a single compaction:
// k-way merges its input files, collapses obsolete versions, and writes
// fresh output files at the target level. See stratumkv's SPEC_FULL.md
// §4.10.
//
// Grounded on the teacher's db/compaction/compaction_job.{h,cc}
// (internal/compaction/job.go): open every input file through the table
// cache, drive them through a MergingIterator, and split output into
// fresh SSTs once a size threshold is crossed. The teacher's job does
// not collapse multiple versions of a key by a snapshot threshold the
// way spec.md §4.10 requires, so processEntries below is written fresh
// around that rule: keep every version newer than min_live_txn, plus
// the single newest version at or below it: everything older is
// superseded and dropped. Range tombstones, compaction filters, and
// rate limiting are dropped along with column families.
package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/iterator"
	"github.com/aalhour/stratumkv/internal/manifest"
	"github.com/aalhour/stratumkv/internal/table"
	"github.com/aalhour/stratumkv/internal/vfs"
)

// CompactionJob executes one Compaction: reading its input files,
// merging and collapsing their entries, and writing the result as new
// files at the output level.
type CompactionJob struct {
	compaction *Compaction
	dbPath     string
	fs         vfs.FS
	tableCache *table.TableCache
	nextSSTID  func() uint64

	builderOpts    table.BuilderOptions
	targetFileSize uint64

	// minLiveTxn is the oldest snapshot's txn ceiling still open when the
	// compaction was picked: versions above it must all survive, and at
	// most one version at or below it does (spec.md §9 Open Question 3
	// decided this is the only snapshot boundary the engine tracks, not
	// one per open snapshot).
	minLiveTxn dbformat.TxnID

	// maxLevel is the index of the LSM-tree's last level. A tombstone
	// reaching this level as an output can be dropped outright, since no
	// level below exists to still shadow.
	maxLevel int

	outputFiles     []*manifest.SSTMetadata
	currentOutputID uint64
}

// NewCompactionJob builds a job to run c.
func NewCompactionJob(
	c *Compaction,
	dbPath string,
	fs vfs.FS,
	tableCache *table.TableCache,
	nextSSTID func() uint64,
	builderOpts table.BuilderOptions,
	targetFileSize uint64,
	minLiveTxn dbformat.TxnID,
	maxLevel int,
) *CompactionJob {
	return &CompactionJob{
		compaction:     c,
		dbPath:         dbPath,
		fs:             fs,
		tableCache:     tableCache,
		nextSSTID:      nextSSTID,
		builderOpts:    builderOpts,
		targetFileSize: targetFileSize,
		minLiveTxn:     minLiveTxn,
		maxLevel:       maxLevel,
	}
}

// Run executes the compaction and returns the files it produced. On any
// error, output files already written to disk are removed and the
// compaction's edit is left untouched.
func (j *CompactionJob) Run() ([]*manifest.SSTMetadata, error) {
	iters, handles, err := j.openInputs()
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, h := range handles {
			j.tableCache.Release(h)
		}
	}()

	merged := iterator.NewMergingIterator(iters)
	if err := j.processEntries(merged); err != nil {
		j.removeOutputFiles()
		return nil, err
	}

	j.compaction.AddInputDeletions()
	for _, f := range j.outputFiles {
		j.compaction.Edit.AddFile(j.compaction.OutputLevel, *f)
	}
	return j.outputFiles, nil
}

func (j *CompactionJob) sstPath(id uint64) string {
	return filepath.Join(j.dbPath, fmt.Sprintf("%d.sst", id))
}

func (j *CompactionJob) openInputs() ([]iterator.Iterator, []*table.Handle, error) {
	var iters []iterator.Iterator
	var handles []*table.Handle

	for _, in := range j.compaction.Inputs {
		for _, f := range in.Files {
			path := j.sstPath(f.ID)
			h, err := j.tableCache.Get(f.ID, path)
			if err != nil {
				for _, opened := range handles {
					j.tableCache.Release(opened)
				}
				return nil, nil, fmt.Errorf("compaction: open input %d: %w", f.ID, err)
			}
			handles = append(handles, h)
			iters = append(iters, table.NewIterator(h.Reader()))
		}
	}
	return iters, handles, nil
}

// processEntries drains merged in (user key, txn descending) order,
// applying the collapsing rule per distinct key, and streams the
// surviving entries into output files.
func (j *CompactionJob) processEntries(merged *iterator.MergingIterator) error {
	var out *table.Builder
	var outPath string
	var outFile vfs.WritableFile
	var outSmallest, outLargest []byte
	var outMinTxn, outMaxTxn dbformat.TxnID
	haveOutEntry := false

	// sizeExceeded records that the current output crossed targetFileSize,
	// without splitting yet: the split is deferred to the next user-key
	// boundary so two versions of one key are never separated across
	// output files (spec.md §4.10's "File boundaries must not split two
	// records with the same user key").
	sizeExceeded := false

	flush := func() error {
		if out == nil || out.NumEntries() == 0 {
			return nil
		}
		data, err := out.Finish()
		if err != nil {
			return fmt.Errorf("compaction: finish output: %w", err)
		}
		if _, err := outFile.Write(data); err != nil {
			_ = outFile.Close()
			return fmt.Errorf("compaction: write output: %w", err)
		}
		if err := j.writeFilterSidecar(outPath, out); err != nil {
			_ = outFile.Close()
			return err
		}
		if err := outFile.Sync(); err != nil {
			_ = outFile.Close()
			return fmt.Errorf("compaction: sync output: %w", err)
		}
		if err := outFile.Close(); err != nil {
			return fmt.Errorf("compaction: close output: %w", err)
		}
		if err := j.fs.SyncDir(j.dbPath); err != nil {
			return fmt.Errorf("compaction: sync directory: %w", err)
		}
		j.outputFiles = append(j.outputFiles, &manifest.SSTMetadata{
			ID:         j.currentOutputID,
			Smallest:   outSmallest,
			Largest:    outLargest,
			FileSize:   uint64(len(data)),
			MinTxn:     outMinTxn,
			MaxTxn:     outMaxTxn,
			NumEntries: uint64(out.NumEntries()),
		})
		out, outFile, outSmallest, outLargest = nil, nil, nil, nil
		haveOutEntry = false
		return nil
	}

	startOutput := func() error {
		id := j.nextSSTID()
		j.currentOutputID = id
		outPath = j.sstPath(id)
		f, err := j.fs.Create(outPath)
		if err != nil {
			return fmt.Errorf("compaction: create output: %w", err)
		}
		outFile = f
		out = table.NewBuilder(j.builderOpts, 0)
		return nil
	}

	write := func(userKey, value []byte, txn dbformat.TxnID, kind dbformat.ValueKind) error {
		if out == nil {
			if err := startOutput(); err != nil {
				return err
			}
		}
		if err := out.Add(userKey, value, txn, kind); err != nil {
			return fmt.Errorf("compaction: add entry: %w", err)
		}
		ik := dbformat.NewInternalKey(userKey, txn, kind)
		if !haveOutEntry {
			outSmallest = ik
			outMinTxn, outMaxTxn = txn, txn
			haveOutEntry = true
		} else {
			if txn < outMinTxn {
				outMinTxn = txn
			}
			if txn > outMaxTxn {
				outMaxTxn = txn
			}
		}
		outLargest = ik

		if uint64(out.CurrentSize()) >= j.targetFileSize {
			sizeExceeded = true
		}
		return nil
	}

	isLastLevel := j.compaction.OutputLevel == j.maxLevel

	merged.SeekToFirst()
	for merged.Valid() {
		userKey := append([]byte(nil), merged.UserKey()...)

		// Everything strictly newer than minLiveTxn must survive: each of
		// these versions is the current value as of some still-open
		// snapshot.
		for merged.Valid() && dbformat.UserKeyCompare(merged.UserKey(), userKey) == 0 && merged.Txn() > j.minLiveTxn {
			kind := merged.Kind()
			if !(kind == dbformat.Deleted && isLastLevel) {
				if err := write(userKey, merged.Value(), merged.Txn(), kind); err != nil {
					return err
				}
			}
			merged.Next()
		}

		// The first remaining version (highest txn <= minLiveTxn, since
		// the merge yields txn descending within a key) is the one
		// visible to the oldest open snapshot. Keep it, drop every older
		// version of the same key.
		if merged.Valid() && dbformat.UserKeyCompare(merged.UserKey(), userKey) == 0 {
			kind := merged.Kind()
			if !(kind == dbformat.Deleted && isLastLevel) {
				if err := write(userKey, merged.Value(), merged.Txn(), kind); err != nil {
					return err
				}
			}
			for merged.Valid() && dbformat.UserKeyCompare(merged.UserKey(), userKey) == 0 {
				merged.Next()
			}
		}

		// Every surviving version of userKey has now been written. This is
		// the only point it is safe to act on a pending size-triggered
		// split: the next write() call, if any, starts a new user key.
		if sizeExceeded {
			if err := flush(); err != nil {
				return err
			}
			sizeExceeded = false
		}
	}
	if err := merged.Error(); err != nil {
		return fmt.Errorf("compaction: merge: %w", err)
	}

	return flush()
}

func (j *CompactionJob) writeFilterSidecar(sstPath string, builder *table.Builder) error {
	filterData, err := builder.FilterBytes()
	if err != nil {
		return fmt.Errorf("compaction: encode filter: %w", err)
	}
	if filterData == nil {
		return nil
	}
	f, err := j.fs.Create(sstPath + ".filter")
	if err != nil {
		return fmt.Errorf("compaction: create filter sidecar: %w", err)
	}
	if _, err := f.Write(filterData); err != nil {
		_ = f.Close()
		return fmt.Errorf("compaction: write filter sidecar: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("compaction: sync filter sidecar: %w", err)
	}
	return f.Close()
}

func (j *CompactionJob) removeOutputFiles() {
	for _, f := range j.outputFiles {
		_ = j.fs.Remove(j.sstPath(f.ID))
		_ = j.fs.Remove(j.sstPath(f.ID) + ".filter")
	}
	j.outputFiles = nil
}
