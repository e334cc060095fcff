// Package version manages database versions: immutable, ref-counted
// snapshots of which SST files exist at each level. Manager applies
// VersionEdits (produced by flushes and compactions) to build new
// versions and keeps the manifest log in sync with the published state.
// See stratumkv's SPEC_FULL.md §4.8/§4.9.
//
// Grounded on the teacher's db/version_set.h Version class: the same
// immutable-snapshot, reference-counted, linked-list-of-versions shape,
// generalized from FileMetaData/SequenceNumber to SSTMetadata/TxnID.
package version

import (
	"sync/atomic"

	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/manifest"
)

// MaxNumLevels is the maximum number of levels in the LSM-tree.
const MaxNumLevels = 7

// baseLevelSizeBytes is the size threshold for L1 in
// max_bytes_for_level(L) = baseLevelSizeBytes * 10^(L-1), L >= 1
// (spec.md §9 Open Question 1, resolved per DESIGN.md).
const baseLevelSizeBytes = 10 * 1024 * 1024

// defaultL0CompactionTrigger is the number of L0 files that makes L0
// eligible for compaction regardless of aggregate byte size, used when
// a Version has no Manager (or the Manager was built with a zero
// L0CompactionTrigger) to fall back on. A real Manager always carries
// its own configured value in opts.L0CompactionTrigger (spec.md §6.4).
const defaultL0CompactionTrigger = 4

// MaxBytesForLevel returns the compaction trigger size for level (>= 1).
func MaxBytesForLevel(level int) uint64 {
	size := uint64(baseLevelSizeBytes)
	for i := 1; i < level; i++ {
		size *= 10
	}
	return size
}

// Version is an immutable snapshot of the set of SST files at each
// level. Versions are reference counted; once a Version's ref count
// drops to zero and it is no longer the current version, its files are
// candidates for physical deletion.
type Version struct {
	files [MaxNumLevels][]*manifest.SSTMetadata

	refs          int32
	versionNumber uint64
	vset          *Manager

	compactionScore [MaxNumLevels]float64
	compactionLevel int // level with the highest score, -1 if none needs compacting

	prev, next *Version
}

func newVersion(vset *Manager, versionNumber uint64) *Version {
	return &Version{vset: vset, versionNumber: versionNumber, compactionLevel: -1}
}

func (v *Version) Ref() { atomic.AddInt32(&v.refs, 1) }

// Unref decrements the reference count and unlinks the version from the
// manager's list once it reaches zero.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refs, -1) == 0 {
		if v.vset != nil {
			v.vset.listMu.Lock()
			defer v.vset.listMu.Unlock()
		}
		if v.prev != nil {
			v.prev.next = v.next
		}
		if v.next != nil {
			v.next.prev = v.prev
		}
		v.prev, v.next = nil, nil
	}
}

func (v *Version) NumLevels() int { return MaxNumLevels }

func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return len(v.files[level])
}

func (v *Version) Files(level int) []*manifest.SSTMetadata {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	return v.files[level]
}

func (v *Version) TotalFiles() int {
	total := 0
	for level := range MaxNumLevels {
		total += len(v.files[level])
	}
	return total
}

func (v *Version) NumLevelBytes(level int) uint64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	var size uint64
	for _, f := range v.files[level] {
		size += f.FileSize
	}
	return size
}

func (v *Version) VersionNumber() uint64 { return v.versionNumber }

// NeedsCompaction reports whether any level's compaction score is at
// least 1.0.
func (v *Version) NeedsCompaction() bool { return v.compactionLevel >= 0 }

// PickLevelToCompact returns the level with the highest compaction
// score, or -1 if no level needs compaction.
func (v *Version) PickLevelToCompact() int { return v.compactionLevel }

// CompactionScore returns the computed score for level.
func (v *Version) CompactionScore(level int) float64 {
	if level < 0 || level >= MaxNumLevels {
		return 0
	}
	return v.compactionScore[level]
}

// computeCompactionScores rescores every level (spec.md §9 Open Question
// 2, resolved per DESIGN.md): L0 scores by file count against the
// Manager's configured L0CompactionTrigger, L1+ score by aggregate byte
// size against MaxBytesForLevel(level).
func (v *Version) computeCompactionScores() {
	trigger := defaultL0CompactionTrigger
	if v.vset != nil && v.vset.opts.L0CompactionTrigger != 0 {
		trigger = v.vset.opts.L0CompactionTrigger
	}

	const scoreCompact = 1.0

	best := -1
	bestScore := 0.0
	for level := range MaxNumLevels {
		var score float64
		if level == 0 {
			score = float64(len(v.files[0])) / float64(trigger)
		} else {
			score = float64(v.NumLevelBytes(level)) / float64(MaxBytesForLevel(level))
		}
		v.compactionScore[level] = score
		if score >= scoreCompact && score > bestScore {
			bestScore = score
			best = level
		}
	}
	v.compactionLevel = best
}

// OverlappingInputs returns the files at level whose internal-key range
// overlaps [begin, end]. A nil bound means unbounded on that side.
func (v *Version) OverlappingInputs(level int, begin, end []byte) []*manifest.SSTMetadata {
	if level < 0 || level >= MaxNumLevels {
		return nil
	}
	var result []*manifest.SSTMetadata
	for _, f := range v.files[level] {
		if begin != nil && dbformat.CompareInternalKeys(f.Largest, begin) < 0 {
			continue
		}
		if end != nil && dbformat.CompareInternalKeys(f.Smallest, end) > 0 {
			continue
		}
		result = append(result, f)
	}
	return result
}

// FindFile returns the first L1+ file whose range may contain
// internalKey (files in L1+ are disjoint and sorted by smallest key), or
// nil if none does. L0 callers must scan v.Files(0) directly since its
// files can overlap.
func (v *Version) FindFile(level int, internalKey []byte) *manifest.SSTMetadata {
	files := v.files[level]
	lo, hi := 0, len(files)
	for lo < hi {
		mid := (lo + hi) / 2
		if dbformat.CompareInternalKeys(files[mid].Largest, internalKey) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo >= len(files) {
		return nil
	}
	f := files[lo]
	if dbformat.CompareInternalKeys(internalKey, f.Smallest) < 0 {
		return nil
	}
	return f
}
