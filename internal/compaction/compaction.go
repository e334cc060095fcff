// Package compaction picks and executes compactions: merging SST files
// from one level into the next to bound read amplification and reclaim
// space from overwritten keys and tombstones. See stratumkv's
// SPEC_FULL.md §4.10.
//
// Grounded on the teacher's db/compaction/compaction.{h,cc}: a
// Compaction describes its inputs per level, an output level, and an
// edit to apply once the merge completes. Subcompactions, universal and
// FIFO compaction styles, and trivial-move detection are dropped; the
// spec only ever leveled-compacts L0 into L1 and Ln into Ln+1.
package compaction

import (
	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/aalhour/stratumkv/internal/manifest"
)

// Compaction describes a single compaction operation: which files to
// read (Inputs) and where the merged output lands (OutputLevel).
type Compaction struct {
	Inputs []*CompactionInputFiles

	OutputLevel int

	SmallestKey []byte
	LargestKey  []byte

	Edit *manifest.VersionEdit

	Reason CompactionReason
}

// CompactionInputFiles holds the input files drawn from a single level.
type CompactionInputFiles struct {
	Level int
	Files []*manifest.SSTMetadata
}

// CompactionReason names why a compaction was picked.
type CompactionReason int

const (
	CompactionReasonUnknown CompactionReason = iota
	CompactionReasonLevel0FileCount
	CompactionReasonLevelSize
)

func (r CompactionReason) String() string {
	switch r {
	case CompactionReasonLevel0FileCount:
		return "L0 file count"
	case CompactionReasonLevelSize:
		return "level size"
	default:
		return "unknown"
	}
}

// NewCompaction builds a Compaction from inputs and outputLevel,
// computing the input files' combined key range.
func NewCompaction(inputs []*CompactionInputFiles, outputLevel int) *Compaction {
	c := &Compaction{
		Inputs:      inputs,
		OutputLevel: outputLevel,
		Edit:        manifest.NewVersionEdit(),
	}
	c.computeKeyRange()
	return c
}

// NumInputFiles returns the total count of input files across all levels.
func (c *Compaction) NumInputFiles() int {
	total := 0
	for _, in := range c.Inputs {
		total += len(in.Files)
	}
	return total
}

// StartLevel returns the lowest level contributing input files, or -1 if
// the compaction has no inputs.
func (c *Compaction) StartLevel() int {
	if len(c.Inputs) == 0 {
		return -1
	}
	return c.Inputs[0].Level
}

func (c *Compaction) computeKeyRange() {
	first := true
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			if first {
				c.SmallestKey, c.LargestKey = f.Smallest, f.Largest
				first = false
				continue
			}
			if dbformat.CompareInternalKeys(f.Smallest, c.SmallestKey) < 0 {
				c.SmallestKey = f.Smallest
			}
			if dbformat.CompareInternalKeys(f.Largest, c.LargestKey) > 0 {
				c.LargestKey = f.Largest
			}
		}
	}
}

// AddInputDeletions records a DeleteFile entry in the edit for every
// input file, so the new version drops them once the merged output is
// installed.
func (c *Compaction) AddInputDeletions() {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			c.Edit.DeleteFile(in.Level, f.ID)
		}
	}
}

// MarkFilesBeingCompacted flips BeingCompacted on every input file, so
// the picker skips them while this compaction is in flight.
func (c *Compaction) MarkFilesBeingCompacted(beingCompacted bool) {
	for _, in := range c.Inputs {
		for _, f := range in.Files {
			f.BeingCompacted = beingCompacted
		}
	}
}

// IsLastLevel reports whether outputLevel is the final level of the
// LSM-tree, the point at which tombstones carry no further purpose and
// are dropped rather than carried forward (spec.md §9 Open Question 3).
func (c *Compaction) IsLastLevel(maxLevel int) bool {
	return c.OutputLevel == maxLevel
}
