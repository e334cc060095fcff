package engine

import (
	"github.com/aalhour/stratumkv/internal/logging"
	"github.com/aalhour/stratumkv/internal/vfs"
)

// Config holds every tunable spec.md §6.4 names plus SPEC_FULL.md §6.4's
// additive fields. Grounded on the teacher's db.Options for field naming
// conventions (defaults applied by a DefaultConfig constructor, validated
// once at Open time) though the field set itself is the spec's.
type Config struct {
	// DataPath is the directory SSTs and the manifest live in. Required.
	DataPath string

	// MemtableSizeLimit rotates the active memtable once its byte size
	// reaches this many bytes. Range [4MiB, 64MiB].
	MemtableSizeLimit uint64
	// MaxImmutables is the back-pressure threshold on unflushed
	// memtables. Range [1, 16].
	MaxImmutables int
	// BlockSize is the target uncompressed block size in bytes. Range
	// [4KiB, 32KiB].
	BlockSize int
	// NumLevels is the number of LSM levels. Range [1, 7]. The
	// underlying Version always allocates version.MaxNumLevels (7)
	// level slots; NumLevels bounds how many of them this Config's
	// engine actually compacts into and searches, so a store opened
	// with fewer levels never writes into ones beyond its configured
	// count.
	NumLevels int
	// L0CompactionTrigger is the L0 file count that scores 1.0. Range
	// [1, 8].
	L0CompactionTrigger int
	// TableCacheCapacity bounds the number of pinned open table readers.
	TableCacheCapacity int
	// BlockCacheCapacity sets the capacity of the engine's block cache.
	// Point lookups and range scans decode blocks straight from the
	// cached table reader and do not go through this cache, so it holds
	// no entries.
	BlockCacheCapacity uint64

	// UseBloomFilters enables building and consulting a per-file bloom
	// filter before a block fetch. Reserved-but-optional per spec.md §1.
	UseBloomFilters bool
	// BloomFilterBitsPerKey sizes the bloom filter when enabled.
	BloomFilterBitsPerKey uint
	// BlockChecksums appends/verifies XXH3-64 trailers on blocks and the
	// footer.
	BlockChecksums bool
	// Logger receives the engine's structured log output.
	Logger logging.Logger
	// BlocksPerFile targets an output SST of BlockSize*BlocksPerFile
	// bytes during flush and compaction.
	BlocksPerFile int

	// Workers is the number of background worker-pool goroutines that
	// run flush and compaction jobs.
	Workers int
	// FS is the filesystem the store is built on. Defaults to the real
	// OS filesystem; tests substitute vfs.NewMemFS().
	FS vfs.FS
}

// DefaultConfig returns a Config with every spec-mandated default applied
// for a store rooted at dataPath.
func DefaultConfig(dataPath string) Config {
	return Config{
		DataPath:              dataPath,
		MemtableSizeLimit:     4 << 20,
		MaxImmutables:         2,
		BlockSize:             4 << 10,
		NumLevels:             7,
		L0CompactionTrigger:   4,
		TableCacheCapacity:    128,
		BlockCacheCapacity:    1024,
		UseBloomFilters:       false,
		BloomFilterBitsPerKey: 10,
		BlockChecksums:        true,
		BlocksPerFile:         256,
		Workers:               4,
	}
}

// withDefaults fills in any zero-valued field DefaultConfig would have
// set, then returns the result; it does not mutate c.
func (c Config) withDefaults() Config {
	d := DefaultConfig(c.DataPath)
	if c.MemtableSizeLimit == 0 {
		c.MemtableSizeLimit = d.MemtableSizeLimit
	}
	if c.MaxImmutables == 0 {
		c.MaxImmutables = d.MaxImmutables
	}
	if c.BlockSize == 0 {
		c.BlockSize = d.BlockSize
	}
	if c.NumLevels == 0 {
		c.NumLevels = d.NumLevels
	}
	if c.L0CompactionTrigger == 0 {
		c.L0CompactionTrigger = d.L0CompactionTrigger
	}
	if c.TableCacheCapacity == 0 {
		c.TableCacheCapacity = d.TableCacheCapacity
	}
	if c.BlockCacheCapacity == 0 {
		c.BlockCacheCapacity = d.BlockCacheCapacity
	}
	if c.BloomFilterBitsPerKey == 0 {
		c.BloomFilterBitsPerKey = d.BloomFilterBitsPerKey
	}
	if c.BlocksPerFile == 0 {
		c.BlocksPerFile = d.BlocksPerFile
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.Logger == nil {
		c.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	}
	if c.FS == nil {
		c.FS = vfs.Default()
	}
	return c
}

// validate checks every field against spec.md §6.4's valid ranges.
func (c Config) validate() error {
	if c.DataPath == "" {
		return invalidConfig("data_path must be non-empty")
	}
	if c.MemtableSizeLimit < 4<<20 || c.MemtableSizeLimit > 64<<20 {
		return invalidConfig("memtable_size_limit out of range [4MiB, 64MiB]")
	}
	if c.MaxImmutables < 1 || c.MaxImmutables > 16 {
		return invalidConfig("max_immutables out of range [1, 16]")
	}
	if c.BlockSize < 4<<10 || c.BlockSize > 32<<10 {
		return invalidConfig("block_size out of range [4KiB, 32KiB]")
	}
	if c.NumLevels < 1 || c.NumLevels > 7 {
		return invalidConfig("num_levels out of range [1, 7]")
	}
	if c.L0CompactionTrigger < 1 || c.L0CompactionTrigger > 8 {
		return invalidConfig("l0_compaction_trigger out of range [1, 8]")
	}
	if c.TableCacheCapacity < 1 {
		return invalidConfig("table_cache_capacity must be >= 1")
	}
	if c.BlockCacheCapacity < 1 {
		return invalidConfig("block_cache_capacity must be >= 1")
	}
	return nil
}

func invalidConfig(reason string) error {
	return &configError{reason: reason}
}

type configError struct{ reason string }

func (e *configError) Error() string { return "engine: invalid config: " + e.reason }
func (e *configError) Unwrap() error { return ErrInvalidConfig }
