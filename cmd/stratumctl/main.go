// Command stratumctl is an inspection and scripting tool for a stratumkv
// database directory.
//
// Usage:
//
//	stratumctl --db=<path> <command> [options]
//
// Commands:
//
//	get <key>        Get the value for a key
//	put <key> <val>  Put a key-value pair (requires --readonly=false)
//	delete <key>     Delete a key (requires --readonly=false)
//	scan             Scan live key-value pairs in a range
//	dump             Dump every live key-value pair
//	info             Print level layout and memtable occupancy
//	manifest_dump    Dump the MANIFEST log's version edits
//	sstfiles         List SST files on disk and their sizes
//
// Reference: RocksDB v10.7.5 tools/ldb_tool.cc
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aalhour/stratumkv"
	"github.com/aalhour/stratumkv/internal/manifest"
	"github.com/aalhour/stratumkv/internal/vfs"
)

var (
	dbPath    = flag.String("db", "", "Path to the database (required)")
	readOnly  = flag.Bool("readonly", true, "Refuse put/delete unless set to false")
	hexOutput = flag.Bool("hex", false, "Output keys and values in hex format")
	limit     = flag.Int("limit", 0, "Limit number of entries (0 = unlimited)")
	fromKey   = flag.String("from", "", "Start key for scan (inclusive)")
	toKey     = flag.String("to", "", "End key for scan (exclusive)")
	help      = flag.Bool("help", false, "Print help")
)

// stdout is where every command writes its output; tests substitute a
// bytes.Buffer to assert on it without touching the real os.Stdout.
var stdout io.Writer = os.Stdout

func main() {
	flag.Parse()

	if *help || len(flag.Args()) == 0 {
		printUsage()
		return
	}
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "get":
		err = cmdGet(args)
	case "put":
		err = cmdPut(args)
	case "delete":
		err = cmdDelete(args)
	case "scan":
		err = cmdScan()
	case "dump":
		err = cmdDump()
	case "info":
		err = cmdInfo()
	case "manifest_dump":
		err = cmdManifestDump()
	case "sstfiles":
		err = cmdSSTFiles()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(stdout, "stratumctl - stratumkv database inspection tool")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Usage: stratumctl --db=<path> <command> [options]")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  get <key>         Get the value for a key")
	fmt.Fprintln(stdout, "  put <key> <val>   Put a key-value pair (requires --readonly=false)")
	fmt.Fprintln(stdout, "  delete <key>      Delete a key (requires --readonly=false)")
	fmt.Fprintln(stdout, "  scan              Scan live key-value pairs in a range")
	fmt.Fprintln(stdout, "  dump              Dump every live key-value pair")
	fmt.Fprintln(stdout, "  info              Print level layout and memtable occupancy")
	fmt.Fprintln(stdout, "  manifest_dump     Dump the MANIFEST log's version edits")
	fmt.Fprintln(stdout, "  sstfiles          List SST files on disk and their sizes")
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Options:")
	flag.PrintDefaults()
}

// openDB opens the store at --db. Unlike the teacher's ldb, there is no
// separate read-only open mode: every Open both creates and recovers a
// store as needed. --readonly only gates whether this tool's put/delete
// commands are allowed to run.
func openDB() (*stratumkv.DB, error) {
	cfg := stratumkv.DefaultConfig(*dbPath)
	return stratumkv.Open(cfg)
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stratumctl --db=<path> get <key>")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	value, err := db.Get(parseInput(args[0]), 0)
	if err != nil {
		return fmt.Errorf("key not found: %w", err)
	}
	fmt.Fprintln(stdout, formatOutput(value))
	return nil
}

func cmdPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: stratumctl --db=<path> --readonly=false put <key> <value>")
	}
	if *readOnly {
		return fmt.Errorf("cannot put in readonly mode, use --readonly=false")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Put(parseInput(args[0]), parseInput(args[1]), 0); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	if err := db.ForceFlush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: stratumctl --db=<path> --readonly=false delete <key>")
	}
	if *readOnly {
		return fmt.Errorf("cannot delete in readonly mode, use --readonly=false")
	}

	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Delete(parseInput(args[0]), 0); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	if err := db.ForceFlush(); err != nil {
		return fmt.Errorf("flush failed: %w", err)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdScan() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var begin, end []byte
	if *fromKey != "" {
		begin = parseInput(*fromKey)
	}
	if *toKey != "" {
		end = parseInput(*toKey)
	}

	iter, err := db.IterRange(begin, end, 0)
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.Valid() {
		fmt.Fprintf(stdout, "%s => %s\n", formatOutput(iter.Key()), formatOutput(iter.Value()))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
		iter.Next()
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(stdout, "\n(%d entries scanned)\n", count)
	return nil
}

func cmdDump() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	iter, err := db.IterRange(nil, nil, 0)
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.Valid() {
		fmt.Fprintf(stdout, "'%s' => '%s'\n", formatOutput(iter.Key()), formatOutput(iter.Value()))
		count++
		if *limit > 0 && count >= *limit {
			break
		}
		iter.Next()
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(stdout, "\n(%d entries dumped)\n", count)
	return nil
}

func cmdInfo() error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	stats := db.Stats()

	fmt.Fprintf(stdout, "Database: %s\n", *dbPath)
	fmt.Fprintln(stdout, "---")
	fmt.Fprintf(stdout, "version: %d\n", stats.VersionNumber)
	fmt.Fprintf(stdout, "cur-size-all-mem-tables: %d\n", stats.MemtableBytes)
	fmt.Fprintf(stdout, "num-immutable-mem-table: %d\n", stats.ImmutableCount)
	fmt.Fprintf(stdout, "live-sst-files-size: %d\n", stats.LiveSSTBytes)
	for _, l := range stats.Levels {
		if l.NumFiles == 0 {
			continue
		}
		fmt.Fprintf(stdout, "num-files-at-level%d: %d (%d bytes)\n", l.Level, l.NumFiles, l.NumBytes)
	}
	if stats.BackgroundError != nil {
		fmt.Fprintf(stdout, "background-error: %v\n", stats.BackgroundError)
	} else {
		fmt.Fprintln(stdout, "background-error: (none)")
	}

	return nil
}

func cmdManifestDump() error {
	fs := vfs.Default()

	manifestPath := filepath.Join(*dbPath, "MANIFEST")
	info, err := fs.Stat(manifestPath)
	if err != nil {
		return fmt.Errorf("MANIFEST file %s not found: %w", manifestPath, err)
	}

	fmt.Fprintf(stdout, "MANIFEST file: %s\n", manifestPath)
	fmt.Fprintf(stdout, "Size: %d bytes\n", info.Size())
	fmt.Fprintln(stdout, "---")

	f, err := fs.Open(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to open MANIFEST: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read MANIFEST: %w", err)
	}

	edits, err := manifest.ReadAll(data)
	if err != nil && len(edits) == 0 {
		return fmt.Errorf("failed to decode MANIFEST: %w", err)
	}

	totalNew, totalDeleted := 0, 0
	fmt.Fprintln(stdout, "Version Edits:")
	for i, ve := range edits {
		parts := []string{fmt.Sprintf("[Edit %d]", i+1)}
		if ve.HasNextSSTID {
			parts = append(parts, fmt.Sprintf("next_sst_id=%d", ve.NextSSTID))
		}
		if ve.HasMinLiveTxn {
			parts = append(parts, fmt.Sprintf("min_live_txn=%d", ve.MinLiveTxn))
		}
		if len(ve.NewFiles) > 0 {
			parts = append(parts, fmt.Sprintf("+%d files", len(ve.NewFiles)))
		}
		if len(ve.DeletedFiles) > 0 {
			parts = append(parts, fmt.Sprintf("-%d files", len(ve.DeletedFiles)))
		}
		fmt.Fprintln(stdout, "  " + strings.Join(parts, ", "))

		totalNew += len(ve.NewFiles)
		totalDeleted += len(ve.DeletedFiles)

		if *limit > 0 && i+1 >= *limit {
			break
		}
	}

	fmt.Fprintln(stdout, "\nSummary:")
	fmt.Fprintf(stdout, "Total Edits: %d\n", len(edits))
	fmt.Fprintf(stdout, "Total New Files: %d\n", totalNew)
	fmt.Fprintf(stdout, "Total Deleted Files: %d\n", totalDeleted)
	return nil
}

func cmdSSTFiles() error {
	fs := vfs.Default()

	entries, err := fs.ListDir(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to list directory: %w", err)
	}

	fmt.Fprintf(stdout, "SST files in %s:\n", *dbPath)
	fmt.Fprintln(stdout, "---")

	count := 0
	var totalSize int64
	for _, entry := range entries {
		if !strings.HasSuffix(entry, ".sst") {
			continue
		}
		path := filepath.Join(*dbPath, entry)
		info, err := fs.Stat(path)
		if err != nil {
			fmt.Fprintf(stdout, "  %s (error: %v)\n", entry, err)
			continue
		}

		numStr := strings.TrimSuffix(entry, ".sst")
		fileNum, _ := strconv.ParseUint(numStr, 10, 64)

		fmt.Fprintf(stdout, "  %s (id=%d, size=%d bytes)\n", entry, fileNum, info.Size())
		totalSize += info.Size()
		count++
	}

	fmt.Fprintf(stdout, "\nTotal: %d SST files, %d bytes\n", count, totalSize)
	return nil
}
