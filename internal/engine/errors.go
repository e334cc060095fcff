package engine

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Sentinel errors realizing spec.md §7's error kinds. The teacher's own
// db.go uses stdlib errors exclusively for this concern, wrapped with
// fmt.Errorf and inspected with errors.Is/errors.As; nothing in the
// retrieved corpus's domain stack gives error handling a more idiomatic
// home, so this module follows the same plain-errors idiom.
var (
	ErrIoFailure            = errors.New("engine: io failure")
	ErrFileNotFound         = fmt.Errorf("engine: file not found: %w", os.ErrNotExist)
	ErrTooManyOpenFiles     = errors.New("engine: too many open files")
	ErrCorruptBlock         = errors.New("engine: corrupt block")
	ErrCorruptFooter        = errors.New("engine: corrupt footer")
	ErrCorruptManifest      = errors.New("engine: corrupt manifest")
	ErrInvalidConfig        = errors.New("engine: invalid config")
	ErrKeyTooLarge          = errors.New("engine: key too large")
	ErrValueTooLarge        = errors.New("engine: value too large")
	ErrTransactionUnknown   = errors.New("engine: unknown or already-resolved transaction")
	ErrBackPressureShutdown = errors.New("engine: shutting down while blocked on back pressure")

	// ErrNotFound is returned by Get when no visible version of a key
	// exists. It is not one of spec.md §7's error kinds (NotFound is a
	// lookup-result tag, per spec.md §3's data model), but Go idiom
	// returns it as a sentinel error rather than a second return value.
	ErrNotFound = errors.New("engine: key not found")

	// ErrClosed is returned by any operation on an Engine that has
	// already run Close.
	ErrClosed = errors.New("engine: db is closed")
)

// mapIOError normalizes an error from the vfs layer into one of the
// sentinels above, preserving the original error via %w for errors.Is/As.
func mapIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %w", ErrFileNotFound, err)
	}
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
		return fmt.Errorf("%w: %w", ErrTooManyOpenFiles, err)
	}
	return fmt.Errorf("%w: %w", ErrIoFailure, err)
}
