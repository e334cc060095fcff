// Package dbformat defines the internal key format shared by the memtable,
// blocks, and tables: a user key followed by an 8-byte trailer packing the
// transaction id and value kind.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/aalhour/stratumkv/internal/encoding"
)

// TxnID is a monotonically increasing transaction identifier. 0 is reserved
// for the implicit autocommit transaction.
type TxnID uint64

// NumInternalBytes is the size of the internal key trailer (txn + kind).
const NumInternalBytes = 8

// ValueKind distinguishes a live value from a tombstone.
type ValueKind uint8

const (
	// Put marks a live value.
	Put ValueKind = 0
	// Deleted marks a tombstone.
	Deleted ValueKind = 1
)

func (k ValueKind) String() string {
	if k == Deleted {
		return "Deleted"
	}
	return "Put"
}

// KindForSeek is used when constructing a seek key for the largest possible
// trailer at a given user key, so that a seek lands on the newest version.
const KindForSeek = Deleted

var (
	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")
)

// PackTrailer packs a txn id and value kind into a 64-bit trailer.
// The txn id occupies the upper 56 bits, the kind the lower 8 bits, so that
// comparing decoded trailers numerically orders by txn, then kind;
// CompareInternalKeys inverts that comparison to put the newest version first.
func PackTrailer(txn TxnID, kind ValueKind) uint64 {
	return (uint64(txn) << 8) | uint64(kind)
}

// UnpackTrailer extracts the txn id and value kind from a packed trailer.
func UnpackTrailer(packed uint64) (TxnID, ValueKind) {
	return TxnID(packed >> 8), ValueKind(packed & 0xFF)
}

// ParsedInternalKey is an internal key split into its user key, txn, and kind.
type ParsedInternalKey struct {
	UserKey []byte
	Txn     TxnID
	Kind    ValueKind
}

func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Txn: %d, Kind: %s}", p.UserKey, p.Txn, p.Kind)
}

// EncodedLength returns the length of the encoded internal key.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the serialization of key to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	return encoding.AppendFixed64(dst, PackTrailer(key.Txn, key.Kind))
}

// ParseInternalKey parses an internal key from data.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}
	packed := encoding.DecodeFixed64(data[n-NumInternalBytes:])
	txn, kind := UnpackTrailer(packed)
	return &ParsedInternalKey{
		UserKey: data[:n-NumInternalBytes],
		Txn:     txn,
		Kind:    kind,
	}, nil
}

// ExtractUserKey returns the user key portion of an internal key.
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractTxn returns the txn id from an internal key.
func ExtractTxn(internalKey []byte) TxnID {
	if len(internalKey) < NumInternalBytes {
		return 0
	}
	n := len(internalKey)
	return TxnID(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) >> 8)
}

// ExtractKind returns the value kind from an internal key.
func ExtractKind(internalKey []byte) ValueKind {
	if len(internalKey) < NumInternalBytes {
		return Deleted
	}
	n := len(internalKey)
	return ValueKind(encoding.DecodeFixed64(internalKey[n-NumInternalBytes:]) & 0xFF)
}

// InternalKey is an encoded internal key stored as a byte slice.
type InternalKey []byte

// NewInternalKey builds an internal key from its parts.
func NewInternalKey(userKey []byte, txn TxnID, kind ValueKind) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{UserKey: userKey, Txn: txn, Kind: kind})
}

func (k InternalKey) UserKey() []byte { return ExtractUserKey(k) }
func (k InternalKey) Txn() TxnID      { return ExtractTxn(k) }
func (k InternalKey) Kind() ValueKind { return ExtractKind(k) }

// UserKeyCompare compares two user keys lexicographically by unsigned byte value.
func UserKeyCompare(a, b []byte) int {
	minLen := min(len(a), len(b))
	for i := range minLen {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// CompareInternalKeys orders internal keys by user key ascending, then by
// trailer (txn, kind) descending so the newest version of a key sorts first.
func CompareInternalKeys(a, b []byte) int {
	userA, userB := ExtractUserKey(a), ExtractUserKey(b)
	if userA == nil {
		userA = a
	}
	if userB == nil {
		userB = b
	}
	if cmp := UserKeyCompare(userA, userB); cmp != 0 {
		return cmp
	}
	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		switch {
		case trailerA > trailerB:
			return -1
		case trailerA < trailerB:
			return 1
		}
	}
	return 0
}
