package table

import (
	"bytes"
	"testing"

	"github.com/aalhour/stratumkv/internal/dbformat"
	"github.com/bits-and-blooms/bloom/v3"
)

func buildTable(t *testing.T, opts BuilderOptions, entries [][3]any) ([]byte, []byte) {
	t.Helper()
	b := NewBuilder(opts, len(entries))
	for _, e := range entries {
		key := e[0].(string)
		value := e[1].(string)
		txn := e[2].(dbformat.TxnID)
		if err := b.Add([]byte(key), []byte(value), txn, dbformat.Put); err != nil {
			t.Fatalf("Add(%q): %v", key, err)
		}
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	filterBytes, err := b.FilterBytes()
	if err != nil {
		t.Fatalf("FilterBytes: %v", err)
	}
	return raw, filterBytes
}

func TestTableBuilderReaderRoundTrip(t *testing.T) {
	opts := BuilderOptions{BlockSize: 64}
	entries := [][3]any{
		{"a", "1", dbformat.TxnID(1)},
		{"b", "2", dbformat.TxnID(1)},
		{"c", "3", dbformat.TxnID(1)},
		{"d", "4", dbformat.TxnID(1)},
	}
	raw, _ := buildTable(t, opts, entries)

	r, err := NewReader(raw, ReaderOptions{}, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !bytes.Equal(r.FirstKey(), []byte("a")) {
		t.Errorf("FirstKey = %q, want 'a'", r.FirstKey())
	}
	if !bytes.Equal(r.LastKey(), []byte("d")) {
		t.Errorf("LastKey = %q, want 'd'", r.LastKey())
	}

	for _, e := range entries {
		key, value := e[0].(string), e[1].(string)
		entry, found, err := r.Get([]byte(key), 100)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if !found {
			t.Fatalf("Get(%q): not found", key)
		}
		if !bytes.Equal(entry.Value, []byte(value)) {
			t.Errorf("Get(%q).Value = %q, want %q", key, entry.Value, value)
		}
	}
}

func TestTableBuilderSpansMultipleBlocks(t *testing.T) {
	opts := BuilderOptions{BlockSize: 1} // force one block per entry
	entries := [][3]any{
		{"a", "1", dbformat.TxnID(1)},
		{"b", "2", dbformat.TxnID(1)},
		{"c", "3", dbformat.TxnID(1)},
	}
	raw, _ := buildTable(t, opts, entries)

	r, err := NewReader(raw, ReaderOptions{}, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	it := NewIterator(r)
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.UserKey()))
		it.Next()
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("iterated keys = %v, want [a b c]", got)
	}
}

func TestTableFooterChecksum(t *testing.T) {
	opts := BuilderOptions{BlockSize: 64, BlockChecksums: true}
	raw, _ := buildTable(t, opts, [][3]any{{"a", "1", dbformat.TxnID(1)}})

	if _, err := NewReader(raw, ReaderOptions{BlockChecksums: true, VerifyChecksums: true}, nil); err != nil {
		t.Fatalf("NewReader on uncorrupted table: %v", err)
	}

	corrupt := append([]byte(nil), raw...)
	corrupt[0] ^= 0xff
	if _, err := NewReader(corrupt, ReaderOptions{BlockChecksums: true, VerifyChecksums: true}, nil); err != ErrChecksumMismatch {
		t.Errorf("NewReader on corrupted table: err = %v, want ErrChecksumMismatch", err)
	}
}

func TestTableBloomFilterRoundTrip(t *testing.T) {
	opts := BuilderOptions{BlockSize: 4096, UseBloomFilter: true, BloomFilterBitsPerKey: 10}
	b := NewBuilder(opts, 3)
	for _, k := range []string{"a", "b", "c"} {
		if err := b.Add([]byte(k), []byte("v"), 1, dbformat.Put); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	raw, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	filterBytes, err := b.FilterBytes()
	if err != nil {
		t.Fatalf("FilterBytes: %v", err)
	}
	if filterBytes == nil {
		t.Fatal("FilterBytes should be non-nil when UseBloomFilter is set")
	}

	filter := &bloom.BloomFilter{}
	if err := filter.UnmarshalBinary(filterBytes); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	r, err := NewReader(raw, ReaderOptions{}, filter)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if !r.MayContain([]byte("a")) {
		t.Error("MayContain('a') should be true: 'a' was added")
	}
}

func TestTableGetMissingKey(t *testing.T) {
	raw, _ := buildTable(t, BuilderOptions{BlockSize: 4096}, [][3]any{
		{"a", "1", dbformat.TxnID(1)},
		{"c", "3", dbformat.TxnID(1)},
	})
	r, err := NewReader(raw, ReaderOptions{}, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, found, _ := r.Get([]byte("b"), 100); found {
		t.Error("Get('b') should not find a key never added")
	}
}

func TestTableMinMaxTxn(t *testing.T) {
	raw, _ := buildTable(t, BuilderOptions{BlockSize: 4096}, [][3]any{
		{"a", "1", dbformat.TxnID(3)},
		{"b", "2", dbformat.TxnID(1)},
		{"c", "3", dbformat.TxnID(7)},
	})
	r, err := NewReader(raw, ReaderOptions{}, nil)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.MinTxn() != 1 {
		t.Errorf("MinTxn() = %d, want 1", r.MinTxn())
	}
	if r.MaxTxn() != 7 {
		t.Errorf("MaxTxn() = %d, want 7", r.MaxTxn())
	}
}

func TestBuilderEmptyFinish(t *testing.T) {
	b := NewBuilder(DefaultBuilderOptions(), 0)
	if _, err := b.Finish(); err != ErrEmptyTable {
		t.Errorf("Finish on empty builder: err = %v, want ErrEmptyTable", err)
	}
}
