package manifest

import (
	"bytes"
	"testing"

	"github.com/aalhour/stratumkv/internal/dbformat"
)

func TestVersionEditEncodeDecodeRoundTrip(t *testing.T) {
	edit := NewVersionEdit()
	edit.SetNextSSTID(42)
	edit.SetMinLiveTxn(7)
	edit.AddFile(0, SSTMetadata{
		ID:         1,
		FileSize:   1024,
		NumEntries: 10,
		MinTxn:     1,
		MaxTxn:     5,
		Smallest:   []byte("a"),
		Largest:    []byte("z"),
	})
	edit.AddFile(2, SSTMetadata{
		ID:         2,
		FileSize:   2048,
		NumEntries: 20,
		MinTxn:     6,
		MaxTxn:     9,
		Smallest:   []byte("m"),
		Largest:    []byte("p"),
	})
	edit.DeleteFile(0, 99)

	encoded := edit.EncodeTo()

	var decoded VersionEdit
	if err := decoded.DecodeFrom(encoded); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}

	if decoded.NextSSTID != 42 || !decoded.HasNextSSTID {
		t.Errorf("NextSSTID = %d (has=%v), want 42 (has=true)", decoded.NextSSTID, decoded.HasNextSSTID)
	}
	if decoded.MinLiveTxn != 7 || !decoded.HasMinLiveTxn {
		t.Errorf("MinLiveTxn = %d (has=%v), want 7 (has=true)", decoded.MinLiveTxn, decoded.HasMinLiveTxn)
	}
	if len(decoded.NewFiles) != 2 {
		t.Fatalf("NewFiles = %d, want 2", len(decoded.NewFiles))
	}
	if decoded.NewFiles[0].Level != 0 || decoded.NewFiles[0].ID != 1 {
		t.Errorf("NewFiles[0] = %+v", decoded.NewFiles[0])
	}
	if decoded.NewFiles[1].Level != 2 || decoded.NewFiles[1].ID != 2 {
		t.Errorf("NewFiles[1] = %+v", decoded.NewFiles[1])
	}
	if !bytes.Equal(decoded.NewFiles[0].Smallest, []byte("a")) {
		t.Errorf("NewFiles[0].Smallest = %q, want 'a'", decoded.NewFiles[0].Smallest)
	}
	if len(decoded.DeletedFiles) != 1 || decoded.DeletedFiles[0] != (DeletedFileEntry{Level: 0, ID: 99}) {
		t.Errorf("DeletedFiles = %+v, want [{0 99}]", decoded.DeletedFiles)
	}
}

func TestVersionEditEmptyRoundTrip(t *testing.T) {
	edit := NewVersionEdit()
	encoded := edit.EncodeTo()

	var decoded VersionEdit
	if err := decoded.DecodeFrom(encoded); err != nil {
		t.Fatalf("DecodeFrom: %v", err)
	}
	if decoded.HasNextSSTID || decoded.HasMinLiveTxn || len(decoded.NewFiles) != 0 || len(decoded.DeletedFiles) != 0 {
		t.Errorf("decoded empty edit should stay empty, got %+v", decoded)
	}
}

func TestVersionEditDecodeUnknownTag(t *testing.T) {
	var decoded VersionEdit
	err := decoded.DecodeFrom([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	if err != ErrUnknownTag {
		t.Errorf("DecodeFrom(garbage tag): err = %v, want ErrUnknownTag", err)
	}
}

func TestVersionEditDecodeTruncated(t *testing.T) {
	edit := NewVersionEdit()
	edit.AddFile(0, SSTMetadata{ID: 1, Smallest: []byte("a"), Largest: []byte("z")})
	encoded := edit.EncodeTo()

	var decoded VersionEdit
	err := decoded.DecodeFrom(encoded[:len(encoded)-1])
	if err != ErrUnexpectedEndOfInput {
		t.Errorf("DecodeFrom(truncated): err = %v, want ErrUnexpectedEndOfInput", err)
	}
}

func TestVersionEditAddFileSetsLevel(t *testing.T) {
	edit := NewVersionEdit()
	edit.AddFile(3, SSTMetadata{ID: 1, MinTxn: dbformat.TxnID(1)})
	if edit.NewFiles[0].Level != 3 {
		t.Errorf("AddFile should stamp the level onto the metadata, got %d", edit.NewFiles[0].Level)
	}
}
