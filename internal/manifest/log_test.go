package manifest

import (
	"bytes"
	"io"
	"testing"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	records := [][]byte{[]byte("first"), []byte("second"), []byte("")}
	for _, r := range records {
		if err := w.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	r := NewReader(buf.Bytes())
	for i, want := range records {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("Next() record %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("record %d = %q, want %q", i, got, want)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() past the last record: err = %v, want io.EOF", err)
	}
}

func TestReaderDetectsChecksumMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Append([]byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	corrupt := buf.Bytes()
	corrupt[4] ^= 0xff // flip a byte inside the payload

	r := NewReader(corrupt)
	if _, err := r.Next(); err != ErrChecksumMismatch {
		t.Errorf("Next() on corrupted record: err = %v, want ErrChecksumMismatch", err)
	}
}

func TestReaderTreatsTruncatedTailAsEOF(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Append([]byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	truncated := buf.Bytes()[:buf.Len()-2]
	r := NewReader(truncated)
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next() on truncated record: err = %v, want io.EOF", err)
	}
}

func TestReadAllDecodesEveryEdit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	e1 := NewVersionEdit()
	e1.SetNextSSTID(1)
	e2 := NewVersionEdit()
	e2.AddFile(0, SSTMetadata{ID: 1, Smallest: []byte("a"), Largest: []byte("z")})

	for _, e := range []*VersionEdit{e1, e2} {
		if err := w.Append(e.EncodeTo()); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	edits, err := ReadAll(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(edits) != 2 {
		t.Fatalf("len(edits) = %d, want 2", len(edits))
	}
	if !edits[0].HasNextSSTID || edits[0].NextSSTID != 1 {
		t.Errorf("edits[0] = %+v", edits[0])
	}
	if len(edits[1].NewFiles) != 1 || edits[1].NewFiles[0].ID != 1 {
		t.Errorf("edits[1] = %+v", edits[1])
	}
}

func TestReadAllStopsAtTruncatedTail(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	e := NewVersionEdit()
	e.SetNextSSTID(5)
	if err := w.Append(e.EncodeTo()); err != nil {
		t.Fatalf("Append: %v", err)
	}
	buf.WriteByte(0x01) // a stray partial header byte from a crash mid-append

	edits, err := ReadAll(buf.Bytes())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(edits) != 1 {
		t.Fatalf("len(edits) = %d, want 1", len(edits))
	}
}
