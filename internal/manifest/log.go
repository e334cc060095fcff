// log.go implements the manifest file's append-only record framing:
// {u32 length, bytes payload, u32 crc32(payload)} repeated, per
// SPEC_FULL.md §6.3. Grounded on the teacher's internal/wal record-framing
// role (length-prefixed records with a trailing checksum), simplified to
// the spec's literal layout: a plain unmasked CRC32 rather than RocksDB's
// masked CRC32C, and no record-type/block-padding machinery since
// manifest records are never split across physical blocks.
package manifest

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/aalhour/stratumkv/internal/checksum"
)

var (
	// ErrChecksumMismatch is returned when a record's CRC32 does not
	// match its payload.
	ErrChecksumMismatch = errors.New("manifest: checksum mismatch")
	// ErrTruncatedRecord names a log that ends mid-record. Reader.Next
	// does not return it: a manifest writer always syncs after each
	// record, so a truncated tail indicates a crash during the previous
	// append, and Next reports it as io.EOF, the end of the valid log.
	ErrTruncatedRecord = errors.New("manifest: truncated record")
)

// Writer appends length-prefixed, checksummed records to an underlying
// io.Writer.
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// Append writes one record: u32 length, payload, u32 crc32(payload).
func (w *Writer) Append(payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], checksum.Manifest(payload))
	_, err := w.w.Write(crc[:])
	return err
}

// Reader reads records previously written by Writer from a byte slice
// holding the whole manifest log (it is always read in full on
// recovery, never streamed).
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Next returns the next record's payload, or io.EOF when the log is
// exhausted. A truncated trailing record is reported as io.EOF as well,
// since it can only be the result of a crash mid-append.
func (r *Reader) Next() ([]byte, error) {
	if r.pos >= len(r.data) {
		return nil, io.EOF
	}
	if r.pos+4 > len(r.data) {
		return nil, io.EOF
	}
	length := binary.LittleEndian.Uint32(r.data[r.pos:])
	start := r.pos + 4
	end := start + int(length)
	if end+4 > len(r.data) {
		return nil, io.EOF
	}
	payload := r.data[start:end]
	wantCRC := binary.LittleEndian.Uint32(r.data[end:])
	if checksum.Manifest(payload) != wantCRC {
		return nil, ErrChecksumMismatch
	}
	r.pos = end + 4
	return payload, nil
}

// ReadAll decodes every VersionEdit record in data, stopping at the first
// truncated trailing record (treated as a clean end-of-log, per the
// write-then-sync discipline the manifest writer follows).
func ReadAll(data []byte) ([]*VersionEdit, error) {
	r := NewReader(data)
	var edits []*VersionEdit
	for {
		payload, err := r.Next()
		if err == io.EOF {
			return edits, nil
		}
		if err != nil {
			return edits, err
		}
		ve := NewVersionEdit()
		if err := ve.DecodeFrom(payload); err != nil {
			return edits, err
		}
		edits = append(edits, ve)
	}
}
