// Package checksum provides the checksum primitives used by the manifest
// log and by the optional block/footer corruption-detection trailers.
package checksum

import "hash/crc32"

// Manifest computes the plain (unmasked) CRC32 of a manifest record payload,
// as required by the manifest's on-disk record format: a trailing
// u32 crc32(payload) with no RocksDB-style masking.
func Manifest(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
