// Package capture persists snapshots of a foreign address space.
//
// A snapshot set is a directory-like prefix in a blobstore.BlobStore holding
// one blob per captured region plus a manifest:
//
//	before/manifest.json
//	before/0_21000.bin
//	before/1c0000_4000.bin.zst
//
// Blob names encode the region's offset from the lowest mapped address and its
// length in hex, so two sets taken from the same process at different times
// can be paired by name and diffed. Blobs are raw bytes; the optional .lz4 or
// .zst suffix marks a compressed blob.
package capture
