// Package remotestorage is the durability tier sitting behind a
// repository's local store: an object store (or a local directory
// standing in for one in tests) to which checkpoints of a timeline's
// on-disk state can be uploaded and from which they can be downloaded.
// The package provides only that storage surface; nothing in this
// module schedules checkpoint uploads or restores a timeline from it.
//
// The local store (internal/store, internal/timeline) remains the
// source of truth for reads and writes; objects in remote storage are
// addressed by a timeline id and
// a relative name (a segment file, a checkpoint blob, a metadata
// sidecar). Two implementations are provided: S3, for any
// S3-compatible object store, and LocalFS, a directory-backed
// implementation used in tests and single-node deployments that don't
// want an external dependency.
//
// Uploaded blobs are Zstd-compressed before being written, and
// transparently decompressed on download, so checkpoint size on the
// wire tracks the compressibility of page images rather than their raw
// size.
package remotestorage
