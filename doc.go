// Package filetracker defines the core data types shared by a
// content-addressed, version-stamped file storage service: digests,
// versions, links, canonical path validation, and the sentinel error
// kinds its HTTP surface maps to status codes.
//
// The service itself is assembled from several independent packages:
//
//   - blobstore stores gzip-compressed blobs on a local filesystem,
//     keyed by the SHA-256 of their uncompressed content.
//   - linkdb is the transactional path-to-blob index, backed by an
//     embedded ordered key-value store, with per-digest reference
//     counts.
//   - lockmanager gives per-path and per-digest exclusion so
//     modifying operations are serializable without a global lock.
//   - fallback is the optional read-through proxy to a legacy origin.
//   - gc sweeps orphaned blobs whose digest has no surviving link.
//   - server wires the above into an HTTP handler.
//
// There is no authentication, authorization, transport encryption, or
// quota enforcement anywhere in this package; it is meant to run
// behind a trusted internal network.
package filetracker
