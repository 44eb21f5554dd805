// Package integrity detects tampering or corruption of cached manifests.
//
// After the cache stores a manifest, StoreHash digests the stored bytes in a
// tracked background task. Verify first waits for any such task for the same
// app, then digests the current bytes and compares them to the record. The
// algorithm (SHA-256 or BLAKE2b-256) is stored next to the digest, so
// switching algorithms makes every old digest a mismatch and forces a
// re-download instead of a false match.
package integrity
