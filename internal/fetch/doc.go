// Package fetch maps each finalized package identifier to an
// authoritative channel record and ensures its artifact is present in the
// local content-keyed cache: cache hits are detected by hash, inline
// checksums are validated against channel records before any transfer,
// and fetched content is verified after it.
package fetch
