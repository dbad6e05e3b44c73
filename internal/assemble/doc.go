// Package assemble turns a fetched package set into a self-extracting
// installer. Payload tarballs are staged in scratch storage, a shell
// header is rendered whose final byte length must be known before the
// offsets referencing that length are embedded in it (solved by freezing
// the length after content substitution and filling numeric placeholders
// with fixed-width, length-preserving values), and header, extraction
// executable and payload tarball are concatenated into one executable
// output file.
package assemble
