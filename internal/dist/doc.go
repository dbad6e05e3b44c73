// Package dist defines the canonical package-artifact identifier and the
// two grammars built on it: archive filenames (name-version-build plus
// extension) and explicit package-list lines (optional URL prefix,
// filename, optional inline MD5 checksum).
package dist
