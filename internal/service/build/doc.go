// Package build orchestrates one installer build end to end: it loads
// the build request, fetches channel indexes, drives the package-set
// lifecycle, downloads artifacts into the cache and hands the result to
// the archive assembler. Phases never overlap.
package build
