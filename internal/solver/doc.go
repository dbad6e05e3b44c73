// Package solver provides the dependency-resolution capability consumed
// by the package-set builder: a Resolver interface with two backends
// (simple highest-version matching and graph closure over repodata
// depends), plus a deterministic dependency-respecting topological sort.
//
// Full constraint solving is deliberately out of scope; the matcher
// understands bare versions, '*' suffix wildcards and >=, <=, == prefixes.
package solver
