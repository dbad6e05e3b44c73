// Package channel models package sources: the repodata index document a
// channel subdir serves, the per-artifact Record it declares, and the
// IndexFetcher capability that merges several channels into one Index.
package channel
