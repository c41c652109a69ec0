// Package searcher runs read-path queries against the dual stores:
// vector similarity, structural graph lookup, and a hybrid mode that
// fuses both rankings with Reciprocal Rank Fusion. Responses are cached
// in a bounded LRU with per-request TTL.
package searcher
