// Package indexer drives the indexing pipeline: discover source files,
// parse them into chunks, embed the chunks, and hand the result to the
// storage coordinator. It covers both bulk indexing of a whole tree and
// incremental re-indexing driven by filesystem change events.
package indexer
