// Package types provides shared type definitions for the twinindex engine.
//
// This package defines the domain types used across the write-path
// coordination layer: chunks, parsed files, change events, operation
// results, and the coordination error taxonomy.
//
// # Core Types
//
// Chunk represents a span of source code stored in both the vector and
// the graph store:
//
//	chunk := types.Chunk{
//	    ID:        types.ComputeChunkID("internal/parser/parser.go", 10, 42, body),
//	    FilePath:  "internal/parser/parser.go",
//	    StartLine: 10,
//	    EndLine:   42,
//	    Content:   body,
//	    Metadata:  map[string]string{"kind": "function", "name": "ParseFile"},
//	}
//
// CodeFile groups the chunks extracted from one source file. FileChange
// tags a raw filesystem event (created, modified, deleted) consumed by
// the incremental pipeline.
//
// # Results and Errors
//
// Mutating storage operations report outcomes through StoreResult and
// DeleteResult rather than raising errors: callers branch on Success for
// the common partial-failure case. The sentinel errors in errors.go cover
// programmer errors (invalid transaction state) and backpressure vetoes
// (insufficient memory), which do propagate as Go errors.
package types
