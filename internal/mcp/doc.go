// Package mcp implements the Model Context Protocol (MCP) server for
// TwinIndex.
//
// The MCP server exposes five tools to AI coding assistants:
//   - index_codebase: Index a project into both stores
//   - search_code: Search indexed code (vector, graph, or hybrid)
//   - get_status: Report indexed projects and transaction history
//   - watch_codebase: Start incremental re-indexing on file changes
//   - delete_project: Remove a project from both stores
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server communicates with MCP clients via standard input/output,
// making it simple to integrate with any MCP-compatible client.
package mcp
