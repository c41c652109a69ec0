package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/twinindex/twinindex/internal/indexer"
	"github.com/twinindex/twinindex/internal/searcher"
	"github.com/twinindex/twinindex/internal/watcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleIndexCodebase handles the index_codebase tool invocation.
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	cfg := &indexer.Config{
		IncludeTests:  getBoolDefault(args, "include_tests", true),
		IncludeVendor: getBoolDefault(args, "include_vendor", false),
	}

	stats, err := s.indexer.IndexProject(ctx, path, projectID(path), cfg)
	if err != nil {
		if errors.Is(err, indexer.ErrIndexInProgress) {
			return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", map[string]interface{}{
				"path": path,
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"indexed":          true,
		"files_discovered": stats.FilesDiscovered,
		"files_parsed":     stats.FilesParsed,
		"files_failed":     stats.FilesFailed,
		"chunks_embedded":  stats.ChunksEmbedded,
		"chunks_stored":    stats.ChunksStored,
		"duration_ms":      stats.Duration.Milliseconds(),
	}
	if len(stats.Errors) > 0 {
		response["error_count"] = len(stats.Errors)
		if len(stats.Errors) > 5 {
			response["errors"] = stats.Errors[:5]
		} else {
			response["errors"] = stats.Errors
		}
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation.
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid)))
	switch mode {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeGraph:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   string(mode),
			"allowed": []string{"hybrid", "vector", "graph"},
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:       query,
		ProjectID:   projectID(path),
		Limit:       limit,
		Mode:        mode,
		MinScore:    getFloatDefault(args, "min_score", 0),
		FilePattern: getStringDefault(args, "file_pattern", ""),
		UseCache:    true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	hits := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		hits[i] = map[string]interface{}{
			"chunk_id":   r.ChunkID,
			"file_path":  r.FilePath,
			"start_line": r.StartLine,
			"end_line":   r.EndLine,
			"score":      r.Score,
			"content":    r.Content,
		}
		if name, ok := r.Metadata["name"]; ok {
			hits[i]["symbol"] = name
		}
		if kind, ok := r.Metadata["kind"]; ok {
			hits[i]["kind"] = kind
		}
	}

	response := map[string]interface{}{
		"results":        hits,
		"total_results":  resp.TotalResults,
		"search_mode":    string(resp.SearchMode),
		"cache_hit":      resp.CacheHit,
		"vector_results": resp.VectorResults,
		"graph_results":  resp.GraphResults,
		"duration_ms":    resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation.
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	watched := make([]string, 0, len(s.watchers))
	for id := range s.watchers {
		watched = append(watched, id)
	}
	s.mu.Unlock()

	recent := s.txns.History(10)
	history := make([]map[string]interface{}, len(recent))
	for i, tx := range recent {
		entry := map[string]interface{}{
			"id":     tx.ID,
			"status": string(tx.Status),
			"steps":  len(tx.Steps),
		}
		if tx.Err != nil {
			entry["error"] = tx.Err.Error()
		}
		history[i] = entry
	}

	response := map[string]interface{}{
		"server":              ServerName,
		"version":             ServerVersion,
		"projects":            s.coord.Projects(),
		"watched_projects":    watched,
		"active_transactions": len(s.txns.Active()),
		"recent_transactions": history,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleWatchCodebase handles the watch_codebase tool invocation.
func (s *Server) handleWatchCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	id := projectID(path)

	if getBoolDefault(args, "stop", false) {
		stopped := s.stopWatch(id)
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"watching": false,
			"stopped":  stopped,
			"path":     path,
		})), nil
	}

	s.mu.Lock()
	if _, exists := s.watchers[id]; exists {
		s.mu.Unlock()
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"watching": true,
			"path":     path,
			"message":  "already watching",
		})), nil
	}
	s.mu.Unlock()

	w, err := watcher.New(path, s.logger)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to start watch", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.indexer.RegisterProject(id, path)

	watchCtx, cancel := context.WithCancel(context.Background())
	session := &watchSession{watcher: w, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.watchers[id] = session
	s.mu.Unlock()

	go func() {
		defer close(session.done)
		s.pipeline.Consume(watchCtx, id, w.Events())
	}()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"watching": true,
		"path":     path,
	})), nil
}

// stopWatch tears down an active watch session. Returns false when no
// watch was active for the project.
func (s *Server) stopWatch(id string) bool {
	s.mu.Lock()
	session, ok := s.watchers[id]
	if ok {
		delete(s.watchers, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	session.cancel()
	_ = session.watcher.Close()
	<-session.done
	return true
}

// handleDeleteProject handles the delete_project tool invocation.
func (s *Server) handleDeleteProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	id := projectID(path)

	s.stopWatch(id)

	result, err := s.coord.DeleteProject(ctx, id)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "delete failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"deleted":        result.Success,
		"chunks_deleted": result.ChunksDeleted,
	}
	if len(result.Errors) > 0 {
		response["errors"] = result.Errors
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// projectID derives the tenant identifier from the project path. The
// cleaned absolute path keeps IDs stable across invocations and human
// readable in logs.
func projectID(path string) string {
	return filepath.Clean(path)
}

// requirePath extracts and validates the path argument.
func requirePath(args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return path, nil
}

// newMCPError creates a properly formatted MCP error.
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error.
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is an accessible directory.
func validatePath(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON.
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value.
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value.
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value.
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value.
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation errors

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
