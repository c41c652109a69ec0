package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/twinindex/twinindex/pkg/types"
)

// SQLiteGraphStore implements GraphStore on its own SQLite database,
// independent of the vector store. Nodes are derived from chunk metadata
// (symbol kind and name); edges record containment and import
// relationships.
type SQLiteGraphStore struct {
	db *sql.DB
}

// NewSQLiteGraphStore opens (or creates) the graph database at dbPath.
func NewSQLiteGraphStore(dbPath string) (*SQLiteGraphStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS namespaces (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS nodes (
			chunk_id TEXT NOT NULL,
			namespace_id INTEGER NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			content TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (chunk_id, namespace_id)
		);
		CREATE TABLE IF NOT EXISTS edges (
			namespace_id INTEGER NOT NULL REFERENCES namespaces(id) ON DELETE CASCADE,
			from_chunk TEXT NOT NULL,
			relation TEXT NOT NULL,
			target TEXT NOT NULL,
			PRIMARY KEY (namespace_id, from_chunk, relation, target)
		);
		CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(namespace_id, name);
		CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(namespace_id, file_path);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create graph schema: %w", err)
	}

	return &SQLiteGraphStore{db: db}, nil
}

// InitializeProjectScope creates the project's namespace if absent.
func (s *SQLiteGraphStore) InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error) {
	name := collectionName("graph", projectID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO namespaces (project_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO NOTHING`,
		projectID, name, time.Now())
	if err != nil {
		return ProjectScope{}, fmt.Errorf("failed to create namespace: %w", err)
	}
	return ProjectScope{ProjectID: projectID, Collection: name}, nil
}

func (s *SQLiteGraphStore) namespaceID(ctx context.Context, scope ProjectScope) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM namespaces WHERE project_id = ?`, scope.ProjectID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", types.ErrProjectNotFound, scope.ProjectID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// StoreChunks upserts one node per chunk plus containment and import
// edges derived from chunk metadata.
func (s *SQLiteGraphStore) StoreChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error {
	nsID, err := s.namespaceID(ctx, scope)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO nodes
			(chunk_id, namespace_id, kind, name, file_path, start_line, end_line, content, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = nodeStmt.Close() }()

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO edges (namespace_id, from_chunk, relation, target)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = edgeStmt.Close() }()

	now := time.Now()
	for i := range chunks {
		c := &chunks[i]
		kind := c.Metadata["kind"]
		if kind == "" {
			kind = "fragment"
		}
		name := c.Metadata["name"]
		if name == "" {
			name = c.FilePath
		}
		if _, err := nodeStmt.ExecContext(ctx,
			c.ID, nsID, kind, name, c.FilePath, c.StartLine, c.EndLine, c.Content, now); err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", c.ID, err)
		}

		if _, err := edgeStmt.ExecContext(ctx, nsID, c.ID, "contained_in", c.FilePath); err != nil {
			return fmt.Errorf("failed to upsert containment edge for %s: %w", c.ID, err)
		}
		if imports := c.Metadata["imports"]; imports != "" {
			for _, imp := range strings.Split(imports, ",") {
				imp = strings.TrimSpace(imp)
				if imp == "" {
					continue
				}
				if _, err := edgeStmt.ExecContext(ctx, nsID, c.ID, "imports", imp); err != nil {
					return fmt.Errorf("failed to upsert import edge for %s: %w", c.ID, err)
				}
			}
		}
	}

	return tx.Commit()
}

// DeleteNodes removes nodes and their outgoing edges by chunk ID.
func (s *SQLiteGraphStore) DeleteNodes(ctx context.Context, scope ProjectScope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	nsID, err := s.namespaceID(ctx, scope)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, nsID)
	for _, id := range ids {
		args = append(args, id)
	}
	ph := placeholders(len(ids))

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM edges WHERE namespace_id = ? AND from_chunk IN (%s)`, ph),
		args...); err != nil {
		return fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM nodes WHERE namespace_id = ? AND chunk_id IN (%s)`, ph),
		args...); err != nil {
		return fmt.Errorf("failed to delete nodes: %w", err)
	}

	return tx.Commit()
}

// Search matches nodes by symbol name or file path. Exact name matches
// rank above prefix matches, which rank above substring matches.
func (s *SQLiteGraphStore) Search(ctx context.Context, scope ProjectScope, query string, opts GraphSearchOptions) ([]types.SearchResult, error) {
	nsID, err := s.namespaceID(ctx, scope)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	sqlQuery := `
		SELECT chunk_id, kind, name, file_path, start_line, end_line, content,
		       CASE
		           WHEN name = ? THEN 1.0
		           WHEN name LIKE ? THEN 0.8
		           ELSE 0.5
		       END AS score
		FROM nodes
		WHERE namespace_id = ? AND (name LIKE ? OR file_path LIKE ?)
	`
	pattern := "%" + query + "%"
	args := []interface{}{query, query + "%", nsID, pattern, pattern}

	if len(opts.Kinds) > 0 {
		sqlQuery += fmt.Sprintf(" AND kind IN (%s)", placeholders(len(opts.Kinds)))
		for _, k := range opts.Kinds {
			args = append(args, k)
		}
	}
	sqlQuery += " ORDER BY score DESC, name LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute graph search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var kind, name string
		if err := rows.Scan(&r.ChunkID, &kind, &name, &r.FilePath,
			&r.StartLine, &r.EndLine, &r.Content, &r.Score); err != nil {
			return nil, err
		}
		r.Metadata = map[string]string{"kind": kind, "name": name}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Neighbors returns the targets related to a chunk, e.g. its file and
// imports.
func (s *SQLiteGraphStore) Neighbors(ctx context.Context, scope ProjectScope, chunkID string) (map[string][]string, error) {
	nsID, err := s.namespaceID(ctx, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT relation, target FROM edges WHERE namespace_id = ? AND from_chunk = ?`,
		nsID, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	neighbors := make(map[string][]string)
	for rows.Next() {
		var relation, target string
		if err := rows.Scan(&relation, &target); err != nil {
			return nil, err
		}
		neighbors[relation] = append(neighbors[relation], target)
	}
	return neighbors, rows.Err()
}

// DropProjectScope removes the namespace and, via cascade, its nodes and
// edges.
func (s *SQLiteGraphStore) DropProjectScope(ctx context.Context, scope ProjectScope) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM namespaces WHERE project_id = ?`, scope.ProjectID); err != nil {
		return fmt.Errorf("failed to drop namespace: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteGraphStore) Close() error {
	return s.db.Close()
}
