package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/twinindex/twinindex/pkg/types"
)

// SQLiteVectorStore implements VectorStore on a dedicated SQLite
// database. It shares no connection and no transaction mechanism with
// the graph store; the saga coordinator is the only thing holding the
// two together.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore opens (or creates) the vector database at dbPath.
func NewSQLiteVectorStore(dbPath string) (*SQLiteVectorStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS collections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT NOT NULL,
			collection_id INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL,
			end_line INTEGER NOT NULL,
			start_byte INTEGER NOT NULL DEFAULT 0,
			end_byte INTEGER NOT NULL DEFAULT 0,
			content TEXT NOT NULL,
			embedding BLOB,
			dimension INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (id, collection_id)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(collection_id, file_path);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector schema: %w", err)
	}

	return &SQLiteVectorStore{db: db}, nil
}

// InitializeProjectScope creates the project's collection if absent.
func (s *SQLiteVectorStore) InitializeProjectScope(ctx context.Context, projectID string) (ProjectScope, error) {
	name := collectionName("vec", projectID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (project_id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(project_id) DO NOTHING`,
		projectID, name, time.Now())
	if err != nil {
		return ProjectScope{}, fmt.Errorf("failed to create collection: %w", err)
	}
	return ProjectScope{ProjectID: projectID, Collection: name}, nil
}

// collectionID resolves the scope's collection row.
func (s *SQLiteVectorStore) collectionID(ctx context.Context, scope ProjectScope) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM collections WHERE project_id = ?`, scope.ProjectID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", types.ErrProjectNotFound, scope.ProjectID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertChunks stores chunks with their embeddings, replacing by ID.
func (s *SQLiteVectorStore) UpsertChunks(ctx context.Context, scope ProjectScope, chunks []types.Chunk) error {
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO chunks
			(id, collection_id, file_path, start_line, end_line, start_byte, end_byte,
			 content, embedding, dimension, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for i := range chunks {
		c := &chunks[i]
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for chunk %s: %w", c.ID, err)
		}
		var embedding []byte
		if len(c.Embedding) > 0 {
			embedding = serializeVector(c.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, collID, c.FilePath, c.StartLine, c.EndLine, c.StartByte, c.EndByte,
			c.Content, embedding, len(c.Embedding), string(meta), now); err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteChunks removes chunks by ID. Missing IDs are not an error, which
// keeps the delete idempotent under at-least-once delivery.
func (s *SQLiteVectorStore) DeleteChunks(ctx context.Context, scope ProjectScope, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM chunks WHERE collection_id = ? AND id IN (%s)`, placeholders(len(ids)))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// GetChunks loads full chunk records by ID.
func (s *SQLiteVectorStore) GetChunks(ctx context.Context, scope ProjectScope, ids []string) ([]types.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, collID)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT id, file_path, start_line, end_line, start_byte, end_byte, content, embedding, metadata
		FROM chunks WHERE collection_id = ? AND id IN (%s)
	`, placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		var embedding []byte
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.FilePath, &c.StartLine, &c.EndLine,
			&c.StartByte, &c.EndByte, &c.Content, &embedding, &meta); err != nil {
			return nil, err
		}
		if len(embedding) > 0 {
			c.Embedding = deserializeVector(embedding)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for chunk %s: %w", c.ID, err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkIDsByFiles resolves the chunk IDs owned by the given files.
func (s *SQLiteVectorStore) ChunkIDsByFiles(ctx context.Context, scope ProjectScope, filePaths []string) ([]string, error) {
	if len(filePaths) == 0 {
		return nil, nil
	}
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, len(filePaths)+1)
	args = append(args, collID)
	for _, p := range filePaths {
		args = append(args, p)
	}
	query := fmt.Sprintf(`SELECT id FROM chunks WHERE collection_id = ? AND file_path IN (%s)`,
		placeholders(len(filePaths)))
	return s.queryIDs(ctx, query, args...)
}

// ChunkIDsByProject resolves every chunk ID in the scope.
func (s *SQLiteVectorStore) ChunkIDsByProject(ctx context.Context, scope ProjectScope) ([]string, error) {
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return nil, err
	}
	return s.queryIDs(ctx, `SELECT id FROM chunks WHERE collection_id = ?`, collID)
}

func (s *SQLiteVectorStore) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chunk ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SearchVectors runs a cosine-similarity query against the scope. With
// the sqlite-vec extension the distance is computed in SQL; otherwise
// candidates are scored in Go.
func (s *SQLiteVectorStore) SearchVectors(ctx context.Context, scope ProjectScope, query []float32, opts SearchOptions) ([]types.SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if VectorExtensionAvailable {
		return s.searchOptimized(ctx, scope, query, opts)
	}
	return s.searchFallback(ctx, scope, query, opts)
}

// searchOptimized pushes distance computation into SQL via sqlite-vec.
// vec_distance_cosine returns distance (lower is better); converted to
// similarity to keep one scoring convention.
func (s *SQLiteVectorStore) searchOptimized(ctx context.Context, scope ProjectScope, query []float32, opts SearchOptions) ([]types.SearchResult, error) {
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return nil, err
	}

	blob := serializeVector(query)
	sqlQuery := `
		SELECT id, file_path, start_line, end_line, content, metadata,
		       1.0 - vec_distance_cosine(embedding, ?) AS similarity
		FROM chunks
		WHERE collection_id = ? AND embedding IS NOT NULL
	`
	args := []interface{}{blob, collID}
	if opts.FilePattern != "" {
		sqlQuery += " AND file_path LIKE ?"
		args = append(args, opts.FilePattern)
	}
	if opts.MinScore > 0 {
		sqlQuery += " AND (1.0 - vec_distance_cosine(embedding, ?)) >= ?"
		args = append(args, blob, opts.MinScore)
	}
	sqlQuery += " ORDER BY similarity DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var meta sql.NullString
		if err := rows.Scan(&r.ChunkID, &r.FilePath, &r.StartLine, &r.EndLine,
			&r.Content, &meta, &r.Score); err != nil {
			return nil, err
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &r.Metadata)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchFallback loads candidate embeddings and scores them in Go.
func (s *SQLiteVectorStore) searchFallback(ctx context.Context, scope ProjectScope, query []float32, opts SearchOptions) ([]types.SearchResult, error) {
	collID, err := s.collectionID(ctx, scope)
	if err != nil {
		return nil, err
	}

	sqlQuery := `
		SELECT id, file_path, start_line, end_line, content, metadata, embedding
		FROM chunks
		WHERE collection_id = ? AND embedding IS NOT NULL
	`
	args := []interface{}{collID}
	if opts.FilePattern != "" {
		sqlQuery += " AND file_path LIKE ?"
		args = append(args, opts.FilePattern)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []types.SearchResult
	for rows.Next() {
		var r types.SearchResult
		var meta sql.NullString
		var embedding []byte
		if err := rows.Scan(&r.ChunkID, &r.FilePath, &r.StartLine, &r.EndLine,
			&r.Content, &meta, &embedding); err != nil {
			return nil, err
		}
		r.Score = cosineSimilarity(query, deserializeVector(embedding))
		if opts.MinScore > 0 && r.Score < opts.MinScore {
			continue
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &r.Metadata)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// DropProjectScope removes the collection and, via cascade, its chunks.
func (s *SQLiteVectorStore) DropProjectScope(ctx context.Context, scope ProjectScope) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM collections WHERE project_id = ?`, scope.ProjectID); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteVectorStore) Close() error {
	return s.db.Close()
}
