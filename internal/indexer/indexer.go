package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/twinindex/twinindex/internal/batch"
	"github.com/twinindex/twinindex/internal/embedder"
	"github.com/twinindex/twinindex/internal/parser"
	"github.com/twinindex/twinindex/internal/storage"
	"github.com/twinindex/twinindex/pkg/types"
)

// ErrIndexInProgress is returned when a bulk index is requested for a
// project that is already being indexed.
var ErrIndexInProgress = errors.New("indexing already in progress for project")

// indexableExts lists file extensions worth chunking and embedding.
var indexableExts = map[string]bool{
	".go":   true,
	".ts":   true,
	".tsx":  true,
	".js":   true,
	".jsx":  true,
	".py":   true,
	".rs":   true,
	".java": true,
	".md":   true,
}

// Config contains configuration for a bulk indexing run.
type Config struct {
	Workers       int  // Concurrent parse workers (default: runtime.NumCPU())
	BatchSize     int  // Explicit storage batch size; 0 lets the sizer choose
	IncludeTests  bool // Whether to index _test.go files (default: true)
	IncludeVendor bool // Whether to index vendor directories (default: false)
}

// Stats summarizes one bulk indexing run.
type Stats struct {
	FilesDiscovered int
	FilesParsed     int
	FilesFailed     int
	ChunksEmbedded  int
	ChunksStored    int
	Duration        time.Duration
	Errors          []string
}

// Indexer runs the parse -> embed -> store pipeline against the
// storage coordinator.
type Indexer struct {
	coord    *storage.Coordinator
	embedder embedder.Embedder
	exec     *batch.Executor
	logger   *slog.Logger
	locks    *lockRegistry

	mu    sync.Mutex
	roots map[string]string // projectID -> project root
}

// New creates an indexer.
func New(coord *storage.Coordinator, emb embedder.Embedder, exec *batch.Executor, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		coord:    coord,
		embedder: emb,
		exec:     exec,
		logger:   logger.With("component", "indexer"),
		locks:    newLockRegistry(),
		roots:    make(map[string]string),
	}
}

// RegisterProject associates a project ID with its root directory so
// incremental updates can resolve relative paths.
func (idx *Indexer) RegisterProject(projectID, rootPath string) {
	idx.mu.Lock()
	idx.roots[projectID] = rootPath
	idx.mu.Unlock()
}

// ProjectRoot returns the registered root for a project.
func (idx *Indexer) ProjectRoot(projectID string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	root, ok := idx.roots[projectID]
	return root, ok
}

// IndexProject discovers, parses, embeds, and stores every indexable
// file under rootPath. At most one bulk run per project is allowed at a
// time; a concurrent request fails with ErrIndexInProgress.
func (idx *Indexer) IndexProject(ctx context.Context, rootPath, projectID string, cfg *Config) (*Stats, error) {
	if cfg == nil {
		cfg = &Config{IncludeTests: true}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	lock := idx.locks.get(projectID)
	if !lock.TryAcquire() {
		return nil, fmt.Errorf("%w: %s", ErrIndexInProgress, projectID)
	}
	defer lock.Release()

	started := time.Now()
	idx.RegisterProject(projectID, rootPath)

	paths, err := discoverFiles(rootPath, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	stats := &Stats{FilesDiscovered: len(paths)}
	files, parseErrs := idx.parseFiles(ctx, rootPath, paths, workers)
	stats.FilesParsed = len(files)
	stats.FilesFailed = len(parseErrs)
	stats.Errors = append(stats.Errors, parseErrs...)

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	embedded, err := idx.embedFiles(ctx, projectID, files)
	stats.ChunksEmbedded = embedded
	if err != nil {
		return stats, fmt.Errorf("failed to embed chunks: %w", err)
	}

	stored, storeErrs, err := idx.storeFiles(ctx, projectID, files, cfg.BatchSize)
	stats.ChunksStored = stored
	stats.Errors = append(stats.Errors, storeErrs...)
	stats.Duration = time.Since(started)
	if err != nil {
		return stats, err
	}

	idx.logger.Info("bulk index complete",
		"project_id", projectID,
		"files", stats.FilesParsed,
		"chunks", stats.ChunksStored,
		"duration", stats.Duration)
	return stats, nil
}

// parseFiles parses paths concurrently with a bounded worker pool.
// Unparseable files are reported as errors but do not abort the run.
func (idx *Indexer) parseFiles(ctx context.Context, rootPath string, paths []string, workers int) ([]types.CodeFile, []string) {
	p := parser.New(rootPath)

	var mu sync.Mutex
	files := make([]types.CodeFile, 0, len(paths))
	var errs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			file, err := p.ParseFile(path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			files = append(files, *file)
			return nil
		})
	}
	_ = g.Wait()
	return files, errs
}

// embedFiles fills in chunk embeddings in place. Embedding goes through
// the batch executor so the memory guard and adaptive sizer apply.
func (idx *Indexer) embedFiles(ctx context.Context, projectID string, files []types.CodeFile) (int, error) {
	var chunks []*types.Chunk
	for i := range files {
		for j := range files[i].Chunks {
			chunks = append(chunks, &files[i].Chunks[j])
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	var embedded atomic.Int64
	opts := batch.Options{
		ProjectID: projectID,
		Kind:      "embed",
		BatchSize: embedder.MaxBatchSize,
	}
	_, err := batch.Run(ctx, idx.exec, opts, chunks, func(ctx context.Context, slice []*types.Chunk) error {
		texts := make([]string, len(slice))
		for i, c := range slice {
			texts[i] = c.Content
		}
		embeddings, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		for i, emb := range embeddings {
			if i < len(slice) && emb != nil {
				slice[i].Embedding = emb.Vector
				embedded.Add(1)
			}
		}
		return nil
	})
	return int(embedded.Load()), err
}

// storeFiles writes files through the storage coordinator in batches.
// Each slice is one coordinated dual-store transaction.
func (idx *Indexer) storeFiles(ctx context.Context, projectID string, files []types.CodeFile, batchSize int) (int, []string, error) {
	if len(files) == 0 {
		return 0, nil, nil
	}

	var stored atomic.Int64
	opts := batch.Options{
		ProjectID:       projectID,
		Kind:            "store",
		BatchSize:       batchSize,
		ContinueOnError: true,
	}
	metrics, err := batch.Run(ctx, idx.exec, opts, files, func(ctx context.Context, slice []types.CodeFile) error {
		res, err := idx.coord.Store(ctx, slice, projectID)
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("store rejected: %s", strings.Join(res.Errors, "; "))
		}
		stored.Add(int64(res.ChunksStored))
		return nil
	})

	var errs []string
	if metrics != nil {
		errs = metrics.Errors
	}
	return int(stored.Load()), errs, err
}

// DeletePaths removes the given files from both stores.
func (idx *Indexer) DeletePaths(ctx context.Context, projectID string, paths []string) error {
	res, err := idx.coord.DeleteFiles(ctx, paths, projectID)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("failed to delete files: %s", strings.Join(res.Errors, "; "))
	}
	return nil
}

// UpsertPaths re-parses, re-embeds, and re-stores the given files. Paths
// are relative to the project's registered root.
func (idx *Indexer) UpsertPaths(ctx context.Context, projectID string, paths []string) error {
	root, ok := idx.ProjectRoot(projectID)
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrProjectNotFound, projectID)
	}

	p := parser.New(root)
	files, err := p.ParseFiles(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to parse changed files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	if _, err := idx.embedFiles(ctx, projectID, files); err != nil {
		return fmt.Errorf("failed to embed changed files: %w", err)
	}

	res, err := idx.coord.Store(ctx, files, projectID)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("failed to store changed files: %s", strings.Join(res.Errors, "; "))
	}
	return nil
}

// discoverFiles walks rootPath collecting indexable files as paths
// relative to the root.
func discoverFiles(rootPath string, cfg *Config) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == rootPath {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules" {
				return filepath.SkipDir
			}
			if !cfg.IncludeVendor && d.Name() == "vendor" {
				return filepath.SkipDir
			}
			return nil
		}
		if !indexableExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if !cfg.IncludeTests && strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	return paths, err
}
