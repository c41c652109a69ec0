package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/twinindex/twinindex/internal/batch"
	"github.com/twinindex/twinindex/internal/config"
	"github.com/twinindex/twinindex/internal/embedder"
	"github.com/twinindex/twinindex/internal/indexer"
	"github.com/twinindex/twinindex/internal/memguard"
	"github.com/twinindex/twinindex/internal/searcher"
	"github.com/twinindex/twinindex/internal/storage"
	"github.com/twinindex/twinindex/internal/txn"
	"github.com/twinindex/twinindex/internal/watcher"
)

const (
	// ServerName is the MCP server name.
	ServerName = "twinindex"
	// ServerVersion is the current server version.
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp      *server.MCPServer
	coord    *storage.Coordinator
	txns     *txn.Coordinator
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	pipeline *indexer.Pipeline
	logger   *slog.Logger

	mu       sync.Mutex
	watchers map[string]*watchSession // projectID -> active watch
}

// watchSession is one active filesystem watch feeding the pipeline.
type watchSession struct {
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewServer wires the full engine behind an MCP server instance.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	vectors, err := storage.NewSQLiteVectorStore(cfg.VectorDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	graphs, err := storage.NewSQLiteGraphStore(cfg.GraphDBPath())
	if err != nil {
		_ = vectors.Close()
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	txns := txn.NewCoordinator(txn.Config{HistoryLimit: cfg.Storage.HistorySize}, logger)
	coord := storage.NewCoordinator(vectors, graphs, txns, logger)

	emb, err := newEmbedder(cfg)
	if err != nil {
		_ = coord.Close()
		return nil, err
	}

	sizer := batch.NewSizer(batch.SizerConfig{
		DefaultSize:    cfg.Batch.DefaultSize,
		MinSize:        cfg.Batch.MinSize,
		MaxSize:        cfg.Batch.MaxSize,
		GrowthFactor:   cfg.Batch.GrowthFactor,
		GoodThroughput: cfg.Batch.GoodThroughput,
	}, logger)
	guard := memguard.New(memguard.Config{
		ThresholdPercent: cfg.Memory.ThresholdPercent,
		BudgetBytes:      cfg.Memory.BudgetBytes,
	}, logger)
	exec := batch.NewExecutor(sizer, guard, logger)

	idx := indexer.New(coord, emb, exec, logger)
	pipeline := indexer.NewPipeline(idx, indexer.PipelineConfig{
		DebounceWindow: cfg.Pipeline.DebounceWindow,
	}, logger)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		coord:    coord,
		txns:     txns,
		indexer:  idx,
		searcher: searcher.New(coord, emb),
		pipeline: pipeline,
		logger:   logger,
		watchers: make(map[string]*watchSession),
	}
	s.registerTools()
	return s, nil
}

func newEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.Embedder.Provider {
	case "http":
		cache := embedder.NewCache(cfg.Embedder.CacheSize)
		return embedder.NewHTTPProvider(embedder.HTTPConfig{
			BaseURL:   cfg.Embedder.BaseURL,
			Model:     cfg.Embedder.Model,
			Dimension: cfg.Embedder.Dimension,
		}, cache)
	case "mock":
		return embedder.NewMockEmbedder(cfg.Embedder.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Embedder.Provider)
	}
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer s.shutdown()
	return server.ServeStdio(s.mcp)
}

// shutdown stops watches, drains the pipeline, and closes both stores.
func (s *Server) shutdown() {
	s.mu.Lock()
	sessions := make([]*watchSession, 0, len(s.watchers))
	for _, session := range s.watchers {
		sessions = append(sessions, session)
	}
	s.watchers = make(map[string]*watchSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.cancel()
		_ = session.watcher.Close()
		<-session.done
	}

	s.pipeline.Close()
	if err := s.coord.Close(); err != nil {
		s.logger.Error("failed to close stores", "error", err)
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(watchCodebaseTool(), s.handleWatchCodebase)
	s.mcp.AddTool(deleteProjectTool(), s.handleDeleteProject)
}
