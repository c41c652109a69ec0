package integration

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/twinindex/twinindex/internal/batch"
	"github.com/twinindex/twinindex/internal/embedder"
	"github.com/twinindex/twinindex/internal/indexer"
	"github.com/twinindex/twinindex/internal/memguard"
	"github.com/twinindex/twinindex/internal/searcher"
	"github.com/twinindex/twinindex/internal/storage"
	"github.com/twinindex/twinindex/internal/txn"
	"github.com/twinindex/twinindex/internal/watcher"
)

// EngineTestSuite exercises the full write path end to end: parse,
// embed, coordinated dual-store write, incremental updates, and search.
type EngineTestSuite struct {
	suite.Suite
	ctx      context.Context
	coord    *storage.Coordinator
	txns     *txn.Coordinator
	idx      *indexer.Indexer
	search   *searcher.Searcher
	project  string // project root on disk
	pid      string // project ID
	shutdown []func()
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	dataDir := s.T().TempDir()
	vectors, err := storage.NewSQLiteVectorStore(filepath.Join(dataDir, "vector.db"))
	s.Require().NoError(err)
	graphs, err := storage.NewSQLiteGraphStore(filepath.Join(dataDir, "graph.db"))
	s.Require().NoError(err)

	s.txns = txn.NewCoordinator(txn.Config{}, logger)
	s.coord = storage.NewCoordinator(vectors, graphs, s.txns, logger)
	s.shutdown = append(s.shutdown, func() { _ = s.coord.Close() })

	emb := embedder.NewMockEmbedder(128)
	exec := batch.NewExecutor(
		batch.NewSizer(batch.SizerConfig{}, logger),
		memguard.New(memguard.Config{}, logger),
		logger,
	)
	s.idx = indexer.New(s.coord, emb, exec, logger)
	s.search = searcher.New(s.coord, emb)

	s.project = s.T().TempDir()
	s.pid = "it-project"
	s.writeFile("calc/calc.go", `package calc

// Add sums two ints.
func Add(a, b int) int {
	return a + b
}

// Mul multiplies two ints.
func Mul(a, b int) int {
	return a * b
}
`)
	s.writeFile("main.go", `package main

import "fmt"

func main() {
	fmt.Println("calc demo")
}
`)
}

func (s *EngineTestSuite) TearDownTest() {
	for _, fn := range s.shutdown {
		fn()
	}
	s.shutdown = nil
}

func (s *EngineTestSuite) writeFile(name, content string) {
	path := filepath.Join(s.project, name)
	s.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
}

func (s *EngineTestSuite) index() *indexer.Stats {
	stats, err := s.idx.IndexProject(s.ctx, s.project, s.pid, nil)
	s.Require().NoError(err)
	return stats
}

func (s *EngineTestSuite) TestBulkIndexAndSearch() {
	stats := s.index()
	s.Equal(2, stats.FilesParsed)
	s.Equal(3, stats.ChunksStored)
	s.Equal(stats.ChunksStored, stats.ChunksEmbedded)

	// Structural search finds the symbol by name.
	resp, err := s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Add", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.Require().NotEmpty(resp.Results)
	s.Equal("calc/calc.go", resp.Results[0].FilePath)

	// Vector search returns ranked hits for a semantic query.
	resp, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "multiply two numbers", ProjectID: s.pid, Mode: searcher.SearchModeVector,
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Results)

	// Hybrid fuses both legs.
	resp, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Add", ProjectID: s.pid, Mode: searcher.SearchModeHybrid,
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Results)
}

func (s *EngineTestSuite) TestReindexIsIdempotent() {
	first := s.index()
	second := s.index()

	s.Equal(first.ChunksStored, second.ChunksStored)

	// Unchanged content produces identical chunk IDs, so re-storing
	// replaces rather than duplicates.
	res, err := s.coord.DeleteProject(s.ctx, s.pid)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal(3, res.ChunksDeleted)
}

func (s *EngineTestSuite) TestDeleteFilesRemovesOnlyTargets() {
	s.index()

	res, err := s.coord.DeleteFiles(s.ctx, []string{"calc/calc.go"}, s.pid)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Equal(2, res.ChunksDeleted)

	resp, err := s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "main", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Results)

	resp, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Add", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.Empty(resp.Results)
}

func (s *EngineTestSuite) TestWatcherDrivesIncrementalUpdates() {
	s.index()

	w, err := watcher.New(s.project, nil)
	s.Require().NoError(err)

	pipeline := indexer.NewPipeline(s.idx, indexer.PipelineConfig{
		DebounceWindow: 30 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(s.ctx)
	consumeDone := make(chan struct{})
	go func() {
		defer close(consumeDone)
		pipeline.Consume(ctx, s.pid, w.Events())
	}()
	defer func() {
		cancel()
		_ = w.Close()
		<-consumeDone
		pipeline.Close()
	}()

	// A new file is picked up, embedded, and searchable.
	s.writeFile("extra.go", `package main

func Extra() int { return 42 }
`)

	s.Require().Eventually(func() bool {
		resp, err := s.search.Search(s.ctx, searcher.SearchRequest{
			Query: "Extra", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
		})
		return err == nil && len(resp.Results) > 0
	}, 10*time.Second, 50*time.Millisecond)

	// Deleting the file removes it from the index.
	s.Require().NoError(os.Remove(filepath.Join(s.project, "extra.go")))

	s.Require().Eventually(func() bool {
		resp, err := s.search.Search(s.ctx, searcher.SearchRequest{
			Query: "Extra", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
		})
		return err == nil && len(resp.Results) == 0
	}, 10*time.Second, 50*time.Millisecond)
}

func (s *EngineTestSuite) TestTransactionHistoryRecordsWrites() {
	s.index()

	history := s.txns.History(20)
	s.Require().NotEmpty(history)
	for _, tx := range history {
		s.Equal(txn.StatusCompleted, tx.Status)
	}
	s.Empty(s.txns.Active())
}

func (s *EngineTestSuite) TestMultiTenantIsolation() {
	s.index()

	otherRoot := s.T().TempDir()
	otherSrc := filepath.Join(otherRoot, "other.go")
	s.Require().NoError(os.WriteFile(otherSrc, []byte("package other\n\nfunc Other() {}\n"), 0o644))

	_, err := s.idx.IndexProject(s.ctx, otherRoot, "other-project", nil)
	s.Require().NoError(err)

	// Each tenant only sees its own symbols.
	resp, err := s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Other", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.Empty(resp.Results)

	resp, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Other", ProjectID: "other-project", Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Results)

	// Dropping one tenant leaves the other intact.
	res, err := s.coord.DeleteProject(s.ctx, "other-project")
	s.Require().NoError(err)
	s.True(res.Success)

	resp, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "Add", ProjectID: s.pid, Mode: searcher.SearchModeGraph,
	})
	s.Require().NoError(err)
	s.NotEmpty(resp.Results)
}

func (s *EngineTestSuite) TestSearchOnEmptyProject() {
	res, err := s.coord.Store(s.ctx, nil, s.pid)
	s.Require().NoError(err)
	s.True(res.Success)
	s.Zero(res.ChunksStored)

	_, err = s.search.Search(s.ctx, searcher.SearchRequest{
		Query: "anything", ProjectID: s.pid, Mode: searcher.SearchModeVector,
	})
	s.Require().NoError(err)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
