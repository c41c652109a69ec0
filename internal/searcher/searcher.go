package searcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/twinindex/twinindex/internal/embedder"
	"github.com/twinindex/twinindex/internal/storage"
	"github.com/twinindex/twinindex/pkg/types"
)

// SearchMode defines how search is performed.
type SearchMode string

const (
	SearchModeHybrid SearchMode = "hybrid" // Vector + graph with RRF
	SearchModeVector SearchMode = "vector" // Vector similarity only
	SearchModeGraph  SearchMode = "graph"  // Structural graph lookup only
)

// Defaults applied by validateRequest.
const (
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultRRFConstant = 60
	DefaultCacheTTL    = time.Hour
	cacheSize          = 1000
)

// SearchRequest contains parameters for a search operation.
type SearchRequest struct {
	Query       string
	ProjectID   string
	Limit       int
	Mode        SearchMode
	MinScore    float64
	FilePattern string   // LIKE pattern on file path, empty for all files
	Kinds       []string // Graph node kinds to include, empty for all
	UseCache    bool
	CacheTTL    time.Duration
	RRFConstant float64 // k value for Reciprocal Rank Fusion (default 60)
}

// SearchResponse contains search results and metadata.
type SearchResponse struct {
	Results       []types.SearchResult
	TotalResults  int
	SearchMode    SearchMode
	Duration      time.Duration
	CacheHit      bool
	VectorResults int
	GraphResults  int
}

// cacheEntry is a cached response with its expiration time.
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher coordinates read-path queries across both stores.
type Searcher struct {
	coord    *storage.Coordinator
	embedder embedder.Embedder
	cache    *lru.Cache[[32]byte, *cacheEntry]
	cacheMu  sync.RWMutex
}

// New creates a Searcher.
func New(coord *storage.Coordinator, emb embedder.Embedder) *Searcher {
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Searcher{
		coord:    coord,
		embedder: emb,
		cache:    cache,
	}
}

// Search performs a search based on the request parameters.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	started := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	if req.UseCache {
		if cached := s.checkCache(req); cached != nil {
			cached.CacheHit = true
			cached.Duration = time.Since(started)
			return cached, nil
		}
	}

	var response *SearchResponse
	var err error
	switch req.Mode {
	case SearchModeHybrid:
		response, err = s.hybridSearch(ctx, req)
	case SearchModeVector:
		response, err = s.vectorSearch(ctx, req)
	case SearchModeGraph:
		response, err = s.graphSearch(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported search mode: %s", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	response.Duration = time.Since(started)
	response.SearchMode = req.Mode

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(req, response)
	}
	return response, nil
}

// partial holds one leg's results during a hybrid search.
type partial struct {
	results []types.SearchResult
	err     error
}

// hybridSearch runs both legs concurrently and fuses the rankings with
// Reciprocal Rank Fusion. One leg may fail; both failing is an error.
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vectorChan := make(chan partial, 1)
	graphChan := make(chan partial, 1)

	go func() {
		var p partial
		p.results, p.err = s.runVectorLeg(ctx, req, req.Limit*2)
		vectorChan <- p
	}()
	go func() {
		var p partial
		p.results, p.err = s.coord.SearchGraph(ctx, req.Query, storage.GraphSearchOptions{
			ProjectID: req.ProjectID,
			Limit:     req.Limit * 2,
			Kinds:     req.Kinds,
		})
		graphChan <- p
	}()

	var vectorRes, graphRes partial
	var vectorDone, graphDone bool
	for !vectorDone || !graphDone {
		select {
		case vectorRes = <-vectorChan:
			vectorDone = true
		case graphRes = <-graphChan:
			graphDone = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if vectorRes.err != nil && graphRes.err != nil {
		return nil, fmt.Errorf("both search legs failed: vector=%w, graph=%v", vectorRes.err, graphRes.err)
	}

	fused := applyRRF(vectorRes.results, graphRes.results, req.RRFConstant)
	if len(fused) > req.Limit {
		fused = fused[:req.Limit]
	}
	return &SearchResponse{
		Results:       fused,
		TotalResults:  len(fused),
		VectorResults: len(vectorRes.results),
		GraphResults:  len(graphRes.results),
	}, nil
}

func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, err := s.runVectorLeg(ctx, req, req.Limit)
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Results:       results,
		TotalResults:  len(results),
		VectorResults: len(results),
	}, nil
}

func (s *Searcher) graphSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	results, err := s.coord.SearchGraph(ctx, req.Query, storage.GraphSearchOptions{
		ProjectID: req.ProjectID,
		Limit:     req.Limit,
		Kinds:     req.Kinds,
	})
	if err != nil {
		return nil, err
	}
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		GraphResults: len(results),
	}, nil
}

// runVectorLeg embeds the query and runs a similarity search.
func (s *Searcher) runVectorLeg(ctx context.Context, req SearchRequest, limit int) ([]types.SearchResult, error) {
	emb, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.coord.SearchVectors(ctx, emb.Vector, storage.SearchOptions{
		ProjectID:   req.ProjectID,
		Limit:       limit,
		MinScore:    req.MinScore,
		FilePattern: req.FilePattern,
	})
}

// applyRRF fuses two rankings: RRF(d) = sum over legs of 1/(k + rank(d)).
func applyRRF(vectorResults, graphResults []types.SearchResult, k float64) []types.SearchResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	scores := make(map[string]float64)
	byID := make(map[string]types.SearchResult)

	for rank, r := range vectorResults {
		scores[r.ChunkID] += 1.0 / (k + float64(rank+1))
		if _, ok := byID[r.ChunkID]; !ok {
			byID[r.ChunkID] = r
		}
	}
	for rank, r := range graphResults {
		scores[r.ChunkID] += 1.0 / (k + float64(rank+1))
		if _, ok := byID[r.ChunkID]; !ok {
			byID[r.ChunkID] = r
		}
	}

	fused := make([]types.SearchResult, 0, len(scores))
	for id, score := range scores {
		r := byID[id]
		r.Score = score
		fused = append(fused, r)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	return fused
}

// validateRequest normalizes the request in place.
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if req.ProjectID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Mode == "" {
		req.Mode = SearchModeHybrid
	}
	if req.RRFConstant == 0 {
		req.RRFConstant = DefaultRRFConstant
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

func (s *Searcher) checkCache(req SearchRequest) *SearchResponse {
	hash := computeQueryHash(req)

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		s.cacheMu.RUnlock()
		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil
	}
	response := copyResponse(entry.response)
	s.cacheMu.RUnlock()
	return response
}

func (s *Searcher) storeInCache(req SearchRequest, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copyResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}
	s.cacheMu.Lock()
	s.cache.Add(computeQueryHash(req), entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops all cached queries. Called after re-indexing; a
// per-project sweep would need key filtering the LRU does not support.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// copyResponse deep-copies a response so cached entries are never
// aliased by callers.
func copyResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := &SearchResponse{
		TotalResults:  src.TotalResults,
		SearchMode:    src.SearchMode,
		Duration:      src.Duration,
		CacheHit:      src.CacheHit,
		VectorResults: src.VectorResults,
		GraphResults:  src.GraphResults,
		Results:       make([]types.SearchResult, len(src.Results)),
	}
	for i, r := range src.Results {
		dst.Results[i] = r
		if r.Metadata != nil {
			meta := make(map[string]string, len(r.Metadata))
			for k, v := range r.Metadata {
				meta[k] = v
			}
			dst.Results[i].Metadata = meta
		}
	}
	return dst
}

// computeQueryHash derives a stable cache key from the request fields
// that affect results.
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(req.ProjectID)
	data.WriteString("|")
	data.WriteString(string(req.Mode))
	data.WriteString("|")
	fmt.Fprintf(&data, "%d|%.4f|%s|%s", req.Limit, req.MinScore, req.FilePattern, strings.Join(req.Kinds, ","))
	return sha256.Sum256([]byte(data.String()))
}
