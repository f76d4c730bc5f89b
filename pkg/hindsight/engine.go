package hindsight

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/embedded-minds/hindsight/pkg/core"
	"github.com/embedded-minds/hindsight/pkg/graph"
	lru "github.com/hashicorp/golang-lru/v2"
)

// dbExecutor is satisfied by both *sql.DB and *sql.Tx, letting write helpers
// run either standalone or inside a caller-managed transaction without two
// copies of every query.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// memoryCollection is the fixed vector-store collection every bank's
// memories live in; banks are partitioned by bank_id inside hs_memories, not
// by separate collections, since the kernel's collection model is coarser
// than a bank.
const memoryCollection = "hindsight_memories"

// Engine is the entry point: New opens (or creates) a database at
// Config.DBPath, wires the storage kernel and graph substrate on top of it,
// and adds the hindsight-specific schema. Engine is safe for concurrent use.
type Engine struct {
	store *core.SQLiteStore
	graph *graph.GraphStore

	cfg Config

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup // tracks fire-and-forget background tasks

	embedCache   *lru.Cache[string, []float32]
	entityCache  *lru.Cache[string, []*Entity]
	bankCache    *lru.Cache[string, *Bank]
}

// New opens an Engine backed by the SQLite file at cfg.DBPath.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	if cfg.DBPath == "" {
		return nil, wrapErr("new", fmt.Errorf("db path cannot be empty"))
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = 1536
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger()
	}
	if cfg.MaxConcurrentGists <= 0 {
		cfg.MaxConcurrentGists = 3
	}
	if cfg.Defaults.ReinforceThreshold == 0 {
		cfg.Defaults.ReinforceThreshold = 0.92
	}
	if cfg.Defaults.ReconsolidateThreshold == 0 {
		cfg.Defaults.ReconsolidateThreshold = 0.75
	}
	if cfg.Defaults.TemporalWindowMs == 0 {
		cfg.Defaults.TemporalWindowMs = 24 * 60 * 60 * 1000
	}
	if cfg.Defaults.EpisodeGapMs == 0 {
		cfg.Defaults.EpisodeGapMs = 45 * 60 * 1000
	}
	if len(cfg.Defaults.EpisodeBoundaryPhrases) == 0 {
		cfg.Defaults.EpisodeBoundaryPhrases = defaultEpisodeBoundaryPhrases
	}

	storeCfg := core.DefaultConfig()
	storeCfg.Path = cfg.DBPath
	storeCfg.VectorDim = cfg.EmbeddingDimensions
	storeCfg.Logger = cfg.Logger
	storeCfg.HNSW.Enabled = true

	store, err := core.NewWithConfig(storeCfg)
	if err != nil {
		return nil, wrapErr("new", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, wrapErr("new", err)
	}
	if _, err := store.CreateCollection(ctx, memoryCollection, cfg.EmbeddingDimensions); err != nil {
		// Collection may already exist across process restarts against the
		// same database file; only a real failure should abort startup.
		if _, getErr := store.GetCollection(ctx, memoryCollection); getErr != nil {
			store.Close()
			return nil, wrapErr("new", err)
		}
	}

	if err := createSchema(ctx, store.GetDB()); err != nil {
		store.Close()
		return nil, wrapErr("new", err)
	}

	gs := graph.NewGraphStore(store)
	if err := gs.InitGraphSchema(ctx); err != nil {
		store.Close()
		return nil, wrapErr("new", err)
	}

	embedCache, _ := lru.New[string, []float32](2048)
	entityCache, _ := lru.New[string, []*Entity](512)
	bankCache, _ := lru.New[string, *Bank](64)

	return &Engine{
		store:       store,
		graph:       gs,
		cfg:         cfg,
		embedCache:  embedCache,
		entityCache: entityCache,
		bankCache:   bankCache,
	}, nil
}

// Close waits for in-flight background tasks (gist upgrades, consolidation
// triggers) to finish, then closes the underlying store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
	return e.store.Close()
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// background runs fn on its own goroutine, tracked so Close can wait for it.
// Panics inside fn are not recovered: a crashing background task should
// surface the same way a crashing foreground one would.
func (e *Engine) background(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.cfg.Embed == nil {
		return nil, ErrNoEmbedder
	}
	if v, ok := e.embedCache.Get(text); ok {
		return v, nil
	}
	v, err := embedWithRetry(ctx, e.cfg.Embed, text)
	if err != nil {
		return nil, err
	}
	if len(v) != e.cfg.EmbeddingDimensions {
		return nil, ErrDimensionMismatch
	}
	e.embedCache.Add(text, v)
	return v, nil
}

func (e *Engine) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cfg.EmbedBatch != nil {
		vecs, err := embedBatchWithRetry(ctx, e.cfg.EmbedBatch, texts)
		if err != nil {
			return nil, err
		}
		for i, t := range texts {
			if i < len(vecs) {
				e.embedCache.Add(t, vecs[i])
			}
		}
		return vecs, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
