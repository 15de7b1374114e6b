package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/docmind/internal/docmind/metrics"
	"github.com/kart-io/docmind/internal/docmind/store"
	"github.com/kart-io/docmind/pkg/infra/tracing"
	"github.com/kart-io/docmind/pkg/llm"
)

// BuilderOption 配置 Builder。
type BuilderOption func(*Builder)

// WithStoreFactory 设置向量存储工厂，默认使用内存存储。
func WithStoreFactory(f store.Factory) BuilderOption {
	return func(b *Builder) {
		b.storeFactory = f
	}
}

// WithEmbedTimeout 设置单次向量化调用的超时时间。
func WithEmbedTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) {
		b.embedTimeout = d
	}
}

// WithBuilderMetrics 设置指标收集器。
func WithBuilderMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *Builder) {
		b.metrics = m
	}
}

// Builder 按文件列表构建知识库，并在进程内缓存结果。
//
// 缓存键由有序的文件路径列表决定，顺序不同视为不同的知识库。
// 读取、检查、构建、写入整个过程在 buildMu 内完成，同一组文件不会被并发重复构建；
// 缓存表由 mu 单独保护，Lookup、Len 与移除操作不需要等待进行中的构建。
//
// 通过 Acquire 取得的知识库带有引用计数，被移出缓存后在最后一个引用 Release 时才关闭。
type Builder struct {
	loader       *Loader
	chunker      *Chunker
	embedder     llm.EmbeddingProvider
	storeFactory store.Factory
	embedTimeout time.Duration
	metrics      *metrics.Metrics

	buildMu sync.Mutex
	mu      sync.Mutex
	stores  map[string]*KnowledgeStore
	builds  atomic.Int64
}

// NewBuilder 创建知识库构建器。
func NewBuilder(loader *Loader, chunker *Chunker, embedder llm.EmbeddingProvider, opts ...BuilderOption) *Builder {
	b := &Builder{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		stores:   make(map[string]*KnowledgeStore),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.storeFactory == nil {
		b.storeFactory = store.MemoryFactory()
	}
	return b
}

// CacheKey 返回有序路径列表的缓存键。
func CacheKey(paths []string) string {
	sum := sha256.Sum256([]byte(strings.Join(paths, "\x00")))
	return hex.EncodeToString(sum[:])
}

// GetOrBuild 返回 paths 对应的知识库，命中缓存时返回同一个实例且不访问磁盘和向量化服务。
//
// 单个文件加载失败只跳过该文件；全部失败时返回 ErrEmptyIndex，原因中包含每个文件的错误。
// 向量化失败直接返回，不写入缓存。
func (b *Builder) GetOrBuild(ctx context.Context, paths []string) (*KnowledgeStore, error) {
	return b.getOrBuild(ctx, paths, false)
}

// Acquire 与 GetOrBuild 相同，同时为返回的知识库增加一个引用，使用完毕后必须调用 Release。
// 引用在返回前登记，并发的移除不会关闭刚取得的知识库。
func (b *Builder) Acquire(ctx context.Context, paths []string) (*KnowledgeStore, error) {
	return b.getOrBuild(ctx, paths, true)
}

func (b *Builder) getOrBuild(ctx context.Context, paths []string, acquire bool) (*KnowledgeStore, error) {
	if len(paths) == 0 {
		return nil, ErrNoDocuments
	}
	key := CacheKey(paths)

	b.buildMu.Lock()
	defer b.buildMu.Unlock()

	b.mu.Lock()
	if ks, ok := b.stores[key]; ok {
		defer b.mu.Unlock()
		if !slices.Equal(ks.FilePaths, paths) {
			return nil, ErrCacheKeyCollision.WithMessagef("cache key %s maps to a different file list", key[:12])
		}
		if acquire {
			ks.refs++
		}
		logger.Debugw("knowledge store cache hit", "key", key[:12], "files", len(paths))
		b.metrics.ObserveCacheHit()
		return ks, nil
	}
	b.mu.Unlock()

	start := time.Now()
	ks, chunks, failures, err := b.build(ctx, key, paths)
	b.metrics.ObserveBuild(time.Since(start), chunks, failures, err)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if acquire {
		ks.refs++
	}
	b.stores[key] = ks
	b.metrics.SetCachedKnowledges(len(b.stores))
	b.mu.Unlock()
	b.builds.Add(1)

	logger.Infow("knowledge store built",
		"key", key[:12],
		"files", len(paths),
		"failed", len(ks.Failures),
		"chunks", chunks,
		"backend", ks.Index.Backend(),
		"duration", time.Since(start).String(),
	)
	return ks, nil
}

func (b *Builder) build(ctx context.Context, key string, paths []string) (_ *KnowledgeStore, chunkCount, failureCount int, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "docmind.knowledge.build")
	defer func() {
		tracing.AddSpanAttributes(ctx,
			tracing.String("docmind.knowledge.key", key[:12]),
			tracing.Int("docmind.knowledge.files", len(paths)),
			tracing.Int("docmind.knowledge.chunks", chunkCount),
			tracing.Int("docmind.knowledge.failures", failureCount),
		)
		tracing.RecordError(ctx, err)
		span.End()
	}()

	segments, failures := b.loader.LoadAll(ctx, paths)
	if err := ctx.Err(); err != nil {
		return nil, 0, len(failures), err
	}

	chunks := b.chunker.Split(segments)
	if len(chunks) == 0 {
		errs := make([]error, len(failures))
		for i, f := range failures {
			errs[i] = f.Err
		}
		return nil, 0, len(failures), ErrEmptyIndex.
			WithMessagef("no content could be loaded from %d file(s)", len(paths)).
			WithCause(utilerrors.NewAggregate(errs))
	}

	idx, err := BuildIndex(ctx, b.embedder, chunks, IndexConfig{
		Key:          key,
		StoreFactory: b.storeFactory,
		EmbedTimeout: b.embedTimeout,
	})
	if err != nil {
		return nil, len(chunks), len(failures), err
	}

	return &KnowledgeStore{
		Key:       key,
		FilePaths: slices.Clone(paths),
		Index:     idx,
		Failures:  failures,
		BuiltAt:   time.Now(),
	}, len(chunks), len(failures), nil
}

// Lookup 返回已缓存的知识库。
func (b *Builder) Lookup(paths []string) (*KnowledgeStore, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks, ok := b.stores[CacheKey(paths)]
	return ks, ok
}

// Evict 从缓存中移除 paths 对应的知识库，返回是否存在。
// 没有引用时立即释放存储，否则在最后一个引用 Release 时释放。
func (b *Builder) Evict(ctx context.Context, paths []string) bool {
	return b.EvictKey(ctx, CacheKey(paths))
}

// EvictKey 按缓存键移除知识库，释放规则与 Evict 相同。
func (b *Builder) EvictKey(ctx context.Context, key string) bool {
	b.mu.Lock()
	ks, ok := b.stores[key]
	closeNow := false
	if ok {
		b.detachLocked(ks)
		closeNow = ks.refs == 0
	}
	b.mu.Unlock()

	if closeNow {
		closeStore(ctx, ks)
	}
	return ok
}

// Release 归还 Acquire 取得的引用。evict 为 true 时同时把该知识库移出缓存。
// 已移出缓存的知识库在最后一个引用归还时释放存储。
func (b *Builder) Release(ctx context.Context, ks *KnowledgeStore, evict bool) {
	if ks == nil {
		return
	}

	b.mu.Lock()
	if ks.refs > 0 {
		ks.refs--
	}
	if evict && b.stores[ks.Key] == ks {
		b.detachLocked(ks)
	}
	closeNow := ks.detached && ks.refs == 0
	b.mu.Unlock()

	if closeNow {
		closeStore(ctx, ks)
	}
}

func (b *Builder) detachLocked(ks *KnowledgeStore) {
	delete(b.stores, ks.Key)
	ks.detached = true
	b.metrics.SetCachedKnowledges(len(b.stores))
}

// Clear 清空缓存并释放所有缓存中的存储，不考虑引用，用于关闭服务。
func (b *Builder) Clear(ctx context.Context) {
	b.mu.Lock()
	stores := b.stores
	b.stores = make(map[string]*KnowledgeStore)
	for _, ks := range stores {
		ks.detached = true
	}
	b.metrics.SetCachedKnowledges(0)
	b.mu.Unlock()

	for _, ks := range stores {
		closeStore(ctx, ks)
	}
}

// Len 返回缓存中的知识库数量。
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.stores)
}

func (b *Builder) refCount(ks *KnowledgeStore) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ks.refs
}

// Builds 返回完成构建的次数，缓存命中不计数。
func (b *Builder) Builds() int64 {
	return b.builds.Load()
}

func closeStore(ctx context.Context, ks *KnowledgeStore) {
	if err := ks.Index.Close(ctx); err != nil {
		logger.Warnw("failed to close knowledge store", "key", ks.Key[:12], "error", err.Error())
	}
}
