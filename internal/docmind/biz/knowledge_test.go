package biz

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docmind/internal/docmind/metrics"
)

func newTestBuilder(t *testing.T, emb *countingEmbedder, opts ...BuilderOption) *Builder {
	t.Helper()
	return NewBuilder(NewLoader(nil), mustChunker(t, 1000, 200, "\n"), emb, opts...)
}

func TestCacheKeyIsOrderSensitive(t *testing.T) {
	a := CacheKey([]string{"/a.txt", "/b.txt"})
	assert.Equal(t, a, CacheKey([]string{"/a.txt", "/b.txt"}))
	assert.NotEqual(t, a, CacheKey([]string{"/b.txt", "/a.txt"}))
}

func TestGetOrBuildIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "sky.txt", "The sky is blue."),
		writeFile(t, dir, "grass.txt", "Grass is green."),
	}
	emb := newCountingEmbedder(t)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := newTestBuilder(t, emb, WithBuilderMetrics(m))

	first, err := b.GetOrBuild(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Builds())
	embedCalls := emb.calls.Load()

	// 第二次调用不访问磁盘
	require.NoError(t, os.Remove(paths[0]))

	second, err := b.GetOrBuild(context.Background(), paths)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), b.Builds())
	assert.Equal(t, embedCalls, emb.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KnowledgeCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CachedKnowledges))

	assert.Equal(t, []string{"sky.txt", "grass.txt"}, first.FileNames())
	assert.Equal(t, 2, first.Index.Len())
}

func TestGetOrBuildOrderMatters(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.txt", "alpha")
	c := writeFile(t, dir, "c.txt", "gamma")
	b := newTestBuilder(t, newCountingEmbedder(t))

	ks1, err := b.GetOrBuild(context.Background(), []string{a, c})
	require.NoError(t, err)
	ks2, err := b.GetOrBuild(context.Background(), []string{c, a})
	require.NoError(t, err)

	assert.NotSame(t, ks1, ks2)
	assert.Equal(t, int64(2), b.Builds())
	assert.Equal(t, 2, b.Len())
}

func TestGetOrBuildPartialFailure(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.txt", "")
	valid := writeFile(t, dir, "valid.txt", "The sky is blue.\nClouds are white.")
	b := newTestBuilder(t, newCountingEmbedder(t))

	ks, err := b.GetOrBuild(context.Background(), []string{empty, valid})
	require.NoError(t, err)
	require.Len(t, ks.Failures, 1)
	assert.Equal(t, empty, ks.Failures[0].Path)
	assert.ErrorIs(t, ks.Failures[0].Err, ErrLoad)

	for _, q := range []string{"sky", "empty", "anything at all"} {
		got, err := ks.Index.Query(context.Background(), q, 4)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		for _, c := range got {
			assert.Equal(t, valid, c.Metadata.SourcePath)
		}
	}
}

func TestGetOrBuildAllFail(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writeFile(t, dir, "empty.txt", ""),
		filepath.Join(dir, "missing.md"),
	}
	emb := newCountingEmbedder(t)
	b := newTestBuilder(t, emb)

	ks, err := b.GetOrBuild(context.Background(), paths)
	assert.Nil(t, ks)
	assert.ErrorIs(t, err, ErrEmptyIndex)
	assert.ErrorIs(t, err, ErrLoad)
	assert.Contains(t, err.Error(), "missing.md")
	assert.Zero(t, b.Len())
	assert.Zero(t, b.Builds())
	assert.Zero(t, emb.calls.Load())
}

func TestGetOrBuildNoPaths(t *testing.T) {
	_, err := newTestBuilder(t, newCountingEmbedder(t)).GetOrBuild(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestGetOrBuildEmbeddingFailureIsNotCached(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeFile(t, dir, "a.txt", "alpha")}
	emb := newCountingEmbedder(t)
	emb.err = errUnavailable
	b := newTestBuilder(t, emb)

	_, err := b.GetOrBuild(context.Background(), paths)
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Zero(t, b.Len())

	emb.err = nil
	ks, err := b.GetOrBuild(context.Background(), paths)
	require.NoError(t, err)
	assert.NotNil(t, ks)
	assert.Equal(t, int64(1), b.Builds())
}

func TestGetOrBuildCollision(t *testing.T) {
	b := newTestBuilder(t, newCountingEmbedder(t))
	paths := []string{"/docs/a.txt"}
	b.stores[CacheKey(paths)] = &KnowledgeStore{Key: CacheKey(paths), FilePaths: []string{"/docs/other.txt"}}

	_, err := b.GetOrBuild(context.Background(), paths)
	assert.ErrorIs(t, err, ErrCacheKeyCollision)
}

func TestGetOrBuildConcurrent(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writeFile(t, dir, "a.txt", "alpha beta gamma")}
	b := newTestBuilder(t, newCountingEmbedder(t))

	const n = 16
	results := make([]*KnowledgeStore, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ks, err := b.GetOrBuild(context.Background(), paths)
			assert.NoError(t, err)
			results[i] = ks
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), b.Builds())
	for _, ks := range results {
		assert.Same(t, results[0], ks)
	}
}

func TestEvictAndClear(t *testing.T) {
	dir := t.TempDir()
	a := []string{writeFile(t, dir, "a.txt", "alpha")}
	c := []string{writeFile(t, dir, "c.txt", "gamma")}
	b := newTestBuilder(t, newCountingEmbedder(t))

	_, err := b.GetOrBuild(context.Background(), a)
	require.NoError(t, err)
	_, err = b.GetOrBuild(context.Background(), c)
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())

	assert.True(t, b.Evict(context.Background(), a))
	assert.False(t, b.Evict(context.Background(), a))
	_, ok := b.Lookup(a)
	assert.False(t, ok)
	assert.Equal(t, 1, b.Len())

	// 被移除后重新请求会重新构建
	_, err = b.GetOrBuild(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Builds())

	b.Clear(context.Background())
	assert.Zero(t, b.Len())
}

func TestEvictWaitsForLastRelease(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	paths := []string{writeFile(t, dir, "a.txt", "alpha")}
	b := newTestBuilder(t, newCountingEmbedder(t))

	ks, err := b.Acquire(ctx, paths)
	require.NoError(t, err)
	other, err := b.Acquire(ctx, paths)
	require.NoError(t, err)
	require.Same(t, ks, other)
	assert.Equal(t, 2, b.refCount(ks))

	assert.True(t, b.Evict(ctx, paths))
	assert.Zero(t, b.Len())
	assert.False(t, ks.Index.Closed())

	hits, err := ks.Index.Query(ctx, "alpha", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	b.Release(ctx, ks, false)
	assert.False(t, ks.Index.Closed())
	b.Release(ctx, other, false)
	assert.True(t, ks.Index.Closed())
}

func TestReleaseKeepsRebuiltStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	paths := []string{writeFile(t, dir, "a.txt", "alpha")}
	b := newTestBuilder(t, newCountingEmbedder(t))

	old, err := b.Acquire(ctx, paths)
	require.NoError(t, err)
	require.True(t, b.Evict(ctx, paths))

	fresh, err := b.Acquire(ctx, paths)
	require.NoError(t, err)
	require.NotSame(t, old, fresh)
	assert.Equal(t, int64(2), b.Builds())

	// 旧知识库已不在缓存中，按 key 移除不能影响新构建的知识库
	b.Release(ctx, old, true)
	assert.True(t, old.Index.Closed())

	cached, ok := b.Lookup(paths)
	require.True(t, ok)
	assert.Same(t, fresh, cached)
	assert.False(t, fresh.Index.Closed())

	b.Release(ctx, fresh, false)
	assert.False(t, fresh.Index.Closed(), "cached stores stay open without references")
	assert.Equal(t, 1, b.Len())
}

// gateEmbedder 第一次调用时通知 started，然后阻塞到 ctx 结束。
type gateEmbedder struct {
	blockingEmbedder
	started chan struct{}
	once    sync.Once
}

func (g *gateEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	g.once.Do(func() { close(g.started) })
	return g.blockingEmbedder.Embed(ctx, texts)
}

func TestCacheReadsDoNotWaitForBuild(t *testing.T) {
	dir := t.TempDir()
	cached := []string{writeFile(t, dir, "a.txt", "alpha")}
	slow := []string{writeFile(t, dir, "b.txt", "beta")}

	emb := &gateEmbedder{started: make(chan struct{})}
	b := NewBuilder(NewLoader(nil), mustChunker(t, 1000, 200, "\n"), emb)
	b.stores[CacheKey(cached)] = &KnowledgeStore{Key: CacheKey(cached), FilePaths: cached}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.GetOrBuild(ctx, slow)
		done <- err
	}()
	<-emb.started

	read := make(chan struct{})
	go func() {
		assert.Equal(t, 1, b.Len())
		_, ok := b.Lookup(cached)
		assert.True(t, ok)
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(time.Second):
		t.Fatal("cache reads blocked behind a running build")
	}

	cancel()
	assert.ErrorIs(t, <-done, ErrEmbedding)
	assert.Equal(t, 1, b.Len())
}
