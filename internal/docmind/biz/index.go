package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kart-io/docmind/internal/docmind/store"
	"github.com/kart-io/docmind/pkg/llm"
)

// IndexConfig 索引构建配置。
type IndexConfig struct {
	// Key 知识库键，传给存储工厂。
	Key string
	// StoreFactory 为 nil 时使用内存存储。
	StoreFactory store.Factory
	// EmbedTimeout 单次向量化调用的超时时间，0 表示不限制。
	EmbedTimeout time.Duration
}

// VectorIndex 切片向量索引，构建后只读。相似度为余弦相似度。
type VectorIndex struct {
	embedder     llm.EmbeddingProvider
	store        store.VectorStore
	chunks       []Chunk
	embedTimeout time.Duration
	closed       atomic.Bool
}

// BuildIndex 批量向量化 chunks 并写入向量存储。chunks 为空时返回 ErrEmptyIndex。
func BuildIndex(ctx context.Context, embedder llm.EmbeddingProvider, chunks []Chunk, cfg IndexConfig) (*VectorIndex, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyIndex
	}

	idx := &VectorIndex{
		embedder:     embedder,
		chunks:       make([]Chunk, len(chunks)),
		embedTimeout: cfg.EmbedTimeout,
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		c.ID = fmt.Sprint(i)
		idx.chunks[i] = c
		texts[i] = c.Text
	}

	vectors, err := idx.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	factory := cfg.StoreFactory
	if factory == nil {
		factory = store.MemoryFactory()
	}
	vs, err := factory(ctx, cfg.Key, len(vectors[0]))
	if err != nil {
		return nil, ErrVectorStore.WithCause(err)
	}

	records := make([]store.Record, len(idx.chunks))
	for i, c := range idx.chunks {
		records[i] = store.Record{
			ID:      c.ID,
			Ordinal: i,
			Vector:  vectors[i],
			Text:    c.Text,
			Source:  c.Metadata.SourcePath,
			Page:    c.Metadata.Page,
		}
	}
	if err := vs.Insert(ctx, records); err != nil {
		_ = vs.Close(context.WithoutCancel(ctx))
		return nil, ErrVectorStore.WithCause(err)
	}

	idx.store = vs
	return idx, nil
}

// embed 在超时内批量向量化，并校验返回的数量与维度。
func (idx *VectorIndex) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if idx.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, idx.embedTimeout)
		defer cancel()
	}

	vectors, err := idx.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, ErrEmbedding.WithCause(err)
	}
	if len(vectors) != len(texts) {
		return nil, ErrEmbedding.WithMessagef("embedding provider %s returned %d vectors for %d texts",
			idx.embedder.Name(), len(vectors), len(texts))
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dim {
			return nil, ErrEmbedding.WithMessagef("embedding provider %s returned a malformed vector at %d (dim %d, want %d)",
				idx.embedder.Name(), i, len(v), dim)
		}
	}
	return vectors, nil
}

// Query 返回与 text 最相似的至多 k 个切片，按相似度降序，同分时按插入顺序。
// k <= 0 时返回空结果且不调用向量化。
func (idx *VectorIndex) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	scored, err := idx.Search(ctx, text, k)
	if err != nil {
		return nil, err
	}
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}
	return chunks, nil
}

// Search 与 Query 相同，同时返回相似度。
func (idx *VectorIndex) Search(ctx context.Context, text string, k int) ([]ScoredChunk, error) {
	if idx.closed.Load() {
		return nil, errReleased
	}
	if k <= 0 {
		return []ScoredChunk{}, nil
	}
	if k > len(idx.chunks) {
		k = len(idx.chunks)
	}

	vectors, err := idx.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	matches, err := idx.store.Search(ctx, vectors[0], k)
	if stderrors.Is(err, store.ErrClosed) {
		return nil, errReleased
	}
	if err != nil {
		return nil, ErrVectorStore.WithCause(err)
	}

	out := make([]ScoredChunk, 0, len(matches))
	for _, m := range matches {
		if m.Ordinal < 0 || m.Ordinal >= len(idx.chunks) {
			return nil, ErrVectorStore.WithMessagef("search returned unknown chunk ordinal %d", m.Ordinal)
		}
		out = append(out, ScoredChunk{Chunk: idx.chunks[m.Ordinal], Score: m.Score})
	}
	return out, nil
}

// Len 返回切片数量。
func (idx *VectorIndex) Len() int {
	return len(idx.chunks)
}

// Chunks 返回所有切片的副本，按插入顺序。
func (idx *VectorIndex) Chunks() []Chunk {
	return append([]Chunk(nil), idx.chunks...)
}

// Backend 返回存储后端名称。
func (idx *VectorIndex) Backend() string {
	return idx.store.Name()
}

// Closed 报告存储是否已释放。
func (idx *VectorIndex) Closed() bool {
	return idx.closed.Load()
}

// Close 释放存储后端，之后的检索返回 ErrNoKnowledgeStore。重复调用无副作用。
func (idx *VectorIndex) Close(ctx context.Context) error {
	if !idx.closed.CompareAndSwap(false, true) {
		return nil
	}
	return idx.store.Close(ctx)
}
