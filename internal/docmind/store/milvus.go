package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/kart-io/docmind/pkg/component/milvus"
)

// BackendMilvus Milvus 后端名称。
const BackendMilvus = "milvus"

// collectionClient 是 Milvus 存储用到的客户端方法。
type collectionClient interface {
	CollectionName(key string) string
	EnsureCollection(ctx context.Context, name string, dim int) error
	Insert(ctx context.Context, name string, rows []milvus.Row) error
	Search(ctx context.Context, name string, vector []float32, topK int) ([]milvus.Hit, error)
	DropCollection(ctx context.Context, name string) error
}

// Milvus 把一个知识库写入一个 Milvus 集合。关闭时删除集合。
type Milvus struct {
	client     collectionClient
	collection string
	count      atomic.Int64
	closed     atomic.Bool
}

// MilvusFactory 返回在给定客户端上为每次构建创建集合的 Factory。
// 集合名由 key 和 ULID 组成，同一 key 重新构建不会影响仍在使用的旧集合。
func MilvusFactory(client *milvus.Client) Factory {
	return newMilvusFactory(client)
}

func newMilvusFactory(client collectionClient) Factory {
	return func(ctx context.Context, key string, dim int) (VectorStore, error) {
		name := client.CollectionName(key) + "_" + strings.ToLower(ulid.Make().String())
		if err := client.EnsureCollection(ctx, name, dim); err != nil {
			return nil, err
		}
		return &Milvus{client: client, collection: name}, nil
	}
}

func (m *Milvus) Name() string {
	return BackendMilvus
}

// Collection 返回集合名。
func (m *Milvus) Collection() string {
	return m.collection
}

func (m *Milvus) Insert(ctx context.Context, records []Record) error {
	if m.closed.Load() {
		return ErrClosed
	}
	rows := make([]milvus.Row, len(records))
	for i, r := range records {
		page := int64(-1)
		if r.Page != nil {
			page = int64(*r.Page)
		}
		rows[i] = milvus.Row{
			ID:        r.ID,
			Embedding: r.Vector,
			Text:      r.Text,
			Source:    r.Source,
			Page:      page,
			Seq:       int64(r.Ordinal),
		}
	}
	if err := m.client.Insert(ctx, m.collection, rows); err != nil {
		return fmt.Errorf("milvus insert into %s: %w", m.collection, err)
	}
	m.count.Add(int64(len(records)))
	return nil
}

func (m *Milvus) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	n := int(m.count.Load())
	if k <= 0 || n == 0 {
		return []Match{}, nil
	}
	if k > n {
		k = n
	}

	hits, err := m.client.Search(ctx, m.collection, vector, k)
	if err != nil {
		return nil, fmt.Errorf("milvus search in %s: %w", m.collection, err)
	}

	matches := make([]Match, len(hits))
	for i, h := range hits {
		var page *int
		if h.Page >= 0 {
			p := int(h.Page)
			page = &p
		}
		matches[i] = Match{
			Record: Record{
				ID:      h.ID,
				Ordinal: int(h.Seq),
				Text:    h.Text,
				Source:  h.Source,
				Page:    page,
			},
			Score: h.Score,
		}
	}
	// Milvus 不保证同分结果的顺序
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ordinal < matches[j].Ordinal
	})
	return matches, nil
}

func (m *Milvus) Len() int {
	return int(m.count.Load())
}

func (m *Milvus) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	return m.client.DropCollection(ctx, m.collection)
}
