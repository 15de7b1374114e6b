// Package milvus 封装 Milvus SDK，提供文本块集合的建表、写入、检索与删除。
package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/kart-io/docmind/pkg/options/milvus"
)

// 集合字段名
const (
	FieldID        = "chunk_id"
	FieldEmbedding = "embedding"
	FieldText      = "text"
	FieldSource    = "source"
	FieldPage      = "page"
	FieldSeq       = "seq"

	maxTextLen   = 65535
	maxSourceLen = 1024
	maxIDLen     = 64
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New connects to Milvus.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus %s: %w", opts.Address, err)
	}

	return &Client{client: c, opts: opts}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// CollectionName 知识库集合名：前缀加知识库键的前 16 位。
func (c *Client) CollectionName(key string) string {
	if len(key) > 16 {
		key = key[:16]
	}
	return c.opts.CollectionPrefix + key
}

// Row 一个文本块。Page 小于 0 表示没有页码。
type Row struct {
	ID        string
	Embedding []float32
	Text      string
	Source    string
	Page      int64
	Seq       int64
}

// Hit 检索结果。
type Hit struct {
	Row
	Score float32
}

// EnsureCollection 创建集合（已存在时跳过），建立 COSINE IVF_FLAT 索引并加载到内存。
func (c *Client) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return c.load(ctx, name)
	}

	schema := entity.NewSchema().
		WithName(name).
		WithDescription("docmind knowledge store").
		WithField(entity.NewField().
			WithName(FieldID).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxIDLen).
			WithIsPrimaryKey(true)).
		WithField(entity.NewField().
			WithName(FieldEmbedding).
			WithDataType(entity.FieldTypeFloatVector).
			WithDim(int64(dim))).
		WithField(entity.NewField().
			WithName(FieldText).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxTextLen)).
		WithField(entity.NewField().
			WithName(FieldSource).
			WithDataType(entity.FieldTypeVarChar).
			WithMaxLength(maxSourceLen)).
		WithField(entity.NewField().WithName(FieldPage).WithDataType(entity.FieldTypeInt64)).
		WithField(entity.NewField().WithName(FieldSeq).WithDataType(entity.FieldTypeInt64))

	if err := c.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx := index.NewIvfFlatIndex(entity.COSINE, c.opts.NList)
	task, err := c.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, FieldEmbedding, idx))
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for index creation: %w", err)
	}

	return c.load(ctx, name)
}

func (c *Client) load(ctx context.Context, name string) error {
	task, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	return nil
}

// Insert 写入文本块并 flush，写入后立即可检索。
func (c *Client) Insert(ctx context.Context, name string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	n := len(rows)
	ids := make([]string, n)
	vectors := make([][]float32, n)
	texts := make([]string, n)
	sources := make([]string, n)
	pages := make([]int64, n)
	seqs := make([]int64, n)
	for i, r := range rows {
		ids[i] = r.ID
		vectors[i] = r.Embedding
		texts[i] = truncate(r.Text, maxTextLen)
		sources[i] = truncate(r.Source, maxSourceLen)
		pages[i] = r.Page
		seqs[i] = r.Seq
	}

	_, err := c.client.Insert(ctx, milvusclient.NewColumnBasedInsertOption(name,
		column.NewColumnVarChar(FieldID, ids),
		column.NewColumnFloatVector(FieldEmbedding, len(vectors[0]), vectors),
		column.NewColumnVarChar(FieldText, texts),
		column.NewColumnVarChar(FieldSource, sources),
		column.NewColumnInt64(FieldPage, pages),
		column.NewColumnInt64(FieldSeq, seqs),
	))
	if err != nil {
		return fmt.Errorf("failed to insert data: %w", err)
	}

	task, err := c.client.Flush(ctx, milvusclient.NewFlushOption(name))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}
	return nil
}

// Search 返回与 vector 最相似的 topK 个文本块，按分数降序。
func (c *Client) Search(ctx context.Context, name string, vector []float32, topK int) ([]Hit, error) {
	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		name,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(FieldEmbedding).
		WithSearchParam("nprobe", strconv.Itoa(c.opts.NProbe)).
		WithOutputFields(FieldText, FieldSource, FieldPage, FieldSeq))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	rs := results[0]
	hits := make([]Hit, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		hits[i].Score = rs.Scores[i]
		if idCol, ok := rs.IDs.(*column.ColumnVarChar); ok {
			hits[i].ID = idCol.Data()[i]
		}
	}
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			for i := range hits {
				switch col.Name() {
				case FieldText:
					hits[i].Text = col.Data()[i]
				case FieldSource:
					hits[i].Source = col.Data()[i]
				}
			}
		case *column.ColumnInt64:
			for i := range hits {
				switch col.Name() {
				case FieldPage:
					hits[i].Page = col.Data()[i]
				case FieldSeq:
					hits[i].Seq = col.Data()[i]
				}
			}
		}
	}
	return hits, nil
}

// DropCollection drops a collection, missing collections are ignored.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	if err := c.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(name)); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// 不截断在多字节字符中间
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
