// Package store 定义知识库的向量存储后端。
//
// 每个知识库拥有一个独立的 VectorStore，构建完成后只读。
// memory 后端精确、确定；milvus 后端把向量写入 Milvus 集合。
package store

import (
	"context"
	"errors"
)

// ErrClosed 存储已关闭，不能再检索。
var ErrClosed = errors.New("vector store is closed")

// Record 一个带向量的文本块。
type Record struct {
	// ID 文本块 ID。
	ID string
	// Ordinal 插入序号，相似度相同时序号小的排前面。
	Ordinal int
	Vector  []float32
	Text    string
	Source  string
	// Page 1 起始的页码，nil 表示无页码。
	Page *int
}

// Match 检索结果。
type Match struct {
	Record
	// Score 余弦相似度。
	Score float32
}

// VectorStore 定义向量存储接口。
type VectorStore interface {
	// Insert 按顺序插入记录。
	Insert(ctx context.Context, records []Record) error

	// Search 返回与 vector 余弦相似度最高的 k 条记录，按分数降序，同分按 Ordinal 升序。
	// k 超过记录数时返回全部记录。
	Search(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Len 返回记录数。
	Len() int

	// Name 返回后端名称。
	Name() string

	// Close 释放后端资源，之后 Search 返回 ErrClosed。重复调用无副作用。
	Close(ctx context.Context) error
}

// Factory 为知识库 key 创建向量存储，dim 为向量维度。
type Factory func(ctx context.Context, key string, dim int) (VectorStore, error)
