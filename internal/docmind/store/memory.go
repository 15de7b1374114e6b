package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// BackendMemory 内存后端名称。
const BackendMemory = "memory"

// Memory 暴力检索的内存向量存储。
type Memory struct {
	mu      sync.RWMutex
	records []Record
	norms   []float64
	closed  bool
}

// NewMemory 创建内存向量存储。
func NewMemory() *Memory {
	return &Memory{}
}

// MemoryFactory 返回创建内存存储的 Factory。
func MemoryFactory() Factory {
	return func(context.Context, string, int) (VectorStore, error) {
		return NewMemory(), nil
	}
}

func (m *Memory) Name() string {
	return BackendMemory
}

func (m *Memory) Insert(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	for _, r := range records {
		if len(m.records) > 0 && len(r.Vector) != len(m.records[0].Vector) {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(r.Vector), len(m.records[0].Vector))
		}
		m.records = append(m.records, r)
		m.norms = append(m.norms, norm(r.Vector))
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	if k <= 0 || len(m.records) == 0 {
		return []Match{}, nil
	}
	if len(vector) != len(m.records[0].Vector) {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(vector), len(m.records[0].Vector))
	}

	qn := norm(vector)
	matches := make([]Match, len(m.records))
	for i, r := range m.records {
		matches[i] = Match{Record: r, Score: cosine(vector, r.Vector, qn, m.norms[i])}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Ordinal < matches[j].Ordinal
	})

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.norms = nil
	m.closed = true
	return nil
}

// Cosine 返回 a 与 b 的余弦相似度，任一向量范数为 0 时返回 0。
func Cosine(a, b []float32) float32 {
	return cosine(a, b, norm(a), norm(b))
}

func cosine(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
