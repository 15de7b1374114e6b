// Package local 提供进程内的确定性 Embedding 供应商。
//
// 文本被切分为小写的字母数字词元（去除停用词），用 xxhash 做带符号的特征哈希映射到
// 固定维度，最后做 L2 归一化。同一文本永远得到同一向量，不依赖任何外部服务，
// 适合作为默认供应商以及测试夹具。
package local

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/kart-io/docmind/pkg/llm"
)

const (
	// ProviderName 供应商名称。
	ProviderName = "local"

	// DefaultDimension 默认向量维度，与 all-MiniLM-L6-v2 一致。
	DefaultDimension = 384
)

func init() {
	llm.RegisterEmbeddingProvider(ProviderName, func(config map[string]any) (llm.EmbeddingProvider, error) {
		cfg := DefaultConfig()
		if v, ok := config["dimension"].(int); ok && v > 0 {
			cfg.Dimension = v
		}
		return NewProvider(cfg)
	})
}

// Config 本地供应商配置。
type Config struct {
	// Dimension 向量维度。
	Dimension int
	// Bigrams 是否额外加入相邻词元组合，提升短语区分度。
	Bigrams bool
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		Dimension: DefaultDimension,
		Bigrams:   true,
	}
}

// Provider 基于特征哈希的 Embedding 供应商。
type Provider struct {
	dim     int
	bigrams bool
}

// NewProvider 创建本地供应商。
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	return &Provider{dim: cfg.Dimension, bigrams: cfg.Bigrams}, nil
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Dimension 返回向量维度。
func (p *Provider) Dimension() int {
	return p.dim
}

// Embed 批量生成向量，结果顺序与输入一致。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

// EmbedSingle 生成单个文本的向量。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *Provider) vector(text string) []float32 {
	vec := make([]float32, p.dim)
	tokens := Tokenize(text)

	for i, tok := range tokens {
		p.add(vec, tok, 1)
		if p.bigrams && i > 0 {
			p.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

// add 用哈希的低位选桶、最高位决定符号。
func (p *Provider) add(vec []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature)
	idx := int(h % uint64(p.dim))
	if h>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize 将文本切分为小写词元，去除停用词。
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {}, "with": {},
	"you": {}, "your": {},
}

var _ llm.EmbeddingProvider = (*Provider)(nil)
