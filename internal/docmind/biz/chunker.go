package biz

import (
	"strconv"
)

// ChunkerConfig 切片配置，长度单位均为字符（rune）。
type ChunkerConfig struct {
	// Size 每个切片的最大字符数。
	Size int
	// Overlap 与上一个切片共享的字符数，必须满足 0 <= Overlap < Size。
	Overlap int
	// Separator 优先切分的边界，为空时只做硬切分。
	Separator string
}

// DefaultChunkerConfig 返回默认切片配置。
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Size:      1000,
		Overlap:   200,
		Separator: "\n",
	}
}

// Chunker 把文本段切分为带重叠的固定窗口。
//
// 每个文本段独立切分，重叠不会跨越文本段，因此不会跨越文件。
// 去掉除第一个切片外每个切片的前 Overlap 个字符后依次拼接，可还原原文。
type Chunker struct {
	size      int
	overlap   int
	separator []rune
}

// NewChunker 创建切片器。
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if cfg.Size <= 0 {
		return nil, ErrInvalidChunkConfig.WithMessagef("chunk size must be positive, got %d", cfg.Size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, ErrInvalidChunkConfig.WithMessagef("chunk overlap must be in [0, %d), got %d", cfg.Size, cfg.Overlap)
	}
	return &Chunker{
		size:      cfg.Size,
		overlap:   cfg.Overlap,
		separator: []rune(cfg.Separator),
	}, nil
}

// Size 返回切片大小。
func (c *Chunker) Size() int { return c.size }

// Overlap 返回重叠大小。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 按顺序切分所有文本段。切片 ID 为全局序号。
func (c *Chunker) Split(segments []RawSegment) []Chunk {
	var chunks []Chunk
	for _, seg := range segments {
		for _, text := range c.SplitText(seg.Text) {
			chunks = append(chunks, Chunk{
				ID:   strconv.Itoa(len(chunks)),
				Text: text,
				Metadata: ChunkMetadata{
					SourcePath: seg.SourcePath,
					Page:       seg.Page,
				},
			})
		}
	}
	return chunks
}

// SplitText 切分一段文本。
func (c *Chunker) SplitText(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.size {
		return []string{text}
	}

	var out []string
	start := 0
	for {
		end := start + c.size
		if end >= n {
			out = append(out, string(runes[start:]))
			return out
		}
		cut := c.cut(runes, start, end)
		out = append(out, string(runes[start:cut]))
		start = cut - c.overlap
	}
}

// cut 返回 [start, end) 窗口内最后一个分隔符之后的位置。
// 切出的长度必须大于 overlap，保证下一个窗口向前推进；找不到时在 end 处硬切。
func (c *Chunker) cut(runes []rune, start, end int) int {
	sep := len(c.separator)
	if sep == 0 {
		return end
	}
	for i := end - sep; i >= start; i-- {
		pos := i + sep
		if pos-start <= c.overlap {
			break
		}
		if hasPrefixAt(runes, i, c.separator) {
			return pos
		}
	}
	return end
}

func hasPrefixAt(runes []rune, i int, prefix []rune) bool {
	if i+len(prefix) > len(runes) {
		return false
	}
	for j, r := range prefix {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
