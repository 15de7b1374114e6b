package biz

import (
	"path/filepath"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/kart-io/docmind/pkg/llm"
)

// snippetRunes 来源摘要显示的最大字符数。
const snippetRunes = 250

// RawSegment 文档加载产出的一个文本段（一页 PDF 或一个完整文本文件）。
type RawSegment struct {
	Text       string
	SourcePath string
	// Page 1 起始页码，nil 表示无页码。
	Page *int
}

// ChunkMetadata 切片来源信息。
type ChunkMetadata struct {
	SourcePath string `json:"source_path"`
	Page       *int   `json:"page,omitempty"`
}

// Chunk 一个用于向量化和检索的文本窗口。
type Chunk struct {
	// ID 在所属索引中的插入序号。
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ScoredChunk 带相似度的检索结果。
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// Turn 对话中的一轮发言。
type Turn struct {
	Role llm.Role `json:"role"`
	Text string   `json:"text"`
}

// AnswerResult 一次提问的结果。
type AnswerResult struct {
	Answer  string  `json:"answer"`
	Sources []Chunk `json:"sources"`
}

// LoadFailure 构建时被跳过的文件。
type LoadFailure struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

// KnowledgeStore 一组文件构建出的索引。构建后只读，可被多个会话共享。
type KnowledgeStore struct {
	Key       string
	FilePaths []string
	Index     *VectorIndex
	Failures  []LoadFailure
	BuiltAt   time.Time

	// 以下字段由 Builder.mu 保护
	refs     int
	detached bool
}

// FileNames 返回文件名列表（不含目录）。
func (k *KnowledgeStore) FileNames() []string {
	names := make([]string, len(k.FilePaths))
	for i, p := range k.FilePaths {
		names[i] = filepath.Base(p)
	}
	return names
}

// SourceRef 展示用的来源摘要。
type SourceRef struct {
	File    string `json:"file"`
	Page    string `json:"page"`
	Snippet string `json:"snippet"`
}

// Ref 生成切片的来源摘要：文件名、页码（无页码为 N/A）和前 250 个字符。
func (c Chunk) Ref() SourceRef {
	page := "N/A"
	if c.Metadata.Page != nil {
		page = strconv.Itoa(*c.Metadata.Page)
	}
	return SourceRef{
		File:    filepath.Base(c.Metadata.SourcePath),
		Page:    page,
		Snippet: truncateRunes(c.Text, snippetRunes),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func intPtr(v int) *int {
	return &v
}
