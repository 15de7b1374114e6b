package biz

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustChunker(t *testing.T, size, overlap int, sep string) *Chunker {
	t.Helper()
	c, err := NewChunker(ChunkerConfig{Size: size, Overlap: overlap, Separator: sep})
	require.NoError(t, err)
	return c
}

// reassemble 去掉除第一个切片外的重叠前缀后拼接。
func reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		b.WriteString(string([]rune(c)[overlap:]))
	}
	return b.String()
}

func TestNewChunkerValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkerConfig
		wantErr bool
	}{
		{"default", DefaultChunkerConfig(), false},
		{"zero overlap", ChunkerConfig{Size: 10}, false},
		{"zero size", ChunkerConfig{Size: 0}, true},
		{"negative overlap", ChunkerConfig{Size: 10, Overlap: -1}, true},
		{"overlap equals size", ChunkerConfig{Size: 10, Overlap: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidChunkConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSplitTextShortAndEmpty(t *testing.T) {
	c := mustChunker(t, 20, 5, "\n")

	assert.Nil(t, c.SplitText(""))
	assert.Equal(t, []string{"The sky is blue."}, c.SplitText("The sky is blue."))
	assert.Equal(t, []string{strings.Repeat("a", 20)}, c.SplitText(strings.Repeat("a", 20)))
}

func TestSplitTextPrefersSeparator(t *testing.T) {
	c := mustChunker(t, 12, 2, "\n")

	chunks := c.SplitText("alpha\nbeta\ngamma delta")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "alpha\nbeta\n", chunks[0])
	assert.Equal(t, "alpha\nbeta\ngamma delta", reassemble(chunks, 2))
}

func TestSplitTextHardCut(t *testing.T) {
	c := mustChunker(t, 4, 1, "\n")

	chunks := c.SplitText("abcdefghij")
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, chunks)
}

func TestSplitTextSeparatorInsideOverlapIsIgnored(t *testing.T) {
	// 分隔符之前的长度不超过 overlap，不能作为切点
	c := mustChunker(t, 6, 3, "\n")

	chunks := c.SplitText("ab\ncdefghij")
	assert.Equal(t, "ab\ncde", chunks[0])
	assert.Equal(t, "ab\ncdefghij", reassemble(chunks, 3))
}

func TestSplitTextRoundTrip(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Line %d of the document, with some words 日本語.\n", i)
		if i%7 == 0 {
			b.WriteString("\n")
		}
	}
	text := b.String()

	configs := []ChunkerConfig{
		{Size: 1000, Overlap: 200, Separator: "\n"},
		{Size: 100, Overlap: 0, Separator: "\n"},
		{Size: 64, Overlap: 63, Separator: "\n"},
		{Size: 50, Overlap: 10, Separator: ""},
		{Size: 80, Overlap: 20, Separator: "\n\n"},
	}
	for _, cfg := range configs {
		t.Run(fmt.Sprintf("%d/%d/%q", cfg.Size, cfg.Overlap, cfg.Separator), func(t *testing.T) {
			c, err := NewChunker(cfg)
			require.NoError(t, err)

			chunks := c.SplitText(text)
			require.Greater(t, len(chunks), 1)
			for i, chunk := range chunks {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), cfg.Size)
				if i > 0 {
					prev := []rune(chunks[i-1])
					head := []rune(chunk)[:cfg.Overlap]
					assert.Equal(t, string(prev[len(prev)-cfg.Overlap:]), string(head))
				}
			}
			assert.Equal(t, text, reassemble(chunks, cfg.Overlap))
		})
	}
}

func TestSplitKeepsProvenance(t *testing.T) {
	c := mustChunker(t, 10, 3, "\n")
	segments := []RawSegment{
		{Text: "page one text here", SourcePath: "/docs/a.pdf", Page: intPtr(1)},
		{Text: "", SourcePath: "/docs/a.pdf", Page: intPtr(2)},
		{Text: "short", SourcePath: "/docs/b.txt"},
	}

	chunks := c.Split(segments)
	require.Len(t, chunks, 4)

	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprint(i), chunk.ID)
	}
	for _, chunk := range chunks[:3] {
		assert.Equal(t, "/docs/a.pdf", chunk.Metadata.SourcePath)
		require.NotNil(t, chunk.Metadata.Page)
		assert.Equal(t, 1, *chunk.Metadata.Page)
	}
	// 重叠不跨越文本段
	assert.Equal(t, "short", chunks[3].Text)
	assert.Nil(t, chunks[3].Metadata.Page)
}
