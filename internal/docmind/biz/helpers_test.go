package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/docmind/pkg/llm"
	"github.com/kart-io/docmind/pkg/llm/local"
)

var errUnavailable = errors.New("upstream unavailable")

// countingEmbedder 包装本地哈希向量，记录调用次数，可注入错误。
type countingEmbedder struct {
	inner *local.Provider
	calls atomic.Int64
	texts atomic.Int64
	err   error
}

func newCountingEmbedder(t *testing.T) *countingEmbedder {
	t.Helper()
	p, err := local.NewProvider(&local.Config{Dimension: 4096})
	require.NoError(t, err)
	return &countingEmbedder{inner: p}
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	e.texts.Add(int64(len(texts)))
	if e.err != nil {
		return nil, e.err
	}
	return e.inner.Embed(ctx, texts)
}

func (e *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (e *countingEmbedder) Name() string { return "counting" }

// blockingEmbedder 直到 ctx 结束才返回。
type blockingEmbedder struct{}

func (blockingEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b blockingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	_, err := b.Embed(ctx, []string{text})
	return nil, err
}

func (blockingEmbedder) Name() string { return "blocking" }

// shortEmbedder 返回的向量数量少于输入。
type shortEmbedder struct{}

func (shortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)-1), nil
}

func (shortEmbedder) EmbedSingle(context.Context, string) ([]float32, error) { return nil, nil }

func (shortEmbedder) Name() string { return "short" }

// chatCall 一次 Chat 调用的记录。
type chatCall struct {
	messages []llm.Message
	options  llm.ChatOptions
}

// scriptedChat 按调用顺序返回预设结果。
type scriptedChat struct {
	mu      sync.Mutex
	calls   []chatCall
	reply   func(n int, messages []llm.Message) (string, error)
	blocked bool
}

func newScriptedChat(reply func(n int, messages []llm.Message) (string, error)) *scriptedChat {
	return &scriptedChat{reply: reply}
}

func (c *scriptedChat) Chat(ctx context.Context, messages []llm.Message, opts ...llm.ChatOption) (string, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, chatCall{
		messages: append([]llm.Message(nil), messages...),
		options:  llm.ApplyChatOptions("", opts...),
	})
	blocked := c.blocked
	c.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return c.reply(n, messages)
}

func (c *scriptedChat) Name() string { return "scripted" }

func (c *scriptedChat) Calls() []chatCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chatCall(nil), c.calls...)
}

func constantReply(answer string) func(int, []llm.Message) (string, error) {
	return func(int, []llm.Message) (string, error) { return answer, nil }
}

func chunksOf(texts ...string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{Text: text, Metadata: ChunkMetadata{SourcePath: "/docs/test.txt"}}
	}
	return chunks
}
