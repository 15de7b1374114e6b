package biz

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kart-io/docmind/internal/docmind/store"
	"github.com/kart-io/docmind/pkg/llm"
)

// newSkyGrassStore 两个文本段各成一个切片。
func newSkyGrassStore(t *testing.T) *KnowledgeStore {
	t.Helper()
	chunks := mustChunker(t, 1000, 200, "\n").Split([]RawSegment{
		{Text: "The sky is blue.", SourcePath: "/docs/sky.txt"},
		{Text: "Grass is green.", SourcePath: "/docs/grass.txt", Page: intPtr(2)},
	})
	idx, err := BuildIndex(context.Background(), newCountingEmbedder(t), chunks, IndexConfig{})
	require.NoError(t, err)
	return &KnowledgeStore{Key: "test", FilePaths: []string{"/docs/sky.txt", "/docs/grass.txt"}, Index: idx}
}

func newTestEngine(chat llm.ChatProvider, mutate func(*EngineConfig)) *Engine {
	cfg := DefaultEngineConfig()
	cfg.CondenseQuestion = false
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(chat, cfg)
}

func TestCreateSession(t *testing.T) {
	e := newTestEngine(newScriptedChat(constantReply("ok")), nil)
	ks := newSkyGrassStore(t)

	s, err := e.CreateSession(ks, "")
	require.NoError(t, err)
	assert.Equal(t, "gemma:2b", s.Model())
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, s.History())
	assert.NotEmpty(t, s.ID())
	assert.Same(t, ks, s.Store())

	s, err = e.CreateSession(ks, "mistral")
	require.NoError(t, err)
	assert.Equal(t, "mistral", s.Model())

	_, err = e.CreateSession(ks, "gpt-5")
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = e.CreateSession(nil, "")
	assert.ErrorIs(t, err, ErrNoKnowledgeStore)
}

func TestAskSkyGrass(t *testing.T) {
	chat := newScriptedChat(constantReply("The sky is blue."))
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "llama3:8b")
	require.NoError(t, err)

	res, err := e.Ask(context.Background(), s, "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", res.Answer)
	require.NotEmpty(t, res.Sources)
	assert.Equal(t, "The sky is blue.", res.Sources[0].Text)
	assert.Equal(t, StateActive, s.State())

	calls := chat.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "llama3:8b", calls[0].options.Model)
	require.NotNil(t, calls[0].options.Temperature)
	assert.Zero(t, *calls[0].options.Temperature)

	msgs := calls[0].messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "The sky is blue.")
	assert.Contains(t, msgs[0].Content, "grass.txt (page 2)")
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What color is the sky?"}, msgs[1])
}

func TestAskSendsHistory(t *testing.T) {
	chat := newScriptedChat(func(n int, _ []llm.Message) (string, error) {
		return fmt.Sprintf("answer %d", n), nil
	})
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "first?")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), s, "second?")
	require.NoError(t, err)

	msgs := chat.Calls()[1].messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first?"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "answer 0"}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "second?"}, msgs[3])

	assert.Equal(t, []Turn{
		{Role: llm.RoleUser, Text: "first?"},
		{Role: llm.RoleAssistant, Text: "answer 0"},
		{Role: llm.RoleUser, Text: "second?"},
		{Role: llm.RoleAssistant, Text: "answer 1"},
	}, s.History())
}

func TestAskEmptyAnswerIsValid(t *testing.T) {
	e := newTestEngine(newScriptedChat(constantReply("")), nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	res, err := e.Ask(context.Background(), s, "anything?")
	require.NoError(t, err)
	assert.Equal(t, "", res.Answer)
	assert.Len(t, s.History(), 2)
}

func TestAskHistoryParityUnderFailures(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	failures := make(map[int]bool)
	chat := newScriptedChat(func(n int, _ []llm.Message) (string, error) {
		if failures[n] {
			return "", errUnavailable
		}
		return fmt.Sprintf("answer %d", n), nil
	})
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	var asked []string
	for i := 0; i < 50; i++ {
		failures[i] = rng.Intn(3) == 0
		q := fmt.Sprintf("question %d?", i)

		_, err := e.Ask(context.Background(), s, q)
		if failures[i] {
			assert.ErrorIs(t, err, ErrGeneration)
			assert.ErrorIs(t, err, errUnavailable)
		} else {
			require.NoError(t, err)
			asked = append(asked, q)
		}

		history := s.History()
		require.Equal(t, 0, len(history)%2)
		require.Equal(t, len(asked)*2, len(history))
		for j, q := range asked {
			assert.Equal(t, llm.RoleUser, history[2*j].Role)
			assert.Equal(t, q, history[2*j].Text)
			assert.Equal(t, llm.RoleAssistant, history[2*j+1].Role)
		}
	}
}

func TestAskEmbeddingFailureKeepsHistory(t *testing.T) {
	emb := newCountingEmbedder(t)
	idx, err := BuildIndex(context.Background(), emb, chunksOf("alpha"), IndexConfig{})
	require.NoError(t, err)
	chat := newScriptedChat(constantReply("ok"))
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(&KnowledgeStore{Index: idx}, "")
	require.NoError(t, err)

	emb.err = errUnavailable
	_, err = e.Ask(context.Background(), s, "alpha?")
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Empty(t, s.History())
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, chat.Calls())
}

func TestAskGenerationTimeout(t *testing.T) {
	chat := newScriptedChat(constantReply("never"))
	chat.blocked = true
	e := newTestEngine(chat, func(c *EngineConfig) { c.GenerateTimeout = 20 * time.Millisecond })
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "What color is the sky?")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.History())
}

func TestAskPreconditions(t *testing.T) {
	e := newTestEngine(newScriptedChat(constantReply("ok")), nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = e.Ask(context.Background(), &Session{}, "question?")
	assert.ErrorIs(t, err, ErrNoKnowledgeStore)
}

func TestAskReleasedStore(t *testing.T) {
	chat := newScriptedChat(constantReply("The sky is blue."))
	e := newTestEngine(chat, nil)
	ks := newSkyGrassStore(t)
	s, err := e.CreateSession(ks, "")
	require.NoError(t, err)

	require.NoError(t, ks.Index.Close(context.Background()))

	_, err = e.Ask(context.Background(), s, "What color is the sky?")
	assert.ErrorIs(t, err, ErrNoKnowledgeStore)
	assert.Empty(t, chat.Calls())
	assert.Empty(t, s.History())
	assert.Equal(t, StateEmpty, s.State())
}

// silentStore 检索总是返回空结果。
type silentStore struct {
	*store.Memory
}

func (silentStore) Search(context.Context, []float32, int) ([]store.Match, error) {
	return []store.Match{}, nil
}

func TestAskWithoutRetrievedContext(t *testing.T) {
	chunks := chunksOf("The sky is blue.", "Grass is green.")
	idx, err := BuildIndex(context.Background(), newCountingEmbedder(t), chunks, IndexConfig{
		StoreFactory: func(context.Context, string, int) (store.VectorStore, error) {
			return silentStore{store.NewMemory()}, nil
		},
	})
	require.NoError(t, err)

	chat := newScriptedChat(constantReply("The sky is blue."))
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(&KnowledgeStore{Key: "silent", Index: idx}, "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "What color is the sky?")
	assert.ErrorIs(t, err, ErrVectorStore)
	assert.Empty(t, chat.Calls())
	assert.Empty(t, s.History())
}

func TestClearDoesNotWaitForAsk(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	chat := newScriptedChat(func(int, []llm.Message) (string, error) {
		close(started)
		<-release
		return "late answer", nil
	})
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.Ask(context.Background(), s, "What color is the sky?")
		done <- err
	}()
	<-started

	cleared := make(chan struct{})
	go func() {
		s.Clear()
		close(cleared)
	}()
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("Clear blocked behind an in-flight Ask")
	}

	close(release)
	assert.ErrorIs(t, <-done, ErrSessionCleared)
	assert.Empty(t, s.History())
	assert.Equal(t, StateCleared, s.State())
}

func TestSessionStateMachine(t *testing.T) {
	e := newTestEngine(newScriptedChat(constantReply("ok")), nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, s.State())

	for i := 0; i < 3; i++ {
		_, err = e.Ask(context.Background(), s, "sky?")
		require.NoError(t, err)
		assert.Equal(t, StateActive, s.State())
	}

	s.Clear()
	assert.Equal(t, StateCleared, s.State())
	assert.Empty(t, s.History())

	_, err = e.Ask(context.Background(), s, "sky?")
	assert.ErrorIs(t, err, ErrSessionCleared)
	assert.Equal(t, StateCleared, s.State())
	assert.Equal(t, "cleared", s.State().String())
}

func TestAskCondensesFollowUp(t *testing.T) {
	chat := newScriptedChat(func(n int, msgs []llm.Message) (string, error) {
		switch n {
		case 0:
			return "The sky is blue.", nil
		case 1:
			// 改写请求
			if !strings.Contains(msgs[0].Content, "Human: What color is the sky?") {
				return "", fmt.Errorf("unexpected condense prompt: %s", msgs[0].Content)
			}
			return "What color is the grass?", nil
		default:
			return "Green.", nil
		}
	})
	e := newTestEngine(chat, func(c *EngineConfig) {
		c.CondenseQuestion = true
		c.RetrievalK = 1
	})
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	first, err := e.Ask(context.Background(), s, "What color is the sky?")
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue.", first.Sources[0].Text)
	assert.Len(t, chat.Calls(), 1, "no condense step without history")

	second, err := e.Ask(context.Background(), s, "And the grass?")
	require.NoError(t, err)
	assert.Equal(t, "Green.", second.Answer)
	require.Len(t, second.Sources, 1)
	assert.Equal(t, "Grass is green.", second.Sources[0].Text)

	calls := chat.Calls()
	require.Len(t, calls, 3)
	// 历史里保存原始问题
	last := calls[2].messages
	assert.Equal(t, "And the grass?", last[len(last)-1].Content)
	assert.Equal(t, "And the grass?", s.History()[2].Text)
}

func TestAskCondenseFailureKeepsHistory(t *testing.T) {
	chat := newScriptedChat(func(n int, _ []llm.Message) (string, error) {
		if n == 1 {
			return "", errUnavailable
		}
		return "ok", nil
	})
	e := newTestEngine(chat, func(c *EngineConfig) { c.CondenseQuestion = true })
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "first?")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), s, "follow up?")
	assert.ErrorIs(t, err, ErrGeneration)
	assert.Len(t, s.History(), 2)
}

func TestChunkRef(t *testing.T) {
	long := strings.Repeat("é", 300)
	ref := Chunk{Text: long, Metadata: ChunkMetadata{SourcePath: "/docs/report.pdf", Page: intPtr(3)}}.Ref()
	assert.Equal(t, SourceRef{File: "report.pdf", Page: "3", Snippet: strings.Repeat("é", 250)}, ref)

	ref = Chunk{Text: "short", Metadata: ChunkMetadata{SourcePath: "notes.txt"}}.Ref()
	assert.Equal(t, "N/A", ref.Page)
	assert.Equal(t, "short", ref.Snippet)
}

func TestAskRecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	chat := newScriptedChat(func(n int, _ []llm.Message) (string, error) {
		if n == 1 {
			return "", fmt.Errorf("model offline")
		}
		return "blue", nil
	})
	e := newTestEngine(chat, nil)
	s, err := e.CreateSession(newSkyGrassStore(t), "")
	require.NoError(t, err)

	_, err = e.Ask(context.Background(), s, "What color is the sky?")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), s, "And the grass?")
	require.Error(t, err)

	byName := map[string][]sdktrace.ReadOnlySpan{}
	for _, span := range rec.Ended() {
		byName[span.Name()] = append(byName[span.Name()], span)
	}
	require.Len(t, byName["docmind.ask"], 2)
	assert.Len(t, byName["docmind.retrieve"], 2)
	assert.Len(t, byName["docmind.generate"], 2)

	ask := byName["docmind.ask"][0]
	assert.Equal(t, codes.Unset, ask.Status().Code)
	assert.Equal(t, codes.Error, byName["docmind.ask"][1].Status().Code)
	retrieve := byName["docmind.retrieve"][0]
	assert.Equal(t, ask.SpanContext().SpanID(), retrieve.Parent().SpanID())
}
