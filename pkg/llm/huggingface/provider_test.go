package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/docmind/pkg/llm"
	"github.com/kart-io/docmind/pkg/utils/httpclient"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "hf_test"
	cfg.Timeout = 5 * time.Second
	cfg.MaxRetries = 1
	return NewProviderWithConfig(cfg, httpclient.WithBackoff(time.Millisecond))
}

func TestEmbedSentenceVectors(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pipeline/feature-extraction/sentence-transformers/all-MiniLM-L6-v2", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[[1,0],[0,1]]`))
	})

	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestEmbedTokenVectorsAreMeanPooled(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[[[1,2],[3,4]]]`))
	})

	vec, err := p.EmbedSingle(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, vec)
}

func TestChatGreedyAtZeroTemperature(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/mistralai/Mistral-7B-Instruct-v0.2", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[{"generated_text":"  Blue.  "}]`))
	})

	answer, err := p.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "Context: the sky is blue"},
		{Role: llm.RoleUser, Content: "Sky color?"},
	}, llm.WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, "Blue.", answer)

	params := got["parameters"].(map[string]any)
	assert.Equal(t, false, params["do_sample"])
	assert.NotContains(t, params, "temperature")
	inputs := got["inputs"].(string)
	assert.True(t, strings.HasPrefix(inputs, "[INST] Context: the sky is blue"))
	assert.Contains(t, inputs, "Sky color? [/INST]")
}

func TestChatModelOverride(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/google/gemma-2b", r.URL.Path)
		_, _ = w.Write([]byte(`[{"generated_text":"ok"}]`))
	})
	_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.WithModel("google/gemma-2b"))
	require.NoError(t, err)
}

func TestChatEmptyResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}})
	assert.Error(t, err)
}

func TestFormatMessagesHistory(t *testing.T) {
	out := formatMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "S"},
		{Role: llm.RoleUser, Content: "Q1"},
		{Role: llm.RoleAssistant, Content: "A1"},
		{Role: llm.RoleUser, Content: "Q2"},
	})
	assert.Equal(t, "[INST] S\n\nQ1 [/INST] A1\n[INST] Q2 [/INST]", out)
}

func TestNewProviderRequiresKey(t *testing.T) {
	_, err := NewProvider(map[string]any{})
	assert.Error(t, err)
}
